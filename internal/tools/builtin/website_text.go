package builtin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"
)

const maxPageBytes = 5 << 20

var websiteTextTool = &mcpsdk.Tool{
	Name:        "website_text",
	Description: "Get the text content of a website by stripping all non-text tags and trimming whitespace.",
	InputSchema: map[string]any{
		"type":     "object",
		"required": []any{"url"},
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "The URL of the website to retrieve the text content from.",
			},
		},
	},
}

var (
	skipTags = map[string]bool{
		"script":   true,
		"style":    true,
		"noscript": true,
		"head":     true,
		"iframe":   true,
		"svg":      true,
		"canvas":   true,
		"template": true,
	}
	blockTags = map[string]bool{
		"p":       true,
		"div":     true,
		"li":      true,
		"section": true,
		"article": true,
		"h1":      true,
		"h2":      true,
		"h3":      true,
		"h4":      true,
		"h5":      true,
		"h6":      true,
		"header":  true,
		"footer":  true,
		"nav":     true,
		"br":      true,
		"ul":      true,
		"ol":      true,
	}
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
	"AppleWebKit/537.36 (KHTML, like Gecko) " +
	"Chrome/124.0.0.0 Safari/537.36"

func (s *Server) websiteText(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	var in struct {
		URL any `json:"url"`
	}
	if err := json.Unmarshal(req.Params.Arguments, &in); err != nil {
		return failure(fmt.Errorf("failed to decode arguments: %w", err)), nil
	}
	urlStr, ok := in.URL.(string)
	if !ok {
		return failure(fmt.Errorf("url must be a string")), nil
	}
	text, err := s.fetchText(ctx, urlStr)
	if err != nil {
		return failure(err), nil
	}
	return success(text), nil
}

// fetchText downloads a page and returns its visible text, one block per
// line.
func (s *Server) fetchText(ctx context.Context, urlStr string) (string, error) {
	u, err := url.ParseRequestURI(urlStr)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("bad status: %s", resp.Status)
	}

	ctype := resp.Header.Get("Content-Type")
	if ctype != "" &&
		!strings.Contains(ctype, "text/html") &&
		!strings.Contains(ctype, "application/xhtml+xml") &&
		!strings.Contains(ctype, "text/plain") {
		return "", fmt.Errorf("unsupported content-type: %s", ctype)
	}

	var r io.Reader = io.LimitReader(resp.Body, maxPageBytes)
	if ur, err := charset.NewReader(r, ctype); err == nil {
		r = ur
	}
	return extractText(r)
}

func extractText(r io.Reader) (string, error) {
	tokenizer := html.NewTokenizer(r)
	skipDepth := 0
	var text strings.Builder
	newline := func() {
		s := text.String()
		if len(s) > 0 && s[len(s)-1] != '\n' {
			text.WriteByte('\n')
		}
	}

	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			if tokenizer.Err() == io.EOF {
				return collapse(text.String()), nil
			}
			return "", fmt.Errorf("tokenizer error: %w", tokenizer.Err())
		case html.StartTagToken, html.SelfClosingTagToken, html.EndTagToken:
			name := strings.ToLower(tokenizer.Token().Data)
			if skipTags[name] {
				switch {
				case tt == html.StartTagToken:
					skipDepth++
				case tt == html.EndTagToken && skipDepth > 0:
					skipDepth--
				}
			}
			if blockTags[name] {
				newline()
			}
		case html.TextToken:
			if skipDepth > 0 {
				continue
			}
			fields := bytes.Fields(tokenizer.Text())
			if len(fields) == 0 {
				continue
			}
			text.Write(bytes.Join(fields, []byte(" ")))
			text.WriteByte('\n')
		}
	}
}

func collapse(s string) string {
	out := strings.TrimSpace(s)
	if out == "" {
		return ""
	}
	for strings.Contains(out, "\n\n\n") {
		out = strings.ReplaceAll(out, "\n\n\n", "\n\n")
	}
	return out + "\n"
}
