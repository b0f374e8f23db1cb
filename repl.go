package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/baalimago/go_away_boilerplate/pkg/ancli"
	"github.com/baalimago/go_away_boilerplate/pkg/misc"
	"github.com/milarze/ergon/internal"
	"github.com/milarze/ergon/internal/chat"
	pub_models "github.com/milarze/ergon/pkg/chat/models"
	"github.com/peterh/liner"
)

// maxResultPreview is the amount of runes of a tool result which is printed
const maxResultPreview = 200

// printer renders the orchestrator events. Events arrive from the turn
// goroutines while the repl writes its own output, so every write is
// serialized.
type printer struct {
	mu    sync.Mutex
	out   io.Writer
	debug bool
}

func newPrinter(out io.Writer) *printer {
	return &printer{
		out:   out,
		debug: misc.Truthy(os.Getenv("DEBUG")),
	}
}

func (p *printer) printf(format string, a ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format, a...)
}

func (p *printer) event(ev chat.Event) {
	switch ev.Kind {
	case chat.EventState:
		if p.debug {
			ancli.Noticef("state: %v\n", ev.State)
		}
	case chat.EventMessage:
		if s := renderMessage(ev.Message); s != "" {
			p.printf("%v\n", s)
		}
	}
}

// renderMessage is the text printed for one message of the transcript. The
// user already sees what was typed, so user and system messages render to
// nothing.
func renderMessage(m pub_models.Message) string {
	switch m.Role {
	case pub_models.RoleAssistant:
		lines := make([]string, 0, len(m.ToolCalls)+1)
		if text := m.Text(); text != "" {
			lines = append(lines, text)
		}
		for _, c := range m.ToolCalls {
			lines = append(lines, "  > "+c.PrettyPrint())
		}
		return strings.Join(lines, "\n")
	case pub_models.RoleTool:
		lines := make([]string, 0, 1)
		for _, r := range m.ToolResults() {
			prefix := "  < result"
			if r.IsError {
				prefix = "  < error"
			}
			lines = append(lines, fmt.Sprintf("%v '%v': %v", prefix, r.CallID, preview(r.Content)))
		}
		return strings.Join(lines, "\n")
	default:
		return ""
	}
}

func preview(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= maxResultPreview {
		return s
	}
	return string(runes[:maxResultPreview]) + "..."
}

// lineReader is where the repl reads its input from.
type lineReader interface {
	// Prompt returns the next line, io.EOF once the input has ended
	Prompt(prompt string) (string, error)
	Close() error
}

// newInput uses line editing with history for the terminal and plain line
// scanning for anything else.
func newInput(in io.Reader, p *printer, historyPath string) lineReader {
	if f, ok := in.(*os.File); ok && f == os.Stdin {
		return newLinerReader(historyPath)
	}
	return newScanReader(in, p)
}

type scanReader struct {
	scanner *bufio.Scanner
	p       *printer
}

func newScanReader(in io.Reader, p *printer) *scanReader {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &scanReader{scanner: scanner, p: p}
}

func (s *scanReader) Prompt(prompt string) (string, error) {
	s.p.printf("%v", prompt)
	if !s.scanner.Scan() {
		if err := s.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return s.scanner.Text(), nil
}

func (s *scanReader) Close() error {
	return nil
}

type linerReader struct {
	state       *liner.State
	historyPath string
}

func newLinerReader(historyPath string) *linerReader {
	state := liner.NewLiner()
	state.SetCtrlCAborts(true)
	if f, err := os.Open(historyPath); err == nil {
		state.ReadHistory(f)
		f.Close()
	}
	return &linerReader{state: state, historyPath: historyPath}
}

func (l *linerReader) Prompt(prompt string) (string, error) {
	line, err := l.state.Prompt(prompt)
	if errors.Is(err, liner.ErrPromptAborted) {
		return "", io.EOF
	}
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(line) != "" {
		l.state.AppendHistory(line)
	}
	return line, nil
}

// Close persists the history and restores the terminal.
func (l *linerReader) Close() error {
	defer l.state.Close()
	if l.historyPath == "" {
		return nil
	}
	f, err := os.OpenFile(l.historyPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open history: %w", err)
	}
	defer f.Close()
	if _, err := l.state.WriteHistory(f); err != nil {
		return fmt.Errorf("failed to write history: %w", err)
	}
	return nil
}

type repl struct {
	app   *internal.App
	input lineReader
	p     *printer
}

func newRepl(app *internal.App, input lineReader, p *printer) *repl {
	return &repl{app: app, input: input, p: p}
}

var errExit = errors.New("exit")

// run reads one line at a time until the input ends, /exit is entered or
// ctx is done. Every message waits for its turn to finish before the next
// line is read.
func (r *repl) run(ctx context.Context) error {
	for {
		line, err := r.input.Prompt(fmt.Sprintf("%v> ", r.app.Chat.Model()))
		if errors.Is(err, io.EOF) {
			r.p.printf("\n")
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "/") {
			err = r.command(ctx, line)
		} else {
			err = r.ask(ctx, line)
		}
		switch {
		case errors.Is(err, errExit):
			return nil
		case errors.Is(err, context.Canceled):
			return err
		case err != nil:
			ancli.PrintWarn(fmt.Sprintf("%v\n", err))
		}
	}
}

// ask submits the text and waits for the turn to finish.
func (r *repl) ask(ctx context.Context, text string) error {
	if err := r.app.Chat.Submit(ctx, text); err != nil {
		return fmt.Errorf("failed to submit: %w", err)
	}
	return r.app.Chat.Wait(ctx)
}

func (r *repl) command(ctx context.Context, line string) error {
	name, arg, _ := strings.Cut(strings.TrimPrefix(line, "/"), " ")
	arg = strings.TrimSpace(arg)
	switch name {
	case "exit", "quit", "q":
		return errExit
	case "help", "h":
		r.p.printf("%v", usage)
	case "models":
		r.listModels()
	case "model":
		return r.setModel(arg)
	case "tools":
		r.listTools()
	case "reload":
		r.app.Registry.LoadTools(ctx)
		r.app.Router.RefreshCatalog(ctx)
		r.p.printf("reloaded %v models and %v tools\n", len(r.app.Router.Catalog()), len(r.app.Registry.Tools()))
	case "reset":
		if err := r.app.Chat.Reset(); err != nil {
			return fmt.Errorf("failed to reset: %w", err)
		}
		r.p.printf("started conversation: %v\n", r.app.Chat.ID())
	default:
		return fmt.Errorf("unknown command: '/%v', try /help", name)
	}
	return nil
}

func (r *repl) listModels() {
	catalog := r.app.Router.Catalog()
	if len(catalog) == 0 {
		r.p.printf("no models available, the fallback model is used\n")
		return
	}
	current := r.app.Chat.Model()
	var sb strings.Builder
	for _, m := range catalog {
		marker := " "
		if m.ID == current {
			marker = "*"
		}
		fmt.Fprintf(&sb, "%v %v (%v)\n", marker, m.ID, m.Provider)
	}
	r.p.printf("%v", sb.String())
}

func (r *repl) setModel(model string) error {
	if model == "" {
		return errors.New("usage: /model <id>")
	}
	if m, ok := r.app.Router.Find(model); ok {
		model = m.ID
	} else {
		ancli.PrintWarn(fmt.Sprintf("model '%v' is not in the catalog, the fallback is used for it\n", model))
	}
	r.app.Chat.SetModel(model)
	r.p.printf("using model: %v\n", model)
	return nil
}

func (r *repl) listTools() {
	servers := r.app.Registry.Servers()
	ids := make([]string, 0, len(servers))
	for id := range servers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var sb strings.Builder
	for _, id := range ids {
		fmt.Fprintf(&sb, "%v: %v tools\n", id, servers[id])
	}
	for _, t := range r.app.Registry.Tools() {
		desc, _, _ := strings.Cut(t.Description, "\n")
		fmt.Fprintf(&sb, "  %v - %v\n", t.Name, desc)
	}
	if sb.Len() == 0 {
		sb.WriteString("no tools available\n")
	}
	r.p.printf("%v", sb.String())
}
