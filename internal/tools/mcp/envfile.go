package mcp

import (
	"bufio"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	pub_models "github.com/milarze/ergon/pkg/chat/models"
)

// commandEnv is the environment of a stdio server: the environment of this
// process, overridden by the env file, overridden by the explicit env map.
func commandEnv(srv pub_models.McpServer) ([]string, error) {
	fromFile, err := loadEnvFile(srv.EnvFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load env_file of '%v': %w", srv.ID, err)
	}
	overrides := make(map[string]string, len(fromFile)+len(srv.Env))
	maps.Copy(overrides, fromFile)
	maps.Copy(overrides, srv.Env)

	ret := make([]string, 0, len(os.Environ())+len(overrides))
	for _, kv := range os.Environ() {
		k, _, _ := strings.Cut(kv, "=")
		if _, overridden := overrides[k]; overridden {
			continue
		}
		ret = append(ret, kv)
	}
	for _, k := range slices.Sorted(maps.Keys(overrides)) {
		ret = append(ret, k+"="+overrides[k])
	}
	return ret, nil
}

func loadEnvFile(envFile string) (map[string]string, error) {
	envFile = strings.TrimSpace(envFile)
	if envFile == "" {
		return nil, nil
	}
	resolved, err := expandUserPath(envFile)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("failed to read envfile %q: %w", resolved, err)
	}
	parsed, err := parseEnvFileContent(string(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse envfile %q: %w", resolved, err)
	}
	return parsed, nil
}

func expandUserPath(p string) (string, error) {
	if p == "" || p[0] != '~' {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home dir: %w", err)
	}
	if p == "~" {
		return home, nil
	}
	if strings.HasPrefix(p, "~/") {
		return filepath.Join(home, p[2:]), nil
	}
	// Don't attempt to expand ~user paths.
	return p, nil
}

func parseEnvFileContent(content string) (map[string]string, error) {
	env := make(map[string]string)
	scanner := bufio.NewScanner(strings.NewReader(content))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "export ") {
			line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		}
		idx := strings.IndexByte(line, '=')
		if idx < 0 {
			return nil, fmt.Errorf("line %d missing '='", lineNo)
		}
		key := strings.TrimSpace(line[:idx])
		if key == "" {
			return nil, fmt.Errorf("line %d has empty key", lineNo)
		}
		env[key] = unquote(strings.TrimSpace(line[idx+1:]))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan envfile: %w", err)
	}
	return env, nil
}

// unquote strips one pair of matching quotes. Unquoted values may carry a
// trailing comment.
func unquote(val string) string {
	if len(val) >= 2 {
		if (val[0] == '"' && val[len(val)-1] == '"') || (val[0] == '\'' && val[len(val)-1] == '\'') {
			return val[1 : len(val)-1]
		}
	}
	if i := strings.Index(val, " #"); i >= 0 {
		return strings.TrimSpace(val[:i])
	}
	return val
}
