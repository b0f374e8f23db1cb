package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime/pprof"
	"strings"

	"github.com/baalimago/go_away_boilerplate/pkg/ancli"
	"github.com/baalimago/go_away_boilerplate/pkg/misc"
	"github.com/baalimago/go_away_boilerplate/pkg/shutdown"
	"github.com/milarze/ergon/internal"
	"github.com/milarze/ergon/internal/config"
)

const usage = `ergon - chat with language models which may use tools

Prerequisites:
  - Set the OPENAI_API_KEY environment variable to your OpenAI API key
  - Set the ANTHROPIC_API_KEY environment variable to your Anthropic API key
  - (Optional) Configure a vllm endpoint and model in the configuration file
  - (Optional) Configure MCP tool servers in the configuration file

Usage: ergon [flags] <command>

Flags:
  -c, -config string   Set the path of the configuration file. (default $ERGON_CONFIG_DIR/config.json, or ~/.ergon/config.json)
  -m, -model string    Set the model to use. (default is found in the configuration file)
  -w, -watch bool      Set to true to reload the tool servers when the configuration file changes.

Commands:
  h|help               Display this help message
  v|version            Display the version
  c|chat [text]        Start an interactive chat, optionally with a first message (default)
  q|query <text>       Send one message, print the answer and exit

Chat commands:
  /models              List the available models
  /model <id>          Switch to another model
  /tools               List the available tools
  /reload              Reconnect the tool servers and refresh the models
  /reset               Start a new conversation
  /exit                Leave

Examples:
  - ergon
  - ergon -m claude-sonnet-4-0 q "What's the weather like in Tokyo?"
  - ergon -c ./config.yaml -watch chat
`

func main() {
	ancli.SetupSlog()
	if misc.Truthy(os.Getenv("DEBUG_CPU")) {
		f, err := os.Create("cpu_profile.prof")
		if err != nil {
			ancli.PrintErr(fmt.Sprintf("failed to create profiler file: %v", err))
		} else {
			defer f.Close()
			err = pprof.StartCPUProfile(f)
			if err != nil {
				ancli.PrintErr(fmt.Sprintf("failed to start profiler : %v", err))
			}
			defer pprof.StopCPUProfile()
		}
	}
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout))
}

// run is the entire application, returning the exit status.
func run(args []string, in io.Reader, out io.Writer) int {
	fl, rest, err := parseFlags(args, out)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		ancli.PrintErr(fmt.Sprintf("failed to parse flags: %v\n", err))
		return 1
	}
	cmd := "chat"
	if len(rest) > 0 {
		cmd, rest = rest[0], rest[1:]
	}

	switch cmd {
	case "help", "h":
		fmt.Fprint(out, usage)
		return 0
	case "version", "v":
		if err := internal.PrintVersion(out); err != nil {
			ancli.PrintErr(fmt.Sprintf("failed to print version: %v\n", err))
			return 1
		}
		return 0
	case "chat", "c", "query", "q":
	default:
		ancli.PrintErr(fmt.Sprintf("unknown command: '%v'\n", cmd))
		fmt.Fprint(out, usage)
		return 1
	}
	query := strings.TrimSpace(strings.Join(rest, " "))
	if (cmd == "query" || cmd == "q") && query == "" {
		ancli.PrintErr("query requires some text\n")
		return 1
	}

	path := fl.ConfigPath
	if path == "" {
		path, err = config.DefaultPath()
		if err != nil {
			ancli.PrintErr(fmt.Sprintf("failed to find config path: %v\n", err))
			return 1
		}
	}
	conf, err := config.Load(path)
	if err != nil {
		ancli.PrintErr(fmt.Sprintf("failed to load config: %v\n", err))
		return 1
	}
	if fl.Model != "" {
		conf.DefaultModel = fl.Model
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { shutdown.Monitor(cancel) }()

	p := newPrinter(out)
	app, err := internal.Setup(ctx, conf, internal.Options{Notify: p.event})
	if err != nil {
		ancli.PrintErr(fmt.Sprintf("failed to setup: %v\n", err))
		return 1
	}
	defer app.Close(context.Background())

	if fl.Watch {
		go func() {
			err := config.Watch(ctx, path, func(c config.Config) {
				app.ApplyConfig(ctx, c)
			})
			if err != nil {
				ancli.PrintWarn(fmt.Sprintf("stopped watching config: %v\n", err))
			}
		}()
	}

	historyPath := ""
	if dir, err := config.Dir(); err == nil {
		historyPath = filepath.Join(dir, "history")
	}
	input := newInput(in, p, historyPath)
	defer func() {
		if err := input.Close(); err != nil {
			ancli.PrintWarn(fmt.Sprintf("%v\n", err))
		}
	}()
	r := newRepl(app, input, p)
	if query != "" {
		err = r.ask(ctx, query)
	}
	if err == nil && cmd != "query" && cmd != "q" {
		err = r.run(ctx)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		ancli.PrintErr(fmt.Sprintf("failed to run: %v\n", err))
		return 1
	}
	if misc.Truthy(os.Getenv("DEBUG")) {
		ancli.PrintOK("things seems to have worked out. Bye bye!\n")
	}
	return 0
}
