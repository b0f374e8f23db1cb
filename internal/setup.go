package internal

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/baalimago/go_away_boilerplate/pkg/ancli"
	"github.com/baalimago/go_away_boilerplate/pkg/misc"
	"github.com/milarze/ergon/internal/chat"
	"github.com/milarze/ergon/internal/config"
	"github.com/milarze/ergon/internal/models"
	"github.com/milarze/ergon/internal/router"
	"github.com/milarze/ergon/internal/tools"
	"github.com/milarze/ergon/internal/tools/builtin"
	"github.com/milarze/ergon/internal/tools/mcp"
	"github.com/milarze/ergon/internal/vendors/anthropic"
	"github.com/milarze/ergon/internal/vendors/openai"
	"github.com/milarze/ergon/internal/vendors/vllm"
	pub_models "github.com/milarze/ergon/pkg/chat/models"
)

// App holds the one instance of every component. It's constructed once at
// startup and passed to whatever presents it.
type App struct {
	Config     config.Config
	Router     *router.Router
	Registry   *tools.Registry
	Dispatcher *tools.Dispatcher
	Chat       *chat.Orchestrator
}

// Options allow replacing the parts of the setup which reach the outside
// world.
type Options struct {
	// Adapters replaces the adapters built from the configuration
	Adapters []models.Adapter
	// Connect replaces how tool servers are connected to
	Connect tools.Connector
	// Notify receives the orchestrator events
	Notify func(chat.Event)
}

// Setup builds every component from the configuration, refreshes the model
// catalog and loads the tools. Failing providers and tool servers are logged
// and skipped, the application starts regardless.
func Setup(ctx context.Context, conf config.Config, opts Options) (*App, error) {
	mcp.Version = Version()
	adapters := opts.Adapters
	if adapters == nil {
		var err error
		adapters, err = createAdapters(conf)
		if err != nil {
			return nil, err
		}
	}
	r, err := router.New(router.Fallback{
		Model:    conf.FallbackModel,
		Provider: pub_models.Provider(conf.FallbackProvider),
	}, adapters...)
	if err != nil {
		return nil, fmt.Errorf("failed to create router: %w", err)
	}

	registry := tools.NewRegistry(opts.Connect, toolServers(conf)...)
	dispatcher := tools.NewDispatcher(registry, seconds(conf.ToolTimeoutSeconds), conf.ToolOutputRuneLimit)

	// Models and tools are independent of each other, so load them at once
	done := make(chan struct{})
	go func() {
		defer close(done)
		registry.LoadTools(ctx)
	}()
	catalog := r.RefreshCatalog(ctx)
	<-done

	model := conf.DefaultModel
	if model == "" && len(catalog) > 0 {
		model = catalog[0].ID
	}
	if model == "" {
		model = conf.FallbackModel
	}
	if misc.Truthy(os.Getenv("DEBUG")) {
		ancli.PrintOK(fmt.Sprintf("using model: '%v', tool servers: %v\n", model, registry.Servers()))
	}

	orchestrator := chat.New(r, registry, dispatcher, chat.Options{
		Model:         model,
		SystemPrompt:  conf.SystemPrompt,
		Temperature:   conf.Temperature,
		MaxParallel:   conf.MaxParallelToolCalls,
		MaxToolRounds: conf.MaxToolRounds,
		Notify:        opts.Notify,
	})
	return &App{
		Config:     conf,
		Router:     r,
		Registry:   registry,
		Dispatcher: dispatcher,
		Chat:       orchestrator,
	}, nil
}

// ApplyConfig reloads the tool servers of a changed configuration. The
// remaining settings are read once at startup.
func (a *App) ApplyConfig(ctx context.Context, conf config.Config) {
	a.Registry.Reload(ctx, toolServers(conf))
	ancli.Okf("reloaded tools, servers: %v\n", a.Registry.Servers())
}

// Close waits for any running turn and closes every tool server connection.
func (a *App) Close(ctx context.Context) {
	if err := a.Chat.Wait(ctx); err != nil {
		ancli.Warnf("closing while a turn is running: %v\n", err)
	}
	a.Registry.Close()
}

func createAdapters(conf config.Config) ([]models.Adapter, error) {
	maxTokens := func(n int) *int {
		if n <= 0 {
			return nil
		}
		return &n
	}
	gpt, err := openai.New(openai.Config{
		URL:               conf.OpenAI.Endpoint,
		APIKey:            conf.OpenAI.APIKey,
		APIKeyEnv:         conf.OpenAI.APIKeyEnv,
		Temperature:       conf.Temperature,
		MaxTokens:         maxTokens(conf.OpenAI.MaxTokens),
		Timeout:           seconds(conf.OpenAI.TimeoutSeconds),
		RequestsPerMinute: conf.OpenAI.RequestsPerMinute,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create openai adapter: %w", err)
	}
	claude := anthropic.New(anthropic.Config{
		URL:               conf.Anthropic.Endpoint,
		APIKey:            conf.Anthropic.APIKey,
		APIKeyEnv:         conf.Anthropic.APIKeyEnv,
		MaxTokens:         conf.Anthropic.MaxTokens,
		Temperature:       conf.Temperature,
		Timeout:           seconds(conf.Anthropic.TimeoutSeconds),
		RequestsPerMinute: conf.Anthropic.RequestsPerMinute,
	})
	adapters := []models.Adapter{gpt, claude}

	// vllm is self hosted, only talk to it if it's been configured
	if conf.Vllm.Endpoint == "" && conf.Vllm.Model == "" {
		return adapters, nil
	}
	v, err := vllm.New(vllm.Config{
		URL:               conf.Vllm.Endpoint,
		Model:             conf.Vllm.Model,
		Temperature:       conf.Temperature,
		MaxTokens:         maxTokens(conf.Vllm.MaxTokens),
		Timeout:           seconds(conf.Vllm.TimeoutSeconds),
		RequestsPerMinute: conf.Vllm.RequestsPerMinute,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create vllm adapter: %w", err)
	}
	return append(adapters, v), nil
}

// toolServers is the configured servers, preceded by the built-in one if
// enabled.
func toolServers(conf config.Config) []pub_models.McpServer {
	servers := make([]pub_models.McpServer, 0, len(conf.McpServers)+1)
	if conf.BuiltinTools {
		servers = append(servers, pub_models.McpServer{ID: builtin.ServerID, Builtin: true})
	}
	return append(servers, conf.McpServers...)
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
