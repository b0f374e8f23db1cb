package anthropic

import (
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/baalimago/go_away_boilerplate/pkg/misc"
	"github.com/milarze/ergon/internal/vendors/generic"
	pub_models "github.com/milarze/ergon/pkg/chat/models"
	"golang.org/x/time/rate"
)

const (
	BaseURL          = "https://api.anthropic.com/v1"
	APIKeyEnv        = "ANTHROPIC_API_KEY"
	DebugEnv         = "DEBUG_ANTHROPIC"
	AnthropicVersion = "2023-06-01"
	DefaultMaxTokens = 1024

	remainingTokensHeader = "anthropic-ratelimit-input-tokens-remaining"
	resetTokensHeader     = "anthropic-ratelimit-input-tokens-reset"
)

// Claude is the message-block style adapter.
type Claude struct {
	url              string
	apiKey           string
	anthropicVersion string
	maxTokens        int
	temperature      *float64
	client           *http.Client
	limiter          *rate.Limiter
	headerLimit      *generic.RateLimiter
	debug            bool
}

type Config struct {
	URL string
	// APIKey takes precedence over the environment variable APIKeyEnv
	APIKey            string
	APIKeyEnv         string
	AnthropicVersion  string
	MaxTokens         int
	Temperature       *float64
	Timeout           time.Duration
	RequestsPerMinute int
	Transport         http.RoundTripper
}

func New(c Config) *Claude {
	url := c.URL
	if url == "" {
		url = BaseURL
	}
	keyEnv := c.APIKeyEnv
	if keyEnv == "" {
		keyEnv = APIKeyEnv
	}
	apiKey := c.APIKey
	if apiKey == "" {
		apiKey = os.Getenv(keyEnv)
	}
	version := c.AnthropicVersion
	if version == "" {
		version = AnthropicVersion
	}
	maxTokens := c.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = generic.DefaultTimeout
	}
	cl := &Claude{
		url:              strings.TrimSuffix(url, "/"),
		apiKey:           apiKey,
		anthropicVersion: version,
		maxTokens:        maxTokens,
		temperature:      c.Temperature,
		client:           &http.Client{Timeout: timeout, Transport: c.Transport},
		limiter:          generic.NewRequestLimiter(c.RequestsPerMinute),
		headerLimit:      generic.NewRateLimiter(remainingTokensHeader, resetTokensHeader),
	}
	if misc.Truthy(os.Getenv("DEBUG")) || misc.Truthy(os.Getenv(DebugEnv)) {
		cl.debug = true
	}
	return cl
}

func (c *Claude) Provider() pub_models.Provider {
	return pub_models.ProviderAnthropic
}
