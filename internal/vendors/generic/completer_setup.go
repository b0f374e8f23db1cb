package generic

import (
	"errors"
	"math"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/baalimago/go_away_boilerplate/pkg/misc"
	pub_models "github.com/milarze/ergon/pkg/chat/models"
	"golang.org/x/time/rate"
)

const DefaultTimeout = 120 * time.Second

// New sets up a Completer. A missing api key is not an error here, it's
// reported per request so that a half configured vendor can still list
// its models once the key is added.
func New(c Config) (*Completer, error) {
	if c.URL == "" {
		return nil, errors.New("url must be set")
	}
	if c.Provider == "" {
		return nil, errors.New("provider must be set")
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	s := &Completer{
		provider:    c.Provider,
		url:         strings.TrimSuffix(c.URL, "/"),
		apiKey:      c.APIKey,
		requireKey:  c.RequireKey,
		temperature: c.Temperature,
		maxTokens:   c.MaxTokens,
		filter:      c.ModelFilter,
		client:      &http.Client{Timeout: timeout, Transport: c.Transport},
		limiter:     NewRequestLimiter(c.RequestsPerMinute),
		headerLimit: NewRateLimiter(c.RemainingHeader, c.ResetHeader),
	}
	if misc.Truthy(os.Getenv("DEBUG")) || (c.DebugEnv != "" && misc.Truthy(os.Getenv(c.DebugEnv))) {
		s.debug = true
	}
	return s, nil
}

// NewRequestLimiter paces requests evenly to perMinute, 0 or less is unlimited.
func NewRequestLimiter(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	every := time.Duration(math.Ceil(float64(time.Minute) / float64(perMinute)))
	return rate.NewLimiter(rate.Every(every), 1)
}

func (s *Completer) Provider() pub_models.Provider {
	return s.provider
}
