package vllm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/milarze/ergon/internal/vendors/generic"
	pub_models "github.com/milarze/ergon/pkg/chat/models"
)

const (
	BaseURL  = "http://localhost:8000/v1"
	DebugEnv = "DEBUG_VLLM"
)

// Vllm talks to a self hosted OpenAI compatible server. It never sends an
// Authorization header, and serves exactly the one model it was started with.
type Vllm struct {
	*generic.Completer
	model string
}

type Config struct {
	URL               string
	Model             string
	Temperature       *float64
	MaxTokens         *int
	Timeout           time.Duration
	RequestsPerMinute int
	Transport         http.RoundTripper
}

func New(c Config) (*Vllm, error) {
	url := c.URL
	if url == "" {
		url = BaseURL
	}
	completer, err := generic.New(generic.Config{
		Provider:          pub_models.ProviderVllm,
		URL:               url,
		Temperature:       c.Temperature,
		MaxTokens:         c.MaxTokens,
		Timeout:           c.Timeout,
		RequestsPerMinute: c.RequestsPerMinute,
		DebugEnv:          DebugEnv,
		Transport:         c.Transport,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to setup completer: %w", err)
	}
	return &Vllm{Completer: completer, model: c.Model}, nil
}

// ListModels returns the configured model without any network call.
func (v *Vllm) ListModels(ctx context.Context) ([]pub_models.ModelDescriptor, error) {
	if v.model == "" {
		return nil, errors.New("vllm model is not configured")
	}
	return []pub_models.ModelDescriptor{{
		DisplayName: v.model,
		ID:          v.model,
		Provider:    pub_models.ProviderVllm,
	}}, nil
}
