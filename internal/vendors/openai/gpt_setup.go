package openai

import (
	"fmt"
	"os"

	"github.com/milarze/ergon/internal/vendors/generic"
	pub_models "github.com/milarze/ergon/pkg/chat/models"
)

func New(c Config) (*ChatGPT, error) {
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
	completer, err := generic.New(generic.Config{
		Provider:          pub_models.ProviderOpenAI,
		URL:               url,
		APIKey:            apiKey,
		RequireKey:        true,
		Temperature:       c.Temperature,
		MaxTokens:         c.MaxTokens,
		Timeout:           c.Timeout,
		RequestsPerMinute: c.RequestsPerMinute,
		ModelFilter:       chatModel,
		RemainingHeader:   remainingTokensHeader,
		ResetHeader:       resetTokensHeader,
		DebugEnv:          DebugEnv,
		Transport:         c.Transport,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to setup completer: %w", err)
	}
	return &ChatGPT{Completer: completer}, nil
}
