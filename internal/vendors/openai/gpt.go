package openai

import (
	"net/http"
	"strings"
	"time"

	"github.com/milarze/ergon/internal/vendors/generic"
)

// ChatGPT is the chat-completion style adapter. All of the wire translation
// lives in the generic completer, this type only decides the OpenAI specifics:
// a required bearer key, the rate limit headers and which models to list.
type ChatGPT struct {
	*generic.Completer
}

type Config struct {
	URL string
	// APIKey takes precedence over the environment variable APIKeyEnv
	APIKey            string
	APIKeyEnv         string
	Temperature       *float64
	MaxTokens         *int
	Timeout           time.Duration
	RequestsPerMinute int
	Transport         http.RoundTripper
}

// chatModel filters out embedding, audio and image models which can't be
// used for chat completions.
func chatModel(id string) bool {
	return strings.Contains(id, "gpt")
}
