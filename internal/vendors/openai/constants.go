package openai

const (
	BaseURL   = "https://api.openai.com/v1"
	APIKeyEnv = "OPENAI_API_KEY"
	DebugEnv  = "DEBUG_OPENAI"

	remainingTokensHeader = "x-ratelimit-remaining-tokens"
	resetTokensHeader     = "x-ratelimit-reset-tokens"
)
