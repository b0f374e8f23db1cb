package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/milarze/ergon/internal/models"
)

const noResponse = "Error: No response from model."

// describeError renders a failed completion as the text of an assistant
// message.
func describeError(err error) string {
	var (
		providerErr  *models.ProviderError
		transportErr *models.TransportError
		decodeErr    *models.DecodeError
	)
	switch {
	case errors.Is(err, models.ErrUnauthenticated):
		return fmt.Sprintf("Error: %v. Add the api key to the configuration and try again.", err)
	case errors.Is(err, models.ErrInvalidRequest):
		return fmt.Sprintf("Error: %v", err)
	case errors.As(err, &providerErr):
		return fmt.Sprintf("Error: %v responded with status %v: %v", providerErr.Provider, providerErr.Status, providerErr.Body)
	case errors.As(err, &transportErr) && transportErr.Timeout():
		return fmt.Sprintf("Error: request to %v timed out. Try again.", transportErr.Provider)
	case errors.As(err, &transportErr):
		return fmt.Sprintf("Error: failed to reach %v: %v", transportErr.Provider, transportErr.Err)
	case errors.As(err, &decodeErr):
		return fmt.Sprintf("Error: %v", decodeErr)
	case errors.Is(err, context.Canceled):
		return "Error: request was cancelled."
	default:
		return fmt.Sprintf("Error: %v", err)
	}
}
