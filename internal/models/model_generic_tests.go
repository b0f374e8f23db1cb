// This file contains tests intended to be used by the implementations of the
// Adapter interface
package models

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/baalimago/go_away_boilerplate/pkg/testboil"
	pub_models "github.com/milarze/ergon/pkg/chat/models"
)

// Adapter_Context_Test ensures that an adapter returns once the context is
// cancelled, even if the provider never answers.
func Adapter_Context_Test(t *testing.T, a Adapter) {
	testboil.ReturnsOnContextCancel(t, func(ctx context.Context) {
		a.Complete(ctx, pub_models.CompletionRequest{
			Messages: []pub_models.Message{pub_models.UserMessage("hello")},
		})
	}, time.Second)
}

// Adapter_EmptyRequest_Test ensures that an empty transcript is rejected
// without any network call being made.
func Adapter_EmptyRequest_Test(t *testing.T, a Adapter) {
	t.Helper()
	_, err := a.Complete(context.Background(), pub_models.CompletionRequest{Model: "m"})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got: %v", err)
	}
}
