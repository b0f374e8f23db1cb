package models

import (
	"context"

	pub_models "github.com/milarze/ergon/pkg/chat/models"
)

// Adapter translates the neutral completion contract to and from the wire
// format of one provider family. Every call makes at most one outbound
// network request and never retries.
type Adapter interface {
	Provider() pub_models.Provider
	Complete(ctx context.Context, req pub_models.CompletionRequest) (pub_models.CompletionResponse, error)
	ListModels(ctx context.Context) ([]pub_models.ModelDescriptor, error)
}
