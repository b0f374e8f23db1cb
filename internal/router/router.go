package router

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/baalimago/go_away_boilerplate/pkg/ancli"
	"github.com/baalimago/go_away_boilerplate/pkg/misc"
	"github.com/milarze/ergon/internal/models"
	pub_models "github.com/milarze/ergon/pkg/chat/models"
	"golang.org/x/sync/errgroup"
)

// DefaultFallback is used for models missing from the catalog, unless the
// configuration says otherwise.
var DefaultFallback = Fallback{
	Model:    "gpt-4o-mini",
	Provider: pub_models.ProviderOpenAI,
}

// Fallback is the explicit model and provider pairing used for model ids
// which aren't in the published catalog.
type Fallback struct {
	Model    string
	Provider pub_models.Provider
}

// ErrNoAdapter is returned when no adapter is configured for a provider.
var ErrNoAdapter = errors.New("no adapter configured")

// Router owns one adapter per provider and the published model catalog.
type Router struct {
	adapters map[pub_models.Provider]models.Adapter
	// order is the configuration order, which the catalog follows
	order    []pub_models.Provider
	fallback Fallback
	catalog  atomic.Pointer[[]pub_models.ModelDescriptor]
	debug    bool
}

func New(fallback Fallback, adapters ...models.Adapter) (*Router, error) {
	if fallback.Model == "" || fallback.Provider == "" {
		fallback = DefaultFallback
	}
	r := &Router{
		adapters: make(map[pub_models.Provider]models.Adapter, len(adapters)),
		fallback: fallback,
	}
	for _, a := range adapters {
		p := a.Provider()
		if _, exists := r.adapters[p]; exists {
			return nil, fmt.Errorf("duplicate adapter for provider: '%v'", p)
		}
		r.adapters[p] = a
		r.order = append(r.order, p)
	}
	empty := make([]pub_models.ModelDescriptor, 0)
	r.catalog.Store(&empty)
	if misc.Truthy(os.Getenv("DEBUG")) || misc.Truthy(os.Getenv("DEBUG_ROUTER")) {
		r.debug = true
	}
	return r, nil
}

// Catalog returns the last published model catalog. The returned slice is
// shared and must not be modified.
func (r *Router) Catalog() []pub_models.ModelDescriptor {
	return *r.catalog.Load()
}

// Find looks up a model in the published catalog, by id first and display
// name second.
func (r *Router) Find(model string) (pub_models.ModelDescriptor, bool) {
	catalog := r.Catalog()
	for _, m := range catalog {
		if m.ID == model {
			return m, true
		}
	}
	for _, m := range catalog {
		if m.DisplayName == model {
			return m, true
		}
	}
	return pub_models.ModelDescriptor{}, false
}

// Route returns the adapter owning the model and the model id to send to it.
// Models missing from the catalog are routed to the fallback pairing.
func (r *Router) Route(model string) (models.Adapter, string, error) {
	target := pub_models.ModelDescriptor{ID: r.fallback.Model, Provider: r.fallback.Provider}
	if m, ok := r.Find(model); ok {
		target = m
	} else if r.debug {
		ancli.Noticef("model '%v' not in catalog, using fallback %v/%v\n", model, r.fallback.Provider, r.fallback.Model)
	}
	a, ok := r.adapters[target.Provider]
	if !ok {
		return nil, "", fmt.Errorf("%w: '%v'", ErrNoAdapter, target.Provider)
	}
	return a, target.ID, nil
}

func (r *Router) CompleteByModel(ctx context.Context, model string, req pub_models.CompletionRequest) (pub_models.CompletionResponse, error) {
	a, id, err := r.Route(model)
	if err != nil {
		return pub_models.CompletionResponse{}, fmt.Errorf("failed to route model: %w", err)
	}
	req.Model = id
	return a.Complete(ctx, req)
}

// RefreshCatalog lists the models of every adapter concurrently. An adapter
// which fails is logged and contributes no models, it never fails the
// refresh. The merged catalog is published in one swap.
func (r *Router) RefreshCatalog(ctx context.Context) []pub_models.ModelDescriptor {
	perAdapter := make([][]pub_models.ModelDescriptor, len(r.order))
	var eg errgroup.Group
	for i, p := range r.order {
		a := r.adapters[p]
		eg.Go(func() error {
			found, err := a.ListModels(ctx)
			if err != nil {
				ancli.Warnf("failed to list models of %v: %v\n", p, err)
				return nil
			}
			perAdapter[i] = found
			return nil
		})
	}
	// goroutines never return an error
	_ = eg.Wait()

	merged := make([]pub_models.ModelDescriptor, 0)
	for _, found := range perAdapter {
		merged = append(merged, found...)
	}
	r.catalog.Store(&merged)
	if r.debug {
		ancli.Okf("published model catalog with %v models\n", len(merged))
	}
	return merged
}
