package vendorstest

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/milarze/ergon/internal/models"
	pub_models "github.com/milarze/ergon/pkg/chat/models"
)

// RoundTripFunc allows injecting responses and errors in http.Client
type RoundTripFunc func(*http.Request) (*http.Response, error)

func (f RoundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

// ErrOffline is returned by OfflineTransport.
var ErrOffline = errors.New("offline")

// OfflineTransport fails every request without touching the network.
var OfflineTransport = RoundTripFunc(func(*http.Request) (*http.Response, error) {
	return nil, ErrOffline
})

// RunSetupTests runs common credential tests for vendors. newVendor is
// called after the environment has been set up, and should return an
// adapter which uses OfflineTransport.
func RunSetupTests(t *testing.T, envVar string, requiresEnv bool, newVendor func() (models.Adapter, error)) {
	t.Helper()
	req := pub_models.CompletionRequest{
		Model:    "m",
		Messages: []pub_models.Message{pub_models.UserMessage("hello")},
	}

	t.Run("with_env", func(t *testing.T) {
		t.Setenv(envVar, "some-key")
		v, err := newVendor()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		_, err = v.Complete(context.Background(), req)
		if errors.Is(err, models.ErrUnauthenticated) {
			t.Fatalf("expected key from %s to be picked up, got: %v", envVar, err)
		}
		var te *models.TransportError
		if !errors.As(err, &te) {
			t.Fatalf("expected TransportError from offline transport, got: %v", err)
		}
	})

	t.Run("no_env", func(t *testing.T) {
		t.Setenv(envVar, "")
		v, err := newVendor()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		_, err = v.Complete(context.Background(), req)
		if requiresEnv != errors.Is(err, models.ErrUnauthenticated) {
			t.Fatalf("requires key: %v, got: %v", requiresEnv, err)
		}
	})
}

// RunContractTests runs the Adapter tests shared by all vendors.
func RunContractTests(t *testing.T, newVendor func(url string) models.Adapter) {
	t.Helper()
	t.Run("empty_request", func(t *testing.T) {
		models.Adapter_EmptyRequest_Test(t, newVendor("http://example.invalid"))
	})
}
