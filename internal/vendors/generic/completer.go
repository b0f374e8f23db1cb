package generic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/baalimago/go_away_boilerplate/pkg/ancli"
	"github.com/baalimago/go_away_boilerplate/pkg/debug"
	"github.com/milarze/ergon/internal/models"
	pub_models "github.com/milarze/ergon/pkg/chat/models"
)

func (s *Completer) Complete(ctx context.Context, chat pub_models.CompletionRequest) (pub_models.CompletionResponse, error) {
	if len(chat.Messages) == 0 {
		return pub_models.CompletionResponse{}, models.NewInvalidRequest("no messages provided")
	}
	if chat.Model == "" {
		return pub_models.CompletionResponse{}, models.NewInvalidRequest("no model specified")
	}
	if s.requireKey && s.apiKey == "" {
		return pub_models.CompletionResponse{}, models.NewUnauthenticated(string(s.provider))
	}
	reqData, err := s.toRequest(chat)
	if err != nil {
		return pub_models.CompletionResponse{}, models.NewInvalidRequest("%v", err)
	}
	if s.debug {
		ancli.PrintOK(fmt.Sprintf("%v request: %v\n", s.provider, debug.IndentedJsonFmt(reqData)))
	}
	jsonData, err := json.Marshal(reqData)
	if err != nil {
		return pub_models.CompletionResponse{}, fmt.Errorf("failed to marshal %v request: %w", s.provider, err)
	}

	body, err := s.do(ctx, http.MethodPost, s.url+"/chat/completions", jsonData)
	if err != nil {
		return pub_models.CompletionResponse{}, err
	}

	var cc chatCompletion
	if err := json.Unmarshal(body, &cc); err != nil {
		return pub_models.CompletionResponse{}, &models.DecodeError{Provider: string(s.provider), Err: err}
	}
	if s.debug {
		ancli.PrintOK(fmt.Sprintf("%v response: %v\n", s.provider, debug.IndentedJsonFmt(cc)))
	}
	ret, err := fromCompletion(cc)
	if err != nil {
		return pub_models.CompletionResponse{}, &models.DecodeError{Provider: string(s.provider), Err: err}
	}
	return ret, nil
}

func (s *Completer) ListModels(ctx context.Context) ([]pub_models.ModelDescriptor, error) {
	if s.requireKey && s.apiKey == "" {
		return nil, models.NewUnauthenticated(string(s.provider))
	}
	body, err := s.do(ctx, http.MethodGet, s.url+"/models", nil)
	if err != nil {
		return nil, err
	}
	var ml modelList
	if err := json.Unmarshal(body, &ml); err != nil {
		return nil, &models.DecodeError{Provider: string(s.provider), Err: err}
	}
	ret := make([]pub_models.ModelDescriptor, 0, len(ml.Data))
	for _, m := range ml.Data {
		if m.ID == "" || (s.filter != nil && !s.filter(m.ID)) {
			continue
		}
		ret = append(ret, pub_models.ModelDescriptor{
			DisplayName: m.ID,
			ID:          m.ID,
			Provider:    s.provider,
		})
	}
	return ret, nil
}

// do performs exactly one request, without retries. The error taxonomy is
// decided here: anything before a response is a TransportError, a non 2xx
// response is a ProviderError.
func (s *Completer) do(ctx context.Context, method, url string, payload []byte) ([]byte, error) {
	provider := string(s.provider)
	s.headerLimit.WaitIfNeeded(ctx)
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, &models.TransportError{Provider: provider, Err: err}
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.apiKey != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %v", s.apiKey))
	}

	res, err := s.client.Do(req)
	if err != nil {
		return nil, &models.TransportError{Provider: provider, Err: fmt.Errorf("failed to execute request: %w", err)}
	}
	defer res.Body.Close()

	if err := s.headerLimit.UpdateFromHeaders(res.Header); err != nil && s.debug {
		ancli.PrintWarn(fmt.Sprintf("%v: failed to update rate limits: %v\n", provider, err))
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, &models.TransportError{Provider: provider, Err: fmt.Errorf("failed to read response body: %w", err)}
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, &models.ProviderError{Provider: provider, Status: res.StatusCode, Body: string(body)}
	}
	return body, nil
}
