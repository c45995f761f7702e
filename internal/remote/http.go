package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/fjod/cpqcart/internal/domain"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// InvokeRequest is the wire body shared by the HTTP and gRPC transports.
type InvokeRequest struct {
	InputMap InputMap `json:"inputMap"`
}

// InvokeResponse carries the JSON-encoded envelope as a string.
type InvokeResponse struct {
	Result string `json:"result"`
}

// HTTPTransport posts {"inputMap": ...} to a single invoke endpoint.
type HTTPTransport struct {
	url    string
	client *http.Client
}

func NewHTTPTransport(url string, client *http.Client) *HTTPTransport {
	if client == nil {
		client = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	return &HTTPTransport{url: url, client: client}
}

func (t *HTTPTransport) RoundTrip(ctx context.Context, input InputMap) ([]byte, error) {
	body, err := json.Marshal(InvokeRequest{InputMap: input})
	if err != nil {
		return nil, fmt.Errorf("marshal input map failed: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http invoke failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &CallError{
			Method:  input.Method(),
			Payload: payloadOf(respBody),
			Err:     fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}
	return respBody, nil
}

// Handler is implemented by a cart service backend.
type Handler interface {
	Invoke(ctx context.Context, input InputMap) (*domain.Envelope, error)
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// NewHTTPHandler serves the invoke endpoint. The response body is a JSON
// string wrapping the envelope.
func NewHTTPHandler(h Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dec := json.NewDecoder(r.Body)
		dec.UseNumber()
		var req InvokeRequest
		if err := dec.Decode(&req); err != nil {
			respondJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON body", Code: "invalid_request"})
			return
		}

		env, err := h.Invoke(r.Context(), req.InputMap)
		if err != nil {
			status, code := httpStatusOf(err)
			respondJSON(w, status, errorBody{Error: err.Error(), Code: code})
			return
		}

		result, err := domain.EncodeEnvelope(env)
		if err != nil {
			respondJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error(), Code: "internal_error"})
			return
		}
		respondJSON(w, http.StatusOK, result)
	})
}

func httpStatusOf(err error) (int, string) {
	switch {
	case errors.Is(err, ErrMissingMethod), errors.Is(err, ErrUnknownMethod), errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest, "invalid_argument"
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, "not_found"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
