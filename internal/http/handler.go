package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fjod/cpqcart/internal/bus"
	"github.com/fjod/cpqcart/internal/catalog"
	"github.com/fjod/cpqcart/internal/domain"
	"github.com/fjod/cpqcart/internal/remote"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

type CartReader interface {
	CartID() string
	Snapshot() domain.Snapshot
}

type Catalog interface {
	Entries() []domain.CatalogEntry
	Err() error
	Refresh(ctx context.Context) error
	HandleRowAction(ctx context.Context, action, priceBookEntryID string) error
}

type Handler struct {
	cart    CartReader
	catalog Catalog
	bus     *bus.Bus
	timeout time.Duration
}

func NewHandler(cart CartReader, cat Catalog, b *bus.Bus, timeout time.Duration) *Handler {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Handler{
		cart:    cart,
		catalog: cat,
		bus:     b,
		timeout: timeout,
	}
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

type CatalogResponse struct {
	Entries []domain.CatalogEntry `json:"entries"`
	Error   string                `json:"error,omitempty"`
}

type ActionResponse struct {
	Action           string `json:"action"`
	PriceBookEntryID string `json:"priceBookEntryId"`
	Status           string `json:"status"`
}

func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.cart.Snapshot())
}

// StreamCart sends the current snapshot, then every committed change, as
// server-sent events until the client goes away.
func (h *Handler) StreamCart(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming_unsupported", "response writer cannot stream")
		return
	}

	changes := make(chan []byte, 16)
	sub, err := h.bus.Subscribe(bus.TopicCartChanged, func(_ context.Context, msg bus.Message) {
		if msg.Key != h.cart.CartID() {
			return
		}
		select {
		case changes <- msg.Payload:
		default:
			// slow client; it still gets the next change
		}
	})
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "service_unavailable", err.Error())
		return
	}
	defer sub.Release()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	initial, err := json.Marshal(h.cart.Snapshot())
	if err != nil {
		log.Error().Err(err).Msg("failed to encode snapshot")
		return
	}
	writeEvent(w, initial)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case payload := <-changes:
			writeEvent(w, payload)
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, data []byte) {
	if _, err := fmt.Fprintf(w, "event: cart\ndata: %s\n\n", data); err != nil {
		log.Debug().Err(err).Msg("event write failed")
	}
}

func (h *Handler) GetCatalog(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, CatalogResponse{
		Entries: h.catalog.Entries(),
		Error:   remote.Describe(h.catalog.Err()),
	})
}

func (h *Handler) RefreshCatalog(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if err := h.catalog.Refresh(ctx); err != nil {
		respondError(w, http.StatusBadGateway, "remote_error", remote.Describe(err))
		return
	}
	respondJSON(w, http.StatusOK, CatalogResponse{Entries: h.catalog.Entries()})
}

// RowAction fires a catalog row action. The cart is updated asynchronously;
// clients follow the result on the event stream.
func (h *Handler) RowAction(w http.ResponseWriter, r *http.Request) {
	action := chi.URLParam(r, "action")
	id := chi.URLParam(r, "priceBookEntryId")
	if id == "" || action == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "action and priceBookEntryId are required")
		return
	}

	err := h.catalog.HandleRowAction(r.Context(), action, id)
	switch {
	case errors.Is(err, catalog.ErrEntryNotFound):
		respondError(w, http.StatusNotFound, "not_found", err.Error())
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	status := "ignored"
	if action == catalog.ActionAdd {
		status = "accepted"
	}
	respondJSON(w, http.StatusAccepted, ActionResponse{Action: action, PriceBookEntryID: id, Status: status})
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
