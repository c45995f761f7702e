package http

import (
	"net/http"
	"time"

	"github.com/fjod/cpqcart/internal/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
)

type RouterConfig struct {
	RequestTimeout time.Duration
	RowActionRate  float64
	RowActionBurst int
}

func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	limit := rate.Limit(cfg.RowActionRate)
	if cfg.RowActionRate <= 0 {
		limit = rate.Inf
	}
	if cfg.RowActionBurst <= 0 {
		cfg.RowActionBurst = 1
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(Metrics)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", metrics.Handler())

	limiter := rate.NewLimiter(limit, cfg.RowActionBurst)

	r.Route("/api/v1", func(r chi.Router) {
		// the event stream is long lived and stays outside the timeout
		r.Get("/cart/events", h.StreamCart)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(cfg.RequestTimeout))
			r.Get("/cart", h.GetCart)
			r.Route("/catalog", func(r chi.Router) {
				r.Get("/", h.GetCatalog)
				r.Post("/refresh", h.RefreshCatalog)
				r.With(RateLimit(limiter)).Post("/{priceBookEntryId}/actions/{action}", h.RowAction)
			})
		})
	})

	return otelhttp.NewHandler(r, "cartsync")
}
