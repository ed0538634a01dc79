package receiver

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/talentbridge-systems/crmsync/internal/middleware"
)

// NewRouter builds the receiver's HTTP surface.
func NewRouter(h *Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /webhooks/{vendor}", h.HandleWebhook)

	mux.HandleFunc("GET /healthz", h.HandleHealthz)
	mux.HandleFunc("GET /readyz", h.HandleReadyz)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /admin/breakers", h.HandleBreakers)
	mux.HandleFunc("POST /admin/breakers/{name}/reset", h.HandleBreakerReset)

	return middleware.RequestID(mux)
}
