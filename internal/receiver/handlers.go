package receiver

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/talentbridge-systems/crmsync/internal/breaker"
	"github.com/talentbridge-systems/crmsync/internal/httputil"
	"github.com/talentbridge-systems/crmsync/internal/logging"
	"github.com/talentbridge-systems/crmsync/internal/metrics"
)

// maxBodyBytes caps webhook bodies. Vendor batches top out well under this.
const maxBodyBytes = 4 << 20 // 4MB

// Handler exposes the receiver service over HTTP.
type Handler struct {
	service  *Service
	breakers *breaker.Registry
	logger   *logging.Logger
}

// NewHandler creates the HTTP handler layer.
func NewHandler(service *Service, breakers *breaker.Registry, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{service: service, breakers: breakers, logger: logger}
}

// HandleWebhook accepts POST /webhooks/{vendor}.
//
// Status mapping: 202 when at least one event was accepted, 200 when every
// event in the batch was a duplicate, 401 on signature mismatch, 400 on a
// malformed envelope, 503 when a protected dependency is unavailable.
func (h *Handler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	vendor := r.PathValue("vendor")
	start := time.Now()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		metrics.WebhooksTotal.WithLabelValues(vendor, "read_error").Inc()
		httputil.WriteError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	metrics.WebhookBytesTotal.Add(float64(len(body)))

	summary, err := h.service.Receive(r.Context(), r.Header.Get("X-Signature"), body)
	switch {
	case errors.Is(err, ErrBadSignature):
		metrics.SignatureFailures.Inc()
		metrics.WebhooksTotal.WithLabelValues(vendor, "unauthorized").Inc()
		h.logger.WarnContext(r.Context(), "webhook signature rejected",
			logging.IP(r.RemoteAddr),
			logging.Path(r.URL.Path),
		)
		httputil.WriteError(w, http.StatusUnauthorized, "invalid signature")
		return
	case errors.Is(err, ErrInvalidEnvelope):
		metrics.WebhooksTotal.WithLabelValues(vendor, "bad_request").Inc()
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, breaker.ErrOpen):
		metrics.WebhooksTotal.WithLabelValues(vendor, "unavailable").Inc()
		httputil.WriteError(w, http.StatusServiceUnavailable, "dependency unavailable, retry later")
		return
	case err != nil:
		metrics.WebhooksTotal.WithLabelValues(vendor, "error").Inc()
		h.logger.ErrorContext(r.Context(), "webhook processing failed", logging.Error(err))
		httputil.WriteError(w, http.StatusServiceUnavailable, "event could not be persisted, retry later")
		return
	}

	status := http.StatusAccepted
	label := "accepted"
	if summary.Accepted == 0 {
		// Every event in the batch was already seen.
		status = http.StatusOK
		label = "duplicate"
		metrics.DuplicatesSuppressed.Add(float64(summary.Duplicates))
	} else if summary.Duplicates > 0 {
		metrics.DuplicatesSuppressed.Add(float64(summary.Duplicates))
	}
	metrics.WebhooksTotal.WithLabelValues(vendor, label).Inc()

	h.logger.InfoContext(r.Context(), "webhook delivery handled",
		logging.Method(r.Method),
		logging.Path(r.URL.Path),
		logging.Status(status),
		logging.Duration(time.Since(start).Milliseconds()),
	)
	httputil.WriteJSON(w, status, summary)
}

// HandleHealthz reports liveness.
func (h *Handler) HandleHealthz(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleReadyz reports readiness: not ready while the store breaker is open,
// since accepted events could not be persisted.
func (h *Handler) HandleReadyz(w http.ResponseWriter, _ *http.Request) {
	if b, ok := h.breakers.Get("store"); ok && b.State() == breaker.StateOpen {
		httputil.WriteError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// HandleBreakers returns the state of every registered breaker.
func (h *Handler) HandleBreakers(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.breakers.Snapshots())
}

// HandleBreakerReset manually closes the named breaker.
func (h *Handler) HandleBreakerReset(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := h.breakers.Reset(name); err != nil {
		httputil.WriteError(w, http.StatusNotFound, err.Error())
		return
	}
	h.logger.InfoContext(r.Context(), "breaker manually reset", logging.Breaker(name))
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"breaker": name, "state": "closed"})
}
