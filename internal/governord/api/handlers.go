package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/crawlytics/governor/pkg/health"
	"github.com/crawlytics/governor/pkg/logging"
	"github.com/crawlytics/governor/pkg/metrics"
)

type handler struct {
	logger logging.Logger
	core   Core
}

func newHandler(logger logging.Logger, core Core) *handler {
	return &handler{logger: logger, core: core}
}

func (h *handler) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("Failed to encode response", "error", err)
	}
}

func (h *handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// Health runs a fresh health sweep. Critical reports get a 503 so load
// balancers can act on the status code alone.
func (h *handler) Health(w http.ResponseWriter, r *http.Request) {
	report := h.core.RunHealthChecks()

	status := http.StatusOK
	if report.Overall == health.StatusCritical {
		status = http.StatusServiceUnavailable
	}
	h.writeJSON(w, status, report)
}

// Status returns the collector's current metrics.
func (h *handler) Status(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.core.CurrentMetrics())
}

// Report returns the windowed performance report; ?minutes=N, default 15.
func (h *handler) Report(w http.ResponseWriter, r *http.Request) {
	minutes := 15
	if raw := r.URL.Query().Get("minutes"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			h.writeError(w, http.StatusBadRequest, "minutes must be a positive integer")
			return
		}
		minutes = parsed
	}

	report, err := h.core.PerformanceReport(minutes)
	if err != nil {
		if errors.Is(err, metrics.ErrInsufficientData) {
			h.writeError(w, http.StatusUnprocessableEntity, "insufficient data for the requested window")
			return
		}
		h.logger.Error("Performance report failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "report generation failed")
		return
	}
	h.writeJSON(w, http.StatusOK, report)
}

// Limits returns the rate limiter snapshot.
func (h *handler) Limits(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.core.CurrentLimits())
}

// Retry returns the retry executor counters.
func (h *handler) Retry(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.core.RetryMetrics())
}

// Cleanup triggers a manual memory cleanup; ?aggressive=true for the
// heavy pass.
func (h *handler) Cleanup(w http.ResponseWriter, r *http.Request) {
	aggressive := r.URL.Query().Get("aggressive") == "true"
	result := h.core.Cleanup(aggressive)
	h.writeJSON(w, http.StatusOK, result)
}
