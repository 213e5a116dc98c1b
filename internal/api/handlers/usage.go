package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/curibio/cloud-core/internal/auth"
	"github.com/curibio/cloud-core/internal/usage"
)

type UsageHandler struct {
	usage *usage.Service
}

func NewUsageHandler(u *usage.Service) *UsageHandler {
	return &UsageHandler{usage: u}
}

// Get reports the caller's customer consumption against one product's
// limits, with the reached flags already evaluated.
func (h *UsageHandler) Get(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r.Context())

	product := r.URL.Query().Get("service")
	if !knownProducts[product] {
		writeError(w, http.StatusBadRequest, "a known service is required")
		return
	}

	snap, err := h.usage.GetSnapshot(r.Context(), claims.CustomerID, product)
	if err != nil {
		slog.Error("usage snapshot failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not read usage")
		return
	}
	status, err := usage.Evaluate(snap, time.Now())
	if err != nil {
		slog.Error("usage evaluation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not read usage")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"usage":  snap,
		"status": status,
	})
}
