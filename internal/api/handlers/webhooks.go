package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/curibio/cloud-core/internal/auth"
	"github.com/curibio/cloud-core/internal/webhook"
)

var knownEvents = map[string]bool{
	webhook.EventJobUpdate:      true,
	webhook.EventUploadUpdate:   true,
	webhook.EventAdvancedUpdate: true,
}

type WebhooksHandler struct {
	svc *webhook.Service
}

func NewWebhooksHandler(svc *webhook.Service) *WebhooksHandler {
	return &WebhooksHandler{svc: svc}
}

// Create registers an endpoint for the caller's customer account. The
// response carries the signing secret; it is never readable again.
func (h *WebhooksHandler) Create(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r.Context())

	var req webhook.CreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	if len(req.Events) == 0 {
		writeError(w, http.StatusBadRequest, "at least one event is required")
		return
	}
	for _, ev := range req.Events {
		if !knownEvents[ev] {
			writeError(w, http.StatusBadRequest, "unknown event: "+ev)
			return
		}
	}

	wh, err := h.svc.Create(r.Context(), claims.CustomerID, req)
	if err != nil {
		slog.Error("create webhook failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not create webhook")
		return
	}
	writeJSON(w, http.StatusCreated, wh)
}

func (h *WebhooksHandler) List(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r.Context())

	webhooks, err := h.svc.List(r.Context(), claims.CustomerID)
	if err != nil {
		slog.Error("list webhooks failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not list webhooks")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"webhooks": webhooks})
}

func (h *WebhooksHandler) Delete(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r.Context())

	id, err := uuid.Parse(chi.URLParam(r, "webhook_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid webhook id")
		return
	}
	if err := h.svc.Delete(r.Context(), claims.CustomerID, id); err != nil {
		slog.Error("delete webhook failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not delete webhook")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
