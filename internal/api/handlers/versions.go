package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/curibio/cloud-core/internal/models"
	"github.com/curibio/cloud-core/internal/versions"
)

type VersionsHandler struct {
	versions *versions.Service
}

func NewVersionsHandler(v *versions.Service) *VersionsHandler {
	return &VersionsHandler{versions: v}
}

// List returns the analysis versions customers may submit against.
func (h *VersionsHandler) List(w http.ResponseWriter, r *http.Request) {
	product := chi.URLParam(r, "product")
	if !knownProducts[product] {
		writeError(w, http.StatusBadRequest, "unknown product")
		return
	}

	vs, err := h.versions.List(r.Context(), product)
	if err != nil {
		slog.Error("list versions failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not list versions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"versions": vs})
}

type setVersionStateRequest struct {
	State string `json:"state"`
}

var versionStates = map[string]models.VersionState{
	string(models.VersionStateTesting):    models.VersionStateTesting,
	string(models.VersionStateInternal):   models.VersionStateInternal,
	string(models.VersionStateExternal):   models.VersionStateExternal,
	string(models.VersionStateDeprecated): models.VersionStateDeprecated,
}

// SetState moves a version through its release lifecycle.
func (h *VersionsHandler) SetState(w http.ResponseWriter, r *http.Request) {
	product := chi.URLParam(r, "product")
	version := chi.URLParam(r, "version")
	if !knownProducts[product] || version == "" {
		writeError(w, http.StatusBadRequest, "unknown product or version")
		return
	}

	var req setVersionStateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	state, ok := versionStates[req.State]
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown state")
		return
	}

	if err := h.versions.SetState(r.Context(), product, version, state); err != nil {
		if errors.Is(err, versions.ErrUnknownVersion) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		slog.Error("set version state failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not update version")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
