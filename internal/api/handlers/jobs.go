package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/curibio/cloud-core/internal/auth"
	"github.com/curibio/cloud-core/internal/queue"
	"github.com/curibio/cloud-core/internal/storage"
	"github.com/curibio/cloud-core/internal/usage"
	"github.com/curibio/cloud-core/internal/versions"
)

type JobsHandler struct {
	queue    *queue.Service
	usage    *usage.Service
	versions *versions.Service
	store    storage.Storage
	bucket   string
}

func NewJobsHandler(q *queue.Service, u *usage.Service, v *versions.Service, store storage.Storage, bucket string) *JobsHandler {
	return &JobsHandler{queue: q, usage: u, versions: v, store: store, bucket: bucket}
}

type createJobRequest struct {
	UploadID       uuid.UUID       `json:"upload_id"`
	JobType        string          `json:"job_type"`
	Version        string          `json:"version"`
	Priority       int             `json:"priority,omitempty"`
	NameOverride   string          `json:"name_override,omitempty"`
	AnalysisParams json.RawMessage `json:"analysis_params,omitempty"`
}

// Create enqueues an analysis of one upload. The version must still be
// usable and the customer must have quota left.
func (h *JobsHandler) Create(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r.Context())

	var req createJobRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UploadID == uuid.Nil || req.Version == "" || !knownProducts[req.JobType] {
		writeError(w, http.StatusBadRequest, "upload_id, version and a known job_type are required")
		return
	}

	if err := h.versions.CheckUsable(r.Context(), req.JobType, req.Version); err != nil {
		if errors.Is(err, versions.ErrUnknownVersion) || errors.Is(err, versions.ErrDeprecatedVersion) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		slog.Error("version check failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not check version")
		return
	}
	if err := h.usage.CheckJob(r.Context(), claims.CustomerID, req.JobType); err != nil {
		if writeUsageRefused(w, err) {
			return
		}
		slog.Error("usage check failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not check usage")
		return
	}

	meta, err := jobMeta(req.Version, req.NameOverride, req.AnalysisParams)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid analysis_params")
		return
	}

	jobID, err := h.queue.CreateJob(r.Context(), queue.CreateJobParams{
		UploadID:   req.UploadID,
		CustomerID: claims.CustomerID,
		UserID:     *claims.UserID,
		Queue:      queue.Name(req.JobType, req.Version),
		Priority:   req.Priority,
		Meta:       meta,
	})
	if err != nil {
		slog.Error("create job failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not create job")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"id": jobID})
}

type createAdvancedAnalysisRequest struct {
	Sources        []uuid.UUID     `json:"sources"`
	Version        string          `json:"version"`
	Priority       int             `json:"priority,omitempty"`
	OutputName     string          `json:"output_name,omitempty"`
	AnalysisParams json.RawMessage `json:"analysis_params,omitempty"`
}

// CreateAdvancedAnalysis enqueues a multi-source aggregation job driven
// by prior job results instead of a single upload.
func (h *JobsHandler) CreateAdvancedAnalysis(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r.Context())

	var req createAdvancedAnalysisRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Sources) == 0 || req.Version == "" {
		writeError(w, http.StatusBadRequest, "sources and version are required")
		return
	}

	const product = "advanced_analysis"
	if err := h.versions.CheckUsable(r.Context(), product, req.Version); err != nil {
		if errors.Is(err, versions.ErrUnknownVersion) || errors.Is(err, versions.ErrDeprecatedVersion) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		slog.Error("version check failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not check version")
		return
	}
	if err := h.usage.CheckJob(r.Context(), claims.CustomerID, product); err != nil {
		if writeUsageRefused(w, err) {
			return
		}
		slog.Error("usage check failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not check usage")
		return
	}

	meta, err := jobMeta(req.Version, req.OutputName, req.AnalysisParams)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid analysis_params")
		return
	}

	jobID, err := h.queue.CreateAdvancedAnalysisJob(r.Context(), queue.CreateAdvancedAnalysisParams{
		CustomerID: claims.CustomerID,
		UserID:     *claims.UserID,
		Sources:    req.Sources,
		Queue:      queue.Name(product, req.Version),
		Priority:   req.Priority,
		Meta:       meta,
	})
	if err != nil {
		slog.Error("create advanced analysis failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not create job")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"id": jobID})
}

func (h *JobsHandler) List(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r.Context())

	product := r.URL.Query().Get("job_type")
	if !knownProducts[product] {
		writeError(w, http.StatusBadRequest, "a known job_type is required")
		return
	}
	ids, err := parseIDs(r.URL.Query()["job_ids"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	jobs, err := h.queue.GetJobs(r.Context(), claims, product, ids)
	if err != nil {
		slog.Error("list jobs failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not list jobs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": jobs})
}

func (h *JobsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r.Context())

	product := r.URL.Query().Get("job_type")
	if !knownProducts[product] {
		writeError(w, http.StatusBadRequest, "a known job_type is required")
		return
	}
	var req deleteRequest
	if err := decodeJSON(r, &req); err != nil || len(req.IDs) == 0 {
		writeError(w, http.StatusBadRequest, "ids are required")
		return
	}

	if err := h.queue.DeleteJobs(r.Context(), claims, product, req.IDs); err != nil {
		slog.Error("delete jobs failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not delete jobs")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Download presigns GET URLs for finished job artifacts.
func (h *JobsHandler) Download(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r.Context())

	product := r.URL.Query().Get("job_type")
	if !knownProducts[product] {
		writeError(w, http.StatusBadRequest, "a known job_type is required")
		return
	}
	ids, err := parseIDs(r.URL.Query()["job_ids"])
	if err != nil || len(ids) == 0 {
		writeError(w, http.StatusBadRequest, "job_ids are required")
		return
	}

	jobs, err := h.queue.GetJobs(r.Context(), claims, product, ids)
	if err != nil {
		slog.Error("load jobs failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not load jobs")
		return
	}

	type jobURL struct {
		ID  uuid.UUID `json:"id"`
		URL string    `json:"url"`
	}
	urls := make([]jobURL, 0, len(jobs))
	for _, j := range jobs {
		if j.Status != "finished" || j.ObjectKey == nil {
			continue
		}
		url, err := h.store.PresignDownload(r.Context(), h.bucket, *j.ObjectKey, presignTTL)
		if err != nil {
			slog.Error("presign download failed", "error", err, "job_id", j.JobID)
			writeError(w, http.StatusInternalServerError, "could not presign download")
			return
		}
		urls = append(urls, jobURL{ID: j.JobID, URL: url})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": urls})
}

func jobMeta(version, nameOverride string, params json.RawMessage) (json.RawMessage, error) {
	meta := map[string]interface{}{"version": version}
	if nameOverride != "" {
		meta["name_override"] = nameOverride
	}
	if len(params) > 0 {
		if !json.Valid(params) {
			return nil, errors.New("analysis_params is not valid JSON")
		}
		meta["analysis_params"] = params
	}
	return json.Marshal(meta)
}
