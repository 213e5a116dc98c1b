package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/curibio/cloud-core/internal/auth"
	"github.com/curibio/cloud-core/internal/objectkey"
	"github.com/curibio/cloud-core/internal/queue"
	"github.com/curibio/cloud-core/internal/storage"
	"github.com/curibio/cloud-core/internal/usage"
)

const presignTTL = time.Hour

var knownProducts = map[string]bool{
	"mantarray":         true,
	"nautilai":          true,
	"pulse3d":           true,
	"advanced_analysis": true,
}

type UploadsHandler struct {
	queue  *queue.Service
	usage  *usage.Service
	store  storage.Storage
	bucket string
}

func NewUploadsHandler(q *queue.Service, u *usage.Service, store storage.Storage, bucket string) *UploadsHandler {
	return &UploadsHandler{queue: q, usage: u, store: store, bucket: bucket}
}

type createUploadRequest struct {
	Filename   string          `json:"filename"`
	MD5        string          `json:"md5,omitempty"`
	UploadType string          `json:"upload_type"`
	AutoUpload bool            `json:"auto_upload"`
	Meta       json.RawMessage `json:"meta,omitempty"`
}

// Create records an upload and hands back a presigned URL the client
// PUTs the recording to. Quota is checked before anything is written.
func (h *UploadsHandler) Create(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r.Context())

	var req createUploadRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Filename == "" || !knownProducts[req.UploadType] {
		writeError(w, http.StatusBadRequest, "filename and a known upload_type are required")
		return
	}

	if err := h.usage.CheckUpload(r.Context(), claims.CustomerID, req.UploadType); err != nil {
		if writeUsageRefused(w, err) {
			return
		}
		slog.Error("usage check failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not check usage")
		return
	}

	userID := *claims.UserID
	uploadID := uuid.New()
	upload, err := h.queue.CreateUpload(r.Context(), queue.CreateUploadParams{
		ID:         uploadID,
		CustomerID: claims.CustomerID,
		UserID:     userID,
		Prefix:     objectkey.UploadPrefix(claims.CustomerID, userID, uploadID),
		Filename:   req.Filename,
		MD5:        req.MD5,
		Type:       req.UploadType,
		AutoUpload: req.AutoUpload,
		Meta:       req.Meta,
	})
	if err != nil {
		slog.Error("create upload failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not create upload")
		return
	}

	url, err := h.store.PresignUpload(r.Context(), h.bucket,
		objectkey.Upload(claims.CustomerID, userID, upload.ID, req.Filename), presignTTL)
	if err != nil {
		slog.Error("presign upload failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not presign upload")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"id":     upload.ID,
		"params": map[string]string{"url": url},
	})
}

func (h *UploadsHandler) List(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r.Context())

	product := r.URL.Query().Get("upload_type")
	if !knownProducts[product] {
		writeError(w, http.StatusBadRequest, "a known upload_type is required")
		return
	}
	ids, err := parseIDs(r.URL.Query()["upload_ids"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid upload id")
		return
	}

	uploads, err := h.queue.GetUploads(r.Context(), claims, product, ids)
	if err != nil {
		slog.Error("list uploads failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not list uploads")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"uploads": uploads})
}

type deleteRequest struct {
	IDs []uuid.UUID `json:"ids"`
}

// Delete soft-deletes uploads the caller may see. Objects stay in the
// bucket; only the rows are hidden.
func (h *UploadsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r.Context())

	product := r.URL.Query().Get("upload_type")
	if !knownProducts[product] {
		writeError(w, http.StatusBadRequest, "a known upload_type is required")
		return
	}
	var req deleteRequest
	if err := decodeJSON(r, &req); err != nil || len(req.IDs) == 0 {
		writeError(w, http.StatusBadRequest, "ids are required")
		return
	}

	if err := h.queue.DeleteUploads(r.Context(), claims, product, req.IDs); err != nil {
		slog.Error("delete uploads failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not delete uploads")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Download presigns GET URLs for the requested uploads, limited to what
// the caller's scopes allow.
func (h *UploadsHandler) Download(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r.Context())

	product := r.URL.Query().Get("upload_type")
	if !knownProducts[product] {
		writeError(w, http.StatusBadRequest, "a known upload_type is required")
		return
	}
	ids, err := parseIDs(r.URL.Query()["upload_ids"])
	if err != nil || len(ids) == 0 {
		writeError(w, http.StatusBadRequest, "upload_ids are required")
		return
	}

	uploads, err := h.queue.GetUploads(r.Context(), claims, product, ids)
	if err != nil {
		slog.Error("load uploads failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not load uploads")
		return
	}

	type uploadURL struct {
		ID       uuid.UUID `json:"id"`
		Filename string    `json:"filename"`
		URL      string    `json:"url"`
	}
	urls := make([]uploadURL, 0, len(uploads))
	for _, u := range uploads {
		key := objectkey.Upload(u.CustomerID, u.UserID, u.ID, u.Filename)
		url, err := h.store.PresignDownload(r.Context(), h.bucket, key, presignTTL)
		if err != nil {
			slog.Error("presign download failed", "error", err, "upload_id", u.ID)
			writeError(w, http.StatusInternalServerError, "could not presign download")
			return
		}
		urls = append(urls, uploadURL{ID: u.ID, Filename: u.Filename, URL: url})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"uploads": urls})
}

func parseIDs(raw []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
