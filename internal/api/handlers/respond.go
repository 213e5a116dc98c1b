package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/curibio/cloud-core/internal/usage"
)

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// writeUsageRefused renders quota refusals with a 200 status and an
// error-shaped body so clients can tell them apart from failures. It
// reports whether err was a quota refusal.
func writeUsageRefused(w http.ResponseWriter, err error) bool {
	var ue *usage.Error
	if !errors.As(err, &ue) {
		return false
	}
	writeJSON(w, http.StatusOK, ue)
	return true
}
