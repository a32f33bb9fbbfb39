package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/nodenexus/nodenexus/internal/storage"
)

func decodeJSON(body io.ReadCloser, dst any) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

// writeStorageError maps storage.KindOf(err) to an HTTP status per spec's
// error taxonomy and writes the JSON error envelope.
func writeStorageError(w http.ResponseWriter, err error) {
	switch storage.KindOf(err) {
	case storage.KindNotFound:
		writeError(w, http.StatusNotFound, err)
	case storage.KindConflict:
		writeError(w, http.StatusConflict, err)
	case storage.KindInvalidInput:
		writeError(w, http.StatusBadRequest, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

// resourceID splits "/<prefix>/<id>[/<tail>]" into id and tail, mirroring
// the teacher's accountResources path-trim convention.
func resourceID(path, prefix string) (id, tail string) {
	trimmed := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if trimmed == "" {
		return "", ""
	}
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return parts[0], ""
}
