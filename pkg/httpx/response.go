package httpx

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
)

// RespondJSON writes a JSON response with the given status code and data.
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		zap.L().Warn("failed to encode JSON response", zap.Error(err))
	}
}

// Failure is the envelope for every failed request.
type Failure struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// RespondFailure writes {success:false, error} with the given status code.
func RespondFailure(w http.ResponseWriter, status int, err error) {
	RespondFailureString(w, status, err.Error())
}

// RespondFailureString writes {success:false, error} with a literal message.
func RespondFailureString(w http.ResponseWriter, status int, message string) {
	RespondJSON(w, status, Failure{Success: false, Error: message})
}

// RespondCacheable writes data with a content hash ETag and answers
// 304 Not Modified when the client already holds the same body.
func RespondCacheable(w http.ResponseWriter, r *http.Request, data interface{}) {
	body, err := json.Marshal(data)
	if err != nil {
		RespondFailureString(w, http.StatusInternalServerError, "failed to encode response")
		return
	}

	etag := `"` + strconv.FormatUint(xxhash.Sum64(body), 16) + `"`
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "no-cache")

	if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	body = append(body, '\n')
	if _, err := w.Write(body); err != nil {
		zap.L().Debug("failed to write response", zap.Error(err))
	}
}
