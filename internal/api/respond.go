package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/p-n-ai/pai-learn/internal/platform/apperr"
)

// maxBodyBytes bounds request bodies. Slide text for generation is the largest input.
const maxBodyBytes = 1 << 20

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("encode response failed", "error", err)
	}
}

// statusOf maps an error kind to its HTTP status.
func statusOf(kind apperr.Kind) int {
	switch kind {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindInvalidState, apperr.KindAttemptsExhausted:
		return http.StatusConflict
	case apperr.KindValidation:
		return http.StatusUnprocessableEntity
	case apperr.KindStorage:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	status := statusOf(kind)
	detail := errorDetail{Code: apperr.CodeOf(err), Message: err.Error()}

	switch kind {
	case apperr.KindStorage:
		slog.Error("storage failure", "method", r.Method, "path", r.URL.Path, "error", err)
		detail.Message = "storage temporarily unavailable"
	case apperr.KindUnknown:
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		detail = errorDetail{Code: "internal_error", Message: "internal error"}
	}
	if detail.Code == "" {
		detail.Code = kind.String()
	}
	writeJSON(w, status, errorBody{Error: detail})
}

// decodeJSON reads a JSON body into dst. An empty body leaves dst untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return apperr.Validation("invalid_body", "decode request body: %v", err)
	}
	return nil
}
