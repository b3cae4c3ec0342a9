package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/jbweber/homelab/lares/internal/dnszone"
	"github.com/jbweber/homelab/lares/internal/kerberos"
	"github.com/jbweber/homelab/lares/internal/pki"
	"github.com/jbweber/homelab/lares/internal/provision"
)

// ErrorResponse is the JSON body of every error reply
type ErrorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// extractClientIP returns the first X-Forwarded-For entry, or "" when the
// front end did not set one. RemoteAddr is the front end itself and is
// never used.
func extractClientIP(r *http.Request) string {
	first, _, _ := strings.Cut(r.Header.Get("X-Forwarded-For"), ",")
	return strings.TrimSpace(first)
}

// statuses picks the HTTP codes an endpoint reports for each error class.
// Zero fields fall back to 400, 409 and 404.
type statuses struct {
	validation int
	conflict   int
	notFound   int
}

func (s statuses) orDefault(code, def int) int {
	if code == 0 {
		return def
	}
	return code
}

// writeError maps err onto the endpoint's status codes and writes it as JSON
func writeError(w http.ResponseWriter, r *http.Request, err error, s statuses) {
	resp := ErrorResponse{Error: err.Error()}
	var fe *provision.FieldError
	if errors.As(err, &fe) {
		resp.Field = fe.Field
	}

	var code int
	switch {
	case errors.Is(err, provision.ErrValidation),
		errors.Is(err, dnszone.ErrUnsupportedKeyType),
		errors.Is(err, dnszone.ErrMalformedKey):
		code = s.orDefault(s.validation, http.StatusBadRequest)
	case errors.Is(err, provision.ErrConflict):
		code = s.orDefault(s.conflict, http.StatusConflict)
	case errors.Is(err, provision.ErrNotFound):
		code = s.orDefault(s.notFound, http.StatusNotFound)
	case errors.Is(err, kerberos.ErrTimeout), errors.Is(err, pki.ErrTimeout):
		code = http.StatusGatewayTimeout
	default:
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		code = http.StatusInternalServerError
		resp = ErrorResponse{Error: "internal server error"}
	}
	writeJSON(w, code, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}

func writeBody(w http.ResponseWriter, code int, contentType string, body []byte) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(code)
	if _, err := w.Write(body); err != nil {
		slog.Warn("failed to write response", "error", err)
	}
}
