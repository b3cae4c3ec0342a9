package provision

import (
	"errors"
	"fmt"

	"github.com/jbweber/homelab/lares/internal/dnszone"
	"github.com/jbweber/homelab/lares/internal/kerberos"
	"github.com/jbweber/homelab/lares/internal/pki"
)

var (
	// ErrValidation is matched by every *FieldError
	ErrValidation = errors.New("validation failed")

	// ErrConflict is returned when a resource already exists under another owner
	ErrConflict = errors.New("conflict")

	// ErrNotFound is returned when a referenced host, service or principal is absent
	ErrNotFound = errors.New("not found")
)

// FieldError names the request field that failed validation
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// Unwrap lets errors.Is(err, ErrValidation) match
func (e *FieldError) Unwrap() error {
	return ErrValidation
}

func fieldError(field, format string, args ...any) error {
	return &FieldError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// resultOf classifies an operation outcome for metrics and logs
func resultOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrValidation):
		return "rejected"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, dnszone.ErrUnsupportedKeyType), errors.Is(err, dnszone.ErrMalformedKey):
		return "rejected"
	case errors.Is(err, kerberos.ErrTimeout), errors.Is(err, pki.ErrTimeout):
		return "timeout"
	default:
		return "error"
	}
}
