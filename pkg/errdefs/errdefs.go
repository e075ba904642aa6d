// Package errdefs defines the error taxonomy shared by every Tome component.
//
// Errors are classified into kinds via sentinel errors. Components wrap
// sentinels with context using fmt.Errorf("...: %w", errdefs.ErrNotFound) and
// callers branch with errors.Is or the helpers below. External-dependency
// failures (embedding, LLM, storage, scrape) carry a retryable flag that the
// owning component consults before giving up.
package errdefs

import (
	"errors"
	"fmt"
	"net/http"
)

// Input errors. The user can fix these; messages are specific but never
// echo sensitive state.
var (
	ErrBadRequest      = errors.New("bad request")
	ErrUnsupportedType = errors.New("unsupported content type")
	ErrTooLarge        = errors.New("payload too large")
	ErrDuplicateHash   = errors.New("duplicate content hash")
	ErrRegexInvalid    = errors.New("invalid pattern")
)

// Authority errors. Short-circuit at the boundary, never retried, opaque to
// the caller; detail goes to audit only.
var (
	ErrUnauthenticated  = errors.New("unauthenticated")
	ErrPermissionDenied = errors.New("permission denied")
	ErrTenantMismatch   = errors.New("tenant mismatch")
)

// State errors.
var (
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrOverloaded = errors.New("overloaded")
	ErrCancelled  = errors.New("cancelled")
)

// ErrIntegrity marks an invariant violation (tenant leakage, orphan chunk,
// dimension mismatch). Fatal for the request; raises a critical audit event.
var ErrIntegrity = errors.New("integrity violation")

// externalError is a failure of a remote dependency. Whether the operation is
// worth retrying is a property of the failure, not of the caller.
type externalError struct {
	system    string
	err       error
	retryable bool
}

func (e *externalError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.system, e.err)
}

func (e *externalError) Unwrap() error { return e.err }

// Embedding wraps a failure of the embedding service.
func Embedding(err error, retryable bool) error {
	return &externalError{system: "embedding", err: err, retryable: retryable}
}

// LLM wraps a failure of the language-model service.
func LLM(err error, retryable bool) error {
	return &externalError{system: "llm", err: err, retryable: retryable}
}

// Storage wraps a failure of a storage backend (relational, object, cache).
func Storage(err error, retryable bool) error {
	return &externalError{system: "storage", err: err, retryable: retryable}
}

// Scrape wraps a failure while fetching or processing a remote page.
func Scrape(err error, retryable bool) error {
	return &externalError{system: "scrape", err: err, retryable: retryable}
}

// Remote wraps a failure of a connector's remote system (Jira, GitHub,
// Confluence). Credential and configuration rejections are input errors
// instead; Remote covers the remote being down or broken.
func Remote(err error, retryable bool) error {
	return &externalError{system: "remote", err: err, retryable: retryable}
}

// IsExternal reports whether err is an external-dependency failure.
func IsExternal(err error) bool {
	var ee *externalError
	return errors.As(err, &ee)
}

// IsRetryable reports whether err is an external failure worth retrying.
// Authority, input, state, and integrity errors are never retryable.
func IsRetryable(err error) bool {
	var ee *externalError
	if errors.As(err, &ee) {
		return ee.retryable
	}
	return false
}

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsPermissionDenied reports whether err wraps ErrPermissionDenied.
func IsPermissionDenied(err error) bool { return errors.Is(err, ErrPermissionDenied) }

// IsUnauthenticated reports whether err wraps ErrUnauthenticated.
func IsUnauthenticated(err error) bool { return errors.Is(err, ErrUnauthenticated) }

// IsDuplicate reports whether err wraps ErrDuplicateHash.
func IsDuplicate(err error) bool { return errors.Is(err, ErrDuplicateHash) }

// IsConflict reports whether err wraps ErrConflict.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

// IsIntegrity reports whether err wraps ErrIntegrity.
func IsIntegrity(err error) bool { return errors.Is(err, ErrIntegrity) }

// Code returns the short machine-readable code for the error body.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrBadRequest):
		return "bad_request"
	case errors.Is(err, ErrUnsupportedType):
		return "unsupported_type"
	case errors.Is(err, ErrTooLarge):
		return "too_large"
	case errors.Is(err, ErrDuplicateHash):
		return "duplicate_hash"
	case errors.Is(err, ErrRegexInvalid):
		return "regex_invalid"
	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, ErrTenantMismatch):
		return "tenant_mismatch"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrOverloaded):
		return "overloaded"
	case errors.Is(err, ErrCancelled):
		return "cancelled"
	case errors.Is(err, ErrIntegrity):
		return "integrity_violation"
	case IsExternal(err):
		return "upstream_unavailable"
	default:
		return "internal"
	}
}

// FromCode returns the sentinel behind a wire code, letting clients
// rebuild the taxonomy from an error body. Unknown and internal codes
// return nil.
func FromCode(code string) error {
	switch code {
	case "bad_request":
		return ErrBadRequest
	case "unsupported_type":
		return ErrUnsupportedType
	case "too_large":
		return ErrTooLarge
	case "duplicate_hash":
		return ErrDuplicateHash
	case "regex_invalid":
		return ErrRegexInvalid
	case "unauthenticated":
		return ErrUnauthenticated
	case "permission_denied":
		return ErrPermissionDenied
	case "tenant_mismatch":
		return ErrTenantMismatch
	case "not_found":
		return ErrNotFound
	case "conflict":
		return ErrConflict
	case "overloaded":
		return ErrOverloaded
	case "cancelled":
		return ErrCancelled
	case "integrity_violation":
		return ErrIntegrity
	default:
		return nil
	}
}

// HTTPStatus maps an error to the HTTP status code the API returns for it.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrBadRequest), errors.Is(err, ErrRegexInvalid):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ErrPermissionDenied), errors.Is(err, ErrTenantMismatch):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict), errors.Is(err, ErrDuplicateHash):
		return http.StatusConflict
	case errors.Is(err, ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ErrUnsupportedType):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, ErrOverloaded):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrCancelled):
		return 499 // client closed request
	case IsExternal(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the user-visible message for err. Authority errors are
// opaque; input errors keep their specific (non-sensitive) text; external
// errors collapse to a generic unavailability notice.
func Message(err error) string {
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return "authentication required"
	case errors.Is(err, ErrPermissionDenied), errors.Is(err, ErrTenantMismatch):
		return "access denied"
	case IsExternal(err):
		return "service temporarily unavailable"
	case errors.Is(err, ErrIntegrity):
		return "internal error"
	default:
		return err.Error()
	}
}
