// Package apperror defines the typed error kinds shared across streamcore's
// components, so component boundaries return results rather than raising
// exceptions that would need translating at every call site.
package apperror

import "fmt"

// Kind classifies an AppError for HTTP-status mapping and client behavior,
// decided once here rather than re-derived at each handler.
type Kind string

const (
	KindNotFound         Kind = "not_found"
	KindTierDenied       Kind = "tier_denied"
	KindBusy             Kind = "busy"
	KindConflict         Kind = "conflict"
	KindBadInput         Kind = "bad_input"
	KindStorageFailure   Kind = "storage_failure"
	KindTranscodeFailure Kind = "transcode_failure"
	KindLockTimeout      Kind = "lock_timeout"
	KindTokenInvalid     Kind = "token_invalid"
)

// AppError is the error type components return instead of propagating raw
// errors across package boundaries.
type AppError struct {
	Kind Kind
	// Message is a human-readable, user-safe description.
	Message string
	// RetryAfter is set for Busy errors, the number of seconds a client
	// should wait before polling again.
	RetryAfter int
	// TierName is set for TierDenied errors, naming the tier required.
	TierName string
	// Reason carries a machine-readable sub-classification, used by
	// TokenInvalid (expired, wrong-track, wrong-voice, content-updated,
	// bad-signature).
	Reason string
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Kind)
}

// New creates an AppError of the given kind with a message.
func New(kind Kind, message string) *AppError {
	return &AppError{Kind: kind, Message: message}
}

// Newf creates an AppError of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *AppError {
	return &AppError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// NotFound builds a NotFound AppError.
func NotFound(message string) *AppError {
	return New(KindNotFound, message)
}

// TierDenied builds a TierDenied AppError naming the required tier.
func TierDenied(tierName string) *AppError {
	return &AppError{
		Kind:     KindTierDenied,
		Message:  fmt.Sprintf("requires tier: %s", tierName),
		TierName: tierName,
	}
}

// Busy builds a Busy AppError with a Retry-After hint in seconds.
func Busy(retryAfter int) *AppError {
	return &AppError{
		Kind:       KindBusy,
		Message:    "preparation in progress",
		RetryAfter: retryAfter,
	}
}

// Conflict builds a Conflict AppError.
func Conflict(message string) *AppError {
	return New(KindConflict, message)
}

// BadInput builds a BadInput AppError.
func BadInput(message string) *AppError {
	return New(KindBadInput, message)
}

// TokenInvalid builds a TokenInvalid AppError with the given reason.
func TokenInvalid(reason string) *AppError {
	return &AppError{
		Kind:    KindTokenInvalid,
		Message: "invalid grant token",
		Reason:  reason,
	}
}

// Is reports whether err is an *AppError of the given kind.
func Is(err error, kind Kind) bool {
	ae, ok := err.(*AppError)
	return ok && ae.Kind == kind
}
