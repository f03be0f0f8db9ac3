package model

import "github.com/rotisserie/eris"

// Sentinel errors shared by the verification core. Compare with eris.Is;
// stores and services wrap them with context.
var (
	ErrNotFound          = eris.New("not found")
	ErrInvalidTransition = eris.New("invalid transition")
	ErrMissingReason     = eris.New("missing reason")
	ErrConflict          = eris.New("conflict")
	ErrInvalidInput      = eris.New("invalid input")
)

// ErrorKind is the caller-facing classification of a failure.
type ErrorKind string

const (
	KindNotFound          ErrorKind = "NOT_FOUND"
	KindInvalidTransition ErrorKind = "INVALID_TRANSITION"
	KindMissingReason     ErrorKind = "MISSING_REASON"
	KindConflict          ErrorKind = "CONFLICT"
	KindInvalidInput      ErrorKind = "INVALID_INPUT"
	KindStore             ErrorKind = "STORE_ERROR"
)

// KindOf classifies err. Anything that is not one of the domain sentinels is
// a persistence failure and reported as STORE_ERROR.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case eris.Is(err, ErrNotFound):
		return KindNotFound
	case eris.Is(err, ErrInvalidTransition):
		return KindInvalidTransition
	case eris.Is(err, ErrMissingReason):
		return KindMissingReason
	case eris.Is(err, ErrConflict):
		return KindConflict
	case eris.Is(err, ErrInvalidInput):
		return KindInvalidInput
	default:
		return KindStore
	}
}

// DetectionStatus tells callers whether detection ran against OCR evidence.
// OCR_UNAVAILABLE is informational, not a failure.
type DetectionStatus string

const (
	DetectionOK             DetectionStatus = "OK"
	DetectionOCRUnavailable DetectionStatus = "OCR_UNAVAILABLE"
)

func newInvalidInput(format string, args ...any) error {
	return eris.Wrapf(ErrInvalidInput, format, args...)
}
