package core

// Error codes for domain errors.
const (
	ErrCodeBadRequest     = "bad_request"
	ErrCodeUnidentified   = "unidentified"
	ErrCodeUnauthorized   = "unauthorized"
	ErrCodeForbidden      = "forbidden"
	ErrCodeNotFound       = "not_found"
	ErrCodeNotParticipant = "not_participant"
	ErrCodeRateLimited    = "rate_limited"
	ErrCodeUnsupported    = "unsupported_version"
	ErrCodeInternal       = "internal"
)

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Code    string
	Message string
}

func (e *CoreError) Error() string {
	return e.Message
}

// NewError builds a CoreError.
func NewError(code, msg string) *CoreError {
	return &CoreError{Code: code, Message: msg}
}
