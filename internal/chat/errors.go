package chat

import "errors"

var (
	ErrAuthentication = errors.New("authentication failed")
	ErrNotAMember     = errors.New("not a member of room")
	ErrPersistence    = errors.New("persistence failed")
	ErrValidation     = errors.New("validation failed")
	ErrRateLimited    = errors.New("rate limited")
	ErrSessionClosed  = errors.New("session closed")
)

// Codigos estables que viajan en el evento "error".
const (
	CodeAuthFailed        = "auth_failed"
	CodeNotAMember        = "not_a_member"
	CodePersistenceFailed = "persistence_failed"
	CodeValidationFailed  = "validation_failed"
	CodeRateLimited       = "rate_limited"
	CodeInternal          = "internal"
)

func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrAuthentication):
		return CodeAuthFailed
	case errors.Is(err, ErrNotAMember):
		return CodeNotAMember
	case errors.Is(err, ErrPersistence):
		return CodePersistenceFailed
	case errors.Is(err, ErrValidation):
		return CodeValidationFailed
	case errors.Is(err, ErrRateLimited):
		return CodeRateLimited
	default:
		return CodeInternal
	}
}

// errorMessage devuelve el texto visible para el cliente. Los errores de
// persistencia no exponen el detalle del backend.
func errorMessage(err error) string {
	switch {
	case errors.Is(err, ErrNotAMember):
		return "Join the room before sending"
	case errors.Is(err, ErrPersistence):
		return "Save failed"
	case errors.Is(err, ErrRateLimited):
		return "Too many messages"
	case errors.Is(err, ErrValidation):
		return err.Error()
	default:
		return "Internal error"
	}
}
