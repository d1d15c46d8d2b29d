package session

import "errors"

// Error taxonomy for session operations. Callers distinguish cases with
// errors.Is; the route layer maps them onto HTTP status codes.
var (
	// ErrUnsupportedLanguage means the requested language id is not in the
	// supported set.
	ErrUnsupportedLanguage = errors.New("unsupported language")

	// ErrInvalidSessionID means the given id does not have the shape of a
	// session identifier.
	ErrInvalidSessionID = errors.New("invalid session id")

	// ErrSessionNotFound means no session exists for the given id.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExpired means the session exceeded the idle timeout and
	// has been evicted.
	ErrSessionExpired = errors.New("session expired")

	// ErrSessionCreation wraps failures while provisioning a new session's
	// container. No partial session is left registered.
	ErrSessionCreation = errors.New("session creation failed")

	// ErrExecution wraps sandbox-side execution failures. The session
	// stays alive; the failed run is recorded in its history.
	ErrExecution = errors.New("execution failed")
)
