package github

import (
	"errors"
	"fmt"
	"net/http"
)

// Error kinds surfaced by the client. Callers classify with errors.Is; the
// wrapped error carries the HTTP detail.
var (
	// ErrUnauthorized means the token was rejected. The client invalidates
	// its cached installation token and retries once before surfacing this.
	ErrUnauthorized = errors.New("github: unauthorized")
	// ErrNotFound means the repository, installation or deployment does not
	// exist (or the app is not installed on it).
	ErrNotFound = errors.New("github: not found")
	// ErrRateLimited means the API rate limit was exhausted. Treated as
	// transient by the engine: the tick is dropped and retried later.
	ErrRateLimited = errors.New("github: rate limited")
	// ErrTransient covers network failures, timeouts and 5xx responses.
	ErrTransient = errors.New("github: transient error")
	// ErrProtocol means a response could not be decoded.
	ErrProtocol = errors.New("github: undecodable response")
)

// IsTransient reports whether the engine should treat the error as a lost
// tick and retry naturally on the next one.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrRateLimited)
}

func isTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// wrongStatusError is an HTTP response with a status the caller did not
// expect. It unwraps to the matching error kind and retains the body so
// callers can recover alternate success statuses (the deployments API answers
// either 201 or 202).
type wrongStatusError struct {
	op   string
	code int
	body []byte
}

func (e *wrongStatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d: %s", e.op, e.code, e.body)
}

func (e *wrongStatusError) Unwrap() error {
	switch {
	case e.code == http.StatusUnauthorized:
		return ErrUnauthorized
	case e.code == http.StatusForbidden, e.code == http.StatusTooManyRequests:
		// Primary rate limits answer 403, secondary 429.
		return ErrRateLimited
	case e.code == http.StatusNotFound:
		return ErrNotFound
	case e.code >= 500:
		return ErrTransient
	}
	return nil
}
