// Package apperr defines the error taxonomy shared by every duet component.
package apperr

import "errors"

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrNotFound         = errors.New("not found")
	ErrForbidden        = errors.New("forbidden")
	ErrAlreadyProcessed = errors.New("invite already processed")
	ErrAlreadyPaired    = errors.New("already paired")
	ErrDuplicateInvite  = errors.New("duplicate invite")
	ErrNotInPair        = errors.New("not in pair")
	ErrNotDueYet        = errors.New("not due yet")
	ErrExternalService  = errors.New("external service failure")

	// Identity provider categories.
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnknownUser        = errors.New("unknown user")
	ErrAccountDisabled    = errors.New("account disabled")
	ErrRateLimited        = errors.New("too many attempts")
	ErrEmailTaken         = errors.New("email already registered")
	ErrWeakPassword       = errors.New("weak password")
)

type kindInfo struct {
	err       error
	code      string
	message   string
	retryable bool
}

// Order matters: the first match wins.
var kinds = []kindInfo{
	{ErrInvalidInput, "invalid_input", "Please check the entered data", false},
	{ErrNotFound, "not_found", "Not found", false},
	{ErrForbidden, "forbidden", "This action is not allowed for you", false},
	{ErrAlreadyProcessed, "already_processed", "The invite has already been processed", false},
	{ErrAlreadyPaired, "already_paired", "You are already in a pair", false},
	{ErrDuplicateInvite, "duplicate_invite", "An invite between you is already pending", false},
	{ErrNotInPair, "not_in_pair", "You are not in a pair", true},
	{ErrNotDueYet, "not_due_yet", "The report is not due yet", true},
	{ErrExternalService, "external_service", "The summary service is unavailable, try again later", true},
	{ErrUnauthenticated, "unauthenticated", "Please sign in", false},
	{ErrInvalidCredentials, "invalid_credentials", "Wrong email or password", false},
	{ErrUnknownUser, "unknown_user", "No account with this email", false},
	{ErrAccountDisabled, "account_disabled", "The account is disabled", false},
	{ErrRateLimited, "rate_limited", "Too many attempts, try again later", true},
	{ErrEmailTaken, "email_taken", "This email is already registered", false},
	{ErrWeakPassword, "weak_password", "The password is too weak", false},
}

func lookup(err error) (kindInfo, bool) {
	if err == nil {
		return kindInfo{}, false
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k, true
		}
	}
	return kindInfo{}, false
}

// Kind returns a stable machine-readable code for err, or "internal".
func Kind(err error) string {
	if k, ok := lookup(err); ok {
		return k.code
	}
	return "internal"
}

// Message returns a short user-facing message for err.
func Message(err error) string {
	if k, ok := lookup(err); ok {
		return k.message
	}
	return "Something went wrong"
}

// Retryable reports whether the caller may retry the same request later.
func Retryable(err error) bool {
	k, ok := lookup(err)
	return ok && k.retryable
}
