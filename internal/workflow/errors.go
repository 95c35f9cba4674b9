package workflow

import "errors"

// ErrBusy guards against duplicate concurrent submissions of the same
// action. The caller retries after the in-flight call settles.
var ErrBusy = errors.New("operation already in progress")

// ValidationError reports a malformed contact identifier. It is raised
// locally, before any network call, and is safe to show inline.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// VerificationError reports a wrong or expired one-time code. Recoverable:
// the workflow stays on code entry and a resend clears it.
type VerificationError struct {
	Message string
	Err     error
}

func (e *VerificationError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "verification failed"
}

func (e *VerificationError) Unwrap() error { return e.Err }

// CredentialError reports that a stored credential was rejected. The raw
// rejection reason never reaches the contact; callers fall back to fresh
// verification with a generic message.
type CredentialError struct {
	Err error
}

func (e *CredentialError) Error() string { return "credential rejected" }

func (e *CredentialError) Unwrap() error { return e.Err }

// LoadError reports a failed preference fetch. Distinct from an empty
// catalog and from a contact with no history, which are not errors.
type LoadError struct {
	Err error
}

func (e *LoadError) Error() string { return "could not load preferences" }

func (e *LoadError) Unwrap() error { return e.Err }

// SaveError reports a failed preference write. Local edits are retained so
// the user can retry without re-entering anything.
type SaveError struct {
	Err error
}

func (e *SaveError) Error() string { return "could not save preferences" }

func (e *SaveError) Unwrap() error { return e.Err }

// NotificationError reports a failed post-save notification in the verbal
// flow. It is observability-only and never rolls back the committed save.
type NotificationError struct {
	Err error
}

func (e *NotificationError) Error() string { return "could not notify contact" }

func (e *NotificationError) Unwrap() error { return e.Err }
