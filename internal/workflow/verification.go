package workflow

import (
	"context"
	"errors"
	"fmt"
)

// VerificationState is the coordinator's position in the code flow.
type VerificationState int

const (
	StateIdle VerificationState = iota
	StateCodeRequested
	StateVerified
)

func (s VerificationState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCodeRequested:
		return "code_requested"
	case StateVerified:
		return "verified"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// VerificationCoordinator drives the one-time-code flow: Idle to
// CodeRequested to Verified, with resend looping on CodeRequested and an
// explicit restart back to Idle. Execution is single-threaded and
// cooperative; the busy flag only guards against duplicate submissions of
// the same action, it is not a lock.
type VerificationCoordinator struct {
	backend Backend
	devMode bool

	state      VerificationState
	contact    Contact
	purpose    Purpose
	actorName  string
	credential *Credential
	lastErr    error
	devCode    string
	busy       bool
}

// VerificationOption configures the coordinator.
type VerificationOption func(*VerificationCoordinator)

// WithDevMode allows a backend-echoed development code to be surfaced.
func WithDevMode(enabled bool) VerificationOption {
	return func(c *VerificationCoordinator) {
		c.devMode = enabled
	}
}

// NewVerificationCoordinator constructs a coordinator in the Idle state.
func NewVerificationCoordinator(backend Backend, opts ...VerificationOption) *VerificationCoordinator {
	c := &VerificationCoordinator{
		backend: backend,
		state:   StateIdle,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// State returns the current flow state.
func (c *VerificationCoordinator) State() VerificationState { return c.state }

// Contact returns the contact the outstanding flow is bound to.
func (c *VerificationCoordinator) Contact() Contact { return c.contact }

// Credential returns the credential issued on verify-success, nil before.
func (c *VerificationCoordinator) Credential() *Credential { return c.credential }

// Err returns the last recoverable error, cleared by a resend.
func (c *VerificationCoordinator) Err() error { return c.lastErr }

// DevCode returns the backend-echoed code, empty unless dev mode is on.
func (c *VerificationCoordinator) DevCode() string { return c.devCode }

// RequestCode starts a verification flow for the contact. Self-service
// advances to code entry; verbal_auth only triggers the out-of-band notice
// and stays put, since the operator never handles the code.
func (c *VerificationCoordinator) RequestCode(ctx context.Context, contact Contact, purpose Purpose, actorName string) error {
	if c.busy {
		return ErrBusy
	}
	if contact.Normalized == "" {
		resolved, err := ResolveContact(contact.Value)
		if err != nil {
			return err
		}
		contact = resolved
	}

	c.busy = true
	defer func() { c.busy = false }()

	result, err := c.backend.SendCode(ctx, contact, purpose, actorName)
	if err != nil {
		c.lastErr = err
		return err
	}

	c.contact = contact
	c.purpose = purpose
	c.actorName = actorName
	c.lastErr = nil
	c.devCode = ""

	if purpose == PurposeVerbalAuth {
		return nil
	}

	c.state = StateCodeRequested
	if c.devMode && result != nil {
		c.devCode = result.DevCode
	}
	return nil
}

// VerifyCode exchanges a submitted code for a credential. On failure the
// flow stays on code entry with the error retained and no credential.
func (c *VerificationCoordinator) VerifyCode(ctx context.Context, code string) (*Credential, error) {
	if c.busy {
		return nil, ErrBusy
	}
	if c.state != StateCodeRequested {
		return nil, &VerificationError{Message: "no outstanding code to verify"}
	}

	c.busy = true
	defer func() { c.busy = false }()

	cred, err := c.backend.VerifyCode(ctx, c.contact, code)
	if err != nil {
		var verr *VerificationError
		if !errors.As(err, &verr) {
			verr = &VerificationError{Message: "verification failed", Err: err}
		}
		c.lastErr = verr
		return nil, verr
	}

	c.credential = cred
	c.state = StateVerified
	c.lastErr = nil
	c.devCode = ""
	return cred, nil
}

// Resend clears any pending error and reissues a code for the same contact
// and purpose. The previous code is superseded server-side, so verifying
// against it fails from here on.
func (c *VerificationCoordinator) Resend(ctx context.Context) error {
	if c.busy {
		return ErrBusy
	}
	if c.state != StateCodeRequested {
		return &VerificationError{Message: "no outstanding code to resend"}
	}

	c.lastErr = nil
	c.busy = true
	result, err := c.backend.SendCode(ctx, c.contact, c.purpose, c.actorName)
	c.busy = false
	if err != nil {
		c.lastErr = err
		return err
	}

	c.devCode = ""
	if c.devMode && result != nil {
		c.devCode = result.DevCode
	}
	return nil
}

// Restart abandons the flow and returns to Idle, dropping any outstanding
// contact, error, and credential.
func (c *VerificationCoordinator) Restart() {
	c.state = StateIdle
	c.contact = Contact{}
	c.purpose = ""
	c.actorName = ""
	c.credential = nil
	c.lastErr = nil
	c.devCode = ""
	c.busy = false
}
