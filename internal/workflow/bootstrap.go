package workflow

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// StartKind names the concrete state a session begins in.
type StartKind int

const (
	// StartPreferences begins directly on the loaded preference set,
	// bypassing contact entry thanks to a still-valid stored credential.
	StartPreferences StartKind = iota
	// StartContactEntry begins at contact entry, possibly prefilled.
	StartContactEntry
	// StartFallback begins at contact entry because a stored credential
	// was rejected; only the generic message is shown, never the raw
	// rejection reason.
	StartFallback
)

// StartState is the explicit result of the one-shot initial-state
// resolution, replacing implicit on-mount effects.
type StartState struct {
	Kind             StartKind
	Session          *PreferenceSession
	PrefilledContact string
	Message          string
}

// fallbackMessage is the only thing a contact sees when their stored
// credential is rejected.
const fallbackMessage = "your session is no longer valid, please verify again"

// InitialStateResolver decides where a session starts: a stored credential
// that still loads, a carried-in contact value, or blank entry.
type InitialStateResolver struct {
	backend Backend
	store   CredentialStore
	logger  *zap.Logger
}

// NewInitialStateResolver constructs a resolver.
func NewInitialStateResolver(backend Backend, store CredentialStore, log *zap.Logger) *InitialStateResolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &InitialStateResolver{
		backend: backend,
		store:   store,
		logger:  log,
	}
}

// Resolve is invoked exactly once per session. carriedContact is a contact
// value handed in from outside (the URL in the original flow) and only
// prefills entry, it never skips verification.
func (r *InitialStateResolver) Resolve(ctx context.Context, carriedContact string) StartState {
	cred, err := r.store.Get()
	if err != nil {
		r.logger.Warn("read stored credential", zap.Error(err))
	}

	if cred != nil {
		session := NewPreferenceSession(r.backend, NewCredentialIdentity(cred))
		loadErr := session.Load(ctx)
		if loadErr == nil {
			return StartState{Kind: StartPreferences, Session: session}
		}

		var credErr *CredentialError
		if errors.As(loadErr, &credErr) {
			if clearErr := r.store.Clear(); clearErr != nil {
				r.logger.Warn("clear rejected credential", zap.Error(clearErr))
			}
			r.logger.Info("stored credential rejected, falling back to verification",
				zap.String("contact", cred.Contact.Masked),
			)
			return StartState{
				Kind:             StartFallback,
				PrefilledContact: cred.Contact.Normalized,
				Message:          fallbackMessage,
			}
		}

		// Transient load failure: the credential may still be good, so it
		// is kept and the contact retries from entry.
		r.logger.Warn("preference load failed during bootstrap", zap.Error(loadErr))
		return StartState{
			Kind:             StartFallback,
			PrefilledContact: cred.Contact.Normalized,
			Message:          fallbackMessage,
		}
	}

	if carriedContact != "" {
		return StartState{Kind: StartContactEntry, PrefilledContact: carriedContact}
	}
	return StartState{Kind: StartContactEntry}
}
