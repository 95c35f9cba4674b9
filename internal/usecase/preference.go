package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kenjohansen/optin-manager-sub000/internal/core/domain"
	"github.com/kenjohansen/optin-manager-sub000/internal/core/port"
	"github.com/kenjohansen/optin-manager-sub000/internal/infra/logger"
	"github.com/kenjohansen/optin-manager-sub000/internal/infra/security"
)

var (
	// ErrIdentityRequired indicates neither a credential token nor a contact was supplied.
	ErrIdentityRequired = errors.New("exactly one of token or contact is required")
	// ErrUnknownProgram indicates a submitted record references a program outside the active catalog.
	ErrUnknownProgram = errors.New("unknown program")
	// ErrPreferencesUnavailable indicates the service is not properly configured.
	ErrPreferencesUnavailable = errors.New("preference service unavailable")
)

// Identity selects how a preference request is authorized: a verified bearer
// credential, or a raw contact as the fallback. Exactly one is populated.
type Identity struct {
	Token   string
	Contact *domain.Contact
}

// PreferenceView is the result of a load: the merged set plus whether the
// contact has any recorded history. An empty catalog and an empty history
// are distinct states the caller must be able to tell apart.
type PreferenceView struct {
	Set        domain.PreferenceSet
	HasHistory bool
}

// UpdateRecord is one submitted consent decision.
type UpdateRecord struct {
	ProgramID string
	OptedIn   bool
}

// UpdateInput captures a full preference write. The submitted records replace
// the contact's stored set; GlobalOptOut overrides the records entirely.
type UpdateInput struct {
	Identity     Identity
	Records      []UpdateRecord
	Comment      string
	GlobalOptOut bool
}

// PreferenceService loads and persists per-contact consent sets.
type PreferenceService struct {
	programs    port.ProgramRepository
	preferences port.PreferenceRepository
	events      port.EventPublisher
	issuer      *security.CredentialIssuer
	logger      *zap.Logger
	now         func() time.Time
}

// NewPreferenceService constructs a PreferenceService.
func NewPreferenceService(programs port.ProgramRepository, preferences port.PreferenceRepository, events port.EventPublisher, issuer *security.CredentialIssuer, log *zap.Logger) *PreferenceService {
	if log == nil {
		log = zap.NewNop()
	}

	return &PreferenceService{
		programs:    programs,
		preferences: preferences,
		events:      events,
		issuer:      issuer,
		logger:      log,
		now:         time.Now,
	}
}

// WithClock overrides the internal clock, used in tests.
func (s *PreferenceService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// Get loads the contact's preference set under the supplied identity. The
// active catalog drives the result: stored records for inactive or deleted
// programs are not returned.
func (s *PreferenceService) Get(ctx context.Context, identity Identity) (*PreferenceView, error) {
	if s.programs == nil || s.preferences == nil {
		return nil, ErrPreferencesUnavailable
	}

	contact, err := s.resolveIdentity(identity)
	if err != nil {
		return nil, err
	}

	catalog, err := s.programs.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list programs: %w", err)
	}

	view := &PreferenceView{
		Set: domain.PreferenceSet{Contact: contact},
	}
	if len(catalog) == 0 {
		return view, nil
	}

	stored, err := s.preferences.GetByContact(ctx, contact)
	if err != nil {
		return nil, fmt.Errorf("load preferences: %w", err)
	}

	byProgram := make(map[string]port.StoredPreference, len(stored))
	for _, rec := range stored {
		byProgram[rec.ProgramID] = rec
	}

	records := make([]domain.PreferenceRecord, 0, len(catalog))
	for _, program := range catalog {
		rec := domain.PreferenceRecord{
			ProgramID:   program.ID,
			ProgramName: program.Name,
			ProgramType: program.Type,
		}
		if existing, ok := byProgram[program.ID]; ok {
			rec.OptedIn = existing.OptedIn
			rec.LastUpdated = existing.LastUpdated
			view.HasHistory = true
		}
		records = append(records, rec)
	}
	view.Set.Programs = records

	comment, err := s.preferences.LastComment(ctx, contact)
	if err != nil {
		return nil, fmt.Errorf("load last comment: %w", err)
	}
	view.Set.LastComment = comment

	return view, nil
}

// Update replaces the contact's stored consent set. With GlobalOptOut set,
// every active program is written opted-out regardless of the submitted
// records; repeating the call yields the same state.
func (s *PreferenceService) Update(ctx context.Context, input UpdateInput) error {
	if s.programs == nil || s.preferences == nil {
		return ErrPreferencesUnavailable
	}

	contact, err := s.resolveIdentity(input.Identity)
	if err != nil {
		return err
	}

	catalog, err := s.programs.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list programs: %w", err)
	}

	active := make(map[string]bool, len(catalog))
	for _, program := range catalog {
		active[program.ID] = true
	}

	now := s.now().UTC()
	var written []port.StoredPreference
	optedIn := 0

	if input.GlobalOptOut {
		ids := make([]string, 0, len(catalog))
		for _, program := range catalog {
			ids = append(ids, program.ID)
		}
		if err := s.preferences.OptOutAll(ctx, contact, ids, input.Comment); err != nil {
			return fmt.Errorf("opt out all: %w", err)
		}
		for _, id := range ids {
			written = append(written, port.StoredPreference{ProgramID: id})
		}
	} else {
		records := make([]port.StoredPreference, 0, len(input.Records))
		for _, rec := range input.Records {
			id := strings.TrimSpace(rec.ProgramID)
			if !active[id] {
				return fmt.Errorf("%w: %s", ErrUnknownProgram, id)
			}
			if rec.OptedIn {
				optedIn++
			}
			records = append(records, port.StoredPreference{
				ProgramID:   id,
				OptedIn:     rec.OptedIn,
				LastUpdated: now,
			})
		}
		if err := s.preferences.ReplaceAll(ctx, contact, records, input.Comment); err != nil {
			return fmt.Errorf("replace preferences: %w", err)
		}
		written = records
	}

	if s.events != nil {
		ids := make([]string, 0, len(written))
		for _, rec := range written {
			ids = append(ids, rec.ProgramID)
		}
		event := domain.ConsentUpdatedEvent{
			ContactMasked: logger.MaskContact(contact.Value),
			ContactType:   contact.Type,
			ProgramIDs:    ids,
			OptedInCount:  optedIn,
			GlobalOptOut:  input.GlobalOptOut,
			Comment:       input.Comment,
			UpdatedAt:     now,
		}
		if err := s.events.PublishConsentUpdated(ctx, event); err != nil {
			s.logger.Warn("publish consent updated event", zap.Error(err))
		}
	}

	return nil
}

// resolveIdentity enforces the one-identity-per-request rule: a credential
// token when present, a raw contact otherwise, never both.
func (s *PreferenceService) resolveIdentity(identity Identity) (domain.Contact, error) {
	hasToken := strings.TrimSpace(identity.Token) != ""
	hasContact := identity.Contact != nil && strings.TrimSpace(identity.Contact.Value) != ""

	switch {
	case hasToken && hasContact:
		return domain.Contact{}, ErrIdentityRequired
	case hasToken:
		if s.issuer == nil {
			return domain.Contact{}, ErrPreferencesUnavailable
		}
		return s.issuer.Verify(identity.Token)
	case hasContact:
		contact := *identity.Contact
		contact.Value = strings.TrimSpace(contact.Value)
		if !contact.Type.Valid() {
			return domain.Contact{}, fmt.Errorf("contact type %q is not supported", contact.Type)
		}
		return contact, nil
	default:
		return domain.Contact{}, ErrIdentityRequired
	}
}
