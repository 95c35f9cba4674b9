package workflow

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
)

// VerbalOptInCoordinator records a consent given out of band (typically by
// phone) on a contact's behalf. The operator is already authenticated; the
// contact is notified of the change asynchronously after the save commits.
type VerbalOptInCoordinator struct {
	backend   Backend
	logger    *zap.Logger
	actorName string

	catalog []Program
	contact Contact
	records []PreferenceRecord
	ready   bool
	busy    bool
}

// NewVerbalOptInCoordinator constructs a coordinator for one operator.
func NewVerbalOptInCoordinator(backend Backend, actorName string, log *zap.Logger) *VerbalOptInCoordinator {
	if log == nil {
		log = zap.NewNop()
	}
	return &VerbalOptInCoordinator{
		backend:   backend,
		logger:    log,
		actorName: actorName,
	}
}

// Catalog returns the loaded program catalog.
func (c *VerbalOptInCoordinator) Catalog() []Program { return c.catalog }

// Contact returns the resolved target contact.
func (c *VerbalOptInCoordinator) Contact() Contact { return c.contact }

// Records returns the merged working set.
func (c *VerbalOptInCoordinator) Records() []PreferenceRecord { return c.records }

// LoadCatalog fetches the full active program catalog, independently of any
// contact. It is the first step of the verbal flow.
func (c *VerbalOptInCoordinator) LoadCatalog(ctx context.Context) error {
	if c.busy {
		return ErrBusy
	}

	c.busy = true
	defer func() { c.busy = false }()

	programs, err := c.backend.ListPrograms(ctx)
	if err != nil {
		return &LoadError{Err: err}
	}

	active := make([]Program, 0, len(programs))
	for _, program := range programs {
		if program.Status == "" || program.Status == "active" {
			active = append(active, program)
		}
	}
	c.catalog = active
	return nil
}

// Begin resolves the target contact and merges their existing record
// against the catalog by program name. A stored record whose name no
// longer matches any catalog entry is silently dropped; catalog entries
// without a stored match default to opted-out.
func (c *VerbalOptInCoordinator) Begin(ctx context.Context, rawContact string) error {
	if c.busy {
		return ErrBusy
	}
	if c.catalog == nil {
		return &LoadError{Err: errors.New("program catalog not loaded")}
	}

	contact, err := ResolveContact(rawContact)
	if err != nil {
		return err
	}

	c.busy = true
	existing, fetchErr := c.backend.GetPreferences(ctx, NewContactIdentity(contact))
	c.busy = false

	byName := make(map[string]PreferenceRecord)
	if fetchErr != nil {
		// A contact without any record yet is not an error for this flow;
		// anything else still starts from catalog defaults but is logged.
		c.logger.Debug("no existing preference record for verbal flow",
			zap.String("contact", contact.Masked),
			zap.Error(fetchErr),
		)
	} else if existing != nil {
		for _, rec := range existing.Programs {
			byName[normalizeProgramName(rec.ProgramName)] = rec
		}
	}

	merged := make([]PreferenceRecord, 0, len(c.catalog))
	for _, program := range c.catalog {
		rec := PreferenceRecord{
			ProgramID:   program.ID,
			ProgramName: program.Name,
			ProgramType: program.Type,
		}
		if existingRec, ok := byName[normalizeProgramName(program.Name)]; ok {
			rec.OptedIn = existingRec.OptedIn
			rec.LastUpdated = existingRec.LastUpdated
		}
		merged = append(merged, rec)
	}

	c.contact = contact
	c.records = merged
	c.ready = true
	return nil
}

// Toggle flips one merged record by program name, the unit the operator
// works in during a call.
func (c *VerbalOptInCoordinator) Toggle(programName string) error {
	if !c.ready {
		return &LoadError{Err: errors.New("verbal flow not started")}
	}
	want := normalizeProgramName(programName)
	for i := range c.records {
		if normalizeProgramName(c.records[i].ProgramName) == want {
			c.records[i].OptedIn = !c.records[i].OptedIn
			return nil
		}
	}
	return &ValidationError{Message: "unknown program"}
}

// Save persists the merged set under the raw contact identity and then
// notifies the contact of the change on its own goroutine. The returned
// channel reports the notification outcome; a notification failure never
// rolls back the committed save.
func (c *VerbalOptInCoordinator) Save(ctx context.Context, comment string) (<-chan error, error) {
	if c.busy {
		return nil, ErrBusy
	}
	if !c.ready {
		return nil, &SaveError{Err: errors.New("verbal flow not started")}
	}

	c.busy = true
	err := c.backend.UpdatePreferences(ctx, NewContactIdentity(c.contact), c.records, comment, false)
	c.busy = false
	if err != nil {
		var saveErr *SaveError
		if errors.As(err, &saveErr) {
			return nil, saveErr
		}
		return nil, &SaveError{Err: err}
	}

	notifyCh := make(chan error, 1)
	go func(contact Contact, actorName string) {
		defer close(notifyCh)
		if _, err := c.backend.SendCode(context.WithoutCancel(ctx), contact, PurposeVerbalAuth, actorName); err != nil {
			nerr := &NotificationError{Err: err}
			c.logger.Warn("verbal consent notification failed",
				zap.String("contact", contact.Masked),
				zap.Error(err),
			)
			notifyCh <- nerr
		}
	}(c.contact, c.actorName)

	return notifyCh, nil
}

func normalizeProgramName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
