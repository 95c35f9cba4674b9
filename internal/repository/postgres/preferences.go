package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kenjohansen/optin-manager-sub000/internal/core/domain"
	"github.com/kenjohansen/optin-manager-sub000/internal/core/port"
)

// PreferenceRepository implements consent persistence using PostgreSQL.
// Writes replace a contact's records wholesale inside one transaction.
type PreferenceRepository struct {
	pool    *pgxpool.Pool
	exec    pgExecutor
	builder squirrel.StatementBuilderType
	now     func() time.Time
}

// NewPreferenceRepository wires a PostgreSQL-backed preference repository.
func NewPreferenceRepository(pool *pgxpool.Pool) *PreferenceRepository {
	return &PreferenceRepository{
		pool:    pool,
		exec:    pool,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
		now:     time.Now,
	}
}

// WithClock overrides the internal clock, used in tests.
func (r *PreferenceRepository) WithClock(clock func() time.Time) {
	if clock != nil {
		r.now = clock
	}
}

// GetByContact loads every stored consent record for the contact.
func (r *PreferenceRepository) GetByContact(ctx context.Context, contact domain.Contact) ([]port.StoredPreference, error) {
	stmt, args, err := r.builder.Select("program_id", "opted_in", "updated_at").
		From("optin.preferences").
		Where(squirrel.Eq{"contact_value": contact.Value, "contact_type": contact.Type}).
		OrderBy("program_id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select preferences sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query preferences: %w", err)
	}
	defer rows.Close()

	var records []port.StoredPreference
	for rows.Next() {
		var rec port.StoredPreference
		if err := rows.Scan(&rec.ProgramID, &rec.OptedIn, &rec.LastUpdated); err != nil {
			return nil, fmt.Errorf("scan preference: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate preferences: %w", err)
	}

	return records, nil
}

// LastComment returns the most recent free-text comment recorded with a
// preference change, or empty when none exists.
func (r *PreferenceRepository) LastComment(ctx context.Context, contact domain.Contact) (string, error) {
	stmt, args, err := r.builder.Select("comment").
		From("optin.contact_comments").
		Where(squirrel.Eq{"contact_value": contact.Value, "contact_type": contact.Type}).
		ToSql()
	if err != nil {
		return "", fmt.Errorf("build select comment sql: %w", err)
	}

	var comment string
	row := r.exec.QueryRow(ctx, stmt, args...)
	if err := row.Scan(&comment); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("scan comment: %w", err)
	}

	return comment, nil
}

// ReplaceAll swaps the contact's consent records for the supplied set and
// records the optional comment, all within one transaction.
func (r *PreferenceRepository) ReplaceAll(ctx context.Context, contact domain.Contact, records []port.StoredPreference, comment string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin preferences tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := r.replaceAllTx(ctx, tx, contact, records, comment); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit preferences tx: %w", err)
	}

	return nil
}

// OptOutAll writes an opted-out record for every supplied program id,
// overriding whatever was stored before. Repeating the call is a no-op
// beyond refreshing timestamps.
func (r *PreferenceRepository) OptOutAll(ctx context.Context, contact domain.Contact, programIDs []string, comment string) error {
	records := make([]port.StoredPreference, 0, len(programIDs))
	now := r.now().UTC()
	for _, id := range programIDs {
		records = append(records, port.StoredPreference{ProgramID: id, OptedIn: false, LastUpdated: now})
	}

	return r.ReplaceAll(ctx, contact, records, comment)
}

func (r *PreferenceRepository) replaceAllTx(ctx context.Context, tx pgx.Tx, contact domain.Contact, records []port.StoredPreference, comment string) error {
	delStmt, delArgs, err := r.builder.Delete("optin.preferences").
		Where(squirrel.Eq{"contact_value": contact.Value, "contact_type": contact.Type}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build delete preferences sql: %w", err)
	}
	if _, err := tx.Exec(ctx, delStmt, delArgs...); err != nil {
		return fmt.Errorf("delete preferences: %w", err)
	}

	if len(records) > 0 {
		insert := r.builder.Insert("optin.preferences").
			Columns("contact_value", "contact_type", "program_id", "opted_in", "updated_at")
		for _, rec := range records {
			updated := rec.LastUpdated
			if updated.IsZero() {
				updated = r.now().UTC()
			}
			insert = insert.Values(contact.Value, contact.Type, rec.ProgramID, rec.OptedIn, updated)
		}

		insStmt, insArgs, err := insert.ToSql()
		if err != nil {
			return fmt.Errorf("build insert preferences sql: %w", err)
		}
		if _, err := tx.Exec(ctx, insStmt, insArgs...); err != nil {
			return fmt.Errorf("insert preferences: %w", err)
		}
	}

	if strings.TrimSpace(comment) != "" {
		cmtStmt, cmtArgs, err := r.builder.Insert("optin.contact_comments").
			Columns("contact_value", "contact_type", "comment", "updated_at").
			Values(contact.Value, contact.Type, comment, r.now().UTC()).
			Suffix("ON CONFLICT (contact_value, contact_type) DO UPDATE SET comment = EXCLUDED.comment, updated_at = EXCLUDED.updated_at").
			ToSql()
		if err != nil {
			return fmt.Errorf("build upsert comment sql: %w", err)
		}
		if _, err := tx.Exec(ctx, cmtStmt, cmtArgs...); err != nil {
			return fmt.Errorf("upsert comment: %w", err)
		}
	}

	return nil
}
