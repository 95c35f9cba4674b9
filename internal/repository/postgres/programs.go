package postgres

import (
	"context"
	"errors"
	"fmt"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kenjohansen/optin-manager-sub000/internal/core/domain"
	"github.com/kenjohansen/optin-manager-sub000/internal/repository"
)

// ProgramRepository implements program catalog persistence using PostgreSQL.
type ProgramRepository struct {
	pool    *pgxpool.Pool
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewProgramRepository wires a PostgreSQL-backed program repository.
func NewProgramRepository(pool *pgxpool.Pool) *ProgramRepository {
	return &ProgramRepository{
		pool:    pool,
		exec:    pool,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// WithTx returns a repository instance operating within the supplied transaction.
func (r *ProgramRepository) WithTx(tx pgx.Tx) *ProgramRepository {
	if tx == nil {
		return r
	}
	return &ProgramRepository{
		pool:    r.pool,
		exec:    tx,
		builder: r.builder,
	}
}

// Create inserts a new program row.
func (r *ProgramRepository) Create(ctx context.Context, program domain.Program) error {
	stmt, args, err := r.builder.Insert("optin.programs").
		Columns("id", "name", "type", "status", "created_at", "updated_at").
		Values(program.ID, program.Name, program.Type, program.Status, program.CreatedAt, program.UpdatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert program sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert program: %w", err)
	}

	return nil
}

// List retrieves all programs sorted by name.
func (r *ProgramRepository) List(ctx context.Context) ([]domain.Program, error) {
	return r.list(ctx, false)
}

// ListActive retrieves programs currently offered to contacts.
func (r *ProgramRepository) ListActive(ctx context.Context) ([]domain.Program, error) {
	return r.list(ctx, true)
}

func (r *ProgramRepository) list(ctx context.Context, activeOnly bool) ([]domain.Program, error) {
	query := r.builder.Select("id", "name", "type", "status", "created_at", "updated_at").
		From("optin.programs").
		OrderBy("name ASC")

	if activeOnly {
		query = query.Where(squirrel.Eq{"status": domain.ProgramStatusActive})
	}

	stmt, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list programs sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query programs: %w", err)
	}
	defer rows.Close()

	var programs []domain.Program
	for rows.Next() {
		var p domain.Program
		if err := rows.Scan(&p.ID, &p.Name, &p.Type, &p.Status, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan program: %w", err)
		}
		programs = append(programs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate programs: %w", err)
	}

	return programs, nil
}

// GetByID retrieves a single program.
func (r *ProgramRepository) GetByID(ctx context.Context, id string) (*domain.Program, error) {
	stmt, args, err := r.builder.Select("id", "name", "type", "status", "created_at", "updated_at").
		From("optin.programs").
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build get program sql: %w", err)
	}

	var p domain.Program
	row := r.exec.QueryRow(ctx, stmt, args...)
	if err := row.Scan(&p.ID, &p.Name, &p.Type, &p.Status, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan program: %w", err)
	}

	return &p, nil
}
