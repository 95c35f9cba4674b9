package postgres

import "github.com/jackc/pgx/v5/pgxpool"

// Repositories groups concrete PostgreSQL repository implementations.
type Repositories struct {
	Programs    *ProgramRepository
	Preferences *PreferenceRepository
}

// NewRepositories wires all repositories backed by the provided pool.
func NewRepositories(pool *pgxpool.Pool) *Repositories {
	return &Repositories{
		Programs:    NewProgramRepository(pool),
		Preferences: NewPreferenceRepository(pool),
	}
}
