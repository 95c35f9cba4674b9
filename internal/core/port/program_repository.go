package port

import (
	"context"

	"github.com/kenjohansen/optin-manager-sub000/internal/core/domain"
)

// ProgramRepository exposes the server-owned program catalog.
type ProgramRepository interface {
	ListActive(ctx context.Context) ([]domain.Program, error)
	List(ctx context.Context) ([]domain.Program, error)
	GetByID(ctx context.Context, id string) (*domain.Program, error)
	Create(ctx context.Context, program domain.Program) error
}
