package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kenjohansen/optin-manager-sub000/internal/core/domain"
	"github.com/kenjohansen/optin-manager-sub000/internal/core/port"
)

// ErrProgramNameRequired indicates a program was submitted without a name.
var ErrProgramNameRequired = errors.New("program name is required")

// CatalogService exposes the server-owned program catalog.
type CatalogService struct {
	programs port.ProgramRepository
	now      func() time.Time
}

// NewCatalogService constructs a CatalogService.
func NewCatalogService(programs port.ProgramRepository) *CatalogService {
	return &CatalogService{
		programs: programs,
		now:      time.Now,
	}
}

// WithClock overrides the internal clock, used in tests.
func (s *CatalogService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// ListActive returns programs currently offered to contacts.
func (s *CatalogService) ListActive(ctx context.Context) ([]domain.Program, error) {
	programs, err := s.programs.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active programs: %w", err)
	}
	return programs, nil
}

// List returns every program regardless of status.
func (s *CatalogService) List(ctx context.Context) ([]domain.Program, error) {
	programs, err := s.programs.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list programs: %w", err)
	}
	return programs, nil
}

// Create registers a new program in the catalog.
func (s *CatalogService) Create(ctx context.Context, name string, programType domain.ProgramType) (*domain.Program, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrProgramNameRequired
	}
	if programType == "" {
		programType = domain.ProgramTypeEmail
	}

	now := s.now().UTC()
	program := domain.Program{
		ID:        uuid.NewString(),
		Name:      name,
		Type:      programType,
		Status:    domain.ProgramStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.programs.Create(ctx, program); err != nil {
		return nil, fmt.Errorf("create program: %w", err)
	}

	return &program, nil
}
