package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kenjohansen/optin-manager-sub000/internal/core/domain"
	"github.com/kenjohansen/optin-manager-sub000/internal/core/port"
	"github.com/kenjohansen/optin-manager-sub000/internal/infra/config"
	"github.com/kenjohansen/optin-manager-sub000/internal/infra/logger"
	"github.com/kenjohansen/optin-manager-sub000/internal/infra/security"
	"github.com/kenjohansen/optin-manager-sub000/internal/repository"
)

const (
	defaultCodeLength  = 6
	defaultCodeTTL     = 10 * time.Minute
	defaultMaxAttempts = 5

	sendCodeRateLimitScope = "send_code"
)

var (
	// ErrVerificationUnavailable indicates the service is not properly configured.
	ErrVerificationUnavailable = errors.New("verification service unavailable")
	// ErrCodeInvalid indicates the supplied code does not match the outstanding one.
	ErrCodeInvalid = errors.New("verification code invalid")
	// ErrCodeExpired indicates the outstanding code is past its TTL.
	ErrCodeExpired = errors.New("verification code expired")
	// ErrTooManyAttempts indicates the attempt cap for the outstanding code was reached.
	ErrTooManyAttempts = errors.New("too many verification attempts")
)

// RateLimitExceededError reports a sliding-window limit violation.
type RateLimitExceededError struct {
	Scope      string
	RetryAfter time.Duration
}

func (e *RateLimitExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s, retry after %s", e.Scope, e.RetryAfter)
}

// VerificationService issues and verifies one-time codes and exchanges a
// valid code for a short-lived bearer credential.
type VerificationService struct {
	cfg        *config.AppConfig
	codes      port.CodeStore
	rateLimits port.RateLimitStore
	events     port.EventPublisher
	issuer     *security.CredentialIssuer
	logger     *zap.Logger
	now        func() time.Time
	requests   prometheus.Counter

	codeLength  int
	codeTTL     time.Duration
	maxAttempts int
}

// RequestCodeInput captures one code-request invocation.
type RequestCodeInput struct {
	Contact   domain.Contact
	Purpose   domain.VerificationPurpose
	ActorName string
}

// CodeIssueResult describes the generated code returned to the transport
// layer for dispatch. The raw code leaves this struct only through the
// notification dispatcher or the development-mode echo.
type CodeIssueResult struct {
	Contact   domain.Contact
	Purpose   domain.VerificationPurpose
	ActorName string
	Code      string
	ExpiresAt time.Time
}

// NewVerificationService constructs a VerificationService.
func NewVerificationService(cfg *config.AppConfig, codes port.CodeStore, rateLimits port.RateLimitStore, events port.EventPublisher, issuer *security.CredentialIssuer, log *zap.Logger) *VerificationService {
	if log == nil {
		log = zap.NewNop()
	}

	svc := &VerificationService{
		cfg:         cfg,
		codes:       codes,
		rateLimits:  rateLimits,
		events:      events,
		issuer:      issuer,
		logger:      log,
		now:         time.Now,
		codeLength:  defaultCodeLength,
		codeTTL:     defaultCodeTTL,
		maxAttempts: defaultMaxAttempts,
	}

	if cfg != nil {
		if cfg.Verification.CodeLength > 0 {
			svc.codeLength = cfg.Verification.CodeLength
		}
		if cfg.Verification.CodeTTL > 0 {
			svc.codeTTL = cfg.Verification.CodeTTL
		}
		if cfg.Verification.MaxAttempts > 0 {
			svc.maxAttempts = cfg.Verification.MaxAttempts
		}
	}

	return svc
}

// WithClock overrides the internal clock, used in tests.
func (s *VerificationService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// WithRequestCounter attaches a metric incremented once per issued code.
func (s *VerificationService) WithRequestCounter(counter prometheus.Counter) {
	s.requests = counter
}

// RequestCode generates and stores a one-time code for the contact. Issuing a
// new code supersedes any outstanding one for the same purpose and contact.
func (s *VerificationService) RequestCode(ctx context.Context, input RequestCodeInput) (*CodeIssueResult, error) {
	contact := input.Contact
	contact.Value = strings.TrimSpace(contact.Value)

	switch {
	case contact.Value == "":
		return nil, fmt.Errorf("contact is required")
	case !contact.Type.Valid():
		return nil, fmt.Errorf("contact type %q is not supported", contact.Type)
	case !input.Purpose.Valid():
		return nil, fmt.Errorf("purpose %q is not supported", input.Purpose)
	}
	if s.codes == nil {
		return nil, ErrVerificationUnavailable
	}

	if err := s.enforceRateLimit(ctx, input.Purpose, contact); err != nil {
		return nil, err
	}

	code, err := security.GenerateNumericCode(s.codeLength)
	if err != nil {
		return nil, fmt.Errorf("generate code: %w", err)
	}

	if _, err := s.codes.Store(ctx, input.Purpose, contact.Value, security.HashCode(code), s.codeTTL); err != nil {
		return nil, fmt.Errorf("store code: %w", err)
	}

	if s.requests != nil {
		s.requests.Inc()
	}

	now := s.now().UTC()
	if s.events != nil {
		event := domain.VerificationRequestedEvent{
			ContactMasked: logger.MaskContact(contact.Value),
			ContactType:   contact.Type,
			Purpose:       input.Purpose,
			ActorName:     input.ActorName,
			RequestedAt:   now,
		}
		if err := s.events.PublishVerificationRequested(ctx, event); err != nil {
			s.logger.Warn("publish verification requested event", zap.Error(err))
		}
	}

	return &CodeIssueResult{
		Contact:   contact,
		Purpose:   input.Purpose,
		ActorName: input.ActorName,
		Code:      code,
		ExpiresAt: now.Add(s.codeTTL),
	}, nil
}

// VerifyCode checks a submitted code against the outstanding one and, on
// success, consumes it and issues a bearer credential for the contact.
func (s *VerificationService) VerifyCode(ctx context.Context, contact domain.Contact, code string) (string, error) {
	contact.Value = strings.TrimSpace(contact.Value)
	code = strings.TrimSpace(code)

	switch {
	case contact.Value == "" || !contact.Type.Valid():
		return "", fmt.Errorf("contact is required")
	case code == "":
		return "", ErrCodeInvalid
	}
	if s.codes == nil || s.issuer == nil {
		return "", ErrVerificationUnavailable
	}

	record, err := s.codes.Fetch(ctx, domain.PurposeSelfService, contact.Value)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", ErrCodeInvalid
		}
		return "", fmt.Errorf("fetch code: %w", err)
	}

	now := s.now().UTC()
	if now.After(record.ExpiresAt) {
		_ = s.codes.Delete(ctx, domain.PurposeSelfService, contact.Value)
		return "", ErrCodeExpired
	}
	if record.Attempts >= s.maxAttempts {
		return "", ErrTooManyAttempts
	}

	if !security.CodeMatches(code, record.CodeHash) {
		if _, err := s.codes.IncrementAttempts(ctx, domain.PurposeSelfService, contact.Value); err != nil {
			s.logger.Warn("increment code attempts", zap.Error(err))
		}
		return "", ErrCodeInvalid
	}

	// Single use: the code is consumed before the credential leaves the service.
	if err := s.codes.Delete(ctx, domain.PurposeSelfService, contact.Value); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return "", fmt.Errorf("consume code: %w", err)
	}

	token, err := s.issuer.Issue(contact)
	if err != nil {
		return "", fmt.Errorf("issue credential: %w", err)
	}

	return token, nil
}

func (s *VerificationService) enforceRateLimit(ctx context.Context, purpose domain.VerificationPurpose, contact domain.Contact) error {
	if s.rateLimits == nil || s.cfg == nil {
		return nil
	}

	limit := s.cfg.RateLimit.SendMaxAttempts
	window := s.cfg.RateLimit.WindowDuration
	if limit <= 0 || window <= 0 {
		return nil
	}

	identifier := fmt.Sprintf("%s:%s:%s", sendCodeRateLimitScope, purpose, contact.Value)
	now := s.now().UTC()

	if err := s.rateLimits.TrimWindow(ctx, identifier, window, now); err != nil {
		return fmt.Errorf("trim rate limit window: %w", err)
	}

	count, err := s.rateLimits.CountAttempts(ctx, identifier, window, now)
	if err != nil {
		return fmt.Errorf("count rate limit attempts: %w", err)
	}

	if count >= limit {
		retryAfter := window
		if oldest, ok, err := s.rateLimits.OldestAttempt(ctx, identifier, window, now); err == nil && ok {
			if remaining := oldest.Add(window).Sub(now); remaining > 0 {
				retryAfter = remaining
			}
		}
		return &RateLimitExceededError{Scope: sendCodeRateLimitScope, RetryAfter: retryAfter}
	}

	if err := s.rateLimits.RecordAttempt(ctx, identifier, now); err != nil {
		return fmt.Errorf("record rate limit attempt: %w", err)
	}

	return nil
}
