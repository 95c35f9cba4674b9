package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	red "github.com/redis/go-redis/v9"

	"github.com/kenjohansen/optin-manager-sub000/internal/core/domain"
	"github.com/kenjohansen/optin-manager-sub000/internal/core/port"
	"github.com/kenjohansen/optin-manager-sub000/internal/repository"
)

const (
	defaultCodePrefix = "optin:code"

	fieldCodeHash  = "code_hash"
	fieldCreatedAt = "created_at"
	fieldExpiresAt = "expires_at"
	fieldAttempts  = "attempts"
)

// CodeStore persists hashed verification codes in Redis. A key holds at most
// one outstanding code per (purpose, contact); Store overwrites, which is how
// a resend supersedes the previous code.
type CodeStore struct {
	client *red.Client
	prefix string
	now    func() time.Time
}

// NewCodeStore constructs a code store with the provided Redis client and key prefix.
func NewCodeStore(client *red.Client, keyPrefix string) *CodeStore {
	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = defaultCodePrefix
	}

	return &CodeStore{
		client: client,
		prefix: prefix,
		now:    time.Now,
	}
}

// Store persists a hashed code with the supplied TTL, replacing any
// outstanding code for the same purpose and contact.
func (s *CodeStore) Store(ctx context.Context, purpose domain.VerificationPurpose, contact, codeHash string, ttl time.Duration) (*port.CodeRecord, error) {
	contact = strings.TrimSpace(contact)
	codeHash = strings.TrimSpace(codeHash)

	switch {
	case !purpose.Valid():
		return nil, errors.New("purpose is required")
	case contact == "":
		return nil, errors.New("contact is required")
	case codeHash == "":
		return nil, errors.New("code hash is required")
	case ttl <= 0:
		return nil, errors.New("ttl must be positive")
	}

	now := s.now().UTC()
	expiresAt := now.Add(ttl)
	key := s.key(purpose, contact)

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, map[string]any{
		fieldCodeHash:  codeHash,
		fieldCreatedAt: strconv.FormatInt(now.Unix(), 10),
		fieldExpiresAt: strconv.FormatInt(expiresAt.Unix(), 10),
		fieldAttempts:  "0",
	})
	pipe.Expire(ctx, key, ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis store code: %w", err)
	}

	return &port.CodeRecord{
		Purpose:   purpose,
		Contact:   contact,
		CodeHash:  codeHash,
		Attempts:  0,
		CreatedAt: now,
		ExpiresAt: expiresAt,
	}, nil
}

// Fetch retrieves the outstanding code record for the purpose and contact.
func (s *CodeStore) Fetch(ctx context.Context, purpose domain.VerificationPurpose, contact string) (*port.CodeRecord, error) {
	contact = strings.TrimSpace(contact)
	if !purpose.Valid() || contact == "" {
		return nil, errors.New("purpose and contact are required")
	}

	values, err := s.client.HGetAll(ctx, s.key(purpose, contact)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall code: %w", err)
	}
	if len(values) == 0 {
		return nil, repository.ErrNotFound
	}

	codeHash := strings.TrimSpace(values[fieldCodeHash])
	if codeHash == "" {
		return nil, repository.ErrNotFound
	}

	createdAt, err := parseUnix(values[fieldCreatedAt])
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}

	expiresAt, err := parseUnix(values[fieldExpiresAt])
	if err != nil {
		return nil, fmt.Errorf("parse expires_at: %w", err)
	}

	attempts := 0
	if raw := values[fieldAttempts]; raw != "" {
		if v, convErr := strconv.Atoi(raw); convErr == nil {
			attempts = v
		}
	}

	return &port.CodeRecord{
		Purpose:   purpose,
		Contact:   contact,
		CodeHash:  codeHash,
		Attempts:  attempts,
		CreatedAt: createdAt,
		ExpiresAt: expiresAt,
	}, nil
}

// IncrementAttempts bumps the failed-attempt counter and returns the new value.
func (s *CodeStore) IncrementAttempts(ctx context.Context, purpose domain.VerificationPurpose, contact string) (int, error) {
	if _, err := s.Fetch(ctx, purpose, contact); err != nil {
		return 0, err
	}

	count, err := s.client.HIncrBy(ctx, s.key(purpose, strings.TrimSpace(contact)), fieldAttempts, 1).Result()
	if err != nil {
		return 0, fmt.Errorf("redis hincrby code attempts: %w", err)
	}

	return int(count), nil
}

// Delete removes the code entry, enforcing single-use semantics.
func (s *CodeStore) Delete(ctx context.Context, purpose domain.VerificationPurpose, contact string) error {
	contact = strings.TrimSpace(contact)
	if !purpose.Valid() || contact == "" {
		return errors.New("purpose and contact are required")
	}

	deleted, err := s.client.Del(ctx, s.key(purpose, contact)).Result()
	if err != nil {
		return fmt.Errorf("redis delete code: %w", err)
	}
	if deleted == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// WithClock overrides the internal clock, used in tests.
func (s *CodeStore) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

func (s *CodeStore) key(purpose domain.VerificationPurpose, contact string) string {
	return fmt.Sprintf("%s:%s:%s", s.prefix, purpose, contact)
}

func parseUnix(raw string) (time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return time.Time{}, errors.New("timestamp is empty")
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(v, 0).UTC(), nil
}
