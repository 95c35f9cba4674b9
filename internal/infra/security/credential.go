package security

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	uuid "github.com/google/uuid"

	"github.com/kenjohansen/optin-manager-sub000/internal/core/domain"
)

// ErrCredentialInvalid indicates the presented credential failed verification.
var ErrCredentialInvalid = errors.New("credential: invalid token")

// ErrCredentialExpired indicates the presented credential is past its expiry.
var ErrCredentialExpired = errors.New("credential: token expired")

// CredentialClaims carries the verified contact inside the bearer credential.
type CredentialClaims struct {
	ContactType string `json:"cty"`
	jwt.RegisteredClaims
}

// CredentialIssuer signs and verifies the short-lived bearer credentials
// handed out after a successful code verification. The subject claim is the
// normalized contact value.
type CredentialIssuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewCredentialIssuer constructs a CredentialIssuer with an HMAC secret.
func NewCredentialIssuer(secret, issuer string, ttl time.Duration) (*CredentialIssuer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("credential secret is required")
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}

	return &CredentialIssuer{
		secret: []byte(secret),
		issuer: issuer,
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

// WithClock overrides the internal clock, used in tests.
func (i *CredentialIssuer) WithClock(clock func() time.Time) {
	if clock != nil {
		i.now = clock
	}
}

// Issue creates a signed credential for the verified contact.
func (i *CredentialIssuer) Issue(contact domain.Contact) (string, error) {
	now := i.now().UTC()

	claims := CredentialClaims{
		ContactType: string(contact.Type),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    i.issuer,
			Subject:   contact.Value,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign credential: %w", err)
	}

	return signed, nil
}

// Verify parses a credential and returns the contact it attests to.
func (i *CredentialIssuer) Verify(raw string) (domain.Contact, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return domain.Contact{}, ErrCredentialInvalid
	}

	claims := &CredentialClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return i.secret, nil
	}, jwt.WithTimeFunc(i.now), jwt.WithIssuer(i.issuer))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return domain.Contact{}, ErrCredentialExpired
		}
		return domain.Contact{}, fmt.Errorf("%w: %v", ErrCredentialInvalid, err)
	}
	if !token.Valid {
		return domain.Contact{}, ErrCredentialInvalid
	}

	contactType := domain.ContactType(claims.ContactType)
	if !contactType.Valid() {
		return domain.Contact{}, ErrCredentialInvalid
	}

	return domain.Contact{Value: claims.Subject, Type: contactType}, nil
}
