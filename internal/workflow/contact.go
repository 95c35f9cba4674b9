package workflow

import (
	"regexp"
	"strings"
)

// ContactType distinguishes the two channels a contact can be reached on.
type ContactType string

const (
	ContactTypeEmail ContactType = "email"
	ContactTypePhone ContactType = "phone"
)

// Purpose selects which variant of the verification flow a code serves.
type Purpose string

const (
	// PurposeSelfService verifies a contact acting on their own behalf.
	PurposeSelfService Purpose = "self_service"
	// PurposeVerbalAuth notifies a contact of a staff-recorded consent
	// change; the operator never sees or enters the code.
	PurposeVerbalAuth Purpose = "verbal_auth"
)

// Contact is a classified, normalized contact identifier. Transient: it is
// rebuilt from raw input every time and normalization happens before any
// network call.
type Contact struct {
	Value      string
	Type       ContactType
	Normalized string
	Masked     string
}

var (
	rePhoneAllowed = regexp.MustCompile(`^\+?[0-9 .()-]+$`)
	reDigits       = regexp.MustCompile(`[0-9]`)
)

// ResolveContact classifies raw input as an email or phone, normalizes it,
// and precomputes the display mask. A string that is neither yields a
// ValidationError without touching the network.
func ResolveContact(raw string) (Contact, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Contact{}, &ValidationError{Message: "enter a valid email or phone"}
	}

	if strings.Contains(trimmed, "@") {
		contact := Contact{
			Value:      trimmed,
			Type:       ContactTypeEmail,
			Normalized: strings.ToLower(trimmed),
		}
		contact.Masked = Mask(contact.Normalized, ContactTypeEmail)
		return contact, nil
	}

	normalized, ok := normalizePhone(trimmed)
	if !ok {
		return Contact{}, &ValidationError{Message: "enter a valid email or phone"}
	}

	return Contact{
		Value:      trimmed,
		Type:       ContactTypePhone,
		Normalized: normalized,
		Masked:     Mask(normalized, ContactTypePhone),
	}, nil
}

// NormalizePhone converts an accepted phone string to E.164. Idempotent:
// feeding the output back in returns it unchanged.
func NormalizePhone(raw string) (string, error) {
	normalized, ok := normalizePhone(strings.TrimSpace(raw))
	if !ok {
		return "", &ValidationError{Message: "enter a valid email or phone"}
	}
	return normalized, nil
}

func normalizePhone(raw string) (string, bool) {
	if raw == "" || !rePhoneAllowed.MatchString(raw) {
		return "", false
	}

	digits := strings.Join(reDigits.FindAllString(raw, -1), "")
	hasPlus := strings.HasPrefix(raw, "+")

	switch {
	case hasPlus:
		if len(digits) < 8 || len(digits) > 15 {
			return "", false
		}
		return "+" + digits, true
	case len(digits) == 10:
		// Bare national numbers default to the NANP country code.
		return "+1" + digits, true
	case len(digits) == 11 && digits[0] == '1':
		return "+" + digits, true
	default:
		return "", false
	}
}

// Mask obscures a contact value for display. Email keeps the first local
// character and the full domain; phone keeps only the final two digits,
// with non-digit characters passed through verbatim.
func Mask(value string, contactType ContactType) string {
	if value == "" {
		return ""
	}

	if contactType == ContactTypeEmail {
		local, domain, found := strings.Cut(value, "@")
		if !found || local == "" {
			return "***"
		}
		return local[:1] + "***@" + domain
	}

	digitsTotal := len(reDigits.FindAllString(value, -1))
	seen := 0
	var b strings.Builder
	for _, r := range value {
		if r < '0' || r > '9' {
			b.WriteRune(r)
			continue
		}
		seen++
		if digitsTotal-seen < 2 {
			b.WriteRune(r)
		} else {
			b.WriteByte('*')
		}
	}
	return b.String()
}
