package domain

// ContactType distinguishes the two channels a contact can be reached on.
type ContactType string

const (
	ContactTypeEmail ContactType = "email"
	ContactTypePhone ContactType = "phone"
)

// Valid reports whether the contact type is one of the supported channels.
func (t ContactType) Valid() bool {
	return t == ContactTypeEmail || t == ContactTypePhone
}

// Contact identifies a person outside the system by a normalized email or phone value.
type Contact struct {
	Value string
	Type  ContactType
}

// VerificationPurpose describes why a one-time code is being issued.
type VerificationPurpose string

const (
	// PurposeSelfService covers a contact verifying themselves to manage preferences.
	PurposeSelfService VerificationPurpose = "self_service"
	// PurposeVerbalAuth covers a staff-recorded consent; the dispatched message
	// notifies the contact rather than gating a manual code-entry step.
	PurposeVerbalAuth VerificationPurpose = "verbal_auth"
)

// Valid reports whether the purpose is one the service issues codes for.
func (p VerificationPurpose) Valid() bool {
	return p == PurposeSelfService || p == PurposeVerbalAuth
}
