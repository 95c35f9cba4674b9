package domain

import "time"

// VerificationRequestedEvent is emitted whenever a one-time code is issued.
// The contact value is masked before the event leaves the service.
type VerificationRequestedEvent struct {
	ContactMasked string              `json:"contact"`
	ContactType   ContactType         `json:"contact_type"`
	Purpose       VerificationPurpose `json:"purpose"`
	ActorName     string              `json:"actor_name,omitempty"`
	RequestedAt   time.Time           `json:"requested_at"`
}

// ConsentUpdatedEvent is emitted after a preference set is persisted.
type ConsentUpdatedEvent struct {
	ContactMasked string      `json:"contact"`
	ContactType   ContactType `json:"contact_type"`
	ProgramIDs    []string    `json:"program_ids"`
	OptedInCount  int         `json:"opted_in_count"`
	GlobalOptOut  bool        `json:"global_opt_out"`
	Comment       string      `json:"comment,omitempty"`
	UpdatedAt     time.Time   `json:"updated_at"`
}
