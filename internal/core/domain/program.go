package domain

import "time"

// ProgramType categorizes the communication channel a program uses.
type ProgramType string

const (
	ProgramTypeEmail ProgramType = "email"
	ProgramTypeSMS   ProgramType = "sms"
)

// ProgramStatus marks whether a program is currently offered to contacts.
type ProgramStatus string

const (
	ProgramStatusActive ProgramStatus = "active"
	ProgramStatusPaused ProgramStatus = "paused"
)

// Program is a named opt-in category a contact may consent to receive
// communications for. The catalog is server-owned and read-only from the
// preference workflow's perspective.
type Program struct {
	ID        string
	Name      string
	Type      ProgramType
	Status    ProgramStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}
