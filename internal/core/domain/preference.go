package domain

import "time"

// PreferenceRecord captures one contact's consent state for one program.
type PreferenceRecord struct {
	ProgramID   string
	ProgramName string
	ProgramType ProgramType
	OptedIn     bool
	LastUpdated time.Time
}

// PreferenceSet is the full collection of per-program consent states for a
// contact plus the most recent free-text comment recorded with a change.
type PreferenceSet struct {
	Contact     Contact
	Programs    []PreferenceRecord
	LastComment string
}

// AllOptedOut reports whether every record in the set declines contact.
func (s PreferenceSet) AllOptedOut() bool {
	for _, rec := range s.Programs {
		if rec.OptedIn {
			return false
		}
	}
	return true
}
