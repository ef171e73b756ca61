package submission

import "time"

// HistoryType classifies a change-history entry.
type HistoryType string

const (
	HistoryAnswer     HistoryType = "answer"
	HistoryValidation HistoryType = "validation"
	HistoryDelete     HistoryType = "delete"
)

// HistoryEntry is one immutable audit record. A bulk mutation produces a
// single entry covering every touched submission id. Entries are appended,
// never updated or removed.
type HistoryEntry struct {
	ID            string
	FormID        string
	SubmissionIDs []string
	Type          HistoryType
	Property      string
	OldValue      any
	NewValue      any
	By            string
	Date          time.Time
}
