package ports

import (
	"context"

	domainsubmission "infoportal/internal/domain/submission"
)

type HistorySearch struct {
	FormID string
	Limit  int
	Offset int
}

type HistoryPage struct {
	Items []domainsubmission.HistoryEntry
	Total int64
}

// HistoryRepository is append-only: entries are created, never updated or
// deleted.
type HistoryRepository interface {
	Append(ctx context.Context, entry domainsubmission.HistoryEntry) error
	Search(ctx context.Context, params HistorySearch) (HistoryPage, error)
}
