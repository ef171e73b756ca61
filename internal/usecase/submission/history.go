package submission

import (
	"context"
	"time"

	domainsubmission "infoportal/internal/domain/submission"
	"infoportal/internal/ports"
)

// HistoryService writes and reads the append-only change log. One entry per
// mutation, covering every touched submission id.
type HistoryService struct {
	repo ports.HistoryRepository
}

func NewHistoryService(repo ports.HistoryRepository) *HistoryService {
	return &HistoryService{repo: repo}
}

func (s *HistoryService) Record(
	ctx context.Context,
	entryType domainsubmission.HistoryType,
	formID string,
	submissionIDs []string,
	property string,
	oldValue any,
	newValue any,
	by string,
) error {
	return s.repo.Append(ctx, domainsubmission.HistoryEntry{
		ID:            domainsubmission.NewUID(),
		FormID:        formID,
		SubmissionIDs: submissionIDs,
		Type:          entryType,
		Property:      property,
		OldValue:      oldValue,
		NewValue:      newValue,
		By:            by,
		Date:          time.Now().UTC(),
	})
}

func (s *HistoryService) Search(ctx context.Context, params ports.HistorySearch) (ports.HistoryPage, error) {
	return s.repo.Search(ctx, params)
}
