package ports

import (
	"context"
	"errors"
	"time"

	domainsubmission "infoportal/internal/domain/submission"
)

var (
	ErrSubmissionNotFound = errors.New("submission not found")
	ErrFormNotFound       = errors.New("form not found")
	ErrFormNotLinked      = errors.New("form is not connected to a kobo form")
)

// QuestionFilter matches submissions whose answer for Question contains one
// of Values. An empty-string value matches submissions missing the answer.
type QuestionFilter struct {
	Question string
	Values   []string
}

type SubmissionSearch struct {
	FormID  string
	Start   *time.Time
	End     *time.Time
	Filters []QuestionFilter
	Limit   int
	Offset  int
}

type SubmissionPage struct {
	Items []domainsubmission.Submission
	Total int64
}

// SyncRef is the per-row slice of local state the reconciliation diff needs:
// the remote content generation (UUID) and the remote validation clock.
type SyncRef struct {
	UUID                   string
	LastValidatedTimestamp *int64
}

// SubmissionRepository owns the authoritative local record set. Soft-deleted
// rows are excluded from every read surface; the rows themselves stay to
// keep reconciliation idempotent. Implementations honor a transaction
// stashed in context via WithTxContext and chunk bulk id lists below the
// backend's bound-parameter ceiling.
type SubmissionRepository interface {
	Search(ctx context.Context, params SubmissionSearch) (SubmissionPage, error)
	Get(ctx context.Context, submissionID string) (domainsubmission.Submission, error)
	Create(ctx context.Context, sub domainsubmission.Submission) error
	// CreateMany bulk-inserts; with skipDuplicates an insert racing an
	// existing (formId, originId) pair is silently ignored. Returns the
	// number of rows actually inserted.
	CreateMany(ctx context.Context, subs []domainsubmission.Submission, skipDuplicates bool) (int64, error)

	UpdateAnswers(ctx context.Context, submissionID string, answers domainsubmission.Answers) error
	// BulkSetAnswer sets one question's value across many rows via a
	// key-level JSON update. The question key must pass CheckQuestionKey.
	BulkSetAnswer(ctx context.Context, formID string, submissionIDs []string, question string, value any) error
	// BulkRemoveAnswer deletes the key from the answer bag (the key ends up
	// absent, not null).
	BulkRemoveAnswer(ctx context.Context, formID string, submissionIDs []string, question string) error
	BulkUpdateValidation(ctx context.Context, formID string, submissionIDs []string, status domainsubmission.Validation, end time.Time) error
	SoftDelete(ctx context.Context, formID string, submissionIDs []string, by string, at time.Time) error

	// Reconciliation surface, keyed by remote origin id.
	SyncIndex(ctx context.Context, formID string) (map[string]SyncRef, error)
	SoftDeleteByOriginIDs(ctx context.Context, formID string, originIDs []string, by string, at time.Time) error
	UpdateContentByOriginID(ctx context.Context, formID string, sub domainsubmission.Submission) error
	UpdateValidationByOriginID(ctx context.Context, formID string, originID string, status domainsubmission.Validation, lastValidated *int64) error

	// OriginIDs translates local ids to remote origin ids, dropping purely
	// local rows (no origin id).
	OriginIDs(ctx context.Context, submissionIDs []string) ([]string, error)
}
