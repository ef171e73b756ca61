package ports

import "context"

// Event subjects emitted by this core. Fire-and-forget: no ordering or
// acknowledgement guarantees.
const (
	EventSubmissionCreated          = "submission.created"
	EventSubmissionEdited           = "submission.edited"
	EventSubmissionValidationEdited = "submission.validation_edited"
	EventSubmissionRemoved          = "submission.removed"
	EventFormSynced                 = "form.synced"
)

type SubmissionCreatedEvent struct {
	FormID       string `json:"formId"`
	SubmissionID string `json:"submissionId"`
}

type SubmissionEditedEvent struct {
	FormID        string   `json:"formId"`
	SubmissionIDs []string `json:"submissionIds"`
	Question      string   `json:"question"`
	Answer        any      `json:"answer"`
}

type SubmissionValidationEditedEvent struct {
	FormID        string   `json:"formId"`
	SubmissionIDs []string `json:"submissionIds"`
	Status        string   `json:"status"`
}

type SubmissionRemovedEvent struct {
	FormID        string   `json:"formId"`
	SubmissionIDs []string `json:"submissionIds"`
}

type FormSyncedEvent struct {
	FormID            string `json:"formId"`
	Created           int    `json:"created"`
	Updated           int    `json:"updated"`
	Deleted           int    `json:"deleted"`
	ValidationUpdated int    `json:"validationUpdated"`
}

// EventBus decouples mutation paths from their observers. Emit never fails
// the calling operation; adapter errors are logged and dropped.
type EventBus interface {
	Emit(ctx context.Context, subject string, payload any)
	Subscribe(subject string, fn func(subject string, data []byte)) (unsubscribe func(), err error)
}
