package submission

import "errors"

var (
	ErrUnsafeQuestionKey = errors.New("question key is unsafe for a dynamic answer update")
	ErrInvalidValidation = errors.New("invalid validation status")
	ErrEmptySubmissionIDs = errors.New("at least one submission id is required")
)
