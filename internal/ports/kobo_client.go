package ports

import (
	"context"

	"infoportal/internal/kobo"
)

// KoboClient is the remote survey backend boundary. Pure protocol adapter:
// retry and concurrency limits are the caller's responsibility.
type KoboClient interface {
	FetchAll(ctx context.Context, formID string) ([]kobo.Submission, error)
	GetForm(ctx context.Context, formID string) (kobo.FormInfo, error)
	UpdateFields(ctx context.Context, formID string, submissionIDs []string, fields map[string]any) error
	UpdateValidation(ctx context.Context, formID string, submissionIDs []string, status kobo.ValidationUID) error
	Delete(ctx context.Context, formID string, submissionIDs []string) error
}

// KoboResolver resolves the client for one configured account.
type KoboResolver func(account string) (KoboClient, error)
