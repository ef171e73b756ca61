package ports

import (
	"context"
	"time"
)

type Form struct {
	ID               string
	WorkspaceID      string
	Name             string
	DeploymentStatus string
	UpdatedAt        *time.Time
	UpdatedBy        string
}

// KoboLink binds a local form to a remote form on one configured account.
// A form is remote-bound iff a link row exists.
type KoboLink struct {
	FormID     string
	Account    string
	KoboFormID string
	EnketoURL  string
}

type FormRepository interface {
	Get(ctx context.Context, formID string) (Form, error)
	// ActiveVersion returns the active form version tag, or "" when none.
	ActiveVersion(ctx context.Context, formID string) (string, error)

	// KoboLink returns ErrFormNotLinked when the form has no remote binding.
	KoboLink(ctx context.Context, formID string) (KoboLink, error)
	LinkedForms(ctx context.Context) ([]KoboLink, error)
	// LinksByKoboID resolves webhook pushes: several local forms may bind
	// the same remote form.
	LinksByKoboID(ctx context.Context, koboFormID string) ([]KoboLink, error)

	// TouchSynced advances the last-synchronized marker. Reconciliation
	// only calls this after a fully successful run.
	TouchSynced(ctx context.Context, formID string, by string, at time.Time) error
	UpdateFormInfo(ctx context.Context, formID string, name string, deploymentStatus string) error
	UpdateLinkEnketoURL(ctx context.Context, koboFormID string, enketoURL string) error
}
