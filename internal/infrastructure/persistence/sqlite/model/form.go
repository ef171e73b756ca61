package model

import "time"

type Form struct {
	ID               string     `gorm:"column:id;type:text;primaryKey"`
	WorkspaceID      string     `gorm:"column:workspace_id;type:text;not null;index"`
	Name             string     `gorm:"column:name;type:text;not null"`
	DeploymentStatus *string    `gorm:"column:deployment_status;type:text"`
	UpdatedAt        *time.Time `gorm:"column:updated_at"`
	UpdatedBy        *string    `gorm:"column:updated_by;type:text"`
}

func (Form) TableName() string {
	return "forms"
}

type FormVersion struct {
	FormID  string `gorm:"column:form_id;type:text;primaryKey"`
	Version int    `gorm:"column:version;primaryKey"`
	Status  string `gorm:"column:status;type:text;not null"`
}

func (FormVersion) TableName() string {
	return "form_versions"
}

// FormKoboLink is the remote binding of one form. A form without a link row
// is purely local and never reconciled or mirrored.
type FormKoboLink struct {
	FormID     string  `gorm:"column:form_id;type:text;primaryKey"`
	Account    string  `gorm:"column:account;type:text;not null"`
	KoboFormID string  `gorm:"column:kobo_form_id;type:text;not null;index"`
	EnketoURL  *string `gorm:"column:enketo_url;type:text"`
}

func (FormKoboLink) TableName() string {
	return "form_kobo_links"
}
