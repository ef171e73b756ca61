package model

import "time"

// FormSubmission rows are never physically deleted while remote-sourced:
// deleted_at marks them out of every read surface instead, which keeps
// reconciliation idempotent and blocks resurrection races.
type FormSubmission struct {
	ID                     string     `gorm:"column:id;type:text;primaryKey"`
	FormID                 string     `gorm:"column:form_id;type:text;not null;index:idx_submissions_form;uniqueIndex:uniq_submissions_form_origin"`
	OriginID               *string    `gorm:"column:origin_id;type:text;uniqueIndex:uniq_submissions_form_origin"`
	UUID                   string     `gorm:"column:uuid;type:text;not null"`
	Answers                string     `gorm:"column:answers;type:text;not null"`
	Attachments            string     `gorm:"column:attachments;type:text;not null"`
	Geolocation            *string    `gorm:"column:geolocation;type:text"`
	Start                  time.Time  `gorm:"column:start;not null"`
	End                    time.Time  `gorm:"column:end;not null"`
	SubmissionTime         time.Time  `gorm:"column:submission_time;not null;index"`
	Version                *string    `gorm:"column:version;type:text"`
	ISOCode                *string    `gorm:"column:iso_code;type:text"`
	ValidationStatus       *string    `gorm:"column:validation_status;type:text"`
	ValidatedBy            *string    `gorm:"column:validated_by;type:text"`
	LastValidatedTimestamp *int64     `gorm:"column:last_validated_timestamp"`
	SubmittedBy            *string    `gorm:"column:submitted_by;type:text"`
	DeletedAt              *time.Time `gorm:"column:deleted_at;index"`
	DeletedBy              *string    `gorm:"column:deleted_by;type:text"`
}

func (FormSubmission) TableName() string {
	return "form_submissions"
}
