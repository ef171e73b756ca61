package model

import "time"

// FormSubmissionHistory is append-only; there are no update or delete paths.
type FormSubmissionHistory struct {
	ID            string    `gorm:"column:id;type:text;primaryKey"`
	FormID        string    `gorm:"column:form_id;type:text;not null;index:idx_histories_form"`
	SubmissionIDs string    `gorm:"column:submission_ids;type:text;not null"`
	Type          string    `gorm:"column:type;type:text;not null"`
	Property      *string   `gorm:"column:property;type:text"`
	OldValue      *string   `gorm:"column:old_value;type:text"`
	NewValue      *string   `gorm:"column:new_value;type:text"`
	By            string    `gorm:"column:by;type:text;not null"`
	Date          time.Time `gorm:"column:date;not null"`
}

func (FormSubmissionHistory) TableName() string {
	return "form_submission_histories"
}
