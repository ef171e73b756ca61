package kobo

import (
	"errors"
	"fmt"
	"strings"
	"time"

	domainsubmission "infoportal/internal/domain/submission"
)

// FlattenAnswers strips group paths from answer keys ("section_a/age" ->
// "age"), matching how question names are addressed everywhere else in the
// system. Later groups win on the (rare) duplicate leaf name.
func FlattenAnswers(answers map[string]any) map[string]any {
	flat := make(map[string]any, len(answers))
	for key, value := range answers {
		if idx := strings.LastIndex(key, "/"); idx >= 0 {
			key = key[idx+1:]
		}
		flat[key] = value
	}
	return flat
}

// DecodeValidation resolves the local validation status of a raw record. The
// side-channel answer key wins when present because the native enum cannot
// represent every local status.
func DecodeValidation(status *ValidationStatus, extra any) domainsubmission.Validation {
	if s, ok := extra.(string); ok && s != "" {
		if v, valid := domainsubmission.ParseValidation(s); valid {
			return v
		}
	}
	if status == nil {
		return ""
	}
	switch status.UID {
	case ValidationApproved:
		return domainsubmission.ValidationApproved
	case ValidationNotApproved:
		return domainsubmission.ValidationRejected
	case ValidationOnHold:
		return domainsubmission.ValidationPending
	}
	return ""
}

// EncodeValidation maps a local status to its remote representation. When the
// native enum has no equivalent the returned UID is empty and the extra value
// must be written to the side-channel answer key (with the native status
// reset to no_status).
func EncodeValidation(status domainsubmission.Validation) (uid ValidationUID, extra string) {
	switch status {
	case domainsubmission.ValidationApproved:
		return ValidationApproved, ""
	case domainsubmission.ValidationRejected:
		return ValidationNotApproved, ""
	case domainsubmission.ValidationPending:
		return ValidationOnHold, ""
	default:
		return "", string(status)
	}
}

// MapSubmission converts one raw remote record into the canonical local
// shape. The local id is freshly generated; the remote identity is kept as
// OriginID/UUID. A malformed record is an error: reconciliation aborts
// rather than silently skipping records.
func MapSubmission(formID string, raw Submission) (domainsubmission.Submission, error) {
	if raw.ID == 0 {
		return domainsubmission.Submission{}, errors.New("raw submission has no _id")
	}
	if raw.UUID == "" {
		return domainsubmission.Submission{}, fmt.Errorf("raw submission %d has no _uuid", raw.ID)
	}
	if raw.SubmissionTime.IsZero() {
		return domainsubmission.Submission{}, fmt.Errorf("raw submission %d has no _submission_time", raw.ID)
	}

	answers := FlattenAnswers(raw.Answers)

	extra := answers[ExtraStatusKey]
	delete(answers, ExtraStatusKey)

	// Some forms carry an explicit "date" answer that is more meaningful
	// than the technical submission clock.
	date := raw.SubmissionTime
	if parsed, ok := parseAnswerDate(answers["date"]); ok {
		date = parsed
	}
	start := date
	if raw.Start != nil {
		start = *raw.Start
	}
	end := date
	if raw.End != nil {
		end = *raw.End
	}

	var geolocation *domainsubmission.Geolocation
	if len(raw.Geolocation) >= 2 && raw.Geolocation[0] != nil && raw.Geolocation[1] != nil {
		geolocation = &domainsubmission.Geolocation{
			Lat: *raw.Geolocation[0],
			Lon: *raw.Geolocation[1],
		}
	}

	attachments := make([]domainsubmission.Attachment, 0, len(raw.Attachments))
	for _, att := range raw.Attachments {
		attachments = append(attachments, domainsubmission.Attachment{
			UID:              att.UID,
			QuestionXPath:    att.QuestionXPath,
			Filename:         att.Filename,
			Basename:         att.Basename,
			DownloadURL:      att.DownloadURL,
			DownloadSmallURL: att.DownloadSmallURL,
		})
	}

	var lastValidated *int64
	if raw.ValidationStatus != nil {
		ts := raw.ValidationStatus.Timestamp
		lastValidated = &ts
	}

	return domainsubmission.Submission{
		ID:                     domainsubmission.NewID(),
		FormID:                 formID,
		OriginID:               raw.OriginID(),
		UUID:                   raw.UUID,
		Answers:                answers,
		Attachments:            attachments,
		Geolocation:            geolocation,
		Start:                  start,
		End:                    end,
		SubmissionTime:         raw.SubmissionTime,
		Version:                raw.Version,
		SubmittedBy:            raw.SubmittedBy,
		ValidationStatus:       DecodeValidation(raw.ValidationStatus, extra),
		LastValidatedTimestamp: lastValidated,
	}, nil
}

func parseAnswerDate(value any) (time.Time, bool) {
	switch v := value.(type) {
	case string:
		if v == "" {
			return time.Time{}, false
		}
		if t, err := time.Parse("2006-01-02", v); err == nil {
			return t, true
		}
		if t, err := parseTime(v); err == nil {
			return t, true
		}
	case float64:
		// Epoch milliseconds.
		return time.UnixMilli(int64(v)).UTC(), true
	}
	return time.Time{}, false
}
