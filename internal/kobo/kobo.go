// Package kobo is the protocol adapter for the KoboToolbox submission API.
// It exposes wire types and a thin request/response client; retry and
// concurrency control belong to callers.
package kobo

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Native validation status identifiers of the survey backend.
type ValidationUID string

const (
	ValidationApproved    ValidationUID = "validation_status_approved"
	ValidationNotApproved ValidationUID = "validation_status_not_approved"
	ValidationOnHold      ValidationUID = "validation_status_on_hold"
	ValidationNoStatus    ValidationUID = "no_status"
)

// ExtraStatusKey is the answer-bag side channel used when the native
// validation enum cannot represent a local status. When a native status
// suffices the key is cleared remotely.
const ExtraStatusKey = "_IP_VALIDATION_STATUS_EXTRA"

type ValidationStatus struct {
	UID       ValidationUID `json:"uid"`
	ByWhom    string        `json:"by_whom"`
	Timestamp int64         `json:"timestamp"`
}

type Attachment struct {
	UID              string `json:"uid"`
	QuestionXPath    string `json:"question_xpath"`
	Filename         string `json:"filename"`
	Basename         string `json:"media_file_basename"`
	DownloadURL      string `json:"download_url"`
	DownloadSmallURL string `json:"download_small_url"`
}

// Submission is one raw record as returned by the data endpoint. Meta fields
// are split off during decoding; everything else lands in Answers keyed by
// question path.
type Submission struct {
	ID               int64
	UUID             string
	FormhubUUID      string
	InstanceID       string
	XFormID          string
	Start            *time.Time
	End              *time.Time
	SubmissionTime   time.Time
	Version          string
	Status           string
	SubmittedBy      string
	Geolocation      []*float64
	Attachments      []Attachment
	ValidationStatus *ValidationStatus
	Answers          map[string]any
}

// OriginID is the remote identity stored locally as a foreign reference.
func (s Submission) OriginID() string { return strconv.FormatInt(s.ID, 10) }

var submissionTimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

func parseTime(raw string) (time.Time, error) {
	for _, layout := range submissionTimeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", raw)
}

func (s *Submission) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	take := func(key string, dst any) error {
		raw, ok := fields[key]
		if !ok || string(raw) == "null" {
			delete(fields, key)
			return nil
		}
		delete(fields, key)
		if err := json.Unmarshal(raw, dst); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		return nil
	}

	if err := take("_id", &s.ID); err != nil {
		return err
	}
	if err := take("_uuid", &s.UUID); err != nil {
		return err
	}
	if err := take("formhub/uuid", &s.FormhubUUID); err != nil {
		return err
	}
	if err := take("meta/instanceID", &s.InstanceID); err != nil {
		return err
	}
	if err := take("_xform_id_string", &s.XFormID); err != nil {
		return err
	}
	if err := take("__version__", &s.Version); err != nil {
		return err
	}
	if err := take("_status", &s.Status); err != nil {
		return err
	}
	if err := take("_submitted_by", &s.SubmittedBy); err != nil {
		return err
	}
	if err := take("_geolocation", &s.Geolocation); err != nil {
		return err
	}
	if err := take("_attachments", &s.Attachments); err != nil {
		return err
	}
	if err := take("_validation_status", &s.ValidationStatus); err != nil {
		return err
	}
	// An empty validation object means "never validated".
	if s.ValidationStatus != nil && s.ValidationStatus.UID == "" {
		s.ValidationStatus = nil
	}
	delete(fields, "_tags")
	delete(fields, "_notes")
	delete(fields, "meta/rootUuid")
	delete(fields, "meta/deprecatedID")

	var submissionTime string
	if err := take("_submission_time", &submissionTime); err != nil {
		return err
	}
	if submissionTime != "" {
		t, err := parseTime(submissionTime)
		if err != nil {
			return fmt.Errorf("decode _submission_time: %w", err)
		}
		s.SubmissionTime = t
	}

	for _, field := range []struct {
		key string
		dst **time.Time
	}{{"start", &s.Start}, {"end", &s.End}} {
		var raw string
		if err := take(field.key, &raw); err != nil {
			return err
		}
		if raw == "" {
			continue
		}
		t, err := parseTime(raw)
		if err != nil {
			return fmt.Errorf("decode %s: %w", field.key, err)
		}
		*field.dst = &t
	}

	s.Answers = make(map[string]any, len(fields))
	for key, raw := range fields {
		var value any
		if err := json.Unmarshal(raw, &value); err != nil {
			return fmt.Errorf("decode answer %s: %w", key, err)
		}
		s.Answers[key] = value
	}
	return nil
}
