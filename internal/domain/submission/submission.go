package submission

import (
	"crypto/rand"
	"reflect"
	"time"
)

// Answers is the open question->value bag of one submission. Keys are form
// question names; the schema lives outside this system.
type Answers map[string]any

type Geolocation struct {
	Lat float64
	Lon float64
}

const AttachmentSourceInternal = "internal"

// Attachment describes one binary tied to a submission. Source tells apart
// files we store ourselves from files still hosted by the survey backend.
type Attachment struct {
	UID              string `json:"uid"`
	Filename         string `json:"filename"`
	Basename         string `json:"media_file_basename"`
	QuestionXPath    string `json:"question_xpath,omitempty"`
	DownloadURL      string `json:"download_url,omitempty"`
	DownloadSmallURL string `json:"download_small_url,omitempty"`
	Source           string `json:"source,omitempty"`
}

// Submission is the canonical local record. OriginID and UUID are set only
// for rows mirrored from the survey backend; a row with an empty OriginID is
// purely local and never takes part in remote mirroring.
type Submission struct {
	ID             string
	FormID         string
	OriginID       string
	UUID           string
	Answers        Answers
	Attachments    []Attachment
	Geolocation    *Geolocation
	Start          time.Time
	End            time.Time
	SubmissionTime time.Time
	Version        string
	ISOCode        string

	ValidationStatus       Validation
	ValidatedBy            string
	LastValidatedTimestamp *int64

	SubmittedBy string
	DeletedAt   *time.Time
	DeletedBy   string
}

func (s Submission) RemoteMirrored() bool { return s.OriginID != "" }

func (s Submission) Deleted() bool { return s.DeletedAt != nil }

const idAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

func randomID(length int) string {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	for i, b := range buf {
		buf[i] = idAlphabet[int(b)%len(idAlphabet)]
	}
	return string(buf)
}

// NewID returns a local submission id. Assigned locally even for rows
// mirrored from the survey backend; never reused, never changed.
func NewID() string { return randomID(10) }

// NewUID returns an attachment/history identifier.
func NewUID() string { return randomID(21) }

// DiffAnswers returns the shallow key-level difference between before and
// after: changed or added keys map to their new value, keys absent from
// after map to nil. An empty diff means the write can be skipped entirely.
func DiffAnswers(before, after Answers) Answers {
	diff := Answers{}
	for key, next := range after {
		prev, ok := before[key]
		if !ok || !reflect.DeepEqual(prev, next) {
			diff[key] = next
		}
	}
	for key := range before {
		if _, ok := after[key]; !ok {
			diff[key] = nil
		}
	}
	return diff
}
