package submission

import (
	"context"
	"log/slog"
	"time"

	"infoportal/internal/bootstrap/logging"
	domainsubmission "infoportal/internal/domain/submission"
	"infoportal/internal/ports"
)

// AttachmentService stores and resolves submission binaries. Attachment
// removal never fails a caller; file retention is deliberate for
// soft-deleted submissions.
type AttachmentService struct {
	storage ports.FileStorage
	signTTL time.Duration
}

func NewAttachmentService(storage ports.FileStorage, signTTL time.Duration) *AttachmentService {
	if signTTL <= 0 {
		signTTL = 5 * time.Minute
	}
	return &AttachmentService{storage: storage, signTTL: signTTL}
}

func attachmentPath(formID, submissionID, filename string) string {
	return formID + "/submission/" + submissionID + "/" + filename
}

// Save uploads one file and returns its descriptor. question ties the file
// back to the form question it answers; empty is allowed.
func (s *AttachmentService) Save(ctx context.Context, formID, submissionID, filename, question string, data []byte) (domainsubmission.Attachment, error) {
	path := attachmentPath(formID, submissionID, filename)
	if err := s.storage.Upload(ctx, path, data); err != nil {
		return domainsubmission.Attachment{}, err
	}

	return domainsubmission.Attachment{
		UID:           domainsubmission.NewUID(),
		QuestionXPath: question,
		Filename:      path,
		Basename:      filename,
		DownloadURL:   s.storage.URL(path),
		Source:        domainsubmission.AttachmentSourceInternal,
	}, nil
}

// URLFor resolves a read URL. Internally stored files get a short-lived
// signed URL; remote-sourced files keep the survey backend's download URL.
func (s *AttachmentService) URLFor(att domainsubmission.Attachment) (string, error) {
	if att.Source == domainsubmission.AttachmentSourceInternal {
		return s.storage.SignedURL(att.Filename, s.signTTL)
	}
	return att.DownloadURL, nil
}

func (s *AttachmentService) Open(ctx context.Context, path string) ([]byte, error) {
	return s.storage.Get(ctx, path)
}

func (s *AttachmentService) VerifySignedToken(token string) (string, error) {
	return s.storage.VerifySignedToken(token)
}

// RemoveForSubmission keeps the files. Soft-deleted submissions may be
// audited later and their binaries are part of that record.
func (s *AttachmentService) RemoveForSubmission(ctx context.Context, formID, submissionID string) {
	logging.Debug(ctx, "attachment files retained for removed submission",
		slog.String("form_id", formID), slog.String("submission_id", submissionID))
}

// RemoveForForm drops every file under the form prefix. Best effort.
func (s *AttachmentService) RemoveForForm(ctx context.Context, formID string) {
	if err := s.storage.Remove(ctx, formID+"/"); err != nil {
		logging.Warn(ctx, "remove form attachments failed",
			slog.String("form_id", formID), slog.Any("error", err))
	}
}
