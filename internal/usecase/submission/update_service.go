package submission

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"infoportal/internal/bootstrap/logging"
	domainsubmission "infoportal/internal/domain/submission"
	"infoportal/internal/errs"
	"infoportal/internal/kobo"
	"infoportal/internal/ports"
)

// UpdateService mutates existing submissions. Every mutation commits locally
// first (row writes and the history entry in one transaction), then mirrors
// to the survey backend best-effort: mirror failures are logged and
// swallowed, never surfaced to the caller. Purely local rows are skipped
// during mirroring.
type UpdateService struct {
	repo        ports.SubmissionRepository
	forms       ports.FormRepository
	history     *HistoryService
	uow         ports.UnitOfWork
	cache       ports.Cache
	bus         ports.EventBus
	attachments *AttachmentService
	resolve     ports.KoboResolver

	sem     *semaphore.Weighted
	retries int
	backoff time.Duration
}

func NewUpdateService(
	repo ports.SubmissionRepository,
	forms ports.FormRepository,
	history *HistoryService,
	uow ports.UnitOfWork,
	cache ports.Cache,
	bus ports.EventBus,
	attachments *AttachmentService,
	resolve ports.KoboResolver,
	parallelism int,
	retries int,
	backoff time.Duration,
) *UpdateService {
	if parallelism < 1 {
		parallelism = 4
	}
	if retries < 1 {
		retries = 3
	}
	if backoff <= 0 {
		backoff = 200 * time.Millisecond
	}
	return &UpdateService{
		repo:        repo,
		forms:       forms,
		history:     history,
		uow:         uow,
		cache:       cache,
		bus:         bus,
		attachments: attachments,
		resolve:     resolve,
		sem:         semaphore.NewWeighted(int64(parallelism)),
		retries:     retries,
		backoff:     backoff,
	}
}

// UpdateSingle replaces one submission's answer bag. A no-op diff skips the
// write, the history entry and the mirror entirely.
func (s *UpdateService) UpdateSingle(ctx context.Context, actor, submissionID string, answers domainsubmission.Answers) (domainsubmission.Submission, error) {
	existing, err := s.repo.Get(ctx, submissionID)
	if err != nil {
		if errors.Is(err, ports.ErrSubmissionNotFound) {
			return domainsubmission.Submission{}, errs.NotFound("submission %s not found", submissionID)
		}
		return domainsubmission.Submission{}, err
	}

	diff := domainsubmission.DiffAnswers(existing.Answers, answers)
	if len(diff) == 0 {
		return existing, nil
	}

	// One history entry and one edited event per changed key.
	err = s.uow.WithTx(ctx, func(ctx context.Context) error {
		for key, next := range diff {
			if err := s.history.Record(ctx, domainsubmission.HistoryAnswer, existing.FormID,
				[]string{submissionID}, key, existing.Answers[key], next, actor); err != nil {
				return err
			}
		}
		return s.repo.UpdateAnswers(ctx, submissionID, answers)
	})
	if err != nil {
		return domainsubmission.Submission{}, err
	}

	s.invalidate(ctx, existing.FormID)
	for key, next := range diff {
		s.bus.Emit(ctx, ports.EventSubmissionEdited, ports.SubmissionEditedEvent{
			FormID:        existing.FormID,
			SubmissionIDs: []string{submissionID},
			Question:      key,
			Answer:        next,
		})
	}

	// The full new answer set goes remote, not the diff: the backend replaces
	// field values and keys absent from the payload stay untouched there.
	s.mirror(ctx, "update answers", existing.FormID, []string{submissionID},
		func(ctx context.Context, client ports.KoboClient, link ports.KoboLink, originIDs []string) error {
			return client.UpdateFields(ctx, link.KoboFormID, originIDs, answers)
		})

	existing.Answers = answers
	return existing, nil
}

// BulkUpdateQuestion sets one question across many submissions. A nil or
// empty value removes the key locally and blanks it remotely.
func (s *UpdateService) BulkUpdateQuestion(ctx context.Context, actor, formID string, submissionIDs []string, question string, value any) error {
	if len(submissionIDs) == 0 {
		return errs.BadRequest("at least one submission id is required")
	}
	if err := domainsubmission.CheckQuestionKey(question); err != nil {
		return errs.BadRequest("question key %q is not updatable", question)
	}

	removal := isEmptyAnswer(value)

	err := s.uow.WithTx(ctx, func(ctx context.Context) error {
		if err := s.history.Record(ctx, domainsubmission.HistoryAnswer, formID,
			submissionIDs, question, nil, value, actor); err != nil {
			return err
		}
		if removal {
			return s.repo.BulkRemoveAnswer(ctx, formID, submissionIDs, question)
		}
		return s.repo.BulkSetAnswer(ctx, formID, submissionIDs, question, value)
	})
	if err != nil {
		return err
	}

	s.invalidate(ctx, formID)
	s.bus.Emit(ctx, ports.EventSubmissionEdited, ports.SubmissionEditedEvent{
		FormID:        formID,
		SubmissionIDs: submissionIDs,
		Question:      question,
		Answer:        value,
	})

	s.mirror(ctx, "update question", formID, submissionIDs,
		func(ctx context.Context, client ports.KoboClient, link ports.KoboLink, originIDs []string) error {
			remoteValue := value
			if removal {
				remoteValue = ""
			}
			return client.UpdateFields(ctx, link.KoboFormID, originIDs, map[string]any{question: remoteValue})
		})
	return nil
}

// BulkUpdateValidation sets the review status across many submissions. When
// the remote enum has no equivalent, the literal local status goes to the
// side-channel answer key and the native status is reset; a native status
// clears the side channel instead.
func (s *UpdateService) BulkUpdateValidation(ctx context.Context, actor, formID string, submissionIDs []string, status domainsubmission.Validation) error {
	if len(submissionIDs) == 0 {
		return errs.BadRequest("at least one submission id is required")
	}
	if !status.Valid() {
		return errs.BadRequest("unknown validation status %q", status)
	}

	now := time.Now().UTC()
	err := s.uow.WithTx(ctx, func(ctx context.Context) error {
		if err := s.history.Record(ctx, domainsubmission.HistoryValidation, formID,
			submissionIDs, "validationStatus", nil, string(status), actor); err != nil {
			return err
		}
		return s.repo.BulkUpdateValidation(ctx, formID, submissionIDs, status, now)
	})
	if err != nil {
		return err
	}

	s.invalidate(ctx, formID)
	s.bus.Emit(ctx, ports.EventSubmissionValidationEdited, ports.SubmissionValidationEditedEvent{
		FormID:        formID,
		SubmissionIDs: submissionIDs,
		Status:        string(status),
	})

	uid, extra := kobo.EncodeValidation(status)
	s.mirror(ctx, "update validation", formID, submissionIDs,
		func(ctx context.Context, client ports.KoboClient, link ports.KoboLink, originIDs []string) error {
			if extra != "" {
				if err := client.UpdateValidation(ctx, link.KoboFormID, originIDs, kobo.ValidationNoStatus); err != nil {
					return err
				}
				return client.UpdateFields(ctx, link.KoboFormID, originIDs, map[string]any{kobo.ExtraStatusKey: extra})
			}
			if err := client.UpdateValidation(ctx, link.KoboFormID, originIDs, uid); err != nil {
				return err
			}
			return client.UpdateFields(ctx, link.KoboFormID, originIDs, map[string]any{kobo.ExtraStatusKey: ""})
		})
	return nil
}

// Remove soft-deletes submissions. Attachment files are retained; the remote
// records are deleted best-effort.
func (s *UpdateService) Remove(ctx context.Context, actor, formID string, submissionIDs []string) error {
	if len(submissionIDs) == 0 {
		return errs.BadRequest("at least one submission id is required")
	}

	now := time.Now().UTC()
	err := s.uow.WithTx(ctx, func(ctx context.Context) error {
		if err := s.history.Record(ctx, domainsubmission.HistoryDelete, formID,
			submissionIDs, "", nil, nil, actor); err != nil {
			return err
		}
		return s.repo.SoftDelete(ctx, formID, submissionIDs, actor, now)
	})
	if err != nil {
		return err
	}

	s.invalidate(ctx, formID)
	for _, id := range submissionIDs {
		s.attachments.RemoveForSubmission(ctx, formID, id)
	}
	s.bus.Emit(ctx, ports.EventSubmissionRemoved, ports.SubmissionRemovedEvent{
		FormID:        formID,
		SubmissionIDs: submissionIDs,
	})

	s.mirror(ctx, "delete submissions", formID, submissionIDs,
		func(ctx context.Context, client ports.KoboClient, link ports.KoboLink, originIDs []string) error {
			return client.Delete(ctx, link.KoboFormID, originIDs)
		})
	return nil
}

// mirror runs one remote operation under the concurrency cap with bounded
// retries. Any failure is logged and dropped: the local commit already
// happened and reconciliation will converge the remainder.
func (s *UpdateService) mirror(
	ctx context.Context,
	op string,
	formID string,
	submissionIDs []string,
	fn func(ctx context.Context, client ports.KoboClient, link ports.KoboLink, originIDs []string) error,
) {
	logCtx := logging.WithAttrs(ctx,
		slog.String("component", "usecase.submission.mirror"),
		slog.String("op", op),
		slog.String("form_id", formID),
	)

	link, err := s.forms.KoboLink(ctx, formID)
	if errors.Is(err, ports.ErrFormNotLinked) {
		return
	}
	if err != nil {
		logging.Warn(logCtx, "resolve kobo link failed", slog.Any("err", errs.Loggable(err)))
		return
	}

	originIDs, err := s.repo.OriginIDs(ctx, submissionIDs)
	if err != nil {
		logging.Warn(logCtx, "resolve origin ids failed", slog.Any("err", errs.Loggable(err)))
		return
	}
	if len(originIDs) == 0 {
		return
	}

	client, err := s.resolve(link.Account)
	if err != nil {
		logging.Warn(logCtx, "resolve kobo client failed", slog.Any("err", errs.Loggable(err)))
		return
	}

	if err := s.sem.Acquire(ctx, 1); err != nil {
		logging.Warn(logCtx, "mirror slot unavailable", slog.Any("err", errs.Loggable(err)))
		return
	}
	defer s.sem.Release(1)

	err = retryBackoff(ctx, s.retries, s.backoff, func(ctx context.Context) error {
		return fn(ctx, client, link, originIDs)
	})
	if err != nil {
		logging.Warn(logCtx, "remote mirror failed",
			slog.Int("submissions", len(originIDs)), slog.Any("err", errs.Loggable(err)))
	}
}

func (s *UpdateService) invalidate(ctx context.Context, formID string) {
	if err := s.cache.DeletePrefix(ctx, ports.CacheKeySubmissions(formID)); err != nil {
		logging.Warn(ctx, "cache invalidation failed",
			slog.String("form_id", formID), slog.Any("error", err))
	}
}

func isEmptyAnswer(value any) bool {
	if value == nil {
		return true
	}
	s, ok := value.(string)
	return ok && s == ""
}
