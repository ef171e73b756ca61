package sync

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"infoportal/internal/bootstrap/logging"
	domainsubmission "infoportal/internal/domain/submission"
	"infoportal/internal/errs"
	"infoportal/internal/kobo"
	"infoportal/internal/ports"
)

// Result counts what one reconciliation run changed locally.
type Result struct {
	FormID            string
	Created           int
	Updated           int
	Deleted           int
	ValidationUpdated int
	Failures          int
}

func (r Result) Changed() bool {
	return r.Created > 0 || r.Updated > 0 || r.Deleted > 0 || r.ValidationUpdated > 0
}

// Engine reconciles the local record set of each remote-bound form against a
// full fetch from the survey backend. Runs are idempotent: a re-run against
// an unchanged remote set produces zero writes.
type Engine struct {
	forms   ports.FormRepository
	repo    ports.SubmissionRepository
	cache   ports.Cache
	bus     ports.EventBus
	resolve ports.KoboResolver

	chunkSize  int
	production bool
	group      singleflight.Group
}

func NewEngine(
	forms ports.FormRepository,
	repo ports.SubmissionRepository,
	cache ports.Cache,
	bus ports.EventBus,
	resolve ports.KoboResolver,
	chunkSize int,
	production bool,
) *Engine {
	if chunkSize <= 0 {
		chunkSize = 900
	}
	return &Engine{
		forms:      forms,
		repo:       repo,
		cache:      cache,
		bus:        bus,
		resolve:    resolve,
		chunkSize:  chunkSize,
		production: production,
	}
}

// SyncAll runs every linked form in sequence. A failing form is logged and
// skipped, the rest still run.
func (e *Engine) SyncAll(ctx context.Context, tracker string) ([]Result, error) {
	links, err := e.forms.LinkedForms(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(links))
	for _, link := range links {
		result, err := e.SyncForm(ctx, link.FormID, tracker)
		if err != nil {
			logging.Error(ctx, "form sync failed",
				slog.String("form_id", link.FormID), slog.Any("err", errs.Loggable(err)))
			continue
		}
		results = append(results, result)
	}
	return results, nil
}

// SyncForm reconciles one form. Concurrent calls for the same form share a
// single run through the flight group.
func (e *Engine) SyncForm(ctx context.Context, formID string, tracker string) (Result, error) {
	value, err, _ := e.group.Do(formID, func() (any, error) {
		return e.syncForm(ctx, formID, tracker)
	})
	if err != nil {
		return Result{}, err
	}
	return value.(Result), nil
}

func (e *Engine) syncForm(ctx context.Context, formID string, tracker string) (Result, error) {
	started := time.Now()
	logCtx := logging.WithAttrs(ctx,
		slog.String("component", "usecase.sync"),
		slog.String("form_id", formID),
	)

	link, err := e.forms.KoboLink(ctx, formID)
	if err != nil {
		if errors.Is(err, ports.ErrFormNotLinked) {
			return Result{}, errs.BadRequest("form %s is not connected to a kobo form", formID)
		}
		return Result{}, err
	}

	client, err := e.resolve(link.Account)
	if err != nil {
		return Result{}, errs.Wrapf(err, "resolve kobo account %s", link.Account)
	}

	e.refreshFormInfo(logCtx, client, link)

	raws, err := client.FetchAll(ctx, link.KoboFormID)
	if err != nil {
		return Result{}, errs.Wrapf(err, "fetch submissions of form %s", formID)
	}

	// Mapping failures abort the whole run: a partially mapped set would
	// make the deletion phase remove rows that still exist remotely.
	remote := make(map[string]domainsubmission.Submission, len(raws))
	for _, raw := range raws {
		mapped, err := kobo.MapSubmission(formID, raw)
		if err != nil {
			return Result{}, errs.Wrapf(err, "map submissions of form %s", formID)
		}
		remote[mapped.OriginID] = mapped
	}

	local, err := e.repo.SyncIndex(ctx, formID)
	if err != nil {
		return Result{}, err
	}

	deletions, creations, contentUpdates, validationUpdates := diff(local, remote)

	result := Result{FormID: formID}
	actor := "system-sync-" + tracker

	// Phase order is fixed: deletions, creations, content updates,
	// validation updates. A failed chunk is logged and the run continues.
	for _, chunk := range chunkStrings(deletions, e.chunkSize) {
		if err := e.repo.SoftDeleteByOriginIDs(ctx, formID, chunk, actor, time.Now().UTC()); err != nil {
			result.Failures++
			logging.Error(logCtx, "sync delete chunk failed",
				slog.Int("size", len(chunk)), slog.Any("err", errs.Loggable(err)))
			continue
		}
		result.Deleted += len(chunk)
	}

	for _, chunk := range chunkSubmissions(creations, insertBatchSize(e.chunkSize)) {
		inserted, err := e.repo.CreateMany(ctx, chunk, true)
		if err != nil {
			result.Failures++
			logging.Error(logCtx, "sync create chunk failed",
				slog.Int("size", len(chunk)), slog.Any("err", errs.Loggable(err)))
			continue
		}
		result.Created += int(inserted)
	}

	for _, sub := range contentUpdates {
		if err := e.repo.UpdateContentByOriginID(ctx, formID, sub); err != nil {
			result.Failures++
			logging.Error(logCtx, "sync content update failed",
				slog.String("origin_id", sub.OriginID), slog.Any("err", errs.Loggable(err)))
			continue
		}
		result.Updated++
	}

	for _, sub := range validationUpdates {
		if err := e.repo.UpdateValidationByOriginID(ctx, formID, sub.OriginID,
			sub.ValidationStatus, sub.LastValidatedTimestamp); err != nil {
			result.Failures++
			logging.Error(logCtx, "sync validation update failed",
				slog.String("origin_id", sub.OriginID), slog.Any("err", errs.Loggable(err)))
			continue
		}
		result.ValidationUpdated++
	}

	if result.Changed() {
		e.invalidate(logCtx, formID)
	}

	if result.Failures == 0 {
		if err := e.forms.TouchSynced(ctx, formID, actor, time.Now().UTC()); err != nil {
			logging.Warn(logCtx, "advance sync marker failed", slog.Any("err", errs.Loggable(err)))
		}
	}

	if result.Changed() || !e.production {
		e.bus.Emit(ctx, ports.EventFormSynced, ports.FormSyncedEvent{
			FormID:            formID,
			Created:           result.Created,
			Updated:           result.Updated,
			Deleted:           result.Deleted,
			ValidationUpdated: result.ValidationUpdated,
		})
	}

	logging.Info(logCtx, "form sync finished",
		slog.Int("created", result.Created),
		slog.Int("updated", result.Updated),
		slog.Int("deleted", result.Deleted),
		slog.Int("validation_updated", result.ValidationUpdated),
		slog.Int("failures", result.Failures),
		slog.Duration("took", time.Since(started)),
	)
	return result, nil
}

// HandleWebhook ingests one pushed submission. Several local forms may bind
// the same remote form; each gets a copy. Duplicate pushes are no-ops.
func (e *Engine) HandleWebhook(ctx context.Context, koboFormID string, raw []byte) error {
	var record kobo.Submission
	if err := json.Unmarshal(raw, &record); err != nil {
		return errs.BadRequest("undecodable webhook payload: %v", err)
	}

	links, err := e.forms.LinksByKoboID(ctx, koboFormID)
	if err != nil {
		return err
	}
	if len(links) == 0 {
		return errs.NotFound("no form is connected to kobo form %s", koboFormID)
	}

	for _, link := range links {
		mapped, err := kobo.MapSubmission(link.FormID, record)
		if err != nil {
			return errs.BadRequest("unmappable webhook payload: %v", err)
		}

		inserted, err := e.repo.CreateMany(ctx, []domainsubmission.Submission{mapped}, true)
		if err != nil {
			return err
		}
		if inserted == 0 {
			continue
		}

		e.invalidate(ctx, link.FormID)
		e.bus.Emit(ctx, ports.EventSubmissionCreated, ports.SubmissionCreatedEvent{
			FormID:       link.FormID,
			SubmissionID: mapped.ID,
		})
	}
	return nil
}

// refreshFormInfo pulls the remote form metadata alongside the data sync.
// Failures never block reconciliation.
func (e *Engine) refreshFormInfo(ctx context.Context, client ports.KoboClient, link ports.KoboLink) {
	info, err := client.GetForm(ctx, link.KoboFormID)
	if err != nil {
		logging.Warn(ctx, "refresh form info failed", slog.Any("err", errs.Loggable(err)))
		return
	}

	if err := e.forms.UpdateFormInfo(ctx, link.FormID, info.Name, info.DeploymentStatus); err != nil {
		logging.Warn(ctx, "store form info failed", slog.Any("err", errs.Loggable(err)))
	}
	if info.EnketoURL != "" && info.EnketoURL != link.EnketoURL {
		if err := e.forms.UpdateLinkEnketoURL(ctx, link.KoboFormID, info.EnketoURL); err != nil {
			logging.Warn(ctx, "store enketo url failed", slog.Any("err", errs.Loggable(err)))
		}
	}
}

func (e *Engine) invalidate(ctx context.Context, formID string) {
	for _, prefix := range []string{ports.CacheKeySubmissions(formID), ports.CacheKeySchema(formID)} {
		if err := e.cache.DeletePrefix(ctx, prefix); err != nil {
			logging.Warn(ctx, "cache invalidation failed",
				slog.String("prefix", prefix), slog.Any("err", errs.Loggable(err)))
		}
	}
}

// diff splits local vs remote into the four disjoint change sets. Content
// change is uuid inequality; a validation-only change is a moved validation
// clock under an unchanged uuid.
func diff(local map[string]ports.SyncRef, remote map[string]domainsubmission.Submission) (
	deletions []string,
	creations []domainsubmission.Submission,
	contentUpdates []domainsubmission.Submission,
	validationUpdates []domainsubmission.Submission,
) {
	for originID := range local {
		if _, ok := remote[originID]; !ok {
			deletions = append(deletions, originID)
		}
	}

	for originID, sub := range remote {
		ref, ok := local[originID]
		if !ok {
			creations = append(creations, sub)
			continue
		}
		if ref.UUID != sub.UUID {
			contentUpdates = append(contentUpdates, sub)
			continue
		}
		if !equalClock(ref.LastValidatedTimestamp, sub.LastValidatedTimestamp) {
			validationUpdates = append(validationUpdates, sub)
		}
	}
	return deletions, creations, contentUpdates, validationUpdates
}

func equalClock(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func chunkStrings(items []string, size int) [][]string {
	var out [][]string
	for len(items) > size {
		out = append(out, items[:size])
		items = items[size:]
	}
	if len(items) > 0 {
		out = append(out, items)
	}
	return out
}

func chunkSubmissions(items []domainsubmission.Submission, size int) [][]domainsubmission.Submission {
	var out [][]domainsubmission.Submission
	for len(items) > size {
		out = append(out, items[:size])
		items = items[size:]
	}
	if len(items) > 0 {
		out = append(out, items)
	}
	return out
}

// insertBatchSize keeps a row insert chunk under the bound-parameter ceiling.
func insertBatchSize(maxParams int) int {
	size := maxParams / 18
	if size < 1 {
		size = 1
	}
	return size
}
