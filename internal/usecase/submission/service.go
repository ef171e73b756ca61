package submission

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"infoportal/internal/bootstrap/logging"
	domainsubmission "infoportal/internal/domain/submission"
	"infoportal/internal/errs"
	"infoportal/internal/ports"
)

const searchCacheTTL = 5 * time.Minute

// AccessRule is one grant from the access-control layer: the submissions an
// actor may see, expressed as per-question allowed values. A rule with no
// filters grants the whole form.
type AccessRule struct {
	Filters map[string][]string
}

// Service covers the read and create paths of submissions. Mutations of
// existing rows live in UpdateService.
type Service struct {
	repo        ports.SubmissionRepository
	forms       ports.FormRepository
	cache       ports.Cache
	bus         ports.EventBus
	attachments *AttachmentService
	geocoder    *Geocoder
}

func NewService(
	repo ports.SubmissionRepository,
	forms ports.FormRepository,
	cache ports.Cache,
	bus ports.EventBus,
	attachments *AttachmentService,
	geocoder *Geocoder,
) *Service {
	return &Service{
		repo:        repo,
		forms:       forms,
		cache:       cache,
		bus:         bus,
		attachments: attachments,
		geocoder:    geocoder,
	}
}

// Search serves from the per-form answers cache when possible. The cache is
// invalidated by every mutation path and by reconciliation.
func (s *Service) Search(ctx context.Context, params ports.SubmissionSearch) (ports.SubmissionPage, error) {
	key, err := searchCacheKey(params)
	if err != nil {
		return ports.SubmissionPage{}, err
	}

	if cached, found, err := s.cache.Get(ctx, key); err == nil && found {
		var page ports.SubmissionPage
		if err := json.Unmarshal([]byte(cached), &page); err == nil {
			return page, nil
		}
		// A stale or unreadable entry falls through to the repository.
	}

	page, err := s.repo.Search(ctx, params)
	if err != nil {
		return ports.SubmissionPage{}, err
	}

	if encoded, err := json.Marshal(page); err == nil {
		if err := s.cache.Set(ctx, key, string(encoded), searchCacheTTL); err != nil {
			logging.Warn(ctx, "cache search page failed",
				slog.String("form_id", params.FormID), slog.Any("error", err))
		}
	}
	return page, nil
}

// SearchByAccess narrows a search to what the actor's rules allow. The union
// of rules applies: one unfiltered rule opens the whole form, otherwise the
// per-question allowed values of every rule merge into the search filters.
// No rules means no visibility.
func (s *Service) SearchByAccess(ctx context.Context, params ports.SubmissionSearch, rules []AccessRule) (ports.SubmissionPage, error) {
	if len(rules) == 0 {
		return ports.SubmissionPage{}, nil
	}

	merged := map[string][]string{}
	for _, rule := range rules {
		if len(rule.Filters) == 0 {
			return s.Search(ctx, params)
		}
		for question, values := range rule.Filters {
			merged[question] = appendUnique(merged[question], values)
		}
	}

	for question, values := range merged {
		params.Filters = append(params.Filters, ports.QuestionFilter{
			Question: question,
			Values:   values,
		})
	}
	return s.Search(ctx, params)
}

func (s *Service) Get(ctx context.Context, submissionID string) (domainsubmission.Submission, error) {
	return s.repo.Get(ctx, submissionID)
}

func (s *Service) Create(ctx context.Context, sub domainsubmission.Submission) (domainsubmission.Submission, error) {
	if sub.FormID == "" {
		return domainsubmission.Submission{}, errs.BadRequest("form id is required")
	}
	if sub.ID == "" {
		sub.ID = domainsubmission.NewID()
	}
	if sub.UUID == "" {
		sub.UUID = uuid.NewString()
	}
	if sub.SubmissionTime.IsZero() {
		sub.SubmissionTime = time.Now().UTC()
	}
	if sub.Start.IsZero() {
		sub.Start = sub.SubmissionTime
	}
	if sub.End.IsZero() {
		sub.End = sub.SubmissionTime
	}

	if err := s.repo.Create(ctx, sub); err != nil {
		return domainsubmission.Submission{}, err
	}

	s.invalidate(ctx, sub.FormID)
	s.bus.Emit(ctx, ports.EventSubmissionCreated, ports.SubmissionCreatedEvent{
		FormID:       sub.FormID,
		SubmissionID: sub.ID,
	})
	return sub, nil
}

func (s *Service) CreateMany(ctx context.Context, subs []domainsubmission.Submission, skipDuplicates bool) (int64, error) {
	inserted, err := s.repo.CreateMany(ctx, subs, skipDuplicates)
	if err != nil {
		return 0, err
	}
	if inserted > 0 && len(subs) > 0 {
		s.invalidate(ctx, subs[0].FormID)
	}
	return inserted, nil
}

// SubmitFile is one uploaded binary accompanying a manual submission.
// Question names the form question the file answers, when known.
type SubmitFile struct {
	Name     string
	Question string
	Data     []byte
}

// Submit handles a manual (non-Kobo) submission. Remote-bound forms reject
// manual submits: their record set belongs to the survey backend.
func (s *Service) Submit(ctx context.Context, actor, formID string, answers domainsubmission.Answers, geo *domainsubmission.Geolocation, files []SubmitFile) (domainsubmission.Submission, error) {
	if _, err := s.forms.Get(ctx, formID); err != nil {
		if errors.Is(err, ports.ErrFormNotFound) {
			return domainsubmission.Submission{}, errs.NotFound("form %s not found", formID)
		}
		return domainsubmission.Submission{}, err
	}

	if _, err := s.forms.KoboLink(ctx, formID); err == nil {
		return domainsubmission.Submission{}, errs.BadRequest("form %s is connected to a kobo form, submit through kobo", formID)
	} else if !errors.Is(err, ports.ErrFormNotLinked) {
		return domainsubmission.Submission{}, err
	}

	version, err := s.forms.ActiveVersion(ctx, formID)
	if err != nil {
		return domainsubmission.Submission{}, err
	}
	if version == "" {
		return domainsubmission.Submission{}, errs.BadRequest("form %s has no active version", formID)
	}

	sub := domainsubmission.Submission{
		ID:          domainsubmission.NewID(),
		FormID:      formID,
		UUID:        uuid.NewString(),
		Answers:     answers,
		Geolocation: geo,
		Version:     version,
		SubmittedBy: actor,
	}

	if geo != nil {
		code, err := s.geocoder.ISOCode(ctx, geo.Lat, geo.Lon)
		if err != nil {
			logging.Warn(ctx, "geocoding failed",
				slog.String("form_id", formID), slog.Any("error", err))
		}
		sub.ISOCode = code
	}

	for _, file := range files {
		att, err := s.attachments.Save(ctx, formID, sub.ID, file.Name, file.Question, file.Data)
		if err != nil {
			return domainsubmission.Submission{}, err
		}
		sub.Attachments = append(sub.Attachments, att)
	}

	return s.Create(ctx, sub)
}

func (s *Service) invalidate(ctx context.Context, formID string) {
	if err := s.cache.DeletePrefix(ctx, ports.CacheKeySubmissions(formID)); err != nil {
		logging.Warn(ctx, "cache invalidation failed",
			slog.String("form_id", formID), slog.Any("error", err))
	}
}

func searchCacheKey(params ports.SubmissionSearch) (string, error) {
	encoded, err := json.Marshal(params)
	if err != nil {
		return "", errs.Wrap(err, "encode search params")
	}
	digest := sha256.Sum256(encoded)
	return ports.CacheKeySubmissions(params.FormID) + hex.EncodeToString(digest[:16]), nil
}

func appendUnique(dst []string, values []string) []string {
	seen := make(map[string]struct{}, len(dst))
	for _, v := range dst {
		seen[v] = struct{}{}
	}
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		dst = append(dst, v)
	}
	return dst
}
