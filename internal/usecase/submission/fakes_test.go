package submission

import (
	"context"
	"time"

	domainsubmission "infoportal/internal/domain/submission"
	"infoportal/internal/kobo"
	"infoportal/internal/ports"
)

type stubForms struct {
	form          ports.Form
	formErr       error
	link          ports.KoboLink
	linkErr       error
	activeVersion string
}

func (s *stubForms) Get(_ context.Context, formID string) (ports.Form, error) {
	if s.formErr != nil {
		return ports.Form{}, s.formErr
	}
	form := s.form
	if form.ID == "" {
		form.ID = formID
	}
	return form, nil
}

func (s *stubForms) ActiveVersion(context.Context, string) (string, error) {
	return s.activeVersion, nil
}

func (s *stubForms) KoboLink(context.Context, string) (ports.KoboLink, error) {
	if s.linkErr != nil {
		return ports.KoboLink{}, s.linkErr
	}
	return s.link, nil
}

func (s *stubForms) LinkedForms(context.Context) ([]ports.KoboLink, error) { return nil, nil }

func (s *stubForms) LinksByKoboID(context.Context, string) ([]ports.KoboLink, error) {
	return nil, nil
}

func (s *stubForms) TouchSynced(context.Context, string, string, time.Time) error { return nil }

func (s *stubForms) UpdateFormInfo(context.Context, string, string, string) error { return nil }

func (s *stubForms) UpdateLinkEnketoURL(context.Context, string, string) error { return nil }

type bulkSetCall struct {
	question string
	value    any
}

type stubRepo struct {
	sub    domainsubmission.Submission
	getErr error

	searchPage  ports.SubmissionPage
	searchCalls []ports.SubmissionSearch

	originIDs []string

	updatedAnswers []domainsubmission.Answers
	bulkSets       []bulkSetCall
	bulkRemoves    []string
	validations    []domainsubmission.Validation
	softDeleted    [][]string
	created        []domainsubmission.Submission
}

func (s *stubRepo) Search(_ context.Context, params ports.SubmissionSearch) (ports.SubmissionPage, error) {
	s.searchCalls = append(s.searchCalls, params)
	return s.searchPage, nil
}

func (s *stubRepo) Get(context.Context, string) (domainsubmission.Submission, error) {
	if s.getErr != nil {
		return domainsubmission.Submission{}, s.getErr
	}
	return s.sub, nil
}

func (s *stubRepo) Create(_ context.Context, sub domainsubmission.Submission) error {
	s.created = append(s.created, sub)
	return nil
}

func (s *stubRepo) CreateMany(_ context.Context, subs []domainsubmission.Submission, _ bool) (int64, error) {
	s.created = append(s.created, subs...)
	return int64(len(subs)), nil
}

func (s *stubRepo) UpdateAnswers(_ context.Context, _ string, answers domainsubmission.Answers) error {
	s.updatedAnswers = append(s.updatedAnswers, answers)
	return nil
}

func (s *stubRepo) BulkSetAnswer(_ context.Context, _ string, _ []string, question string, value any) error {
	s.bulkSets = append(s.bulkSets, bulkSetCall{question: question, value: value})
	return nil
}

func (s *stubRepo) BulkRemoveAnswer(_ context.Context, _ string, _ []string, question string) error {
	s.bulkRemoves = append(s.bulkRemoves, question)
	return nil
}

func (s *stubRepo) BulkUpdateValidation(_ context.Context, _ string, _ []string, status domainsubmission.Validation, _ time.Time) error {
	s.validations = append(s.validations, status)
	return nil
}

func (s *stubRepo) SoftDelete(_ context.Context, _ string, submissionIDs []string, _ string, _ time.Time) error {
	s.softDeleted = append(s.softDeleted, submissionIDs)
	return nil
}

func (s *stubRepo) SyncIndex(context.Context, string) (map[string]ports.SyncRef, error) {
	return nil, nil
}

func (s *stubRepo) SoftDeleteByOriginIDs(context.Context, string, []string, string, time.Time) error {
	return nil
}

func (s *stubRepo) UpdateContentByOriginID(context.Context, string, domainsubmission.Submission) error {
	return nil
}

func (s *stubRepo) UpdateValidationByOriginID(context.Context, string, string, domainsubmission.Validation, *int64) error {
	return nil
}

func (s *stubRepo) OriginIDs(context.Context, []string) ([]string, error) {
	return s.originIDs, nil
}

type stubHistory struct {
	entries []domainsubmission.HistoryEntry
}

func (s *stubHistory) Append(_ context.Context, entry domainsubmission.HistoryEntry) error {
	s.entries = append(s.entries, entry)
	return nil
}

func (s *stubHistory) Search(context.Context, ports.HistorySearch) (ports.HistoryPage, error) {
	return ports.HistoryPage{}, nil
}

type stubUow struct {
	calls int
}

func (s *stubUow) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	s.calls++
	return fn(ctx)
}

type stubCache struct {
	store    map[string]string
	prefixes []string
}

func (s *stubCache) Get(_ context.Context, key string) (string, bool, error) {
	value, found := s.store[key]
	return value, found, nil
}

func (s *stubCache) Set(_ context.Context, key, value string, _ time.Duration) error {
	if s.store == nil {
		s.store = map[string]string{}
	}
	s.store[key] = value
	return nil
}

func (s *stubCache) Delete(_ context.Context, key string) error {
	delete(s.store, key)
	return nil
}

func (s *stubCache) DeletePrefix(_ context.Context, prefix string) error {
	s.prefixes = append(s.prefixes, prefix)
	return nil
}

type stubBus struct {
	subjects []string
	payloads []any
}

func (s *stubBus) Emit(_ context.Context, subject string, payload any) {
	s.subjects = append(s.subjects, subject)
	s.payloads = append(s.payloads, payload)
}

func (s *stubBus) Subscribe(string, func(string, []byte)) (func(), error) {
	return func() {}, nil
}

type remoteCall struct {
	op         string
	originIDs  []string
	fields     map[string]any
	validation kobo.ValidationUID
}

type stubClient struct {
	err   error
	calls []remoteCall
}

func (c *stubClient) FetchAll(context.Context, string) ([]kobo.Submission, error) {
	return nil, nil
}

func (c *stubClient) GetForm(context.Context, string) (kobo.FormInfo, error) {
	return kobo.FormInfo{}, nil
}

func (c *stubClient) UpdateFields(_ context.Context, _ string, submissionIDs []string, fields map[string]any) error {
	if c.err != nil {
		return c.err
	}
	c.calls = append(c.calls, remoteCall{op: "fields", originIDs: submissionIDs, fields: fields})
	return nil
}

func (c *stubClient) UpdateValidation(_ context.Context, _ string, submissionIDs []string, status kobo.ValidationUID) error {
	if c.err != nil {
		return c.err
	}
	c.calls = append(c.calls, remoteCall{op: "validation", originIDs: submissionIDs, validation: status})
	return nil
}

func (c *stubClient) Delete(_ context.Context, _ string, submissionIDs []string) error {
	if c.err != nil {
		return c.err
	}
	c.calls = append(c.calls, remoteCall{op: "delete", originIDs: submissionIDs})
	return nil
}

type stubStorage struct {
	files map[string][]byte
}

func (s *stubStorage) Upload(_ context.Context, path string, data []byte) error {
	if s.files == nil {
		s.files = map[string][]byte{}
	}
	s.files[path] = data
	return nil
}

func (s *stubStorage) Get(_ context.Context, path string) ([]byte, error) {
	return s.files[path], nil
}

func (s *stubStorage) Remove(context.Context, string) error { return nil }

func (s *stubStorage) URL(path string) string { return "http://files.local/" + path }

func (s *stubStorage) SignedURL(path string, _ time.Duration) (string, error) {
	return "http://files.local/signed/" + path, nil
}

func (s *stubStorage) VerifySignedToken(token string) (string, error) { return token, nil }
