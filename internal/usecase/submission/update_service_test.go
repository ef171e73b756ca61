package submission

import (
	"context"
	"errors"
	"testing"
	"time"

	domainsubmission "infoportal/internal/domain/submission"
	"infoportal/internal/errs"
	"infoportal/internal/kobo"
	"infoportal/internal/ports"
)

type updateFixture struct {
	repo    *stubRepo
	forms   *stubForms
	history *stubHistory
	uow     *stubUow
	cache   *stubCache
	bus     *stubBus
	client  *stubClient
	svc     *UpdateService
}

func newUpdateFixture() *updateFixture {
	f := &updateFixture{
		repo: &stubRepo{
			sub: domainsubmission.Submission{
				ID:      "sub1",
				FormID:  "form1",
				Answers: domainsubmission.Answers{"age": "31", "city": "oslo"},
			},
			originIDs: []string{"101"},
		},
		forms:   &stubForms{link: ports.KoboLink{FormID: "form1", Account: "eu", KoboFormID: "aX1"}},
		history: &stubHistory{},
		uow:     &stubUow{},
		cache:   &stubCache{},
		bus:     &stubBus{},
		client:  &stubClient{},
	}

	resolve := func(string) (ports.KoboClient, error) { return f.client, nil }
	f.svc = NewUpdateService(
		f.repo, f.forms, NewHistoryService(f.history), f.uow, f.cache, f.bus,
		NewAttachmentService(&stubStorage{}, time.Minute), resolve,
		2, 1, time.Millisecond,
	)
	return f
}

func TestUpdateSingleNoOpDiff(t *testing.T) {
	f := newUpdateFixture()

	got, err := f.svc.UpdateSingle(context.Background(), "alice", "sub1",
		domainsubmission.Answers{"age": "31", "city": "oslo"})
	if err != nil {
		t.Fatalf("UpdateSingle() error = %v", err)
	}
	if got.ID != "sub1" {
		t.Fatalf("UpdateSingle() = %+v", got)
	}

	if f.uow.calls != 0 || len(f.repo.updatedAnswers) != 0 || len(f.history.entries) != 0 {
		t.Fatalf("no-op diff wrote locally")
	}
	if len(f.client.calls) != 0 || len(f.bus.subjects) != 0 {
		t.Fatalf("no-op diff reached the mirror or the bus")
	}
}

func TestUpdateSingleMirrorsDiff(t *testing.T) {
	f := newUpdateFixture()

	// "age" changes, "city" is removed, "job" is added.
	got, err := f.svc.UpdateSingle(context.Background(), "alice", "sub1",
		domainsubmission.Answers{"age": "32", "job": "nurse"})
	if err != nil {
		t.Fatalf("UpdateSingle() error = %v", err)
	}
	if got.Answers["age"] != "32" {
		t.Fatalf("UpdateSingle() answers = %v", got.Answers)
	}

	if f.uow.calls != 1 || len(f.repo.updatedAnswers) != 1 {
		t.Fatalf("local write missing")
	}

	// One history entry and one edited event per changed key.
	if len(f.history.entries) != 3 {
		t.Fatalf("history = %+v", f.history.entries)
	}
	properties := map[string]bool{}
	for _, entry := range f.history.entries {
		if entry.Type != domainsubmission.HistoryAnswer {
			t.Fatalf("history entry type = %q", entry.Type)
		}
		properties[entry.Property] = true
	}
	if !properties["age"] || !properties["job"] || !properties["city"] {
		t.Fatalf("history properties = %v", properties)
	}
	if len(f.bus.subjects) != 3 || f.bus.subjects[0] != ports.EventSubmissionEdited {
		t.Fatalf("events = %v", f.bus.subjects)
	}
	if len(f.cache.prefixes) != 1 {
		t.Fatalf("cache not invalidated")
	}

	if len(f.client.calls) != 1 {
		t.Fatalf("mirror calls = %+v", f.client.calls)
	}
	call := f.client.calls[0]
	if call.op != "fields" || len(call.originIDs) != 1 || call.originIDs[0] != "101" {
		t.Fatalf("mirror call = %+v", call)
	}
	// The mirror carries the full new answer set; locally removed keys are
	// simply absent and stay untouched remotely.
	if len(call.fields) != 2 || call.fields["age"] != "32" || call.fields["job"] != "nurse" {
		t.Fatalf("mirror fields = %v", call.fields)
	}
	if _, present := call.fields["city"]; present {
		t.Fatalf("removed key leaked into the mirror payload: %v", call.fields)
	}
}

func TestUpdateSingleMirrorsUnchangedKeys(t *testing.T) {
	f := newUpdateFixture()

	// Only "age" changes; "city" must still be part of the mirrored set.
	_, err := f.svc.UpdateSingle(context.Background(), "alice", "sub1",
		domainsubmission.Answers{"age": "32", "city": "oslo"})
	if err != nil {
		t.Fatalf("UpdateSingle() error = %v", err)
	}

	if len(f.history.entries) != 1 || f.history.entries[0].Property != "age" {
		t.Fatalf("history = %+v", f.history.entries)
	}
	if len(f.client.calls) != 1 {
		t.Fatalf("mirror calls = %+v", f.client.calls)
	}
	fields := f.client.calls[0].fields
	if len(fields) != 2 || fields["age"] != "32" || fields["city"] != "oslo" {
		t.Fatalf("mirror fields = %v", fields)
	}
}

func TestUpdateSingleNotFound(t *testing.T) {
	f := newUpdateFixture()
	f.repo.getErr = ports.ErrSubmissionNotFound

	_, err := f.svc.UpdateSingle(context.Background(), "alice", "missing", nil)
	if !errs.IsNotFound(err) {
		t.Fatalf("UpdateSingle() error = %v", err)
	}
}

func TestBulkUpdateQuestionSet(t *testing.T) {
	f := newUpdateFixture()

	err := f.svc.BulkUpdateQuestion(context.Background(), "alice", "form1",
		[]string{"sub1", "sub2"}, "city", "bergen")
	if err != nil {
		t.Fatalf("BulkUpdateQuestion() error = %v", err)
	}

	if len(f.repo.bulkSets) != 1 || f.repo.bulkSets[0].question != "city" || f.repo.bulkSets[0].value != "bergen" {
		t.Fatalf("bulk sets = %+v", f.repo.bulkSets)
	}
	if len(f.client.calls) != 1 || f.client.calls[0].fields["city"] != "bergen" {
		t.Fatalf("mirror calls = %+v", f.client.calls)
	}
}

func TestBulkUpdateQuestionRemoval(t *testing.T) {
	for _, value := range []any{nil, ""} {
		f := newUpdateFixture()

		err := f.svc.BulkUpdateQuestion(context.Background(), "alice", "form1",
			[]string{"sub1"}, "city", value)
		if err != nil {
			t.Fatalf("BulkUpdateQuestion(%v) error = %v", value, err)
		}

		if len(f.repo.bulkRemoves) != 1 || f.repo.bulkRemoves[0] != "city" {
			t.Fatalf("bulk removes = %v", f.repo.bulkRemoves)
		}
		if len(f.repo.bulkSets) != 0 {
			t.Fatalf("removal used a set: %+v", f.repo.bulkSets)
		}
		if len(f.client.calls) != 1 || f.client.calls[0].fields["city"] != "" {
			t.Fatalf("mirror calls = %+v", f.client.calls)
		}
	}
}

func TestBulkUpdateQuestionRejectsBadInput(t *testing.T) {
	f := newUpdateFixture()

	if err := f.svc.BulkUpdateQuestion(context.Background(), "alice", "form1", nil, "city", "x"); !errs.IsBadRequest(err) {
		t.Fatalf("BulkUpdateQuestion(no ids) error = %v", err)
	}
	if err := f.svc.BulkUpdateQuestion(context.Background(), "alice", "form1", []string{"sub1"}, "_uuid", "x"); !errs.IsBadRequest(err) {
		t.Fatalf("BulkUpdateQuestion(reserved key) error = %v", err)
	}
	if f.uow.calls != 0 || len(f.client.calls) != 0 {
		t.Fatalf("rejected input reached a write")
	}
}

func TestBulkUpdateValidationNative(t *testing.T) {
	f := newUpdateFixture()

	err := f.svc.BulkUpdateValidation(context.Background(), "alice", "form1",
		[]string{"sub1"}, domainsubmission.ValidationApproved)
	if err != nil {
		t.Fatalf("BulkUpdateValidation() error = %v", err)
	}

	if len(f.repo.validations) != 1 || f.repo.validations[0] != domainsubmission.ValidationApproved {
		t.Fatalf("local validations = %v", f.repo.validations)
	}
	if len(f.history.entries) != 1 || f.history.entries[0].Type != domainsubmission.HistoryValidation {
		t.Fatalf("history = %+v", f.history.entries)
	}

	// A native status maps directly and clears the side channel.
	if len(f.client.calls) != 2 {
		t.Fatalf("mirror calls = %+v", f.client.calls)
	}
	if f.client.calls[0].op != "validation" || f.client.calls[0].validation != kobo.ValidationApproved {
		t.Fatalf("first mirror call = %+v", f.client.calls[0])
	}
	if f.client.calls[1].op != "fields" || f.client.calls[1].fields[kobo.ExtraStatusKey] != "" {
		t.Fatalf("second mirror call = %+v", f.client.calls[1])
	}
}

func TestBulkUpdateValidationSideChannel(t *testing.T) {
	f := newUpdateFixture()

	err := f.svc.BulkUpdateValidation(context.Background(), "alice", "form1",
		[]string{"sub1"}, domainsubmission.ValidationFlagged)
	if err != nil {
		t.Fatalf("BulkUpdateValidation() error = %v", err)
	}

	// No native equivalent: reset to no_status and carry the literal status
	// in the side-channel answer key.
	if len(f.client.calls) != 2 {
		t.Fatalf("mirror calls = %+v", f.client.calls)
	}
	if f.client.calls[0].op != "validation" || f.client.calls[0].validation != kobo.ValidationNoStatus {
		t.Fatalf("first mirror call = %+v", f.client.calls[0])
	}
	if f.client.calls[1].op != "fields" || f.client.calls[1].fields[kobo.ExtraStatusKey] != "Flagged" {
		t.Fatalf("second mirror call = %+v", f.client.calls[1])
	}
}

func TestBulkUpdateValidationRejectsUnknownStatus(t *testing.T) {
	f := newUpdateFixture()

	err := f.svc.BulkUpdateValidation(context.Background(), "alice", "form1",
		[]string{"sub1"}, domainsubmission.Validation("Maybe"))
	if !errs.IsBadRequest(err) {
		t.Fatalf("BulkUpdateValidation() error = %v", err)
	}
	if len(f.repo.validations) != 0 || len(f.client.calls) != 0 {
		t.Fatalf("rejected status reached a write")
	}
}

func TestRemove(t *testing.T) {
	f := newUpdateFixture()

	if err := f.svc.Remove(context.Background(), "alice", "form1", []string{"sub1", "sub2"}); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}

	if len(f.repo.softDeleted) != 1 || len(f.repo.softDeleted[0]) != 2 {
		t.Fatalf("soft deletes = %v", f.repo.softDeleted)
	}
	if len(f.history.entries) != 1 || f.history.entries[0].Type != domainsubmission.HistoryDelete {
		t.Fatalf("history = %+v", f.history.entries)
	}
	if len(f.bus.subjects) != 1 || f.bus.subjects[0] != ports.EventSubmissionRemoved {
		t.Fatalf("events = %v", f.bus.subjects)
	}
	if len(f.client.calls) != 1 || f.client.calls[0].op != "delete" {
		t.Fatalf("mirror calls = %+v", f.client.calls)
	}
}

func TestMirrorFailureIsSwallowed(t *testing.T) {
	f := newUpdateFixture()
	f.client.err = errors.New("gateway timeout")

	err := f.svc.BulkUpdateQuestion(context.Background(), "alice", "form1",
		[]string{"sub1"}, "city", "bergen")
	if err != nil {
		t.Fatalf("BulkUpdateQuestion() error = %v", err)
	}

	// The local commit stands even though every mirror attempt failed.
	if len(f.repo.bulkSets) != 1 || len(f.history.entries) != 1 {
		t.Fatalf("local write missing after mirror failure")
	}
}

func TestMirrorSkipsLocalOnlyRows(t *testing.T) {
	f := newUpdateFixture()
	f.repo.originIDs = nil

	err := f.svc.BulkUpdateQuestion(context.Background(), "alice", "form1",
		[]string{"sub1"}, "city", "bergen")
	if err != nil {
		t.Fatalf("BulkUpdateQuestion() error = %v", err)
	}

	if len(f.repo.bulkSets) != 1 {
		t.Fatalf("local write missing")
	}
	if len(f.client.calls) != 0 {
		t.Fatalf("local-only rows were mirrored: %+v", f.client.calls)
	}
}

func TestMirrorSkipsUnlinkedForm(t *testing.T) {
	f := newUpdateFixture()
	f.forms.linkErr = ports.ErrFormNotLinked

	err := f.svc.BulkUpdateQuestion(context.Background(), "alice", "form1",
		[]string{"sub1"}, "city", "bergen")
	if err != nil {
		t.Fatalf("BulkUpdateQuestion() error = %v", err)
	}

	if len(f.repo.bulkSets) != 1 {
		t.Fatalf("local write missing")
	}
	if len(f.client.calls) != 0 {
		t.Fatalf("unlinked form was mirrored: %+v", f.client.calls)
	}
}
