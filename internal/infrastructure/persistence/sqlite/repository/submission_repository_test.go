package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	domainsubmission "infoportal/internal/domain/submission"
	"infoportal/internal/infrastructure/persistence/sqlite/model"
	"infoportal/internal/ports"
)

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "infoportal.sqlite")
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql db: %v", err)
	}
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	if err := db.AutoMigrate(
		&model.Form{},
		&model.FormVersion{},
		&model.FormKoboLink{},
		&model.FormSubmission{},
		&model.FormSubmissionHistory{},
		&model.CacheKV{},
	); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	return db
}

func setupSubmissionRepository(t *testing.T) *SubmissionRepository {
	t.Helper()
	return NewSubmissionRepository(setupDB(t), 900)
}

func remoteSubmission(formID, originID, uuid string, answers domainsubmission.Answers) domainsubmission.Submission {
	now := time.Date(2026, 5, 12, 9, 30, 0, 0, time.UTC)
	return domainsubmission.Submission{
		ID:             domainsubmission.NewID(),
		FormID:         formID,
		OriginID:       originID,
		UUID:           uuid,
		Answers:        answers,
		Start:          now,
		End:            now,
		SubmissionTime: now,
	}
}

func TestCreateAndGetRoundTrip(t *testing.T) {
	repo := setupSubmissionRepository(t)
	ctx := context.Background()

	sub := remoteSubmission("form1", "100", "uuid-100", domainsubmission.Answers{"age": float64(34)})
	sub.ValidationStatus = domainsubmission.ValidationApproved
	sub.Geolocation = &domainsubmission.Geolocation{Lat: 52.52, Lon: 13.405}

	if err := repo.Create(ctx, sub); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := repo.Get(ctx, sub.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.OriginID != "100" || got.UUID != "uuid-100" {
		t.Fatalf("Get() identity = %+v", got)
	}
	if got.Answers["age"] != float64(34) {
		t.Fatalf("Get() answers = %v", got.Answers)
	}
	if got.ValidationStatus != domainsubmission.ValidationApproved {
		t.Fatalf("Get() validation = %s", got.ValidationStatus)
	}
	if got.Geolocation == nil || got.Geolocation.Lon != 13.405 {
		t.Fatalf("Get() geolocation = %v", got.Geolocation)
	}

	if _, err := repo.Get(ctx, "missing"); !errors.Is(err, ports.ErrSubmissionNotFound) {
		t.Fatalf("Get(missing) error = %v", err)
	}
}

func TestCreateManySkipDuplicates(t *testing.T) {
	repo := setupSubmissionRepository(t)
	ctx := context.Background()

	first := remoteSubmission("form1", "1", "uuid-1", domainsubmission.Answers{})
	if _, err := repo.CreateMany(ctx, []domainsubmission.Submission{first}, false); err != nil {
		t.Fatalf("CreateMany() error = %v", err)
	}

	again := remoteSubmission("form1", "1", "uuid-1b", domainsubmission.Answers{})
	fresh := remoteSubmission("form1", "2", "uuid-2", domainsubmission.Answers{})
	inserted, err := repo.CreateMany(ctx, []domainsubmission.Submission{again, fresh}, true)
	if err != nil {
		t.Fatalf("CreateMany(skip) error = %v", err)
	}
	if inserted != 1 {
		t.Fatalf("CreateMany(skip) inserted = %d, want 1", inserted)
	}

	// The original row is untouched.
	index, err := repo.SyncIndex(ctx, "form1")
	if err != nil {
		t.Fatalf("SyncIndex() error = %v", err)
	}
	if index["1"].UUID != "uuid-1" {
		t.Fatalf("duplicate insert overwrote row: %+v", index["1"])
	}
	if len(index) != 2 {
		t.Fatalf("SyncIndex() len = %d", len(index))
	}
}

func TestBulkSetAndRemoveAnswer(t *testing.T) {
	repo := setupSubmissionRepository(t)
	ctx := context.Background()

	a := remoteSubmission("form1", "1", "u1", domainsubmission.Answers{"city": "Berlin"})
	b := remoteSubmission("form1", "2", "u2", domainsubmission.Answers{"city": "Paris"})
	for _, sub := range []domainsubmission.Submission{a, b} {
		if err := repo.Create(ctx, sub); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	if err := repo.BulkSetAnswer(ctx, "form1", []string{a.ID, b.ID}, "status", "reviewed"); err != nil {
		t.Fatalf("BulkSetAnswer() error = %v", err)
	}
	got, err := repo.Get(ctx, a.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Answers["status"] != "reviewed" || got.Answers["city"] != "Berlin" {
		t.Fatalf("answers after set = %v", got.Answers)
	}

	if err := repo.BulkRemoveAnswer(ctx, "form1", []string{a.ID}, "city"); err != nil {
		t.Fatalf("BulkRemoveAnswer() error = %v", err)
	}
	got, err = repo.Get(ctx, a.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if _, ok := got.Answers["city"]; ok {
		t.Fatalf("removed key still present: %v", got.Answers)
	}

	if err := repo.BulkSetAnswer(ctx, "form1", []string{a.ID}, "_uuid", "x"); !errors.Is(err, domainsubmission.ErrUnsafeQuestionKey) {
		t.Fatalf("BulkSetAnswer(reserved key) error = %v", err)
	}
}

func TestBulkSetAnswerLastWriterWins(t *testing.T) {
	repo := setupSubmissionRepository(t)
	ctx := context.Background()

	a := remoteSubmission("form1", "1", "u1", domainsubmission.Answers{})
	b := remoteSubmission("form1", "2", "u2", domainsubmission.Answers{})
	c := remoteSubmission("form1", "3", "u3", domainsubmission.Answers{})
	for _, sub := range []domainsubmission.Submission{a, b, c} {
		if err := repo.Create(ctx, sub); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	// Overlapping updates resolve per row: the later write wins on the
	// shared row, rows outside the second set keep the earlier value.
	if err := repo.BulkSetAnswer(ctx, "form1", []string{a.ID, b.ID}, "status", "first"); err != nil {
		t.Fatalf("BulkSetAnswer(first) error = %v", err)
	}
	if err := repo.BulkSetAnswer(ctx, "form1", []string{b.ID, c.ID}, "status", "second"); err != nil {
		t.Fatalf("BulkSetAnswer(second) error = %v", err)
	}

	want := map[string]string{a.ID: "first", b.ID: "second", c.ID: "second"}
	for id, value := range want {
		got, err := repo.Get(ctx, id)
		if err != nil {
			t.Fatalf("Get(%s) error = %v", id, err)
		}
		if got.Answers["status"] != value {
			t.Fatalf("Get(%s) status = %v, want %s", id, got.Answers["status"], value)
		}
	}
}

func TestSoftDeleteHidesFromReads(t *testing.T) {
	repo := setupSubmissionRepository(t)
	ctx := context.Background()

	sub := remoteSubmission("form1", "1", "u1", domainsubmission.Answers{})
	if err := repo.Create(ctx, sub); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := repo.SoftDelete(ctx, "form1", []string{sub.ID}, "tester", time.Now().UTC()); err != nil {
		t.Fatalf("SoftDelete() error = %v", err)
	}

	if _, err := repo.Get(ctx, sub.ID); !errors.Is(err, ports.ErrSubmissionNotFound) {
		t.Fatalf("Get() after soft delete error = %v", err)
	}

	page, err := repo.Search(ctx, ports.SubmissionSearch{FormID: "form1"})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if page.Total != 0 || len(page.Items) != 0 {
		t.Fatalf("Search() after soft delete = %+v", page)
	}

	index, err := repo.SyncIndex(ctx, "form1")
	if err != nil {
		t.Fatalf("SyncIndex() error = %v", err)
	}
	if len(index) != 0 {
		t.Fatalf("SyncIndex() includes soft-deleted rows: %v", index)
	}
}

func TestSearchFiltersAndPagination(t *testing.T) {
	repo := setupSubmissionRepository(t)
	ctx := context.Background()

	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	cities := []string{"Berlin", "Paris", "Berlin", "Madrid"}
	for i, city := range cities {
		sub := remoteSubmission("form1", "", "", domainsubmission.Answers{"city": city})
		sub.OriginID = ""
		sub.SubmissionTime = base.Add(time.Duration(i) * 24 * time.Hour)
		if err := repo.Create(ctx, sub); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	page, err := repo.Search(ctx, ports.SubmissionSearch{
		FormID:  "form1",
		Filters: []ports.QuestionFilter{{Question: "city", Values: []string{"Berlin"}}},
	})
	if err != nil {
		t.Fatalf("Search(filter) error = %v", err)
	}
	if page.Total != 2 {
		t.Fatalf("Search(filter) total = %d, want 2", page.Total)
	}

	start := base.Add(36 * time.Hour)
	page, err = repo.Search(ctx, ports.SubmissionSearch{FormID: "form1", Start: &start})
	if err != nil {
		t.Fatalf("Search(range) error = %v", err)
	}
	if page.Total != 2 {
		t.Fatalf("Search(range) total = %d, want 2", page.Total)
	}

	page, err = repo.Search(ctx, ports.SubmissionSearch{FormID: "form1", Limit: 2, Offset: 2})
	if err != nil {
		t.Fatalf("Search(page) error = %v", err)
	}
	if page.Total != 4 || len(page.Items) != 2 {
		t.Fatalf("Search(page) total=%d items=%d", page.Total, len(page.Items))
	}

	// Empty value matches rows missing the answer.
	missing := remoteSubmission("form1", "", "", domainsubmission.Answers{"other": "x"})
	missing.OriginID = ""
	if err := repo.Create(ctx, missing); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	page, err = repo.Search(ctx, ports.SubmissionSearch{
		FormID:  "form1",
		Filters: []ports.QuestionFilter{{Question: "city", Values: []string{""}}},
	})
	if err != nil {
		t.Fatalf("Search(null) error = %v", err)
	}
	if page.Total != 1 {
		t.Fatalf("Search(null) total = %d, want 1", page.Total)
	}
}

func TestReconciliationWriteSurface(t *testing.T) {
	repo := setupSubmissionRepository(t)
	ctx := context.Background()

	sub := remoteSubmission("form1", "10", "uuid-old", domainsubmission.Answers{"q": "old"})
	if err := repo.Create(ctx, sub); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	clock := int64(1715500000)
	fresh := remoteSubmission("form1", "10", "uuid-new", domainsubmission.Answers{"q": "new"})
	fresh.ValidationStatus = domainsubmission.ValidationApproved
	fresh.LastValidatedTimestamp = &clock
	if err := repo.UpdateContentByOriginID(ctx, "form1", fresh); err != nil {
		t.Fatalf("UpdateContentByOriginID() error = %v", err)
	}

	got, err := repo.Get(ctx, sub.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.UUID != "uuid-new" || got.Answers["q"] != "new" {
		t.Fatalf("content update = %+v", got)
	}
	if got.ValidationStatus != domainsubmission.ValidationApproved || got.LastValidatedTimestamp == nil {
		t.Fatalf("content update must carry validation: %+v", got)
	}
	if got.ID != sub.ID {
		t.Fatalf("local id changed on content update")
	}

	laterClock := clock + 60
	if err := repo.UpdateValidationByOriginID(ctx, "form1", "10", domainsubmission.ValidationRejected, &laterClock); err != nil {
		t.Fatalf("UpdateValidationByOriginID() error = %v", err)
	}
	got, err = repo.Get(ctx, sub.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.ValidationStatus != domainsubmission.ValidationRejected || *got.LastValidatedTimestamp != laterClock {
		t.Fatalf("validation update = %+v", got)
	}

	if err := repo.SoftDeleteByOriginIDs(ctx, "form1", []string{"10"}, "system-sync-test", time.Now().UTC()); err != nil {
		t.Fatalf("SoftDeleteByOriginIDs() error = %v", err)
	}
	index, err := repo.SyncIndex(ctx, "form1")
	if err != nil {
		t.Fatalf("SyncIndex() error = %v", err)
	}
	if len(index) != 0 {
		t.Fatalf("SyncIndex() after origin delete = %v", index)
	}
}

func TestOriginIDsSkipsLocalRows(t *testing.T) {
	repo := setupSubmissionRepository(t)
	ctx := context.Background()

	mirrored := remoteSubmission("form1", "55", "u55", domainsubmission.Answers{})
	local := remoteSubmission("form1", "", "", domainsubmission.Answers{})
	local.OriginID = ""
	for _, sub := range []domainsubmission.Submission{mirrored, local} {
		if err := repo.Create(ctx, sub); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	ids, err := repo.OriginIDs(ctx, []string{mirrored.ID, local.ID})
	if err != nil {
		t.Fatalf("OriginIDs() error = %v", err)
	}
	if len(ids) != 1 || ids[0] != "55" {
		t.Fatalf("OriginIDs() = %v", ids)
	}
}
