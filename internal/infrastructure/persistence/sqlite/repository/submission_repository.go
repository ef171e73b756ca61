package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	domainsubmission "infoportal/internal/domain/submission"
	"infoportal/internal/errs"
	"infoportal/internal/infrastructure/persistence/sqlite/model"
	"infoportal/internal/ports"
)

const defaultMaxBulkParams = 900

// Rough column count of a submission row, used to size insert batches under
// the bound-parameter ceiling.
const submissionColumns = 18

type SubmissionRepository struct {
	db            *gorm.DB
	maxBulkParams int
}

func NewSubmissionRepository(db *gorm.DB, maxBulkParams int) *SubmissionRepository {
	if maxBulkParams <= 0 {
		maxBulkParams = defaultMaxBulkParams
	}
	return &SubmissionRepository{db: db, maxBulkParams: maxBulkParams}
}

var _ ports.SubmissionRepository = (*SubmissionRepository)(nil)

func (r *SubmissionRepository) dbFromContext(ctx context.Context) (*gorm.DB, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}

	tx := ports.TxFromContext(ctx)
	if tx == nil {
		return r.db.WithContext(ctx), nil
	}

	gormTx, ok := tx.(*gorm.DB)
	if !ok || gormTx == nil {
		return nil, fmt.Errorf("invalid tx in context: %T", tx)
	}
	return gormTx.WithContext(ctx), nil
}

func (r *SubmissionRepository) chunks(ids []string) [][]string {
	size := r.maxBulkParams
	if size <= 0 {
		size = defaultMaxBulkParams
	}
	var out [][]string
	for len(ids) > size {
		out = append(out, ids[:size])
		ids = ids[size:]
	}
	if len(ids) > 0 {
		out = append(out, ids)
	}
	return out
}

func (r *SubmissionRepository) Search(ctx context.Context, params ports.SubmissionSearch) (ports.SubmissionPage, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return ports.SubmissionPage{}, err
	}

	query := db.Model(&model.FormSubmission{}).
		Where("form_id = ?", params.FormID).
		Where("deleted_at IS NULL")

	if params.Start != nil {
		query = query.Where("submission_time >= ?", *params.Start)
	}
	if params.End != nil {
		query = query.Where("submission_time < ?", *params.End)
	}

	for _, filter := range params.Filters {
		if err := domainsubmission.CheckQuestionKey(filter.Question); err != nil {
			return ports.SubmissionPage{}, errs.Wrapf(err, "filter on %q", filter.Question)
		}
		path := answerPath(filter.Question)

		// One filter matches when any of its values matches (union).
		sub := db.Session(&gorm.Session{NewDB: true})
		group := sub
		for i, value := range filter.Values {
			cond := sub.Session(&gorm.Session{NewDB: true})
			if value == "" {
				cond = cond.Where("json_extract(answers, ?) IS NULL", path)
			} else {
				cond = cond.Where("json_extract(answers, ?) LIKE ?", path, "%"+value+"%")
			}
			if i == 0 {
				group = cond
			} else {
				group = group.Or(cond)
			}
		}
		if len(filter.Values) > 0 {
			query = query.Where(group)
		}
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return ports.SubmissionPage{}, errs.Wrap(err, "count submissions")
	}

	query = query.Order("submission_time desc")
	if params.Limit > 0 {
		query = query.Limit(params.Limit)
	}
	if params.Offset > 0 {
		query = query.Offset(params.Offset)
	}

	var rows []model.FormSubmission
	if err := query.Find(&rows).Error; err != nil {
		return ports.SubmissionPage{}, errs.Wrap(err, "query submissions")
	}

	items := make([]domainsubmission.Submission, 0, len(rows))
	for _, row := range rows {
		item, err := mapSubmissionRow(row)
		if err != nil {
			return ports.SubmissionPage{}, err
		}
		items = append(items, item)
	}
	return ports.SubmissionPage{Items: items, Total: total}, nil
}

func (r *SubmissionRepository) Get(ctx context.Context, submissionID string) (domainsubmission.Submission, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return domainsubmission.Submission{}, err
	}

	var row model.FormSubmission
	if err := db.Where("id = ? AND deleted_at IS NULL", submissionID).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domainsubmission.Submission{}, ports.ErrSubmissionNotFound
		}
		return domainsubmission.Submission{}, errs.Wrap(err, "query submission")
	}
	return mapSubmissionRow(row)
}

func (r *SubmissionRepository) Create(ctx context.Context, sub domainsubmission.Submission) error {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return err
	}

	row, err := submissionToRow(sub)
	if err != nil {
		return err
	}
	if err := db.Create(&row).Error; err != nil {
		return errs.Wrap(err, "insert submission")
	}
	return nil
}

func (r *SubmissionRepository) CreateMany(ctx context.Context, subs []domainsubmission.Submission, skipDuplicates bool) (int64, error) {
	if len(subs) == 0 {
		return 0, nil
	}

	db, err := r.dbFromContext(ctx)
	if err != nil {
		return 0, err
	}

	rows := make([]model.FormSubmission, 0, len(subs))
	for _, sub := range subs {
		row, err := submissionToRow(sub)
		if err != nil {
			return 0, err
		}
		rows = append(rows, row)
	}

	if skipDuplicates {
		db = db.Clauses(clause.OnConflict{DoNothing: true})
	}

	batch := r.maxBulkParams / submissionColumns
	if batch < 1 {
		batch = 1
	}
	result := db.CreateInBatches(&rows, batch)
	if result.Error != nil {
		return 0, errs.Wrap(result.Error, "bulk insert submissions")
	}
	return result.RowsAffected, nil
}

func (r *SubmissionRepository) UpdateAnswers(ctx context.Context, submissionID string, answers domainsubmission.Answers) error {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return err
	}

	encoded, err := json.Marshal(answers)
	if err != nil {
		return errs.Wrap(err, "encode answers")
	}

	result := db.Model(&model.FormSubmission{}).
		Where("id = ?", submissionID).
		Update("answers", string(encoded))
	if result.Error != nil {
		return errs.Wrap(result.Error, "update answers")
	}
	if result.RowsAffected == 0 {
		return ports.ErrSubmissionNotFound
	}
	return nil
}

func (r *SubmissionRepository) BulkSetAnswer(ctx context.Context, formID string, submissionIDs []string, question string, value any) error {
	if err := domainsubmission.CheckQuestionKey(question); err != nil {
		return err
	}

	db, err := r.dbFromContext(ctx)
	if err != nil {
		return err
	}

	encoded, err := json.Marshal(value)
	if err != nil {
		return errs.Wrap(err, "encode answer value")
	}

	for _, chunk := range r.chunks(submissionIDs) {
		if err := db.Exec(
			"UPDATE form_submissions SET answers = json_set(answers, ?, json(?)) WHERE form_id = ? AND id IN ?",
			answerPath(question), string(encoded), formID, chunk,
		).Error; err != nil {
			return errs.Wrapf(err, "bulk set answer %s", question)
		}
	}
	return nil
}

func (r *SubmissionRepository) BulkRemoveAnswer(ctx context.Context, formID string, submissionIDs []string, question string) error {
	if err := domainsubmission.CheckQuestionKey(question); err != nil {
		return err
	}

	db, err := r.dbFromContext(ctx)
	if err != nil {
		return err
	}

	for _, chunk := range r.chunks(submissionIDs) {
		if err := db.Exec(
			"UPDATE form_submissions SET answers = json_remove(answers, ?) WHERE form_id = ? AND id IN ?",
			answerPath(question), formID, chunk,
		).Error; err != nil {
			return errs.Wrapf(err, "bulk remove answer %s", question)
		}
	}
	return nil
}

func (r *SubmissionRepository) BulkUpdateValidation(ctx context.Context, formID string, submissionIDs []string, status domainsubmission.Validation, end time.Time) error {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return err
	}

	for _, chunk := range r.chunks(submissionIDs) {
		if err := db.Model(&model.FormSubmission{}).
			Where("form_id = ? AND id IN ?", formID, chunk).
			Updates(map[string]any{
				"validation_status": string(status),
				"end":               end,
			}).Error; err != nil {
			return errs.Wrap(err, "bulk update validation")
		}
	}
	return nil
}

func (r *SubmissionRepository) SoftDelete(ctx context.Context, formID string, submissionIDs []string, by string, at time.Time) error {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return err
	}

	for _, chunk := range r.chunks(submissionIDs) {
		if err := db.Model(&model.FormSubmission{}).
			Where("form_id = ? AND id IN ?", formID, chunk).
			Updates(map[string]any{
				"deleted_at": at,
				"deleted_by": by,
			}).Error; err != nil {
			return errs.Wrap(err, "soft delete submissions")
		}
	}
	return nil
}

func (r *SubmissionRepository) SyncIndex(ctx context.Context, formID string) (map[string]ports.SyncRef, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var rows []struct {
		OriginID               string
		UUID                   string
		LastValidatedTimestamp *int64
	}
	if err := db.Model(&model.FormSubmission{}).
		Select("origin_id, uuid, last_validated_timestamp").
		Where("form_id = ? AND deleted_at IS NULL AND origin_id IS NOT NULL", formID).
		Find(&rows).Error; err != nil {
		return nil, errs.Wrap(err, "query sync index")
	}

	index := make(map[string]ports.SyncRef, len(rows))
	for _, row := range rows {
		index[row.OriginID] = ports.SyncRef{
			UUID:                   row.UUID,
			LastValidatedTimestamp: row.LastValidatedTimestamp,
		}
	}
	return index, nil
}

func (r *SubmissionRepository) SoftDeleteByOriginIDs(ctx context.Context, formID string, originIDs []string, by string, at time.Time) error {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return err
	}

	for _, chunk := range r.chunks(originIDs) {
		if err := db.Model(&model.FormSubmission{}).
			Where("form_id = ? AND origin_id IN ?", formID, chunk).
			Updates(map[string]any{
				"deleted_at": at,
				"deleted_by": by,
			}).Error; err != nil {
			return errs.Wrap(err, "soft delete by origin ids")
		}
	}
	return nil
}

func (r *SubmissionRepository) UpdateContentByOriginID(ctx context.Context, formID string, sub domainsubmission.Submission) error {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return err
	}

	answers, err := json.Marshal(sub.Answers)
	if err != nil {
		return errs.Wrap(err, "encode answers")
	}
	attachments, err := json.Marshal(sub.Attachments)
	if err != nil {
		return errs.Wrap(err, "encode attachments")
	}

	// A content update rewrites every remote-derived field, validation clock
	// included, so the validation phase can skip rows whose uuid changed.
	updates := map[string]any{
		"uuid":                     sub.UUID,
		"answers":                  string(answers),
		"attachments":              string(attachments),
		"start":                    sub.Start,
		"end":                      sub.End,
		"submission_time":          sub.SubmissionTime,
		"version":                  optional(sub.Version),
		"submitted_by":             optional(sub.SubmittedBy),
		"validation_status":        optional(string(sub.ValidationStatus)),
		"last_validated_timestamp": sub.LastValidatedTimestamp,
	}
	if sub.Geolocation != nil {
		encoded, err := json.Marshal([2]float64{sub.Geolocation.Lat, sub.Geolocation.Lon})
		if err != nil {
			return errs.Wrap(err, "encode geolocation")
		}
		updates["geolocation"] = string(encoded)
	} else {
		updates["geolocation"] = nil
	}

	if err := db.Model(&model.FormSubmission{}).
		Where("form_id = ? AND origin_id = ?", formID, sub.OriginID).
		Updates(updates).Error; err != nil {
		return errs.Wrap(err, "update content by origin id")
	}
	return nil
}

func (r *SubmissionRepository) UpdateValidationByOriginID(ctx context.Context, formID string, originID string, status domainsubmission.Validation, lastValidated *int64) error {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return err
	}

	var statusValue any
	if status != "" {
		statusValue = string(status)
	}

	if err := db.Model(&model.FormSubmission{}).
		Where("form_id = ? AND origin_id = ?", formID, originID).
		Updates(map[string]any{
			"validation_status":        statusValue,
			"last_validated_timestamp": lastValidated,
		}).Error; err != nil {
		return errs.Wrap(err, "update validation by origin id")
	}
	return nil
}

func (r *SubmissionRepository) OriginIDs(ctx context.Context, submissionIDs []string) ([]string, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var out []string
	for _, chunk := range r.chunks(submissionIDs) {
		var originIDs []string
		if err := db.Model(&model.FormSubmission{}).
			Where("id IN ? AND origin_id IS NOT NULL", chunk).
			Pluck("origin_id", &originIDs).Error; err != nil {
			return nil, errs.Wrap(err, "query origin ids")
		}
		out = append(out, originIDs...)
	}
	return out, nil
}

// answerPath builds the JSON path for one question key. Keys are validated
// before this point; quoting keeps dots literal.
func answerPath(question string) string {
	return `$."` + question + `"`
}

func submissionToRow(sub domainsubmission.Submission) (model.FormSubmission, error) {
	answers := sub.Answers
	if answers == nil {
		answers = domainsubmission.Answers{}
	}
	encodedAnswers, err := json.Marshal(answers)
	if err != nil {
		return model.FormSubmission{}, errs.Wrap(err, "encode answers")
	}

	attachments := sub.Attachments
	if attachments == nil {
		attachments = []domainsubmission.Attachment{}
	}
	encodedAttachments, err := json.Marshal(attachments)
	if err != nil {
		return model.FormSubmission{}, errs.Wrap(err, "encode attachments")
	}

	row := model.FormSubmission{
		ID:                     sub.ID,
		FormID:                 sub.FormID,
		UUID:                   sub.UUID,
		Answers:                string(encodedAnswers),
		Attachments:            string(encodedAttachments),
		Start:                  sub.Start,
		End:                    sub.End,
		SubmissionTime:         sub.SubmissionTime,
		LastValidatedTimestamp: sub.LastValidatedTimestamp,
		DeletedAt:              sub.DeletedAt,
	}
	if sub.OriginID != "" {
		row.OriginID = &sub.OriginID
	}
	if sub.Geolocation != nil {
		encoded, err := json.Marshal([2]float64{sub.Geolocation.Lat, sub.Geolocation.Lon})
		if err != nil {
			return model.FormSubmission{}, errs.Wrap(err, "encode geolocation")
		}
		geo := string(encoded)
		row.Geolocation = &geo
	}
	row.Version = optional(sub.Version)
	row.ISOCode = optional(sub.ISOCode)
	row.ValidationStatus = optional(string(sub.ValidationStatus))
	row.ValidatedBy = optional(sub.ValidatedBy)
	row.SubmittedBy = optional(sub.SubmittedBy)
	row.DeletedBy = optional(sub.DeletedBy)
	return row, nil
}

func mapSubmissionRow(row model.FormSubmission) (domainsubmission.Submission, error) {
	sub := domainsubmission.Submission{
		ID:                     row.ID,
		FormID:                 row.FormID,
		UUID:                   row.UUID,
		Start:                  row.Start,
		End:                    row.End,
		SubmissionTime:         row.SubmissionTime,
		LastValidatedTimestamp: row.LastValidatedTimestamp,
		DeletedAt:              row.DeletedAt,
	}
	if row.OriginID != nil {
		sub.OriginID = *row.OriginID
	}
	if err := json.Unmarshal([]byte(row.Answers), &sub.Answers); err != nil {
		return domainsubmission.Submission{}, errs.Wrapf(err, "decode answers of %s", row.ID)
	}
	if err := json.Unmarshal([]byte(row.Attachments), &sub.Attachments); err != nil {
		return domainsubmission.Submission{}, errs.Wrapf(err, "decode attachments of %s", row.ID)
	}
	if row.Geolocation != nil {
		var pair [2]float64
		if err := json.Unmarshal([]byte(*row.Geolocation), &pair); err != nil {
			return domainsubmission.Submission{}, errs.Wrapf(err, "decode geolocation of %s", row.ID)
		}
		sub.Geolocation = &domainsubmission.Geolocation{Lat: pair[0], Lon: pair[1]}
	}
	sub.Version = deref(row.Version)
	sub.ISOCode = deref(row.ISOCode)
	sub.ValidationStatus = domainsubmission.Validation(deref(row.ValidationStatus))
	sub.ValidatedBy = deref(row.ValidatedBy)
	sub.SubmittedBy = deref(row.SubmittedBy)
	sub.DeletedBy = deref(row.DeletedBy)
	return sub, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
