package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/gorm"

	domainsubmission "infoportal/internal/domain/submission"
	"infoportal/internal/errs"
	"infoportal/internal/infrastructure/persistence/sqlite/model"
	"infoportal/internal/ports"
)

type HistoryRepository struct {
	db *gorm.DB
}

func NewHistoryRepository(db *gorm.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

var _ ports.HistoryRepository = (*HistoryRepository)(nil)

func (r *HistoryRepository) dbFromContext(ctx context.Context) (*gorm.DB, error) {
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

func (r *HistoryRepository) Append(ctx context.Context, entry domainsubmission.HistoryEntry) error {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return err
	}

	ids, err := json.Marshal(entry.SubmissionIDs)
	if err != nil {
		return errs.Wrap(err, "encode submission ids")
	}

	row := model.FormSubmissionHistory{
		ID:            entry.ID,
		FormID:        entry.FormID,
		SubmissionIDs: string(ids),
		Type:          string(entry.Type),
		By:            entry.By,
		Date:          entry.Date,
	}
	if row.ID == "" {
		row.ID = domainsubmission.NewID()
	}
	if entry.Property != "" {
		row.Property = &entry.Property
	}
	if row.Property != nil {
		old, err := encodeHistoryValue(entry.OldValue)
		if err != nil {
			return err
		}
		updated, err := encodeHistoryValue(entry.NewValue)
		if err != nil {
			return err
		}
		row.OldValue = old
		row.NewValue = updated
	}

	if err := db.Create(&row).Error; err != nil {
		return errs.Wrap(err, "insert history entry")
	}
	return nil
}

func (r *HistoryRepository) Search(ctx context.Context, params ports.HistorySearch) (ports.HistoryPage, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return ports.HistoryPage{}, err
	}

	query := db.Model(&model.FormSubmissionHistory{}).Where("form_id = ?", params.FormID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return ports.HistoryPage{}, errs.Wrap(err, "count history entries")
	}

	query = query.Order("date desc")
	if params.Limit > 0 {
		query = query.Limit(params.Limit)
	}
	if params.Offset > 0 {
		query = query.Offset(params.Offset)
	}

	var rows []model.FormSubmissionHistory
	if err := query.Find(&rows).Error; err != nil {
		return ports.HistoryPage{}, errs.Wrap(err, "query history entries")
	}

	items := make([]domainsubmission.HistoryEntry, 0, len(rows))
	for _, row := range rows {
		item, err := mapHistoryRow(row)
		if err != nil {
			return ports.HistoryPage{}, err
		}
		items = append(items, item)
	}
	return ports.HistoryPage{Items: items, Total: total}, nil
}

func encodeHistoryValue(value any) (*string, error) {
	if value == nil {
		return nil, nil
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, errs.Wrap(err, "encode history value")
	}
	s := string(encoded)
	return &s, nil
}

func mapHistoryRow(row model.FormSubmissionHistory) (domainsubmission.HistoryEntry, error) {
	entry := domainsubmission.HistoryEntry{
		ID:     row.ID,
		FormID: row.FormID,
		Type:   domainsubmission.HistoryType(row.Type),
		By:     row.By,
		Date:   row.Date,
	}
	if err := json.Unmarshal([]byte(row.SubmissionIDs), &entry.SubmissionIDs); err != nil {
		return domainsubmission.HistoryEntry{}, errs.Wrapf(err, "decode submission ids of %s", row.ID)
	}
	if row.Property != nil {
		entry.Property = *row.Property
	}
	if row.OldValue != nil {
		if err := json.Unmarshal([]byte(*row.OldValue), &entry.OldValue); err != nil {
			return domainsubmission.HistoryEntry{}, errs.Wrapf(err, "decode old value of %s", row.ID)
		}
	}
	if row.NewValue != nil {
		if err := json.Unmarshal([]byte(*row.NewValue), &entry.NewValue); err != nil {
			return domainsubmission.HistoryEntry{}, errs.Wrapf(err, "decode new value of %s", row.ID)
		}
	}
	return entry, nil
}
