package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"infoportal/internal/errs"
	"infoportal/internal/infrastructure/persistence/sqlite/model"
	"infoportal/internal/ports"
)

type FormRepository struct {
	db *gorm.DB
}

func NewFormRepository(db *gorm.DB) *FormRepository {
	return &FormRepository{db: db}
}

var _ ports.FormRepository = (*FormRepository)(nil)

func (r *FormRepository) dbFromContext(ctx context.Context) (*gorm.DB, error) {
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

func (r *FormRepository) Get(ctx context.Context, formID string) (ports.Form, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return ports.Form{}, err
	}

	var row model.Form
	if err := db.Where("id = ?", formID).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ports.Form{}, ports.ErrFormNotFound
		}
		return ports.Form{}, errs.Wrap(err, "query form")
	}

	form := ports.Form{
		ID:          row.ID,
		WorkspaceID: row.WorkspaceID,
		Name:        row.Name,
		UpdatedAt:   row.UpdatedAt,
	}
	if row.DeploymentStatus != nil {
		form.DeploymentStatus = *row.DeploymentStatus
	}
	if row.UpdatedBy != nil {
		form.UpdatedBy = *row.UpdatedBy
	}
	return form, nil
}

func (r *FormRepository) ActiveVersion(ctx context.Context, formID string) (string, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return "", err
	}

	var row model.FormVersion
	err = db.Where("form_id = ? AND status = ?", formID, "active").
		Order("version desc").
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", errs.Wrap(err, "query active form version")
	}
	return fmt.Sprintf("%d", row.Version), nil
}

func (r *FormRepository) KoboLink(ctx context.Context, formID string) (ports.KoboLink, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return ports.KoboLink{}, err
	}

	var row model.FormKoboLink
	if err := db.Where("form_id = ?", formID).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ports.KoboLink{}, ports.ErrFormNotLinked
		}
		return ports.KoboLink{}, errs.Wrap(err, "query kobo link")
	}
	return mapLinkRow(row), nil
}

func (r *FormRepository) LinkedForms(ctx context.Context) ([]ports.KoboLink, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var rows []model.FormKoboLink
	if err := db.Order("form_id").Find(&rows).Error; err != nil {
		return nil, errs.Wrap(err, "query kobo links")
	}

	links := make([]ports.KoboLink, 0, len(rows))
	for _, row := range rows {
		links = append(links, mapLinkRow(row))
	}
	return links, nil
}

func (r *FormRepository) LinksByKoboID(ctx context.Context, koboFormID string) ([]ports.KoboLink, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var rows []model.FormKoboLink
	if err := db.Where("kobo_form_id = ?", koboFormID).Find(&rows).Error; err != nil {
		return nil, errs.Wrap(err, "query kobo links by remote id")
	}

	links := make([]ports.KoboLink, 0, len(rows))
	for _, row := range rows {
		links = append(links, mapLinkRow(row))
	}
	return links, nil
}

func (r *FormRepository) TouchSynced(ctx context.Context, formID string, by string, at time.Time) error {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return err
	}

	result := db.Model(&model.Form{}).
		Where("id = ?", formID).
		Updates(map[string]any{
			"updated_at": at,
			"updated_by": by,
		})
	if result.Error != nil {
		return errs.Wrap(result.Error, "touch form sync marker")
	}
	if result.RowsAffected == 0 {
		return ports.ErrFormNotFound
	}
	return nil
}

func (r *FormRepository) UpdateFormInfo(ctx context.Context, formID string, name string, deploymentStatus string) error {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return err
	}

	updates := map[string]any{}
	if name != "" {
		updates["name"] = name
	}
	if deploymentStatus != "" {
		updates["deployment_status"] = deploymentStatus
	}
	if len(updates) == 0 {
		return nil
	}

	if err := db.Model(&model.Form{}).Where("id = ?", formID).Updates(updates).Error; err != nil {
		return errs.Wrap(err, "update form info")
	}
	return nil
}

func (r *FormRepository) UpdateLinkEnketoURL(ctx context.Context, koboFormID string, enketoURL string) error {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return err
	}

	if err := db.Model(&model.FormKoboLink{}).
		Where("kobo_form_id = ?", koboFormID).
		Update("enketo_url", enketoURL).Error; err != nil {
		return errs.Wrap(err, "update enketo url")
	}
	return nil
}

func mapLinkRow(row model.FormKoboLink) ports.KoboLink {
	link := ports.KoboLink{
		FormID:     row.FormID,
		Account:    row.Account,
		KoboFormID: row.KoboFormID,
	}
	if row.EnketoURL != nil {
		link.EnketoURL = *row.EnketoURL
	}
	return link
}
