package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jobrelay/sms-relay/internal/domain"
	"gorm.io/gorm"
)

// JobRepository is the durable job log port. All writes are best-effort from
// the orchestrator: a database outage is logged, never surfaced to callers.
type JobRepository interface {
	Create(ctx context.Context, job *domain.Job, status domain.DispatchStatus) error
	UpdateStatus(ctx context.Context, jobID string, status domain.DispatchStatus, acceptedByPhone *string) error
	GetByID(ctx context.Context, jobID string) (*JobModel, error)
}

type GormJobRepo struct {
	db *gorm.DB
}

func NewGormJobRepo(db *gorm.DB) *GormJobRepo {
	return &GormJobRepo{db: db}
}

func (r *GormJobRepo) Create(ctx context.Context, job *domain.Job, status domain.DispatchStatus) error {
	model := jobModelFromDomain(job, status)
	if model == nil {
		return fmt.Errorf("%w: job is required", domain.ErrValidation)
	}
	return r.db.WithContext(ctx).Create(model).Error
}

func (r *GormJobRepo) UpdateStatus(
	ctx context.Context,
	jobID string,
	status domain.DispatchStatus,
	acceptedByPhone *string,
) error {
	if strings.TrimSpace(jobID) == "" {
		return fmt.Errorf("%w: job id is required", domain.ErrValidation)
	}
	if !status.IsValid() {
		return fmt.Errorf("%w: invalid status %q", domain.ErrValidation, status)
	}

	updates := map[string]any{"status": status}
	if acceptedByPhone != nil {
		updates["accepted_by_phone"] = *acceptedByPhone
	}

	result := r.db.WithContext(ctx).
		Model(&JobModel{}).
		Where("id = ?", jobID).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: job %q", domain.ErrNotFound, jobID)
	}

	return nil
}

func (r *GormJobRepo) GetByID(ctx context.Context, jobID string) (*JobModel, error) {
	if strings.TrimSpace(jobID) == "" {
		return nil, fmt.Errorf("%w: job id is required", domain.ErrValidation)
	}

	var model JobModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", jobID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: job %q", domain.ErrNotFound, jobID)
		}
		return nil, err
	}

	return &model, nil
}
