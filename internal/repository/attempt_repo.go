package repository

import (
	"context"
	"fmt"

	"github.com/jobrelay/sms-relay/internal/domain"
	"gorm.io/gorm"
)

// AttemptRepository records every outbound job-offer SMS for audit.
type AttemptRepository interface {
	Create(ctx context.Context, attempt *domain.DispatchAttempt) error
}

type GormAttemptRepo struct {
	db *gorm.DB
}

func NewGormAttemptRepo(db *gorm.DB) *GormAttemptRepo {
	return &GormAttemptRepo{db: db}
}

func (r *GormAttemptRepo) Create(ctx context.Context, attempt *domain.DispatchAttempt) error {
	model := attemptModelFromDomain(attempt)
	if model == nil {
		return fmt.Errorf("%w: attempt is required", domain.ErrValidation)
	}
	return r.db.WithContext(ctx).Create(model).Error
}
