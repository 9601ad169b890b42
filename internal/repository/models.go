package repository

import (
	"time"

	"github.com/jobrelay/sms-relay/internal/domain"
)

// JobModel is the persistence model for the jobs audit table. The in-memory
// tracker owns the live dispatch state; this table is a durable log of what
// happened to each intake.
type JobModel struct {
	ID              string `gorm:"type:varchar(64);primaryKey"`
	Location        string `gorm:"type:varchar(255);not null"`
	ClientName      string `gorm:"type:varchar(255)"`
	ClientPhone     string `gorm:"type:varchar(32)"`
	ServiceType     string `gorm:"type:varchar(255)"`
	Detail          string `gorm:"type:text"`
	Status          domain.DispatchStatus `gorm:"type:varchar(20);not null"`
	AcceptedByPhone *string               `gorm:"type:varchar(32)"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (JobModel) TableName() string {
	return "jobs"
}

// DispatchAttemptModel is the persistence model for dispatch_attempts.
type DispatchAttemptModel struct {
	ID               string  `gorm:"type:uuid;primaryKey"`
	JobID            string  `gorm:"type:varchar(64);not null"`
	ProviderName     string  `gorm:"type:varchar(255)"`
	ProviderPhone    string  `gorm:"type:varchar(32);not null"`
	CandidateIndex   int     `gorm:"not null"`
	GatewayMessageID *string `gorm:"type:varchar(255)"`
	Error            *string `gorm:"type:text"`
	CreatedAt        time.Time
}

func (DispatchAttemptModel) TableName() string {
	return "dispatch_attempts"
}

func jobModelFromDomain(job *domain.Job, status domain.DispatchStatus) *JobModel {
	if job == nil {
		return nil
	}

	return &JobModel{
		ID:          job.ID,
		Location:    job.Location,
		ClientName:  job.Details.ClientName,
		ClientPhone: job.Details.ClientPhone,
		ServiceType: job.Details.ServiceType,
		Detail:      job.Details.Summary(),
		Status:      status,
		CreatedAt:   job.CreatedAt,
	}
}

func attemptModelFromDomain(a *domain.DispatchAttempt) *DispatchAttemptModel {
	if a == nil {
		return nil
	}

	return &DispatchAttemptModel{
		ID:               a.ID,
		JobID:            a.JobID,
		ProviderName:     a.ProviderName,
		ProviderPhone:    a.ProviderPhone,
		CandidateIndex:   a.CandidateIndex,
		GatewayMessageID: a.GatewayMessageID,
		Error:            a.Error,
		CreatedAt:        a.CreatedAt,
	}
}
