package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/jobrelay/sms-relay/internal/repository"
	"gorm.io/gorm"
)

func Migrate(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID: "000001_create_jobs",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.JobModel{}); err != nil {
					return err
				}
				indexes := []string{
					`CREATE INDEX IF NOT EXISTS idx_jobs_status_created ON jobs (status, created_at)`,
					`CREATE INDEX IF NOT EXISTS idx_jobs_location ON jobs (location)`,
				}
				for _, sql := range indexes {
					if err := tx.Exec(sql).Error; err != nil {
						return err
					}
				}
				return nil
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.JobModel{})
			},
		},
		{
			ID: "000002_create_dispatch_attempts",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.DispatchAttemptModel{}); err != nil {
					return err
				}
				return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_dispatch_attempts_job_id ON dispatch_attempts (job_id)`).Error
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.DispatchAttemptModel{})
			},
		},
	})

	return m.Migrate()
}
