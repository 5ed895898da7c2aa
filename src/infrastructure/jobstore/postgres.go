package jobstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PostgresStore persists jobs in PostgreSQL through gorm.
type PostgresStore struct {
	db *gorm.DB
}

func NewPostgresStore(db *gorm.DB) (*PostgresStore, error) {
	if err := db.AutoMigrate(&Job{}); err != nil {
		return nil, fmt.Errorf("failed to migrate jobs table: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Create(ctx context.Context, job *Job) (*Job, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = JobStatusPending
	}

	result := s.db.WithContext(ctx).Create(job)
	if result.Error != nil {
		return nil, result.Error
	}

	return job, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Job, error) {
	var job Job
	result := s.db.WithContext(ctx).First(&job, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, result.Error
	}

	return &job, nil
}

// Update applies the patch inside a transaction so concurrent readers see
// either the old record or the fully patched one, never a partial write.
// Unknown ids return ErrNotFound; a record is never created implicitly.
func (s *PostgresStore) Update(ctx context.Context, id string, patch Patch) (*Job, error) {
	var job Job
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.First(&job, "id = ?", id)
		if result.Error != nil {
			if errors.Is(result.Error, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return result.Error
		}

		if err := patch.apply(&job); err != nil {
			return err
		}

		return tx.Save(&job).Error
	})
	if err != nil {
		return nil, err
	}

	return &job, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) (bool, error) {
	result := s.db.WithContext(ctx).Delete(&Job{}, "id = ?", id)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (s *PostgresStore) List(ctx context.Context, filter Filter) ([]Job, error) {
	query := s.db.WithContext(ctx).Model(&Job{})
	if filter.JobType != "" {
		query = query.Where("job_type = ?", filter.JobType)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}

	var jobs []Job
	if err := query.Order("created_at").Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}
