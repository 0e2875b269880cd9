package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"mailprobe/models"
	"mailprobe/utils"
	"mailprobe/verifier"
	"mailprobe/worker"
)

var ErrRunNotFound = errors.New("verification run not found")

// VerificationRepository persists run history. It observes the scheduler and
// writes each run once on start and once, with all results, on completion.
type VerificationRepository struct {
	DB *gorm.DB
}

func NewVerificationRepository(db *gorm.DB) *VerificationRepository {
	return &VerificationRepository{DB: db}
}

var _ worker.RunObserver = (*VerificationRepository)(nil)

func (r *VerificationRepository) RunStarted(run *worker.BatchRun) {
	startedAt := run.StartedAt
	row := models.VerificationRun{
		RunID:     run.ID,
		Status:    models.RunStatusProcessing,
		Total:     run.Total(),
		StartedAt: &startedAt,
	}
	if err := r.DB.Create(&row).Error; err != nil {
		utils.LogError("run_persist_failed", err, map[string]interface{}{"run_id": run.ID})
	}
}

// ResultRecorded is a no-op; results are written in one batch on completion.
func (r *VerificationRepository) ResultRecorded(*worker.BatchRun, verifier.Result) {}

func (r *VerificationRepository) RunCompleted(run *worker.BatchRun) {
	results := run.Results()
	update := summarize(results)
	update.Status = models.RunStatusCompleted
	completedAt := run.CompletedAt()
	update.CompletedAt = &completedAt

	// Use transaction for atomic updates
	err := r.DB.Transaction(func(tx *gorm.DB) error {
		var row models.VerificationRun
		if err := tx.Where("run_id = ?", run.ID).First(&row).Error; err != nil {
			return err
		}
		if err := tx.Model(&row).Updates(&update).Error; err != nil {
			return err
		}
		records := toRecords(row.ID, results)
		if len(records) == 0 {
			return nil
		}
		return tx.CreateInBatches(records, 100).Error
	})
	if err != nil {
		utils.LogError("run_persist_failed", err, map[string]interface{}{
			"run_id":  run.ID,
			"results": len(results),
		})
	}
}

// FindRun loads a run and its results by run ID.
func (r *VerificationRepository) FindRun(ctx context.Context, runID string) (*models.VerificationRun, error) {
	var run models.VerificationRun
	err := r.DB.WithContext(ctx).Preload("Records").Where("run_id = ?", runID).First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// RecentRuns lists the latest runs without their results.
func (r *VerificationRepository) RecentRuns(ctx context.Context, limit int) ([]models.VerificationRun, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var runs []models.VerificationRun
	err := r.DB.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&runs).Error
	return runs, err
}

func summarize(results []verifier.Result) models.VerificationRun {
	var run models.VerificationRun
	for _, result := range results {
		switch result.Severity {
		case verifier.SeveritySuccess:
			run.SuccessCount++
		case verifier.SeverityDanger:
			run.DangerCount++
		default:
			run.WarningCount++
		}
	}
	return run
}

func toRecords(runID uint, results []verifier.Result) []models.VerificationRecord {
	records := make([]models.VerificationRecord, 0, len(results))
	for _, result := range results {
		records = append(records, models.VerificationRecord{
			VerificationRunID: runID,
			Email:             result.Address,
			Status:            result.Category,
			Badge:             string(result.Severity),
			Icon:              result.Symbol,
		})
	}
	return records
}

// Elapsed is how long a stored run took, or has been running.
func Elapsed(run *models.VerificationRun, now time.Time) time.Duration {
	if run.StartedAt == nil {
		return 0
	}
	if run.CompletedAt != nil {
		return run.CompletedAt.Sub(*run.StartedAt)
	}
	return now.Sub(*run.StartedAt)
}
