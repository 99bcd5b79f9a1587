package adapters

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"price_history/internal/feature/pricebars/domain"
	"price_history/internal/feature/pricebars/domain/entity"
	"price_history/internal/feature/pricebars/usecase"
)

// syncRunGorm stores run reports in the sync_runs table.
type syncRunGorm struct {
	db *gorm.DB
}

var _ usecase.RunRecorder = (*syncRunGorm)(nil)

// NewSyncRunRepository creates a run log repository.
func NewSyncRunRepository(db *gorm.DB) *syncRunGorm {
	return &syncRunGorm{db: db}
}

// SyncRunModel is one persisted run report.
type SyncRunModel struct {
	ID         string                 `gorm:"primaryKey;size:36"`
	StartedAt  time.Time              `gorm:"not null;index"`
	FinishedAt time.Time              `gorm:"not null"`
	Succeeded  int                    `gorm:"not null;default:0"`
	Skipped    int                    `gorm:"not null;default:0"`
	Failed     int                    `gorm:"not null;default:0"`
	Inserted   int                    `gorm:"not null;default:0"`
	Updated    int                    `gorm:"not null;default:0"`
	Outcomes   []entity.SymbolOutcome `gorm:"serializer:json;type:text"`
}

func (SyncRunModel) TableName() string {
	return "sync_runs"
}

// Record stores report.
func (r *syncRunGorm) Record(ctx context.Context, report entity.RunReport) error {
	m := SyncRunModel{
		ID:         report.RunID.String(),
		StartedAt:  report.StartedAt,
		FinishedAt: report.FinishedAt,
		Succeeded:  len(report.SucceededSymbols),
		Skipped:    len(report.SkippedSymbols),
		Failed:     len(report.FailedSymbols),
		Outcomes:   report.Outcomes,
	}
	for _, o := range report.Outcomes {
		m.Inserted += o.Inserted
		m.Updated += o.Updated
	}
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		return fmt.Errorf("%w: record sync run: %v", domain.ErrStorageUnavailable, err)
	}
	return nil
}

// ListRecent returns the latest runs, newest first.
func (r *syncRunGorm) ListRecent(ctx context.Context, limit int) ([]entity.RunReport, error) {
	var rows []SyncRunModel
	q := r.db.WithContext(ctx).Order("started_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("%w: list sync runs: %v", domain.ErrStorageUnavailable, err)
	}

	out := make([]entity.RunReport, 0, len(rows))
	for _, m := range rows {
		id, err := uuid.Parse(m.ID)
		if err != nil {
			return nil, fmt.Errorf("parse run id %q: %w", m.ID, err)
		}
		rep := entity.RunReport{
			RunID:      id,
			StartedAt:  m.StartedAt,
			FinishedAt: m.FinishedAt,
			Outcomes:   m.Outcomes,
		}
		rep.Summarize()
		out = append(out, rep)
	}
	return out, nil
}
