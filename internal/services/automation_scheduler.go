package services

import (
	"context"
	"encoding/json"
	"time"

	"fieldops/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Scheduler resumes flow runs that a long delay block deferred. It
// periodically scans scheduled logs whose execute_at has passed and
// re-enters the flow at the recorded block index. ResumedAt is the only
// field it writes on an existing log; the resumed attempt gets its own
// log row like any other run.
type Scheduler struct {
	db       *gorm.DB
	logger   *logrus.Logger
	engine   *Engine
	interval time.Duration
}

func NewScheduler(db *gorm.DB, logger *logrus.Logger, engine *Engine, interval time.Duration) *Scheduler {
	if logger == nil {
		logger = logrus.New()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Scheduler{db: db, logger: logger, engine: engine, interval: interval}
}

// Run sweeps on a ticker until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep resumes every due deferred run once. Failures are isolated per
// entry; a broken log never blocks the rest of the scan.
func (s *Scheduler) Sweep(ctx context.Context) {
	now := time.Now()
	var due []models.AutomationLog
	if err := s.db.WithContext(ctx).
		Where("status = ? AND execute_at <= ? AND resumed_at IS NULL", models.LogStatusScheduled, now).
		Order("execute_at ASC").
		Find(&due).Error; err != nil {
		s.logger.Warnf("automation scheduler: scan failed: %v", err)
		return
	}

	for i := range due {
		s.resume(ctx, &due[i])
	}
}

func (s *Scheduler) resume(ctx context.Context, entry *models.AutomationLog) {
	// Claim before executing so overlapping sweeps don't double-run.
	now := time.Now()
	claim := s.db.WithContext(ctx).Model(&models.AutomationLog{}).
		Where("id = ? AND resumed_at IS NULL", entry.ID).
		Update("resumed_at", now)
	if claim.Error != nil {
		s.logger.Warnf("automation scheduler: claim log %d failed: %v", entry.ID, claim.Error)
		return
	}
	if claim.RowsAffected == 0 {
		return // someone else claimed it
	}

	var deferred deferredRun
	if err := json.Unmarshal([]byte(entry.TriggerData), &deferred); err != nil {
		s.logger.Warnf("automation scheduler: log %d has bad trigger data: %v", entry.ID, err)
		return
	}

	var flow models.AutomationFlow
	if err := s.db.WithContext(ctx).First(&flow, "id = ?", entry.FlowID).Error; err != nil {
		s.logger.Warnf("automation scheduler: flow %s for log %d not found: %v", entry.FlowID, entry.ID, err)
		return
	}
	if flow.Status != models.FlowStatusActive {
		s.logger.Infof("automation scheduler: flow %s no longer active, skipping resume", flow.ID)
		return
	}

	resumeBlock := entry.ResumeBlock
	if resumeBlock == 0 {
		resumeBlock = deferred.BlockIndex
	}

	if err := s.engine.executeFlow(ctx, &flow, deferred.Event, resumeBlock); err != nil {
		s.logger.Warnf("automation scheduler: resumed flow %q failed: %v", flow.Name, err)
		return
	}
	s.logger.Infof("automation scheduler: resumed flow %q at block %d", flow.Name, resumeBlock)
}
