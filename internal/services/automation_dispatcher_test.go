package services

import (
	"context"
	"testing"
	"time"

	"fieldops/internal/events"
	"fieldops/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestDispatchAndWait(t *testing.T) {
	db := newAutomationTestDB(t)
	engine := newTestEngine(db)
	d := NewDispatcher(engine, logrus.New(), 2, 16)
	defer d.Close()

	seedFlow(t, db, "org-1", "job.created", "", []models.FlowBlock{
		triggerBlock(),
		{ID: "b1", Type: models.BlockTypeAction, Label: "Audit", Config: map[string]interface{}{"action": "log_audit"}},
	})

	event := events.New(events.JobCreated, events.CategoryJob, "org-1", nil)
	result := d.DispatchAndWait(context.Background(), event)

	if result.FlowsMatched != 1 || result.FlowsExecuted != 1 {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestDispatch_ProcessesInBackground(t *testing.T) {
	db := newAutomationTestDB(t)
	engine := newTestEngine(db)
	d := NewDispatcher(engine, logrus.New(), 2, 16)

	flow := seedFlow(t, db, "org-1", "job.created", "", []models.FlowBlock{
		triggerBlock(),
		{ID: "b1", Type: models.BlockTypeAction, Label: "Audit", Config: map[string]interface{}{"action": "log_audit"}},
	})

	d.Dispatch(events.New(events.JobCreated, events.CategoryJob, "org-1", nil))
	d.Close() // drains the queue

	var count int64
	db.Model(&models.AutomationLog{}).Where("flow_id = ?", flow.ID).Count(&count)
	if count != 1 {
		t.Errorf("expected the dispatched event to run, got %d logs", count)
	}
}

func TestDispatch_NeverRaisesOnBrokenStore(t *testing.T) {
	// No migrated tables: every flow lookup fails.
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	engine := newTestEngine(db)
	d := NewDispatcher(engine, logrus.New(), 1, 4)
	defer d.Close()

	// Dispatch must swallow the failure; the caller sees nothing.
	d.Dispatch(events.New(events.JobCreated, events.CategoryJob, "org-1", nil))

	result := d.DispatchAndWait(context.Background(), events.New(events.JobCreated, events.CategoryJob, "org-1", nil))
	if len(result.Errors) == 0 {
		t.Error("expected the store failure in the synchronous result")
	}
}

func TestDispatch_DropsWhenSaturated(t *testing.T) {
	db := newAutomationTestDB(t)
	engine := newTestEngine(db)
	// Park the single worker on a slow event so the queue fills.
	engine.sleep = func(ctx context.Context, d time.Duration) { time.Sleep(50 * time.Millisecond) }

	seedFlow(t, db, "org-1", "job.created", "", []models.FlowBlock{
		triggerBlock(),
		{ID: "b1", Type: models.BlockTypeDelay, Label: "Wait", Config: map[string]interface{}{"delay_minutes": 1}},
	})

	d := NewDispatcher(engine, logrus.New(), 1, 1)
	defer d.Close()

	for i := 0; i < 10; i++ {
		d.Dispatch(events.New(events.JobCreated, events.CategoryJob, "org-1", nil))
	}
	if depth := d.QueueDepth(); depth > 1 {
		t.Errorf("queue depth %d exceeds capacity", depth)
	}
}

func TestDispatcher_CloseIsIdempotent(t *testing.T) {
	db := newAutomationTestDB(t)
	d := NewDispatcher(newTestEngine(db), logrus.New(), 1, 4)
	d.Close()
	d.Close() // must not panic
}
