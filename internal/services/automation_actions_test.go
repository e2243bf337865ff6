package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"fieldops/internal/events"
	"fieldops/internal/models"
	"fieldops/pkg/mailer"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

func newTestActions(db *gorm.DB) *ActionService {
	return NewActionService(db, logrus.New(), nil)
}

func newTestMailer(t *testing.T, handler http.HandlerFunc) *mailer.Client {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return mailer.NewClient(&mailer.Config{
		BaseURL: srv.URL,
		APIKey:  "test-key",
		From:    "ops@fieldops.test",
	}, logrus.New())
}

func newExecContext(event events.Event) *ExecutionContext {
	return &ExecutionContext{
		Event:     event,
		Flow:      &models.AutomationFlow{ID: "flow-1", Name: "Test flow", OrganizationID: event.OrganizationID},
		Variables: buildVariables(event),
		StartedAt: time.Now(),
	}
}

func seedMember(t *testing.T, db *gorm.DB, id, orgID, userID, role, status string) {
	m := &models.Member{ID: id, OrganizationID: orgID, UserID: userID, Role: role, Status: status}
	if err := db.Create(m).Error; err != nil {
		t.Fatalf("seed member: %v", err)
	}
}

func TestExecute_UnknownAction(t *testing.T) {
	db := newAutomationTestDB(t)
	actions := newTestActions(db)

	ec := newExecContext(events.New(events.JobCreated, events.CategoryJob, "org-1", nil))
	result := actions.Execute(context.Background(), "launch_rocket", nil, ec)

	if result.Success {
		t.Fatal("unknown action should fail")
	}
	if !strings.Contains(result.Error, "unknown action type") {
		t.Errorf("unexpected error: %s", result.Error)
	}
}

func TestUpdateJobStatus(t *testing.T) {
	db := newAutomationTestDB(t)
	actions := newTestActions(db)
	seedJob(t, db, "org-1", "job-1", 100)

	event := events.NewJobCreated("org-1", "job-1", "client-1", "Fix water heater", "user-1")
	ec := newExecContext(event)

	result := actions.Execute(context.Background(), "update_job_status",
		map[string]interface{}{"action": "update_job_status", "status": "in_progress"}, ec)
	if !result.Success {
		t.Fatalf("unexpected failure: %s", result.Error)
	}

	var job models.Job
	db.First(&job, "id = ?", "job-1")
	if job.Status != "in_progress" {
		t.Errorf("job status = %s", job.Status)
	}

	var activity models.JobActivity
	if err := db.First(&activity, "job_id = ?", "job-1").Error; err != nil {
		t.Fatalf("activity not written: %v", err)
	}
	if activity.Kind != "automation" {
		t.Errorf("activity kind = %s", activity.Kind)
	}
}

func TestUpdateJobStatus_MissingJob(t *testing.T) {
	db := newAutomationTestDB(t)
	actions := newTestActions(db)

	ec := newExecContext(events.New(events.JobCreated, events.CategoryJob, "org-1",
		map[string]interface{}{"job_id": "job-missing"}))
	result := actions.Execute(context.Background(), "update_job_status",
		map[string]interface{}{"status": "done"}, ec)

	if result.Success {
		t.Fatal("expected failure for missing job")
	}
	if !strings.Contains(result.Error, "not found") {
		t.Errorf("unexpected error: %s", result.Error)
	}
}

func TestCreateInvoice_SequentialNumbersAndTax(t *testing.T) {
	db := newAutomationTestDB(t)
	actions := newTestActions(db)
	seedJob(t, db, "org-1", "job-1", 500)
	seedJob(t, db, "org-1", "job-2", 200)

	first := actions.Execute(context.Background(), "create_invoice", nil,
		newExecContext(events.NewJobCompleted("org-1", "job-1", 500, "user-1")))
	if !first.Success {
		t.Fatalf("first invoice: %s", first.Error)
	}
	second := actions.Execute(context.Background(), "create_invoice", nil,
		newExecContext(events.NewJobCompleted("org-1", "job-2", 200, "user-1")))
	if !second.Success {
		t.Fatalf("second invoice: %s", second.Error)
	}

	if first.Output["invoice_number"] != 1 || second.Output["invoice_number"] != 2 {
		t.Errorf("expected sequential numbers 1,2 got %v,%v",
			first.Output["invoice_number"], second.Output["invoice_number"])
	}

	var invoice models.Invoice
	db.First(&invoice, "job_id = ?", "job-1")
	if invoice.Subtotal != 500 || invoice.Tax != 50 || invoice.Total != 550 {
		t.Errorf("amounts wrong: subtotal=%f tax=%f total=%f", invoice.Subtotal, invoice.Tax, invoice.Total)
	}
	if invoice.Status != "draft" {
		t.Errorf("new invoice status = %s", invoice.Status)
	}

	var item models.InvoiceItem
	if err := db.First(&item, "invoice_id = ?", invoice.ID).Error; err != nil {
		t.Fatalf("line item not written: %v", err)
	}
	if item.Description != "Fix water heater" || item.Amount != 500 {
		t.Errorf("line item wrong: %+v", item)
	}

	var evt models.InvoiceEvent
	if err := db.First(&evt, "invoice_id = ? AND kind = ?", invoice.ID, "created").Error; err != nil {
		t.Fatalf("invoice event not written: %v", err)
	}
}

func TestSendInvoice_FromVariables(t *testing.T) {
	db := newAutomationTestDB(t)
	actions := newTestActions(db)
	seedJob(t, db, "org-1", "job-1", 500)

	ec := newExecContext(events.NewJobCompleted("org-1", "job-1", 500, "user-1"))
	created := actions.Execute(context.Background(), "create_invoice", nil, ec)
	if !created.Success {
		t.Fatalf("create invoice: %s", created.Error)
	}
	// Engine merges outputs into variables between blocks.
	for k, v := range created.Output {
		ec.Variables[k] = v
	}

	sent := actions.Execute(context.Background(), "send_invoice", nil, ec)
	if !sent.Success {
		t.Fatalf("send invoice: %s", sent.Error)
	}

	var invoice models.Invoice
	db.First(&invoice, "id = ?", created.Output["invoice_id"])
	if invoice.Status != "sent" {
		t.Errorf("invoice status = %s", invoice.Status)
	}
	if invoice.SentAt == nil {
		t.Error("sent_at not set")
	}
}

func TestSendInvoice_Unresolved(t *testing.T) {
	db := newAutomationTestDB(t)
	actions := newTestActions(db)

	ec := newExecContext(events.New(events.JobCompleted, events.CategoryJob, "org-1", nil))
	result := actions.Execute(context.Background(), "send_invoice", nil, ec)
	if result.Success {
		t.Fatal("expected failure with no invoice id in scope")
	}
}

func TestSendNotification_FanOut(t *testing.T) {
	db := newAutomationTestDB(t)
	actions := newTestActions(db)
	seedMember(t, db, "m1", "org-1", "user-owner", "owner", "active")
	seedMember(t, db, "m2", "org-1", "user-admin", "admin", "active")
	seedMember(t, db, "m3", "org-1", "user-tech", "member", "active")
	seedMember(t, db, "m4", "org-1", "user-gone", "admin", "disabled")
	seedMember(t, db, "m5", "org-2", "user-other", "owner", "active")

	event := events.New(events.InventoryLowStock, events.CategoryInventory, "org-1",
		map[string]interface{}{"item_name": "Copper pipe"})
	result := actions.Execute(context.Background(), "send_notification",
		map[string]interface{}{"title": "Low stock: {{item_name}}", "severity": "warning"},
		newExecContext(event))
	if !result.Success {
		t.Fatalf("notification failed: %s", result.Error)
	}
	if result.Output["notified_count"] != 2 {
		t.Errorf("expected 2 recipients, got %v", result.Output["notified_count"])
	}

	var notifs []models.Notification
	db.Find(&notifs)
	if len(notifs) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(notifs))
	}
	for _, n := range notifs {
		if n.Title != "Low stock: Copper pipe" {
			t.Errorf("title not interpolated: %s", n.Title)
		}
		if n.Severity != "warning" {
			t.Errorf("severity = %s", n.Severity)
		}
	}
}

func TestSendNotification_ExplicitRecipient(t *testing.T) {
	db := newAutomationTestDB(t)
	actions := newTestActions(db)

	event := events.New(events.JobAssigned, events.CategoryJob, "org-1", nil)
	result := actions.Execute(context.Background(), "send_notification",
		map[string]interface{}{"title": "You have a new job", "user_id": "user-9"},
		newExecContext(event))
	if !result.Success {
		t.Fatalf("notification failed: %s", result.Error)
	}

	var notif models.Notification
	db.First(&notif)
	if notif.UserID != "user-9" {
		t.Errorf("recipient = %s", notif.UserID)
	}
}

func TestAssignAndUnassignJob(t *testing.T) {
	db := newAutomationTestDB(t)
	actions := newTestActions(db)
	seedJob(t, db, "org-1", "job-1", 100)

	event := events.NewJobCreated("org-1", "job-1", "client-1", "Fix water heater", "user-1")

	assigned := actions.Execute(context.Background(), "assign_job",
		map[string]interface{}{"assignee_id": "user-tech"}, newExecContext(event))
	if !assigned.Success {
		t.Fatalf("assign: %s", assigned.Error)
	}
	var job models.Job
	db.First(&job, "id = ?", "job-1")
	if job.AssigneeID == nil || *job.AssigneeID != "user-tech" {
		t.Errorf("assignee = %v", job.AssigneeID)
	}

	unassigned := actions.Execute(context.Background(), "assign_job", nil, newExecContext(event))
	if !unassigned.Success {
		t.Fatalf("unassign: %s", unassigned.Error)
	}
	db.First(&job, "id = ?", "job-1")
	if job.AssigneeID != nil {
		t.Errorf("expected NULL assignee after unassign, got %v", *job.AssigneeID)
	}
}

func TestCreateTask(t *testing.T) {
	db := newAutomationTestDB(t)
	actions := newTestActions(db)
	seedJob(t, db, "org-1", "job-1", 100)

	event := events.NewJobCreated("org-1", "job-1", "client-1", "Fix water heater", "user-1")
	result := actions.Execute(context.Background(), "create_task",
		map[string]interface{}{"title": "Inspect {{title}}"}, newExecContext(event))
	if !result.Success {
		t.Fatalf("create task: %s", result.Error)
	}

	var task models.JobTask
	db.First(&task, "job_id = ?", "job-1")
	if task.Title != "Inspect Fix water heater" {
		t.Errorf("title not interpolated: %s", task.Title)
	}
	if task.Done {
		t.Error("new task should not be done")
	}
}

func TestSendWebhook(t *testing.T) {
	db := newAutomationTestDB(t)
	actions := newTestActions(db)

	var got webhookEnvelope
	var gotFlowHeader, gotCustomHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotFlowHeader = r.Header.Get("X-FieldOps-Flow")
		gotCustomHeader = r.Header.Get("X-Api-Key")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode webhook body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	event := events.NewJobCompleted("org-1", "job-1", 500, "user-1")
	result := actions.Execute(context.Background(), "send_webhook", map[string]interface{}{
		"url":     srv.URL,
		"headers": map[string]interface{}{"X-Api-Key": "secret"},
	}, newExecContext(event))
	if !result.Success {
		t.Fatalf("webhook: %s", result.Error)
	}
	if result.Output["webhook_status"] != http.StatusOK {
		t.Errorf("status output = %v", result.Output["webhook_status"])
	}

	if got.Event != "job.completed" || got.OrganizationID != "org-1" || got.FlowName != "Test flow" {
		t.Errorf("envelope wrong: %+v", got)
	}
	if got.EntityType != "job" || got.EntityID != "job-1" {
		t.Errorf("entity wrong: %+v", got)
	}
	if gotFlowHeader != "flow-1" {
		t.Errorf("flow header = %s", gotFlowHeader)
	}
	if gotCustomHeader != "secret" {
		t.Errorf("custom header = %s", gotCustomHeader)
	}
}

func TestSendWebhook_Non2xxFails(t *testing.T) {
	db := newAutomationTestDB(t)
	actions := newTestActions(db)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream rejected", http.StatusBadGateway)
	}))
	defer srv.Close()

	event := events.New(events.JobCreated, events.CategoryJob, "org-1", nil)
	result := actions.Execute(context.Background(), "send_webhook",
		map[string]interface{}{"url": srv.URL}, newExecContext(event))

	if result.Success {
		t.Fatal("expected non-2xx to fail")
	}
	if !strings.Contains(result.Error, "502") || !strings.Contains(result.Error, "upstream rejected") {
		t.Errorf("error should carry status and body: %s", result.Error)
	}
}

func TestSendEmail_NoProvider(t *testing.T) {
	db := newAutomationTestDB(t)
	actions := newTestActions(db) // nil mailer

	event := events.New(events.JobCreated, events.CategoryJob, "org-1", nil)
	result := actions.Execute(context.Background(), "send_email",
		map[string]interface{}{"to": "someone@example.com"}, newExecContext(event))

	if result.Success {
		t.Fatal("expected failure without a mail provider")
	}
	if !strings.Contains(result.Error, "not configured") {
		t.Errorf("unexpected error: %s", result.Error)
	}
}

func TestSendEmail_UnresolvedRecipientFailsClosed(t *testing.T) {
	db := newAutomationTestDB(t)
	mail := newTestMailer(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request should reach the provider")
	})
	actions := NewActionService(db, logrus.New(), mail)

	event := events.New(events.JobCreated, events.CategoryJob, "org-1", nil)
	result := actions.Execute(context.Background(), "send_email",
		map[string]interface{}{"to": "{{manager_email}}"}, newExecContext(event))

	if result.Success {
		t.Fatal("unresolved recipient must not send")
	}
}

func TestSendEmail_ClientEmailLookup(t *testing.T) {
	db := newAutomationTestDB(t)

	var sent mailer.Message
	mail := newTestMailer(t, func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&sent); err != nil {
			t.Errorf("decode mail body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"id":"email-1"}`))
	})
	actions := NewActionService(db, logrus.New(), mail)

	client := &models.Client{ID: "client-1", OrganizationID: "org-1", Name: "Acme", Email: "billing@acme.test"}
	if err := db.Create(client).Error; err != nil {
		t.Fatalf("seed client: %v", err)
	}
	seedJob(t, db, "org-1", "job-1", 100)

	event := events.NewJobCompleted("org-1", "job-1", 100, "user-1")
	result := actions.Execute(context.Background(), "send_email", map[string]interface{}{
		"to":      "{{client_email}}",
		"subject": "Your job is done",
	}, newExecContext(event))
	if !result.Success {
		t.Fatalf("send email: %s", result.Error)
	}
	if sent.To != "billing@acme.test" {
		t.Errorf("recipient = %v", sent.To)
	}
	if sent.Subject != "Your job is done" {
		t.Errorf("subject = %s", sent.Subject)
	}
	if sent.From != "ops@fieldops.test" {
		t.Errorf("from = %s", sent.From)
	}
	if result.Output["email_to"] != "billing@acme.test" {
		t.Errorf("output = %v", result.Output)
	}
}

func TestSendEmail_AssigneeEmailLookup(t *testing.T) {
	db := newAutomationTestDB(t)

	var sent mailer.Message
	mail := newTestMailer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&sent)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"id":"email-1"}`))
	})
	actions := NewActionService(db, logrus.New(), mail)

	profile := &models.Profile{UserID: "user-tech", Email: "tech@fieldops.test"}
	if err := db.Create(profile).Error; err != nil {
		t.Fatalf("seed profile: %v", err)
	}
	job := seedJob(t, db, "org-1", "job-1", 100)
	assignee := "user-tech"
	db.Model(job).Update("assignee_id", &assignee)

	event := events.NewJobAssigned("org-1", "job-1", "user-tech", "user-1")
	result := actions.Execute(context.Background(), "send_email",
		map[string]interface{}{"to": "{{assignee_email}}"}, newExecContext(event))
	if !result.Success {
		t.Fatalf("send email: %s", result.Error)
	}
	if sent.To != "tech@fieldops.test" {
		t.Errorf("recipient = %v", sent.To)
	}
}

func TestLogAudit_DefaultAction(t *testing.T) {
	db := newAutomationTestDB(t)
	actions := newTestActions(db)

	event := events.New(events.JobCompleted, events.CategoryJob, "org-1",
		map[string]interface{}{"job_id": "job-1"})
	result := actions.Execute(context.Background(), "log_audit", nil, newExecContext(event))
	if !result.Success {
		t.Fatalf("log audit: %s", result.Error)
	}

	var entry models.AuditLog
	db.First(&entry)
	if entry.Action != "automation_run" {
		t.Errorf("default action = %s", entry.Action)
	}
	if entry.EventType != "job.completed" || entry.FlowName != "Test flow" {
		t.Errorf("entry = %+v", entry)
	}
	if !strings.Contains(entry.Payload, "job-1") {
		t.Errorf("payload snapshot missing: %s", entry.Payload)
	}
}

func TestUpdateInventory_StockLevels(t *testing.T) {
	db := newAutomationTestDB(t)
	actions := newTestActions(db)

	item := &models.InventoryItem{ID: "item-1", OrganizationID: "org-1", Name: "Copper pipe",
		Quantity: 10, MinQuantity: 5, StockLevel: "ok"}
	if err := db.Create(item).Error; err != nil {
		t.Fatalf("seed item: %v", err)
	}

	event := events.New(events.SystemDaily, events.CategorySystem, "org-1", nil)

	steps := []struct {
		delta     float64
		wantQty   int
		wantLevel string
	}{
		{-4, 6, "ok"},
		{-3, 3, "low"},
		{-3, 0, "critical"},
		{12, 12, "ok"},
	}
	for _, step := range steps {
		result := actions.Execute(context.Background(), "update_inventory", map[string]interface{}{
			"item_id": "item-1", "quantity_change": step.delta,
		}, newExecContext(event))
		if !result.Success {
			t.Fatalf("update inventory: %s", result.Error)
		}
		var got models.InventoryItem
		db.First(&got, "id = ?", "item-1")
		if got.Quantity != step.wantQty || got.StockLevel != step.wantLevel {
			t.Errorf("after %+v: quantity=%d level=%s", step, got.Quantity, got.StockLevel)
		}
	}
}

func TestSendSMS_Simulated(t *testing.T) {
	db := newAutomationTestDB(t)
	actions := newTestActions(db)

	client := &models.Client{ID: "client-1", OrganizationID: "org-1", Name: "Acme", Phone: "+15550100"}
	if err := db.Create(client).Error; err != nil {
		t.Fatalf("seed client: %v", err)
	}
	seedJob(t, db, "org-1", "job-1", 100)

	event := events.NewJobCompleted("org-1", "job-1", 100, "user-1")
	result := actions.Execute(context.Background(), "send_sms",
		map[string]interface{}{"message": "Job done"}, newExecContext(event))
	if !result.Success {
		t.Fatalf("send sms: %s", result.Error)
	}
	if result.Output["sms_to"] != "+15550100" {
		t.Errorf("recipient = %v", result.Output["sms_to"])
	}
	if result.Output["sms_simulated"] != true {
		t.Error("expected simulated marker")
	}
}
