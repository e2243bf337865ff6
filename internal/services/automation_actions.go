package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"fieldops/internal/models"
	"fieldops/pkg/mailer"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"gorm.io/gorm"
)

// ActionResult is the uniform executor return value. Expected failure
// modes (missing config, not-found entities, upstream rejects) come back
// as Success=false, never as panics.
type ActionResult struct {
	Success bool                   `json:"success"`
	Error   string                 `json:"error,omitempty"`
	Output  map[string]interface{} `json:"output,omitempty"`
}

func actionOK(output map[string]interface{}) ActionResult {
	return ActionResult{Success: true, Output: output}
}

func actionFail(format string, args ...interface{}) ActionResult {
	return ActionResult{Success: false, Error: fmt.Sprintf(format, args...)}
}

// ActionService executes the side effect requested by an action block.
type ActionService struct {
	db         *gorm.DB
	logger     *logrus.Logger
	mail       *mailer.Client
	httpClient *http.Client
}

func NewActionService(db *gorm.DB, logger *logrus.Logger, mail *mailer.Client) *ActionService {
	if logger == nil {
		logger = logrus.New()
	}
	return &ActionService{
		db:     db,
		logger: logger,
		mail:   mail,
		httpClient: &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// Execute dispatches to the named executor. Unknown action names are an
// expected failure, not a panic.
func (s *ActionService) Execute(ctx context.Context, actionType string, config map[string]interface{}, ec *ExecutionContext) ActionResult {
	switch actionType {
	case "send_email":
		return s.sendEmail(ctx, config, ec)
	case "send_notification", "create_notification":
		return s.sendNotification(ctx, config, ec)
	case "create_invoice":
		return s.createInvoice(ctx, config, ec)
	case "send_invoice":
		return s.sendInvoice(ctx, config, ec)
	case "update_job_status":
		return s.updateJobStatus(ctx, config, ec)
	case "assign_job":
		return s.assignJob(ctx, config, ec)
	case "create_task":
		return s.createTask(ctx, config, ec)
	case "send_webhook":
		return s.sendWebhook(ctx, config, ec)
	case "log_audit":
		return s.logAudit(ctx, config, ec)
	case "update_inventory":
		return s.updateInventory(ctx, config, ec)
	case "send_sms":
		return s.sendSMS(ctx, config, ec)
	default:
		return actionFail("unknown action type: %s", actionType)
	}
}

// configString reads a string key from block config.
func configString(config map[string]interface{}, key string) string {
	if config == nil {
		return ""
	}
	if v, ok := config[key]; ok {
		return Stringify(v)
	}
	return ""
}

// resolveJobID finds the job the action should target: explicit config
// first, then the run's variables, then the triggering entity itself.
func resolveJobID(config map[string]interface{}, ec *ExecutionContext) string {
	if id := configString(config, "job_id"); id != "" {
		return id
	}
	if v, ok := LookupPath(ec.Variables, "job_id"); ok {
		return Stringify(v)
	}
	if ec.Event.EntityType == "job" {
		return ec.Event.EntityID
	}
	return ""
}

func (s *ActionService) sendEmail(ctx context.Context, config map[string]interface{}, ec *ExecutionContext) ActionResult {
	if s.mail == nil || !s.mail.Enabled() {
		return actionFail("email provider is not configured")
	}

	to := Interpolate(configString(config, "to"), ec.Variables)
	if strings.Contains(to, "{{assignee_email}}") {
		email, err := s.lookupAssigneeEmail(ctx, ec)
		if err != nil {
			return actionFail("resolve assignee email: %v", err)
		}
		to = strings.ReplaceAll(to, "{{assignee_email}}", email)
	}
	if strings.Contains(to, "{{client_email}}") {
		email, err := s.lookupClientEmail(ctx, ec)
		if err != nil {
			return actionFail("resolve client email: %v", err)
		}
		to = strings.ReplaceAll(to, "{{client_email}}", email)
	}
	to = strings.TrimSpace(to)
	if to == "" || strings.Contains(to, "{{") {
		return actionFail("no email recipient resolved")
	}

	subject := Interpolate(configString(config, "subject"), ec.Variables)
	body := Interpolate(configString(config, "body"), ec.Variables)

	msg := &mailer.Message{To: to, Subject: subject, HTML: body}
	if err := s.mail.Send(ctx, msg); err != nil {
		return actionFail("send email: %v", err)
	}

	ec.Logf("Sent email to %s", to)
	return actionOK(map[string]interface{}{"email_to": to})
}

func (s *ActionService) lookupAssigneeEmail(ctx context.Context, ec *ExecutionContext) (string, error) {
	jobID := resolveJobID(nil, ec)
	if jobID == "" {
		return "", fmt.Errorf("no job in scope")
	}
	var job models.Job
	if err := s.db.WithContext(ctx).First(&job, "id = ?", jobID).Error; err != nil {
		return "", fmt.Errorf("job %s not found", jobID)
	}
	if job.AssigneeID == nil || *job.AssigneeID == "" {
		return "", fmt.Errorf("job %s has no assignee", jobID)
	}
	var profile models.Profile
	if err := s.db.WithContext(ctx).First(&profile, "user_id = ?", *job.AssigneeID).Error; err != nil {
		return "", fmt.Errorf("assignee profile not found")
	}
	if profile.Email == "" {
		return "", fmt.Errorf("assignee has no email")
	}
	return profile.Email, nil
}

func (s *ActionService) lookupClientEmail(ctx context.Context, ec *ExecutionContext) (string, error) {
	jobID := resolveJobID(nil, ec)
	if jobID == "" {
		return "", fmt.Errorf("no job in scope")
	}
	var job models.Job
	if err := s.db.WithContext(ctx).First(&job, "id = ?", jobID).Error; err != nil {
		return "", fmt.Errorf("job %s not found", jobID)
	}
	var client models.Client
	if err := s.db.WithContext(ctx).First(&client, "id = ?", job.ClientID).Error; err != nil {
		return "", fmt.Errorf("client not found")
	}
	if client.Email == "" {
		return "", fmt.Errorf("client has no email")
	}
	return client.Email, nil
}

func (s *ActionService) sendNotification(ctx context.Context, config map[string]interface{}, ec *ExecutionContext) ActionResult {
	title := Interpolate(configString(config, "title"), ec.Variables)
	if title == "" {
		return actionFail("notification title required")
	}
	body := Interpolate(configString(config, "body"), ec.Variables)
	severity := configString(config, "severity")
	if severity == "" {
		severity = "info"
	}

	var recipients []string
	if userID := configString(config, "user_id"); userID != "" {
		recipients = []string{userID}
	} else {
		// No explicit recipient: fan out to active owners and admins.
		var members []models.Member
		if err := s.db.WithContext(ctx).
			Where("organization_id = ? AND status = ? AND role IN ?",
				ec.Event.OrganizationID, "active", []string{"owner", "admin"}).
			Find(&members).Error; err != nil {
			return actionFail("load organization admins: %v", err)
		}
		for _, m := range members {
			recipients = append(recipients, m.UserID)
		}
	}
	if len(recipients) == 0 {
		return actionFail("no notification recipients")
	}

	now := time.Now()
	for _, userID := range recipients {
		notif := &models.Notification{
			OrganizationID: ec.Event.OrganizationID,
			UserID:         userID,
			Title:          title,
			Body:           body,
			Severity:       severity,
			CreatedAt:      now,
		}
		if err := s.db.WithContext(ctx).Create(notif).Error; err != nil {
			return actionFail("create notification: %v", err)
		}
	}

	ec.Logf("Notified %d member(s): %s", len(recipients), title)
	return actionOK(map[string]interface{}{"notified_count": len(recipients)})
}

func (s *ActionService) createInvoice(ctx context.Context, config map[string]interface{}, ec *ExecutionContext) ActionResult {
	jobID := resolveJobID(config, ec)
	if jobID == "" {
		return actionFail("no job in scope for invoice creation")
	}

	var job models.Job
	if err := s.db.WithContext(ctx).First(&job, "id = ?", jobID).Error; err != nil {
		return actionFail("job %s not found", jobID)
	}

	// Per-organization sequential display number.
	var last models.Invoice
	next := 1
	err := s.db.WithContext(ctx).
		Where("organization_id = ?", job.OrganizationID).
		Order("number DESC").
		First(&last).Error
	if err == nil {
		next = last.Number + 1
	} else if err != gorm.ErrRecordNotFound {
		return actionFail("load last invoice number: %v", err)
	}

	subtotal := job.Revenue
	tax := subtotal * 0.10
	now := time.Now()

	invoice := &models.Invoice{
		ID:             uuid.NewString(),
		OrganizationID: job.OrganizationID,
		JobID:          job.ID,
		ClientID:       job.ClientID,
		Number:         next,
		Status:         "draft",
		Subtotal:       subtotal,
		Tax:            tax,
		Total:          subtotal + tax,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.db.WithContext(ctx).Create(invoice).Error; err != nil {
		return actionFail("create invoice: %v", err)
	}

	item := &models.InvoiceItem{
		InvoiceID:   invoice.ID,
		Description: job.Title,
		Quantity:    1,
		UnitPrice:   subtotal,
		Amount:      subtotal,
		CreatedAt:   now,
	}
	if err := s.db.WithContext(ctx).Create(item).Error; err != nil {
		return actionFail("create invoice item: %v", err)
	}

	event := &models.InvoiceEvent{
		InvoiceID: invoice.ID,
		Kind:      "created",
		Note:      fmt.Sprintf("Created by automation %q", ec.Flow.Name),
		CreatedAt: now,
	}
	if err := s.db.WithContext(ctx).Create(event).Error; err != nil {
		return actionFail("create invoice event: %v", err)
	}

	ec.Logf("Created invoice #%d for job %s (total %.2f)", invoice.Number, job.ID, invoice.Total)
	return actionOK(map[string]interface{}{
		"invoice_id":     invoice.ID,
		"invoice_number": invoice.Number,
		"invoice_total":  invoice.Total,
	})
}

func (s *ActionService) sendInvoice(ctx context.Context, config map[string]interface{}, ec *ExecutionContext) ActionResult {
	invoiceID := configString(config, "invoice_id")
	if invoiceID == "" {
		if v, ok := LookupPath(ec.Variables, "invoice_id"); ok {
			invoiceID = Stringify(v)
		}
	}
	if invoiceID == "" {
		return actionFail("no invoice id resolved")
	}

	now := time.Now()
	result := s.db.WithContext(ctx).Model(&models.Invoice{}).
		Where("id = ?", invoiceID).
		Updates(map[string]interface{}{"status": "sent", "sent_at": now, "updated_at": now})
	if result.Error != nil {
		return actionFail("mark invoice sent: %v", result.Error)
	}
	if result.RowsAffected == 0 {
		return actionFail("invoice %s not found", invoiceID)
	}

	event := &models.InvoiceEvent{
		InvoiceID: invoiceID,
		Kind:      "sent",
		Note:      fmt.Sprintf("Sent by automation %q", ec.Flow.Name),
		CreatedAt: now,
	}
	if err := s.db.WithContext(ctx).Create(event).Error; err != nil {
		return actionFail("create invoice event: %v", err)
	}

	ec.Logf("Marked invoice %s as sent", invoiceID)
	return actionOK(map[string]interface{}{"invoice_id": invoiceID, "invoice_status": "sent"})
}

func (s *ActionService) updateJobStatus(ctx context.Context, config map[string]interface{}, ec *ExecutionContext) ActionResult {
	jobID := resolveJobID(config, ec)
	status := configString(config, "status")
	if jobID == "" || status == "" {
		return actionFail("job_id and status are required")
	}

	now := time.Now()
	result := s.db.WithContext(ctx).Model(&models.Job{}).
		Where("id = ?", jobID).
		Updates(map[string]interface{}{"status": status, "updated_at": now})
	if result.Error != nil {
		return actionFail("update job status: %v", result.Error)
	}
	if result.RowsAffected == 0 {
		return actionFail("job %s not found", jobID)
	}

	activity := &models.JobActivity{
		JobID:     jobID,
		Kind:      "automation",
		Note:      fmt.Sprintf("Status set to %q by automation %q", status, ec.Flow.Name),
		CreatedAt: now,
	}
	if err := s.db.WithContext(ctx).Create(activity).Error; err != nil {
		return actionFail("create job activity: %v", err)
	}

	ec.Logf("Updated job %s status to %s", jobID, status)
	return actionOK(map[string]interface{}{"job_id": jobID, "job_status": status})
}

func (s *ActionService) assignJob(ctx context.Context, config map[string]interface{}, ec *ExecutionContext) ActionResult {
	jobID := resolveJobID(config, ec)
	if jobID == "" {
		return actionFail("no job in scope for assignment")
	}

	now := time.Now()
	updates := map[string]interface{}{"updated_at": now}
	assigneeID := configString(config, "assignee_id")
	if assigneeID == "" {
		updates["assignee_id"] = nil // unassign
	} else {
		updates["assignee_id"] = assigneeID
	}

	result := s.db.WithContext(ctx).Model(&models.Job{}).Where("id = ?", jobID).Updates(updates)
	if result.Error != nil {
		return actionFail("assign job: %v", result.Error)
	}
	if result.RowsAffected == 0 {
		return actionFail("job %s not found", jobID)
	}

	note := "Unassigned by automation"
	if assigneeID != "" {
		note = fmt.Sprintf("Assigned to %s by automation %q", assigneeID, ec.Flow.Name)
	}
	activity := &models.JobActivity{JobID: jobID, Kind: "assignment", Note: note, CreatedAt: now}
	if err := s.db.WithContext(ctx).Create(activity).Error; err != nil {
		return actionFail("create job activity: %v", err)
	}

	ec.Logf("Assigned job %s to %q", jobID, assigneeID)
	return actionOK(map[string]interface{}{"job_id": jobID, "assignee_id": assigneeID})
}

func (s *ActionService) createTask(ctx context.Context, config map[string]interface{}, ec *ExecutionContext) ActionResult {
	jobID := resolveJobID(config, ec)
	if jobID == "" {
		return actionFail("no job in scope for task creation")
	}
	title := Interpolate(configString(config, "title"), ec.Variables)
	if title == "" {
		return actionFail("task title required")
	}

	task := &models.JobTask{
		JobID:     jobID,
		Title:     title,
		Done:      false,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(task).Error; err != nil {
		return actionFail("create task: %v", err)
	}

	ec.Logf("Created task %q on job %s", title, jobID)
	return actionOK(map[string]interface{}{"task_id": task.ID, "job_id": jobID})
}

// webhookEnvelope is the payload posted to caller-supplied URLs.
type webhookEnvelope struct {
	Event          string                 `json:"event"`
	EntityType     string                 `json:"entity_type,omitempty"`
	EntityID       string                 `json:"entity_id,omitempty"`
	OrganizationID string                 `json:"organization_id"`
	Payload        map[string]interface{} `json:"payload"`
	FlowName       string                 `json:"flow_name"`
	Timestamp      string                 `json:"timestamp"`
}

func (s *ActionService) sendWebhook(ctx context.Context, config map[string]interface{}, ec *ExecutionContext) ActionResult {
	url := Interpolate(configString(config, "url"), ec.Variables)
	if url == "" {
		return actionFail("webhook url required")
	}
	method := strings.ToUpper(configString(config, "method"))
	if method == "" {
		method = http.MethodPost
	}

	envelope := webhookEnvelope{
		Event:          string(ec.Event.Type),
		EntityType:     ec.Event.EntityType,
		EntityID:       ec.Event.EntityID,
		OrganizationID: ec.Event.OrganizationID,
		Payload:        ec.Event.Payload,
		FlowName:       ec.Flow.Name,
		Timestamp:      time.Now().UTC().Format(time.RFC3339),
	}
	bodyBytes, err := json.Marshal(envelope)
	if err != nil {
		return actionFail("marshal webhook payload: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return actionFail("create webhook request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-FieldOps-Flow", ec.Flow.ID)
	if headers, ok := config["headers"].(map[string]interface{}); ok {
		for k, v := range headers {
			req.Header.Set(k, Stringify(v))
		}
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return actionFail("send webhook: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return actionFail("webhook returned %d: %s", resp.StatusCode, string(raw))
	}

	ec.Logf("Webhook %s %s returned %d", method, url, resp.StatusCode)
	return actionOK(map[string]interface{}{"webhook_status": resp.StatusCode})
}

func (s *ActionService) logAudit(ctx context.Context, config map[string]interface{}, ec *ExecutionContext) ActionResult {
	action := configString(config, "action")
	if action == "" {
		action = "automation_run"
	}

	payload, _ := json.Marshal(ec.Event.Payload)
	entry := &models.AuditLog{
		OrganizationID: ec.Event.OrganizationID,
		Action:         action,
		EventType:      string(ec.Event.Type),
		FlowName:       ec.Flow.Name,
		Payload:        string(payload),
		CreatedAt:      time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return actionFail("create audit entry: %v", err)
	}

	ec.Logf("Audit entry recorded: %s", action)
	return actionOK(map[string]interface{}{"audit_id": entry.ID})
}

func (s *ActionService) updateInventory(ctx context.Context, config map[string]interface{}, ec *ExecutionContext) ActionResult {
	itemID := configString(config, "item_id")
	if itemID == "" {
		if v, ok := LookupPath(ec.Variables, "item_id"); ok {
			itemID = Stringify(v)
		}
	}
	if itemID == "" {
		return actionFail("no inventory item resolved")
	}

	delta, ok := ToFloat(config["quantity_change"])
	if !ok {
		return actionFail("quantity_change must be a number")
	}

	var item models.InventoryItem
	if err := s.db.WithContext(ctx).First(&item, "id = ?", itemID).Error; err != nil {
		return actionFail("inventory item %s not found", itemID)
	}

	item.Quantity += int(delta)
	switch {
	case item.Quantity <= 0:
		item.StockLevel = "critical"
	case item.Quantity < item.MinQuantity:
		item.StockLevel = "low"
	default:
		item.StockLevel = "ok"
	}
	item.UpdatedAt = time.Now()

	if err := s.db.WithContext(ctx).Save(&item).Error; err != nil {
		return actionFail("update inventory item: %v", err)
	}

	ec.Logf("Inventory %s adjusted by %d, now %d (%s)", item.Name, int(delta), item.Quantity, item.StockLevel)
	return actionOK(map[string]interface{}{
		"item_id":     item.ID,
		"quantity":    item.Quantity,
		"stock_level": item.StockLevel,
	})
}

func (s *ActionService) sendSMS(ctx context.Context, config map[string]interface{}, ec *ExecutionContext) ActionResult {
	to := Interpolate(configString(config, "to"), ec.Variables)
	if to == "" || strings.Contains(to, "{{") {
		if v, ok := LookupPath(ec.Variables, "client_phone"); ok {
			to = Stringify(v)
		} else {
			phone, err := s.lookupClientPhone(ctx, ec)
			if err != nil {
				return actionFail("no sms recipient resolved")
			}
			to = phone
		}
	}
	if to == "" {
		return actionFail("no sms recipient resolved")
	}

	message := Interpolate(configString(config, "message"), ec.Variables)

	// No SMS provider is wired yet; report a simulated delivery so flows
	// can be authored ahead of the integration.
	s.logger.Infof("automation sms (simulated) to %s: %s", to, message)
	ec.Logf("SMS (simulated) to %s", to)
	return actionOK(map[string]interface{}{"sms_to": to, "sms_simulated": true})
}

func (s *ActionService) lookupClientPhone(ctx context.Context, ec *ExecutionContext) (string, error) {
	jobID := resolveJobID(nil, ec)
	if jobID == "" {
		return "", fmt.Errorf("no job in scope")
	}
	var job models.Job
	if err := s.db.WithContext(ctx).First(&job, "id = ?", jobID).Error; err != nil {
		return "", fmt.Errorf("job not found")
	}
	var client models.Client
	if err := s.db.WithContext(ctx).First(&client, "id = ?", job.ClientID).Error; err != nil {
		return "", fmt.Errorf("client not found")
	}
	if client.Phone == "" {
		return "", fmt.Errorf("client has no phone")
	}
	return client.Phone, nil
}
