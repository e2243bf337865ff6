// Package events defines the closed vocabulary of domain events the
// automation engine reacts to, and the single construction path every
// call site funnels through.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Type identifies what happened.
type Type string

const (
	JobCreated      Type = "job.created"
	JobStatusChange Type = "job.status_change"
	JobAssigned     Type = "job.assigned"
	JobCompleted    Type = "job.completed"

	InvoiceCreated Type = "invoice.created"
	InvoiceSent    Type = "invoice.sent"
	InvoicePaid    Type = "invoice.paid"
	InvoiceOverdue Type = "invoice.overdue"

	ClientCreated Type = "client.created"

	ScheduleReminder Type = "schedule.reminder"

	InventoryLowStock Type = "inventory.low_stock"

	FormSubmitted Type = "form.submitted"

	TeamMemberAdded Type = "team.member_added"

	SystemDaily Type = "system.daily"
)

// Category is the coarse grouping used for filtering and display.
type Category string

const (
	CategoryJob       Category = "job"
	CategoryClient    Category = "client"
	CategoryInvoice   Category = "invoice"
	CategorySchedule  Category = "schedule"
	CategoryInventory Category = "inventory"
	CategoryForm      Category = "form"
	CategoryTeam      Category = "team"
	CategorySystem    Category = "system"
)

// Event is an immutable fact describing something that happened in the
// product. It is constructed once and never mutated; the engine copies
// the payload into each flow run's variable set.
type Event struct {
	ID             string                 `json:"id"`
	Type           Type                   `json:"type"`
	Category       Category               `json:"category"`
	OrganizationID string                 `json:"organization_id"`
	UserID         string                 `json:"user_id,omitempty"`
	EntityType     string                 `json:"entity_type,omitempty"`
	EntityID       string                 `json:"entity_id,omitempty"`
	Payload        map[string]interface{} `json:"payload"`
	Metadata       map[string]string      `json:"metadata,omitempty"`
	Timestamp      time.Time              `json:"timestamp"`
}

// Option customizes an event during construction.
type Option func(*Event)

func WithUser(userID string) Option {
	return func(e *Event) { e.UserID = userID }
}

func WithEntity(entityType, entityID string) Option {
	return func(e *Event) {
		e.EntityType = entityType
		e.EntityID = entityID
	}
}

func WithMetadata(md map[string]string) Option {
	return func(e *Event) { e.Metadata = md }
}

// New builds an event. It always succeeds; type safety comes from the
// constants above, not runtime checks — call sites are trusted internal
// code.
func New(t Type, cat Category, orgID string, payload map[string]interface{}, opts ...Option) Event {
	if payload == nil {
		payload = map[string]interface{}{}
	}
	e := Event{
		ID:             uuid.NewString(),
		Type:           t,
		Category:       cat,
		OrganizationID: orgID,
		Payload:        payload,
		Timestamp:      time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(&e)
	}
	return e
}

// Named factories below exist for call-site ergonomics only; they all
// funnel through New.

func NewJobCreated(orgID, jobID, clientID, title, userID string) Event {
	return New(JobCreated, CategoryJob, orgID, map[string]interface{}{
		"job_id":    jobID,
		"client_id": clientID,
		"title":     title,
	}, WithUser(userID), WithEntity("job", jobID))
}

func NewJobStatusChange(orgID, jobID, oldStatus, newStatus, userID string) Event {
	return New(JobStatusChange, CategoryJob, orgID, map[string]interface{}{
		"job_id":     jobID,
		"old_status": oldStatus,
		"status":     newStatus,
	}, WithUser(userID), WithEntity("job", jobID))
}

func NewJobAssigned(orgID, jobID, assigneeID, userID string) Event {
	return New(JobAssigned, CategoryJob, orgID, map[string]interface{}{
		"job_id":      jobID,
		"assignee_id": assigneeID,
	}, WithUser(userID), WithEntity("job", jobID))
}

func NewJobCompleted(orgID, jobID string, revenue float64, userID string) Event {
	return New(JobCompleted, CategoryJob, orgID, map[string]interface{}{
		"job_id":  jobID,
		"status":  "done",
		"revenue": revenue,
	}, WithUser(userID), WithEntity("job", jobID))
}

func NewInvoicePaid(orgID, invoiceID string, amount float64) Event {
	return New(InvoicePaid, CategoryInvoice, orgID, map[string]interface{}{
		"invoice_id": invoiceID,
		"amount":     amount,
	}, WithEntity("invoice", invoiceID))
}

func NewInvoiceOverdue(orgID, invoiceID string, daysOverdue int) Event {
	return New(InvoiceOverdue, CategoryInvoice, orgID, map[string]interface{}{
		"invoice_id":   invoiceID,
		"days_overdue": daysOverdue,
	}, WithEntity("invoice", invoiceID))
}

func NewClientCreated(orgID, clientID, name, email string) Event {
	return New(ClientCreated, CategoryClient, orgID, map[string]interface{}{
		"client_id":    clientID,
		"client_name":  name,
		"client_email": email,
	}, WithEntity("client", clientID))
}

func NewInventoryLowStock(orgID, itemID, name string, quantity, minQuantity int) Event {
	return New(InventoryLowStock, CategoryInventory, orgID, map[string]interface{}{
		"item_id":      itemID,
		"item_name":    name,
		"quantity":     quantity,
		"min_quantity": minQuantity,
	}, WithEntity("inventory_item", itemID))
}

func NewFormSubmitted(orgID, formID, jobID string, fields map[string]interface{}) Event {
	payload := map[string]interface{}{
		"form_id": formID,
		"job_id":  jobID,
	}
	for k, v := range fields {
		payload[k] = v
	}
	return New(FormSubmitted, CategoryForm, orgID, payload, WithEntity("form", formID))
}

func NewTeamMemberAdded(orgID, memberID, role string) Event {
	return New(TeamMemberAdded, CategoryTeam, orgID, map[string]interface{}{
		"member_id": memberID,
		"role":      role,
	}, WithEntity("member", memberID))
}
