package models

import (
	"time"

	"gorm.io/gorm"
)

// Organization is the tenant boundary. Tenancy enforcement happens at the
// API layer; the automation engine runs with elevated access and scopes
// every query by organization id explicitly.
type Organization struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"not null" json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Member links a user to an organization with a role.
type Member struct {
	ID             string    `gorm:"primaryKey" json:"id"`
	OrganizationID string    `gorm:"index" json:"organization_id"`
	UserID         string    `gorm:"index" json:"user_id"`
	Role           string    `gorm:"default:'member'" json:"role"`   // owner, admin, member
	Status         string    `gorm:"default:'active'" json:"status"` // active, invited, disabled
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Profile carries the contact details for a user account.
type Profile struct {
	UserID    string    `gorm:"primaryKey" json:"user_id"`
	FullName  string    `json:"full_name"`
	Email     string    `gorm:"index" json:"email"`
	Phone     string    `json:"phone"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Client is a customer of the organization.
type Client struct {
	ID             string         `gorm:"primaryKey" json:"id"`
	OrganizationID string         `gorm:"index" json:"organization_id"`
	Name           string         `gorm:"not null" json:"name"`
	Email          string         `json:"email"`
	Phone          string         `json:"phone"`
	Address        string         `json:"address"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"-"`
}

// Job is a unit of field work.
type Job struct {
	ID             string         `gorm:"primaryKey" json:"id"`
	OrganizationID string         `gorm:"index" json:"organization_id"`
	ClientID       string         `gorm:"index" json:"client_id"`
	AssigneeID     *string        `gorm:"index" json:"assignee_id"`
	Title          string         `gorm:"not null" json:"title"`
	Description    string         `gorm:"type:text" json:"description"`
	Status         string         `gorm:"default:'scheduled'" json:"status"` // scheduled, in_progress, done, invoiced, cancelled
	Revenue        float64        `json:"revenue"`
	ScheduledFor   *time.Time     `json:"scheduled_for"`
	CompletedAt    *time.Time     `json:"completed_at"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"-"`

	Client   Client    `gorm:"foreignKey:ClientID" json:"client,omitempty"`
	Tasks    []JobTask `gorm:"foreignKey:JobID" json:"tasks,omitempty"`
	Activity []JobActivity `gorm:"foreignKey:JobID" json:"activity,omitempty"`
}

// JobActivity is an append-only feed entry on a job.
type JobActivity struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	JobID     string    `gorm:"index" json:"job_id"`
	UserID    string    `json:"user_id"`
	Kind      string    `json:"kind"` // status_change, assignment, note, automation
	Note      string    `gorm:"type:text" json:"note"`
	CreatedAt time.Time `json:"created_at"`
}

// JobTask is a subtask on a job.
type JobTask struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	JobID     string    `gorm:"index" json:"job_id"`
	Title     string    `gorm:"not null" json:"title"`
	Done      bool      `gorm:"default:false" json:"done"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Invoice is billed against a job.
type Invoice struct {
	ID             string     `gorm:"primaryKey" json:"id"`
	OrganizationID string     `gorm:"index" json:"organization_id"`
	JobID          string     `gorm:"index" json:"job_id"`
	ClientID       string     `gorm:"index" json:"client_id"`
	Number         int        `gorm:"index" json:"number"` // per-organization sequential display number
	Status         string     `gorm:"default:'draft'" json:"status"` // draft, sent, paid, overdue, void
	Subtotal       float64    `json:"subtotal"`
	Tax            float64    `json:"tax"`
	Total          float64    `json:"total"`
	DueDate        *time.Time `json:"due_date"`
	SentAt         *time.Time `json:"sent_at"`
	PaidAt         *time.Time `json:"paid_at"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`

	Items  []InvoiceItem  `gorm:"foreignKey:InvoiceID" json:"items,omitempty"`
	Events []InvoiceEvent `gorm:"foreignKey:InvoiceID" json:"events,omitempty"`
}

// InvoiceItem is one line on an invoice.
type InvoiceItem struct {
	ID          uint    `gorm:"primaryKey" json:"id"`
	InvoiceID   string  `gorm:"index" json:"invoice_id"`
	Description string  `json:"description"`
	Quantity    float64 `gorm:"default:1" json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
	Amount      float64 `json:"amount"`
	CreatedAt   time.Time `json:"created_at"`
}

// InvoiceEvent is an append-only timeline entry on an invoice.
type InvoiceEvent struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	InvoiceID string    `gorm:"index" json:"invoice_id"`
	Kind      string    `json:"kind"` // created, sent, paid, reminder
	Note      string    `json:"note"`
	CreatedAt time.Time `json:"created_at"`
}

// Notification is an in-app notification row.
type Notification struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	OrganizationID string    `gorm:"index" json:"organization_id"`
	UserID         string    `gorm:"index" json:"user_id"`
	Title          string    `gorm:"not null" json:"title"`
	Body           string    `gorm:"type:text" json:"body"`
	Severity       string    `gorm:"default:'info'" json:"severity"` // info, warning, critical
	Read           bool      `gorm:"default:false" json:"read"`
	CreatedAt      time.Time `json:"created_at"`
}

// InventoryItem is a stocked part or material.
type InventoryItem struct {
	ID             string    `gorm:"primaryKey" json:"id"`
	OrganizationID string    `gorm:"index" json:"organization_id"`
	Name           string    `gorm:"not null" json:"name"`
	SKU            string    `json:"sku"`
	Quantity       int       `json:"quantity"`
	MinQuantity    int       `gorm:"default:0" json:"min_quantity"`
	StockLevel     string    `gorm:"default:'ok'" json:"stock_level"` // ok, low, critical
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// AuditLog records automation activity for compliance review.
type AuditLog struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	OrganizationID string    `gorm:"index" json:"organization_id"`
	Action         string    `json:"action"`
	EventType      string    `json:"event_type"`
	FlowName       string    `json:"flow_name"`
	Payload        string    `gorm:"type:text" json:"payload"` // JSON snapshot of the triggering payload
	CreatedAt      time.Time `json:"created_at"`
}

// AllModels is the AutoMigrate set shared by cmd/server and cmd/migrate.
func AllModels() []interface{} {
	return []interface{}{
		&Organization{},
		&Member{},
		&Profile{},
		&Client{},
		&Job{},
		&JobActivity{},
		&JobTask{},
		&Invoice{},
		&InvoiceItem{},
		&InvoiceEvent{},
		&Notification{},
		&InventoryItem{},
		&AuditLog{},
		&AutomationFlow{},
		&AutomationLog{},
	}
}
