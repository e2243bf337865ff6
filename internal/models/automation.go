package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Flow statuses. Only active flows are matched against events.
const (
	FlowStatusActive   = "active"
	FlowStatusPaused   = "paused"
	FlowStatusArchived = "archived"
)

// Block types. The stored trigger block is metadata only and never executes.
const (
	BlockTypeTrigger   = "trigger"
	BlockTypeDelay     = "delay"
	BlockTypeCondition = "condition"
	BlockTypeAction    = "action"
)

// Automation log statuses.
const (
	LogStatusSuccess   = "success"
	LogStatusFailed    = "failed"
	LogStatusScheduled = "scheduled"
)

// AutomationFlow is an organization-authored automation: a trigger plus an
// ordered pipeline of blocks, stored as a JSON column.
type AutomationFlow struct {
	ID               string     `gorm:"primaryKey" json:"id"`
	OrganizationID   string     `gorm:"index" json:"organization_id"`
	Name             string     `gorm:"not null" json:"name"`
	Status           string     `gorm:"index;default:'active'" json:"status"`
	TriggerEvent     string     `gorm:"index;not null" json:"trigger_event"`
	TriggerCondition string     `json:"trigger_condition"` // optional "field=value"
	Blocks           string     `gorm:"type:text" json:"blocks"` // JSON: [{id,type,label,config}]
	RunCount         int64      `gorm:"default:0" json:"run_count"`
	LastRun          *time.Time `json:"last_run"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// FlowBlock is one pipeline step, decoded from the flow's Blocks column.
type FlowBlock struct {
	ID     string                 `json:"id"`
	Type   string                 `json:"type"`
	Label  string                 `json:"label"`
	Config map[string]interface{} `json:"config"`
}

// DecodeBlocks parses the JSON blocks column. An empty column yields an
// empty pipeline, not an error.
func (f *AutomationFlow) DecodeBlocks() ([]FlowBlock, error) {
	if f.Blocks == "" {
		return nil, nil
	}
	var blocks []FlowBlock
	if err := json.Unmarshal([]byte(f.Blocks), &blocks); err != nil {
		return nil, fmt.Errorf("decode blocks for flow %s: %w", f.ID, err)
	}
	return blocks, nil
}

// EncodeBlocks serializes a pipeline into the Blocks column.
func (f *AutomationFlow) EncodeBlocks(blocks []FlowBlock) error {
	raw, err := json.Marshal(blocks)
	if err != nil {
		return fmt.Errorf("encode blocks for flow %s: %w", f.ID, err)
	}
	f.Blocks = string(raw)
	return nil
}

// AutomationLog is the append-only record of one flow execution attempt.
// Scheduled entries additionally carry the resume point for the sweeper;
// ResumedAt is the only field ever written after creation.
type AutomationLog struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	FlowID         string     `gorm:"index" json:"flow_id"`
	OrganizationID string     `gorm:"index" json:"organization_id"`
	Status         string     `gorm:"index" json:"status"` // success, failed, scheduled
	TriggerData    string     `gorm:"type:text" json:"trigger_data"` // JSON event summary or deferred-continuation payload
	Result         string     `gorm:"type:text" json:"result"`       // JSON: trace logs + duration
	Error          string     `gorm:"type:text" json:"error"`
	ResumeBlock    int        `json:"resume_block"`
	ExecuteAt      *time.Time `gorm:"index" json:"execute_at"`
	ResumedAt      *time.Time `json:"resumed_at"`
	StartedAt      time.Time  `json:"started_at"`
	CompletedAt    time.Time  `json:"completed_at"`
	CreatedAt      time.Time  `json:"created_at"`
}
