package services

import (
	"context"
	"fmt"
	"time"

	"fieldops/internal/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// FlowService manages automation flow definitions and their logs. The
// flow builder UI talks to it through the HTTP handlers; the engine only
// reads what this service writes.
type FlowService struct {
	db     *gorm.DB
	logger *logrus.Logger
}

func NewFlowService(db *gorm.DB, logger *logrus.Logger) *FlowService {
	if logger == nil {
		logger = logrus.New()
	}
	return &FlowService{db: db, logger: logger}
}

// FlowCreateRequest carries a new flow definition.
type FlowCreateRequest struct {
	OrganizationID   string             `json:"organization_id" binding:"required"`
	Name             string             `json:"name" binding:"required"`
	TriggerEvent     string             `json:"trigger_event" binding:"required"`
	TriggerCondition string             `json:"trigger_condition"`
	Status           string             `json:"status"`
	Blocks           []models.FlowBlock `json:"blocks"`
}

// LogListRequest filters the execution log listing.
type LogListRequest struct {
	OrganizationID string `form:"organization_id" binding:"required"`
	FlowID         string `form:"flow_id"`
	Status         string `form:"status"`
	Limit          int    `form:"limit,default=50"`
}

// ListFlows returns the organization's flows, newest first.
func (s *FlowService) ListFlows(ctx context.Context, orgID string) ([]models.AutomationFlow, error) {
	var flows []models.AutomationFlow
	if err := s.db.WithContext(ctx).
		Where("organization_id = ?", orgID).
		Order("created_at DESC").
		Find(&flows).Error; err != nil {
		return nil, fmt.Errorf("failed to list flows: %w", err)
	}
	return flows, nil
}

// GetFlow loads one flow scoped to its organization.
func (s *FlowService) GetFlow(ctx context.Context, orgID, id string) (*models.AutomationFlow, error) {
	var flow models.AutomationFlow
	if err := s.db.WithContext(ctx).
		Where("id = ? AND organization_id = ?", id, orgID).
		First(&flow).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("flow not found")
		}
		return nil, fmt.Errorf("failed to load flow: %w", err)
	}
	return &flow, nil
}

// CreateFlow validates and stores a new flow definition. Invalid block
// configuration is rejected here, at the store boundary, rather than
// surfacing at run time inside an executor.
func (s *FlowService) CreateFlow(ctx context.Context, req *FlowCreateRequest) (*models.AutomationFlow, error) {
	if req == nil {
		return nil, fmt.Errorf("request required")
	}

	status := req.Status
	if status == "" {
		status = models.FlowStatusActive
	}
	switch status {
	case models.FlowStatusActive, models.FlowStatusPaused, models.FlowStatusArchived:
	default:
		return nil, fmt.Errorf("unsupported flow status: %s", status)
	}

	for i, block := range req.Blocks {
		switch block.Type {
		case models.BlockTypeTrigger, models.BlockTypeDelay, models.BlockTypeCondition:
		case models.BlockTypeAction:
			if configString(block.Config, "action") == "" {
				return nil, fmt.Errorf("block %d: action blocks require an action name", i)
			}
		default:
			return nil, fmt.Errorf("block %d: unsupported block type %q", i, block.Type)
		}
	}

	now := time.Now()
	flow := &models.AutomationFlow{
		ID:               uuid.NewString(),
		OrganizationID:   req.OrganizationID,
		Name:             req.Name,
		Status:           status,
		TriggerEvent:     req.TriggerEvent,
		TriggerCondition: req.TriggerCondition,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := flow.EncodeBlocks(req.Blocks); err != nil {
		return nil, err
	}

	if err := s.db.WithContext(ctx).Create(flow).Error; err != nil {
		return nil, fmt.Errorf("failed to create flow: %w", err)
	}
	return flow, nil
}

// SetFlowStatus activates, pauses or archives a flow.
func (s *FlowService) SetFlowStatus(ctx context.Context, orgID, id, status string) error {
	switch status {
	case models.FlowStatusActive, models.FlowStatusPaused, models.FlowStatusArchived:
	default:
		return fmt.Errorf("unsupported flow status: %s", status)
	}
	result := s.db.WithContext(ctx).Model(&models.AutomationFlow{}).
		Where("id = ? AND organization_id = ?", id, orgID).
		Updates(map[string]interface{}{"status": status, "updated_at": time.Now()})
	if result.Error != nil {
		return fmt.Errorf("failed to update flow: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("flow not found")
	}
	return nil
}

// DeleteFlow removes a flow definition. Its logs are kept for audit.
func (s *FlowService) DeleteFlow(ctx context.Context, orgID, id string) error {
	result := s.db.WithContext(ctx).
		Where("id = ? AND organization_id = ?", id, orgID).
		Delete(&models.AutomationFlow{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete flow: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("flow not found")
	}
	return nil
}

// ListLogs returns execution logs, newest first.
func (s *FlowService) ListLogs(ctx context.Context, req *LogListRequest) ([]models.AutomationLog, error) {
	if req.Limit <= 0 || req.Limit > 200 {
		req.Limit = 50
	}
	query := s.db.WithContext(ctx).
		Where("organization_id = ?", req.OrganizationID)
	if req.FlowID != "" {
		query = query.Where("flow_id = ?", req.FlowID)
	}
	if req.Status != "" {
		query = query.Where("status = ?", req.Status)
	}

	var logs []models.AutomationLog
	if err := query.Order("created_at DESC").Limit(req.Limit).Find(&logs).Error; err != nil {
		return nil, fmt.Errorf("failed to list logs: %w", err)
	}
	return logs, nil
}
