package handlers

import (
	"net/http"

	"fieldops/internal/events"
	"fieldops/internal/services"

	"github.com/gin-gonic/gin"
)

// AutomationHandler exposes flow management, execution logs and event
// injection. Tenancy is resolved upstream; handlers take the organization
// id explicitly.
type AutomationHandler struct {
	flows      *services.FlowService
	dispatcher *services.Dispatcher
}

func NewAutomationHandler(flows *services.FlowService, dispatcher *services.Dispatcher) *AutomationHandler {
	return &AutomationHandler{flows: flows, dispatcher: dispatcher}
}

// ListFlows returns the organization's flows.
func (h *AutomationHandler) ListFlows(c *gin.Context) {
	orgID := c.Query("organization_id")
	if orgID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: "organization_id is required"})
		return
	}
	flows, err := h.flows.ListFlows(c.Request.Context(), orgID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to list flows", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, flows)
}

// GetFlow returns one flow.
func (h *AutomationHandler) GetFlow(c *gin.Context) {
	orgID := c.Query("organization_id")
	flow, err := h.flows.GetFlow(c.Request.Context(), orgID, c.Param("id"))
	if err != nil {
		status := http.StatusInternalServerError
		if err.Error() == "flow not found" {
			status = http.StatusNotFound
		}
		c.JSON(status, ErrorResponse{Error: "Failed to load flow", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, flow)
}

// CreateFlow stores a new flow definition.
func (h *AutomationHandler) CreateFlow(c *gin.Context) {
	var req services.FlowCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	flow, err := h.flows.CreateFlow(c.Request.Context(), &req)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Failed to create flow", Message: err.Error()})
		return
	}
	c.JSON(http.StatusCreated, flow)
}

type flowStatusRequest struct {
	OrganizationID string `json:"organization_id" binding:"required"`
	Status         string `json:"status" binding:"required"`
}

// SetFlowStatus activates, pauses or archives a flow.
func (h *AutomationHandler) SetFlowStatus(c *gin.Context) {
	var req flowStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	if err := h.flows.SetFlowStatus(c.Request.Context(), req.OrganizationID, c.Param("id"), req.Status); err != nil {
		status := http.StatusBadRequest
		if err.Error() == "flow not found" {
			status = http.StatusNotFound
		}
		c.JSON(status, ErrorResponse{Error: "Failed to update flow", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "updated"})
}

// DeleteFlow removes a flow definition.
func (h *AutomationHandler) DeleteFlow(c *gin.Context) {
	orgID := c.Query("organization_id")
	if err := h.flows.DeleteFlow(c.Request.Context(), orgID, c.Param("id")); err != nil {
		status := http.StatusInternalServerError
		if err.Error() == "flow not found" {
			status = http.StatusNotFound
		}
		c.JSON(status, ErrorResponse{Error: "Failed to delete flow", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "deleted"})
}

// ListLogs returns execution logs.
func (h *AutomationHandler) ListLogs(c *gin.Context) {
	var req services.LogListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	logs, err := h.flows.ListLogs(c.Request.Context(), &req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to list logs", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, logs)
}

// eventRequest is a caller-constructed event for injection.
type eventRequest struct {
	Type           string                 `json:"type" binding:"required"`
	Category       string                 `json:"category" binding:"required"`
	OrganizationID string                 `json:"organization_id" binding:"required"`
	UserID         string                 `json:"user_id"`
	EntityType     string                 `json:"entity_type"`
	EntityID       string                 `json:"entity_id"`
	Payload        map[string]interface{} `json:"payload"`
}

func (r *eventRequest) toEvent() events.Event {
	opts := []events.Option{}
	if r.UserID != "" {
		opts = append(opts, events.WithUser(r.UserID))
	}
	if r.EntityType != "" || r.EntityID != "" {
		opts = append(opts, events.WithEntity(r.EntityType, r.EntityID))
	}
	return events.New(events.Type(r.Type), events.Category(r.Category), r.OrganizationID, r.Payload, opts...)
}

// InjectEvent processes an event synchronously and returns the aggregate
// result. Intended for API callers that need confirmation.
func (h *AutomationHandler) InjectEvent(c *gin.Context) {
	var req eventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	result := h.dispatcher.DispatchAndWait(c.Request.Context(), req.toEvent())
	c.JSON(http.StatusOK, result)
}

// InjectEventAsync fires an event without waiting for automation results.
func (h *AutomationHandler) InjectEventAsync(c *gin.Context) {
	var req eventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	event := req.toEvent()
	h.dispatcher.Dispatch(event)
	c.JSON(http.StatusAccepted, SuccessResponse{Message: "accepted", Data: gin.H{"event_id": event.ID}})
}
