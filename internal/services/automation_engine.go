package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"fieldops/internal/events"
	"fieldops/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// deferThreshold is the delay length at which a flow run stops waiting
// in-process and writes a scheduled log for the sweeper instead.
const deferThreshold = 5 * time.Minute

// ExecutionContext is the transient per-run state. It is owned by exactly
// one flow execution and never persisted directly.
type ExecutionContext struct {
	Event     events.Event
	Flow      *models.AutomationFlow
	Variables map[string]interface{}
	Logs      []string
	StartedAt time.Time
}

// Logf appends a human-readable trace line to the run.
func (ec *ExecutionContext) Logf(format string, args ...interface{}) {
	ec.Logs = append(ec.Logs, fmt.Sprintf(format, args...))
}

// ProcessResult is the aggregate outcome of one event's evaluation.
type ProcessResult struct {
	FlowsMatched  int      `json:"flows_matched"`
	FlowsExecuted int      `json:"flows_executed"`
	Errors        []string `json:"errors,omitempty"`
}

// RunSummary is published to the live feed after each flow run.
type RunSummary struct {
	FlowID         string        `json:"flow_id"`
	FlowName       string        `json:"flow_name"`
	OrganizationID string        `json:"organization_id"`
	EventType      string        `json:"event_type"`
	Status         string        `json:"status"`
	Error          string        `json:"error,omitempty"`
	Duration       time.Duration `json:"duration_ms"`
	Timestamp      time.Time     `json:"timestamp"`
}

// RunPublisher receives run summaries. Implemented by the live feed hub;
// may be nil.
type RunPublisher interface {
	PublishRun(RunSummary)
}

// Engine turns one event into zero or more flow runs.
type Engine struct {
	db            *gorm.DB
	logger        *logrus.Logger
	actions       *ActionService
	feed          RunPublisher
	actionTimeout time.Duration

	// sleep is swapped out in tests so short in-process delays don't
	// actually block the suite.
	sleep func(ctx context.Context, d time.Duration)
}

func NewEngine(db *gorm.DB, logger *logrus.Logger, actions *ActionService) *Engine {
	if logger == nil {
		logger = logrus.New()
	}
	return &Engine{
		db:            db,
		logger:        logger,
		actions:       actions,
		actionTimeout: 30 * time.Second,
		sleep:         sleepCtx,
	}
}

// SetFeed attaches an optional live feed publisher.
func (e *Engine) SetFeed(feed RunPublisher) {
	e.feed = feed
}

// SetActionTimeout bounds each action executor call.
func (e *Engine) SetActionTimeout(d time.Duration) {
	if d > 0 {
		e.actionTimeout = d
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}

// ProcessEvent loads the organization's active flows, matches triggers and
// executes each match independently. It never returns an error to the
// caller: store failures and per-flow failures surface in the result's
// error list only.
func (e *Engine) ProcessEvent(ctx context.Context, event events.Event) *ProcessResult {
	result := &ProcessResult{}

	var flows []models.AutomationFlow
	if err := e.db.WithContext(ctx).
		Where("organization_id = ? AND status = ?", event.OrganizationID, models.FlowStatusActive).
		Find(&flows).Error; err != nil {
		e.logger.Warnf("automation: load flows failed: %v", err)
		result.Errors = append(result.Errors, fmt.Sprintf("load flows: %v", err))
		return result
	}

	for i := range flows {
		flow := &flows[i]
		if !e.matchesTrigger(flow, event) {
			continue
		}
		result.FlowsMatched++

		if err := e.executeFlow(ctx, flow, event, 0); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("flow %q: %v", flow.Name, err))
			continue
		}
		result.FlowsExecuted++
	}

	return result
}

// matchesTrigger checks the flow's trigger event type and, when present,
// its single "field=value" payload condition. Equality is the only
// operator at the trigger level.
func (e *Engine) matchesTrigger(flow *models.AutomationFlow, event events.Event) bool {
	if flow.TriggerEvent != string(event.Type) {
		return false
	}
	cond := strings.TrimSpace(flow.TriggerCondition)
	if cond == "" {
		return true
	}
	field, want, found := strings.Cut(cond, "=")
	if !found {
		e.logger.Warnf("automation: flow %s has malformed trigger condition %q", flow.ID, cond)
		return false
	}
	got, ok := LookupPath(event.Payload, strings.TrimSpace(field))
	if !ok {
		return false
	}
	return Stringify(got) == strings.TrimSpace(want)
}

// blockOutcome drives the pipeline state machine.
type blockOutcome int

const (
	outcomeContinue blockOutcome = iota // proceed to the next block
	outcomeHalt                         // stop the chain without error
	outcomeError                        // stop the chain, record the error
)

// executeFlow runs the flow's pipeline starting at startIndex (0 means a
// fresh run; the sweeper passes the recorded resume point). Exactly one
// log row is written per attempt and the flow's counters are bumped
// regardless of outcome. Panics inside blocks are contained and recorded
// as that flow's own failure.
func (e *Engine) executeFlow(ctx context.Context, flow *models.AutomationFlow, event events.Event, startIndex int) (runErr error) {
	ec := &ExecutionContext{
		Event:     event,
		Flow:      flow,
		Variables: buildVariables(event),
		StartedAt: time.Now(),
	}
	if startIndex > 0 {
		ec.Logf("Resuming flow at block %d", startIndex)
	}

	defer func() {
		if r := recover(); r != nil {
			runErr = fmt.Errorf("panic: %v", r)
			ec.Logf("Run aborted: %v", runErr)
		}
		e.finishRun(flow, event, ec, runErr)
	}()

	blocks, err := flow.DecodeBlocks()
	if err != nil {
		return err
	}

	for i := startIndex; i < len(blocks); i++ {
		block := blocks[i]
		// The first stored block describes the trigger; it never executes.
		if i == 0 || block.Type == models.BlockTypeTrigger {
			continue
		}

		var outcome blockOutcome
		switch block.Type {
		case models.BlockTypeDelay:
			outcome, err = e.runDelayBlock(ctx, flow, event, blocks, i, ec)
		case models.BlockTypeCondition:
			outcome = e.runConditionBlock(block, ec)
		case models.BlockTypeAction:
			outcome, err = e.runActionBlock(ctx, block, ec)
		default:
			ec.Logf("Skipping unknown block type %q", block.Type)
			outcome = outcomeContinue
		}

		if outcome == outcomeError {
			return err
		}
		if outcome == outcomeHalt {
			return nil
		}
	}

	return nil
}

// buildVariables seeds the run's variable set with a shallow copy of the
// event payload plus the event's own metadata fields.
func buildVariables(event events.Event) map[string]interface{} {
	vars := make(map[string]interface{}, len(event.Payload)+6)
	for k, v := range event.Payload {
		vars[k] = v
	}
	vars["event_type"] = string(event.Type)
	vars["entity_id"] = event.EntityID
	vars["entity_type"] = event.EntityType
	vars["organization_id"] = event.OrganizationID
	vars["user_id"] = event.UserID
	vars["timestamp"] = event.Timestamp.Format(time.RFC3339)
	return vars
}

func (e *Engine) runDelayBlock(ctx context.Context, flow *models.AutomationFlow, event events.Event, blocks []models.FlowBlock, index int, ec *ExecutionContext) (blockOutcome, error) {
	cfg := blocks[index].Config
	minutes, _ := ToFloat(cfg["delay_minutes"])
	hours, _ := ToFloat(cfg["delay_hours"])
	days, _ := ToFloat(cfg["delay_days"])
	total := time.Duration(minutes+hours*60+days*24*60) * time.Minute

	if total <= 0 {
		ec.Logf("Delay block has no duration, continuing")
		return outcomeContinue, nil
	}

	if total < deferThreshold {
		ec.Logf("Waiting %s in-process", total)
		e.sleep(ctx, total)
		return outcomeContinue, nil
	}

	// Long delays are deferred: record the resume point and halt. The
	// scheduled-run sweeper picks the log up once execute_at has passed.
	executeAt := time.Now().Add(total)
	if err := e.writeScheduledLog(ctx, flow, event, index+1, executeAt); err != nil {
		return outcomeError, fmt.Errorf("schedule deferred run: %w", err)
	}
	ec.Logf("Deferred %s, resuming at block %d around %s", total, index+1, executeAt.Format(time.RFC3339))
	return outcomeHalt, nil
}

// deferredRun is the scheduled log's trigger_data payload.
type deferredRun struct {
	Event      events.Event `json:"event"`
	BlockIndex int          `json:"block_index"`
	ExecuteAt  time.Time    `json:"execute_at"`
}

func (e *Engine) writeScheduledLog(ctx context.Context, flow *models.AutomationFlow, event events.Event, resumeBlock int, executeAt time.Time) error {
	payload, err := json.Marshal(deferredRun{Event: event, BlockIndex: resumeBlock, ExecuteAt: executeAt})
	if err != nil {
		return err
	}
	now := time.Now()
	log := &models.AutomationLog{
		FlowID:         flow.ID,
		OrganizationID: flow.OrganizationID,
		Status:         models.LogStatusScheduled,
		TriggerData:    string(payload),
		ResumeBlock:    resumeBlock,
		ExecuteAt:      &executeAt,
		StartedAt:      now,
		CompletedAt:    now,
		CreatedAt:      now,
	}
	return e.db.WithContext(ctx).Create(log).Error
}

func (e *Engine) runConditionBlock(block models.FlowBlock, ec *ExecutionContext) blockOutcome {
	field := configString(block.Config, "field")
	operator := configString(block.Config, "operator")
	want := block.Config["value"]

	actual, exists := LookupPath(ec.Variables, field)
	pass := evaluateCondition(operator, actual, exists, want)

	verdict := "FAIL"
	if pass {
		verdict = "PASS"
	}
	ec.Logf("Condition %s: %s %s %v (actual=%v)", verdict, field, operator, want, actual)

	if pass {
		return outcomeContinue
	}
	return outcomeHalt
}

func evaluateCondition(operator string, actual interface{}, exists bool, want interface{}) bool {
	switch operator {
	case "equals", "eq":
		return exists && Stringify(actual) == Stringify(want)
	case "not_equals", "neq":
		return !exists || Stringify(actual) != Stringify(want)
	case "contains":
		return exists && strings.Contains(Stringify(actual), Stringify(want))
	case "greater_than", "gt":
		a, aok := ToFloat(actual)
		b, bok := ToFloat(want)
		return aok && bok && a > b
	case "less_than", "lt":
		a, aok := ToFloat(actual)
		b, bok := ToFloat(want)
		return aok && bok && a < b
	case "exists":
		return exists
	case "not_exists":
		return !exists
	default:
		// Unknown operators pass rather than silently killing the flow.
		return true
	}
}

func (e *Engine) runActionBlock(ctx context.Context, block models.FlowBlock, ec *ExecutionContext) (blockOutcome, error) {
	actionType := configString(block.Config, "action")
	if actionType == "" {
		return outcomeError, fmt.Errorf("action block %q has no action", block.Label)
	}

	actionCtx, cancel := context.WithTimeout(ctx, e.actionTimeout)
	defer cancel()

	result := e.actions.Execute(actionCtx, actionType, block.Config, ec)
	if !result.Success {
		msg := result.Error
		if msg == "" {
			msg = fmt.Sprintf("action %s failed", actionType)
		}
		return outcomeError, fmt.Errorf("%s", msg)
	}

	// Expose the action's output to later blocks and templates.
	for k, v := range result.Output {
		ec.Variables[k] = v
	}
	return outcomeContinue, nil
}

// runResult is the log row's result column payload.
type runResult struct {
	Logs       []string `json:"logs"`
	DurationMS int64    `json:"duration_ms"`
}

// finishRun writes the attempt's log row, bumps the flow counters and
// publishes a feed summary. Halted runs (condition not met, delay
// deferred) are recorded as success; only real errors mark a run failed.
func (e *Engine) finishRun(flow *models.AutomationFlow, event events.Event, ec *ExecutionContext, runErr error) {
	// The run outcome must be persisted even when the inbound context was
	// cancelled, so writes here use the background context.
	ctx := context.Background()
	completed := time.Now()

	status := models.LogStatusSuccess
	errMsg := ""
	if runErr != nil {
		status = models.LogStatusFailed
		errMsg = runErr.Error()
	}

	triggerData, _ := json.Marshal(map[string]interface{}{
		"event_type":  string(event.Type),
		"entity_type": event.EntityType,
		"entity_id":   event.EntityID,
		"payload":     event.Payload,
	})
	resultData, _ := json.Marshal(runResult{
		Logs:       ec.Logs,
		DurationMS: completed.Sub(ec.StartedAt).Milliseconds(),
	})

	log := &models.AutomationLog{
		FlowID:         flow.ID,
		OrganizationID: flow.OrganizationID,
		Status:         status,
		TriggerData:    string(triggerData),
		Result:         string(resultData),
		Error:          errMsg,
		StartedAt:      ec.StartedAt,
		CompletedAt:    completed,
		CreatedAt:      completed,
	}
	if err := e.db.WithContext(ctx).Create(log).Error; err != nil {
		e.logger.Warnf("automation: write run log failed: %v", err)
	}

	// Atomic increment: concurrent runs of the same flow must not lose
	// counts.
	if err := e.db.WithContext(ctx).Model(&models.AutomationFlow{}).
		Where("id = ?", flow.ID).
		Updates(map[string]interface{}{
			"run_count": gorm.Expr("run_count + 1"),
			"last_run":  completed,
		}).Error; err != nil {
		e.logger.Warnf("automation: update flow counters failed: %v", err)
	}

	if e.feed != nil {
		e.feed.PublishRun(RunSummary{
			FlowID:         flow.ID,
			FlowName:       flow.Name,
			OrganizationID: flow.OrganizationID,
			EventType:      string(event.Type),
			Status:         status,
			Error:          errMsg,
			Duration:       completed.Sub(ec.StartedAt),
			Timestamp:      completed,
		})
	}
}
