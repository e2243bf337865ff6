package services

import (
	"context"
	"sync"

	"fieldops/internal/events"
	"fieldops/internal/metrics"

	"github.com/sirupsen/logrus"
)

// Dispatcher is the engine's public entry point. Dispatch hands events to
// a bounded worker pool and returns immediately: the caller's own request
// is never delayed or failed by automation work.
type Dispatcher struct {
	engine *Engine
	logger *logrus.Logger

	queue     chan events.Event
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func NewDispatcher(engine *Engine, logger *logrus.Logger, workers, queueSize int) *Dispatcher {
	if logger == nil {
		logger = logrus.New()
	}
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 256
	}

	d := &Dispatcher{
		engine: engine,
		logger: logger,
		queue:  make(chan events.Event, queueSize),
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// Dispatch enqueues an event for background processing. It never blocks
// and never surfaces an error: when the queue is saturated the event is
// dropped, counted and logged.
func (d *Dispatcher) Dispatch(event events.Event) {
	select {
	case d.queue <- event:
	default:
		metrics.IncDispatchDrop(string(event.Type))
		d.logger.Warnf("automation: queue full, dropping event %s (%s)", event.ID, event.Type)
	}
}

// DispatchAndWait processes the event synchronously and returns the
// engine's aggregate result. Intended for tests and API callers that need
// confirmation.
func (d *Dispatcher) DispatchAndWait(ctx context.Context, event events.Event) *ProcessResult {
	return d.process(ctx, event)
}

// QueueDepth reports the number of events waiting for a worker.
func (d *Dispatcher) QueueDepth() int {
	return len(d.queue)
}

// Close stops accepting events and waits for in-flight work to finish.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		close(d.queue)
	})
	d.wg.Wait()
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for event := range d.queue {
		d.process(context.Background(), event)
	}
}

// process runs the engine with a panic guard so no automation failure can
// ever escape to a caller or kill a worker.
func (d *Dispatcher) process(ctx context.Context, event events.Event) (result *ProcessResult) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Errorf("automation: panic processing event %s: %v", event.ID, r)
			if result == nil {
				result = &ProcessResult{Errors: []string{"internal automation failure"}}
			}
		}
	}()

	result = d.engine.ProcessEvent(ctx, event)

	if len(result.Errors) > 0 {
		d.logger.Warnf("automation: event %s matched=%d executed=%d errors=%v",
			event.Type, result.FlowsMatched, result.FlowsExecuted, result.Errors)
	} else if result.FlowsMatched > 0 {
		d.logger.Infof("automation: event %s matched=%d executed=%d",
			event.Type, result.FlowsMatched, result.FlowsExecuted)
	}
	return result
}
