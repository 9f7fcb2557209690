package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is a notable occurrence during graph execution or reloading.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`

	// ExecutionID is the associated execution, if any.
	ExecutionID string `json:"execution_id,omitempty"`

	// Node is the associated node name, if any.
	Node string `json:"node,omitempty"`

	Message string                 `json:"message"`
	Level   string                 `json:"level"`
	Data    map[string]interface{} `json:"data,omitempty"`
}

// Event types.
const (
	EventTypeExecutionStarted   = "execution.started"
	EventTypeExecutionCompleted = "execution.completed"
	EventTypeExecutionFailed    = "execution.failed"
	EventTypePlanBuilt          = "plan.built"
	EventTypeGraphReloaded      = "graph.reloaded"
)

// Event levels.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber handles events.
type EventSubscriber func(event Event)

// EventFilter decides whether a subscriber sees an event.
type EventFilter func(event Event) bool

// EventPublisher fans events out to subscribers. With EnableAsync events are
// buffered and delivered from a background goroutine; otherwise delivery is
// synchronous and in publish order. A nil publisher drops everything.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	mu          sync.RWMutex
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a publisher.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	ep := &EventPublisher{
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
	}

	if cfg.EnableAsync {
		ep.buffer = make(chan Event, cfg.BufferSize)
		ep.wg.Add(1)
		go ep.processEvents()
	}

	return ep, nil
}

// Publish sends an event to all subscribers.
func (ep *EventPublisher) Publish(event Event) error {
	if ep == nil || !ep.config.Enabled {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Level == "" {
		event.Level = EventLevelInfo
	}

	if !ep.config.EnableAsync {
		ep.deliverEvent(event)
		return nil
	}

	select {
	case <-ep.ctx.Done():
		return fmt.Errorf("event publisher stopped")
	default:
	}

	select {
	case ep.buffer <- event:
		return nil
	default:
		return fmt.Errorf("event buffer full, event dropped")
	}
}

// PublishExecutionStarted publishes an execution.started event.
func (ep *EventPublisher) PublishExecutionStarted(executionID string, fetches []string, training bool) error {
	return ep.Publish(Event{
		Type:        EventTypeExecutionStarted,
		ExecutionID: executionID,
		Message:     fmt.Sprintf("execution started for %d fetches", len(fetches)),
		Data: map[string]interface{}{
			"fetches":  fetches,
			"training": training,
		},
	})
}

// PublishExecutionCompleted publishes an execution.completed event.
func (ep *EventPublisher) PublishExecutionCompleted(executionID string, steps int, duration time.Duration) error {
	return ep.Publish(Event{
		Type:        EventTypeExecutionCompleted,
		ExecutionID: executionID,
		Message:     fmt.Sprintf("execution completed in %s", duration),
		Data: map[string]interface{}{
			"steps":       steps,
			"duration_ms": duration.Milliseconds(),
		},
	})
}

// PublishExecutionFailed publishes an execution.failed event.
func (ep *EventPublisher) PublishExecutionFailed(executionID, node string, err error) error {
	return ep.Publish(Event{
		Type:        EventTypeExecutionFailed,
		ExecutionID: executionID,
		Node:        node,
		Level:       EventLevelError,
		Message:     err.Error(),
	})
}

// PublishPlanBuilt publishes a plan.built event after a cache miss.
func (ep *EventPublisher) PublishPlanBuilt(executionID string, length int) error {
	return ep.Publish(Event{
		Type:        EventTypePlanBuilt,
		ExecutionID: executionID,
		Message:     fmt.Sprintf("plan of %d nodes built", length),
		Data:        map[string]interface{}{"length": length},
	})
}

// PublishGraphReloaded publishes a graph.reloaded event.
func (ep *EventPublisher) PublishGraphReloaded(path string, nodes int) error {
	return ep.Publish(Event{
		Type:    EventTypeGraphReloaded,
		Message: fmt.Sprintf("reloaded %s", path),
		Data: map[string]interface{}{
			"path":  path,
			"nodes": nodes,
		},
	})
}

// Subscribe registers a subscriber. A nil filter accepts every event.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	if ep == nil {
		return
	}
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// processEvents drains the buffer until shutdown, then delivers what is left.
func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	for {
		select {
		case event := <-ep.buffer:
			ep.deliverEvent(event)
		case <-ep.ctx.Done():
			for {
				select {
				case event := <-ep.buffer:
					ep.deliverEvent(event)
				default:
					return
				}
			}
		}
	}
}

func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// Shutdown stops the background goroutine after delivering buffered events.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if ep == nil || !ep.config.Enabled {
		return nil
	}
	ep.cancel()

	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// FilterByType only allows events of the given types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool, len(types))
	for _, t := range types {
		typeSet[t] = true
	}
	return func(event Event) bool {
		return typeSet[event.Type]
	}
}

// FilterByExecutionID only allows events of one execution.
func FilterByExecutionID(id string) EventFilter {
	return func(event Event) bool {
		return event.ExecutionID == id
	}
}
