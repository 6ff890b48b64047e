package eventbus

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// EventType represents the type of event
type EventType string

const (
	LightModified      EventType = "light-modified"
	LightStateModified EventType = "light-state-modified"

	GroupCreated  EventType = "group-created"
	GroupModified EventType = "group-modified"
	GroupDeleted  EventType = "group-deleted"

	SceneCreated           EventType = "scene-created"
	SceneModified          EventType = "scene-modified"
	SceneLightstateChanged EventType = "scene-lightstate-modified"
	SceneDeleted           EventType = "scene-deleted"

	SensorCreated        EventType = "sensor-created"
	SensorModified       EventType = "sensor-modified"
	SensorDeleted        EventType = "sensor-deleted"
	SensorConfigModified EventType = "sensor-config-modified"
	SensorStateModified  EventType = "sensor-state-modified"

	RuleCreated  EventType = "rule-created"
	RuleModified EventType = "rule-modified"
	RuleDeleted  EventType = "rule-deleted"

	ResourcelinkCreated  EventType = "resourcelinks-created"
	ResourcelinkModified EventType = "resourcelinks-modified"
	ResourcelinkDeleted  EventType = "resourcelinks-deleted"

	ScheduleCreated  EventType = "schedule-created"
	ScheduleModified EventType = "schedule-modified"
	ScheduleDeleted  EventType = "schedule-deleted"

	ConfigModified    EventType = "config-modified"
	ConfigUserCreated EventType = "config-user-created"
	ConfigUserDeleted EventType = "config-user-deleted"

	LinkButton       EventType = "datastore-linkbutton"
	HTTPError        EventType = "http-error"
	RuleEngineReload EventType = "rule-engine-reload"
)

// DefaultQueueSize bounds the number of undelivered events per bridge.
const DefaultQueueSize = 1024

// Event represents a committed change on a bridge.
//
// ID is the resource ID (or username for user events). Object is a snapshot of the
// resource after the change, when one exists. Address and Value are set for
// sensor-state-modified (the state path and its new value) and for http-error.
type Event struct {
	Type    EventType
	ID      string
	Object  any
	Address string
	Value   any
}

// Handler is a function that handles events
type Handler func(Event)

// Bus routes events to subscribers in publish order.
//
// Subscribe is safe from any goroutine. Publish, Take, Deliver and Flush must only be
// called from the owning control loop, which is what makes delivery ordered.
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	all      []Handler

	pending   []Event
	queueSize int
}

// New creates a new event bus with default settings
func New() *Bus {
	return NewWithQueueSize(DefaultQueueSize)
}

// NewWithQueueSize creates a bus that holds at most queueSize undelivered events.
func NewWithQueueSize(queueSize int) *Bus {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Bus{
		handlers:  make(map[EventType][]Handler),
		queueSize: queueSize,
	}
}

// Subscribe registers a handler for a specific event type
func (b *Bus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// SubscribeAll registers a handler that receives every event.
func (b *Bus) SubscribeAll(handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.all = append(b.all, handler)
}

// Publish queues an event for delivery after the current loop turn.
// If the queue is full the event is dropped with a warning.
func (b *Bus) Publish(event Event) {
	if len(b.pending) >= b.queueSize {
		log.Warn().
			Str("event_type", string(event.Type)).
			Str("id", event.ID).
			Msg("Event queue full, dropping event")
		return
	}
	b.pending = append(b.pending, event)
}

// Take detaches the queued events without delivering them.
func (b *Bus) Take() []Event {
	events := b.pending
	b.pending = nil
	return events
}

// Pending returns the number of queued events.
func (b *Bus) Pending() int {
	return len(b.pending)
}

// Deliver hands events to their subscribers, then flushes anything the handlers published.
func (b *Bus) Deliver(events []Event) {
	for _, ev := range events {
		b.dispatch(ev)
	}
	b.Flush()
}

// Flush delivers queued events until the queue is empty.
func (b *Bus) Flush() {
	for len(b.pending) > 0 {
		events := b.Take()
		for _, ev := range events {
			b.dispatch(ev)
		}
	}
}

func (b *Bus) dispatch(ev Event) {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers[ev.Type]...)
	handlers = append(handlers, b.all...)
	b.mu.RUnlock()

	for _, handler := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error().
						Interface("panic", r).
						Str("event_type", string(ev.Type)).
						Str("id", ev.ID).
						Msg("Event handler panicked")
				}
			}()
			handler(ev)
		}()
	}
}

// Clear removes all handlers and drops queued events.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers = make(map[EventType][]Handler)
	b.all = nil
	b.pending = nil
}
