package hub

import (
	"log/slog"
	"sync"

	"ledstrip-bridge/internal/light"
)

// Event types
const (
	EventStripAdded    = "strip_added"
	EventStripUpdated  = "strip_updated"
	EventStripRemoved  = "strip_removed"
	EventStateChanged  = "state_changed"
	EventAvailability  = "availability"
	EventCommandFailed = "command_failed"
)

// Event represents a hub event.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Host returns the strip address an event refers to, or "".
func (e Event) Host() string {
	data, ok := e.Data.(map[string]interface{})
	if !ok {
		return ""
	}
	host, _ := data["host"].(string)
	return host
}

// StateData flattens a strip state into an event payload.
func StateData(st light.State) map[string]interface{} {
	return map[string]interface{}{
		"host":       st.Host,
		"name":       st.Name,
		"on":         st.On,
		"brightness": st.Brightness,
		"color_mode": string(st.ColorMode),
		"hue":        st.HS.Hue,
		"saturation": st.HS.Saturation,
		"available":  st.Available,
	}
}

// EventHandler is a callback for events.
type EventHandler func(Event)

// EventBus provides pub/sub for hub events.
type EventBus struct {
	mu          sync.RWMutex
	handlers    map[string]map[uint64]EventHandler
	allHandlers map[uint64]EventHandler
	nextID      uint64
	logger      *slog.Logger
}

// NewEventBus creates a new event bus.
func NewEventBus(logger *slog.Logger) *EventBus {
	return &EventBus{
		handlers:    make(map[string]map[uint64]EventHandler),
		allHandlers: make(map[uint64]EventHandler),
		logger:      logger,
	}
}

// On registers a handler for a specific event type.
// Returns an unsubscribe function.
func (eb *EventBus) On(eventType string, handler EventHandler) func() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	id := eb.nextID
	eb.nextID++
	if eb.handlers[eventType] == nil {
		eb.handlers[eventType] = make(map[uint64]EventHandler)
	}
	eb.handlers[eventType][id] = handler
	return func() {
		eb.mu.Lock()
		defer eb.mu.Unlock()
		delete(eb.handlers[eventType], id)
	}
}

// OnAll registers a handler that receives all events.
// Returns an unsubscribe function.
func (eb *EventBus) OnAll(handler EventHandler) func() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	id := eb.nextID
	eb.nextID++
	eb.allHandlers[id] = handler
	return func() {
		eb.mu.Lock()
		defer eb.mu.Unlock()
		delete(eb.allHandlers, id)
	}
}

// Emit sends an event to all matching handlers.
// Handlers are called synchronously; a panicking handler is recovered.
func (eb *EventBus) Emit(event Event) {
	eb.mu.RLock()
	handlers := make([]EventHandler, 0, len(eb.handlers[event.Type])+len(eb.allHandlers))
	for _, h := range eb.handlers[event.Type] {
		handlers = append(handlers, h)
	}
	for _, h := range eb.allHandlers {
		handlers = append(handlers, h)
	}
	eb.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					eb.logger.Error("event handler panic", "type", event.Type, "panic", r)
				}
			}()
			h(event)
		}()
	}
}
