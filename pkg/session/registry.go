// Package session implements the multiplexed protocol layer: the message
// envelope, the event handler registry, per-connection sequential dispatch,
// rate-limit tagging and heartbeat liveness over WebSocket transport.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gazouio/gazou/pkg/errors"
)

// Envelope is an inbound client message. Callback is an opaque correlation
// token echoed back unchanged in the response.
type Envelope struct {
	Event    string          `json:"event"`
	Data     json.RawMessage `json:"data"`
	Callback string          `json:"callback"`
}

// Response is the outbound envelope. On failure Event is "error" and Data
// carries an ErrorPayload naming the original event.
type Response struct {
	Event    string `json:"event"`
	Data     any    `json:"data"`
	Callback string `json:"callback"`
	Limited  bool   `json:"limited,omitempty"`
}

// ErrorPayload is the Data of an error response.
type ErrorPayload struct {
	Event   string `json:"event"`
	Message string `json:"message"`
}

// Handler processes one event. The returned value becomes the response
// Data; a returned error becomes an error envelope. Handlers run strictly
// sequentially per connection.
type Handler func(ctx context.Context, data json.RawMessage, conn *Conn) (any, error)

// Registry maps full dotted event names to handlers. It is populated once
// at startup and validated there, not at first dispatch.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds an event name to a handler. Empty names, names with empty
// path segments and duplicate registrations are startup errors.
func (r *Registry) Register(event string, h Handler) error {
	if event == "" {
		return fmt.Errorf("empty event name")
	}
	for _, part := range strings.Split(event, ".") {
		if part == "" {
			return fmt.Errorf("malformed event name %q", event)
		}
	}
	if h == nil {
		return fmt.Errorf("nil handler for event %q", event)
	}
	if _, ok := r.handlers[event]; ok {
		return fmt.Errorf("duplicate handler for event %q", event)
	}
	r.handlers[event] = h
	return nil
}

// MustRegister is Register for static startup wiring.
func (r *Registry) MustRegister(event string, h Handler) {
	if err := r.Register(event, h); err != nil {
		panic(err)
	}
}

// Resolve looks up the handler for an event name. A miss is the typed
// UnknownEvent error.
func (r *Registry) Resolve(event string) (Handler, error) {
	h, ok := r.handlers[event]
	if !ok {
		return nil, errors.New(errors.KindUnknownEvent, event, "Unknown event type")
	}
	return h, nil
}

// Events lists the registered event names, for startup logging.
func (r *Registry) Events() []string {
	events := make([]string, 0, len(r.handlers))
	for event := range r.handlers {
		events = append(events, event)
	}
	return events
}
