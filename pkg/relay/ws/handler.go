package ws

import (
	"context"
	"fmt"
	"sync"
)

// Handler processes a websocket request message and returns a response
type Handler interface {
	Handle(ctx context.Context, clientID string, msg *Message) (*Message, error)
}

// HandlerFunc is an adapter to allow ordinary functions to be used as handlers
type HandlerFunc func(ctx context.Context, clientID string, msg *Message) (*Message, error)

// Handle calls f(ctx, clientID, msg)
func (f HandlerFunc) Handle(ctx context.Context, clientID string, msg *Message) (*Message, error) {
	return f(ctx, clientID, msg)
}

// Dispatcher routes request messages to registered handlers by action
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewDispatcher creates a new message dispatcher
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		handlers: make(map[string]Handler),
	}
}

// Register registers a handler for an action
func (d *Dispatcher) Register(action string, handler Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[action] = handler
}

// RegisterFunc registers a handler function for an action
func (d *Dispatcher) RegisterFunc(action string, handler HandlerFunc) {
	d.Register(action, handler)
}

// HasHandler reports whether a handler is registered for the action
func (d *Dispatcher) HasHandler(action string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.handlers[action]
	return ok
}

// Dispatch routes a message to its handler. Unknown actions and handler
// failures are converted to error messages so the client always gets a
// reply correlated by request ID.
func (d *Dispatcher) Dispatch(ctx context.Context, clientID string, msg *Message) *Message {
	d.mu.RLock()
	handler, ok := d.handlers[msg.Action]
	d.mu.RUnlock()

	if !ok {
		errMsg, _ := NewError(msg.ID, msg.Action, ErrCodeUnknownAction,
			fmt.Sprintf("no handler registered for action %q", msg.Action), nil)
		return errMsg
	}

	resp, err := handler.Handle(ctx, clientID, msg)
	if err != nil {
		errMsg, _ := NewError(msg.ID, msg.Action, ErrCodeInternalError, err.Error(), nil)
		return errMsg
	}
	return resp
}
