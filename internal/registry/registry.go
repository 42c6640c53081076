// Package registry implements the handler registry contract of §4.2:
// exclusive command/query bindings, a multi-handler event set, and
// concurrent-safe mutation where readers never observe a partially
// registered binding.
package registry

import (
	"sync"

	"github.com/conduit-bus/conduit/internal/buserrors"
	"github.com/conduit-bus/conduit/internal/message"
)

// CommandHandler handles exactly one command type and returns a result.
type CommandHandler func(ctx *message.MessageContext) (any, error)

// QueryHandler handles exactly one query type and returns a result.
type QueryHandler func(ctx *message.MessageContext) (any, error)

// EventHandler handles an event; any number may be bound to one type.
type EventHandler func(ctx *message.MessageContext) error

// snapshot is the immutable view readers see: a fresh map is built and
// swapped in on every mutation, so a concurrent Get never observes a
// map mid-write.
type snapshot struct {
	commands map[string]CommandHandler
	queries  map[string]QueryHandler
	events   map[string][]EventHandler
}

func emptySnapshot() *snapshot {
	return &snapshot{
		commands: make(map[string]CommandHandler),
		queries:  make(map[string]QueryHandler),
		events:   make(map[string][]EventHandler),
	}
}

// Registry binds message type tags to handlers.
type Registry struct {
	mu   sync.Mutex // guards writers only; readers use the atomic pointer
	view atomicSnapshot
}

// New returns an empty Registry.
func New() *Registry {
	r := &Registry{}
	r.view.store(emptySnapshot())
	return r
}

// RegisterCommandHandler binds typeTag to handler, failing with
// ErrHandlerAlreadyRegistered if a binding already exists.
func (r *Registry) RegisterCommandHandler(typeTag string, handler CommandHandler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.view.load()
	if _, exists := cur.commands[typeTag]; exists {
		return buserrors.ErrHandlerAlreadyRegistered
	}

	next := cur.clone()
	next.commands[typeTag] = handler
	r.view.store(next)
	return nil
}

// RegisterQueryHandler binds typeTag to handler, failing with
// ErrHandlerAlreadyRegistered if a binding already exists.
func (r *Registry) RegisterQueryHandler(typeTag string, handler QueryHandler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.view.load()
	if _, exists := cur.queries[typeTag]; exists {
		return buserrors.ErrHandlerAlreadyRegistered
	}

	next := cur.clone()
	next.queries[typeTag] = handler
	r.view.store(next)
	return nil
}

// RegisterEventHandler appends handler to the set bound to typeTag.
// Event registrations are a set by reference identity: registering the
// same function value twice is indistinguishable from two distinct
// closures in Go (functions are not comparable), so both deliveries
// occur — callers that need idempotent registration must dedupe by a
// key of their own before calling this.
func (r *Registry) RegisterEventHandler(typeTag string, handler EventHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.view.load()
	next := cur.clone()
	next.events[typeTag] = append(append([]EventHandler{}, cur.events[typeTag]...), handler)
	r.view.store(next)
}

// UnregisterCommandHandler removes the binding for typeTag, reporting
// whether one was removed.
func (r *Registry) UnregisterCommandHandler(typeTag string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.view.load()
	if _, exists := cur.commands[typeTag]; !exists {
		return false
	}
	next := cur.clone()
	delete(next.commands, typeTag)
	r.view.store(next)
	return true
}

// UnregisterQueryHandler removes the binding for typeTag, reporting
// whether one was removed.
func (r *Registry) UnregisterQueryHandler(typeTag string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.view.load()
	if _, exists := cur.queries[typeTag]; !exists {
		return false
	}
	next := cur.clone()
	delete(next.queries, typeTag)
	r.view.store(next)
	return true
}

// GetCommandHandler returns the bound handler, if any.
func (r *Registry) GetCommandHandler(typeTag string) (CommandHandler, bool) {
	cur := r.view.load()
	h, ok := cur.commands[typeTag]
	return h, ok
}

// GetQueryHandler returns the bound handler, if any.
func (r *Registry) GetQueryHandler(typeTag string) (QueryHandler, bool) {
	cur := r.view.load()
	h, ok := cur.queries[typeTag]
	return h, ok
}

// GetEventHandlers returns the (possibly empty) set bound to typeTag.
func (r *Registry) GetEventHandlers(typeTag string) []EventHandler {
	cur := r.view.load()
	return append([]EventHandler{}, cur.events[typeTag]...)
}

// Clear drops every registration.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.view.store(emptySnapshot())
}

func (s *snapshot) clone() *snapshot {
	next := &snapshot{
		commands: make(map[string]CommandHandler, len(s.commands)),
		queries:  make(map[string]QueryHandler, len(s.queries)),
		events:   make(map[string][]EventHandler, len(s.events)),
	}
	for k, v := range s.commands {
		next.commands[k] = v
	}
	for k, v := range s.queries {
		next.queries[k] = v
	}
	for k, v := range s.events {
		next.events[k] = append([]EventHandler{}, v...)
	}
	return next
}
