// Package events carries fire-and-forget domain notifications raised while
// reconciling a directory. Publishers never wait for consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event represents a domain event
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Source    string                 `json:"source"`
	TenantID  int                    `json:"tenant_id"`
	Timestamp time.Time              `json:"timestamp"`
	Payload   map[string]interface{} `json:"payload"`
}

// NewEvent creates a new event with auto-generated ID and timestamp
func NewEvent(eventType, source string, tenantID int, payload map[string]interface{}) Event {
	return Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		TenantID:  tenantID,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// JSON serializes the event to JSON
func (e Event) JSON() ([]byte, error) {
	return json.Marshal(e)
}

// EventHandler processes events
type EventHandler func(ctx context.Context, event Event) error

// Subscription represents an event subscription
type Subscription struct {
	ID        string
	EventType string
	Handler   EventHandler
}

// Bus is the event bus interface
type Bus interface {
	Publish(ctx context.Context, event Event) error
	PublishAsync(ctx context.Context, event Event)
	Subscribe(eventType string, handler EventHandler) *Subscription
	Unsubscribe(sub *Subscription)
	Close() error
}

// MemoryBus is an in-memory event bus implementation.
// Subscribing to "*" receives every event.
type MemoryBus struct {
	mu            sync.RWMutex
	subscriptions map[string][]*Subscription
	closed        bool
	wg            sync.WaitGroup
	errorHandler  func(error)
}

// NewMemoryBus creates a new in-memory event bus
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		subscriptions: make(map[string][]*Subscription),
		errorHandler:  func(error) {},
	}
}

// SetErrorHandler sets the error handler for async operations
func (b *MemoryBus) SetErrorHandler(handler func(error)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.errorHandler = handler
}

// Publish delivers an event synchronously and returns the last handler error
func (b *MemoryBus) Publish(ctx context.Context, event Event) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return fmt.Errorf("event bus is closed")
	}
	handlers := make([]*Subscription, 0, len(b.subscriptions[event.Type])+len(b.subscriptions["*"]))
	handlers = append(handlers, b.subscriptions[event.Type]...)
	handlers = append(handlers, b.subscriptions["*"]...)
	b.mu.RUnlock()

	var lastErr error
	for _, sub := range handlers {
		if err := sub.Handler(ctx, event); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// PublishAsync publishes an event on its own goroutine
func (b *MemoryBus) PublishAsync(ctx context.Context, event Event) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		if err := b.Publish(context.WithoutCancel(ctx), event); err != nil {
			b.mu.RLock()
			handler := b.errorHandler
			b.mu.RUnlock()
			handler(err)
		}
	}()
}

// Subscribe subscribes to events of a specific type
func (b *MemoryBus) Subscribe(eventType string, handler EventHandler) *Subscription {
	sub := &Subscription{
		ID:        uuid.New().String(),
		EventType: eventType,
		Handler:   handler,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscriptions[eventType] = append(b.subscriptions[eventType], sub)

	return sub
}

// Unsubscribe removes a subscription
func (b *MemoryBus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscriptions[sub.EventType]
	for i, s := range subs {
		if s.ID == sub.ID {
			b.subscriptions[sub.EventType] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

// Close stops accepting events and waits for async deliveries
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	b.wg.Wait()
	return nil
}

// Directory sync event types
const (
	EventUserCreated    = "user.created"
	EventUserUpdated    = "user.updated"
	EventUserTerminated = "user.terminated"

	EventGroupCreated       = "group.created"
	EventGroupUpdated       = "group.updated"
	EventGroupDeleted       = "group.deleted"
	EventGroupMemberAdded   = "group.member.added"
	EventGroupMemberRemoved = "group.member.removed"

	EventRoleAssigned = "role.assigned"
	EventRoleRevoked  = "role.revoked"

	EventSyncCompleted = "directory.sync.completed"
)
