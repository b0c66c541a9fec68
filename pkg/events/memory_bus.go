// Copyright © 2025 OpenCHAMI a Series of LF Projects, LLC
//
// SPDX-License-Identifier: MIT

package events

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// InMemoryEventBus implements EventBus with an in-process queue and a
// worker pool.
//
// Characteristics:
//   - Low latency, no durability (events are lost on restart)
//   - Thread-safe
//   - Wildcard subscriptions ("*" one segment, "**" any remainder)
type InMemoryEventBus struct {
	mu          sync.RWMutex
	subscribers map[SubscriptionID]subscription
	nextSubID   int

	eventQueue chan Event
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	logger     *zap.Logger
}

type subscription struct {
	pattern string
	handler EventHandler
}

// NewInMemoryEventBus creates a bus with the given queue length and
// worker count and starts its workers. Non-positive arguments fall back
// to the defaults.
func NewInMemoryEventBus(bufferSize, workerCount int, logger *zap.Logger) *InMemoryEventBus {
	if bufferSize <= 0 {
		bufferSize = DefaultConfig().BufferSize
	}
	if workerCount <= 0 {
		workerCount = DefaultConfig().WorkerCount
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &InMemoryEventBus{
		subscribers: make(map[SubscriptionID]subscription),
		eventQueue:  make(chan Event, bufferSize),
		ctx:         ctx,
		cancel:      cancel,
		logger:      logger,
	}
	for i := 0; i < workerCount; i++ {
		b.wg.Add(1)
		go b.worker()
	}
	return b
}

func (b *InMemoryEventBus) worker() {
	defer b.wg.Done()
	for {
		select {
		case <-b.ctx.Done():
			return
		case event := <-b.eventQueue:
			b.dispatch(event)
		}
	}
}

func (b *InMemoryEventBus) dispatch(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	eventType := event.Type()
	for _, sub := range b.subscribers {
		if !matchesTypePattern(eventType, sub.pattern) {
			continue
		}
		if err := sub.handler(context.Background(), event); err != nil {
			b.logger.Warn("event handler failed",
				zap.String("event", event.ID()),
				zap.String("type", eventType),
				zap.Error(err))
		}
	}
}

// Publish queues an event for asynchronous dispatch. It fails when the
// queue is full or the bus is closed.
func (b *InMemoryEventBus) Publish(ctx context.Context, event Event) error {
	select {
	case <-b.ctx.Done():
		return fmt.Errorf("event bus is closed")
	case <-ctx.Done():
		return ctx.Err()
	case b.eventQueue <- event:
		return nil
	default:
		return fmt.Errorf("event queue is full")
	}
}

// Subscribe registers a handler for event types matching the pattern.
func (b *InMemoryEventBus) Subscribe(typePattern string, handler EventHandler) (SubscriptionID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSubID++
	id := SubscriptionID(fmt.Sprintf("sub-%d", b.nextSubID))
	b.subscribers[id] = subscription{pattern: typePattern, handler: handler}
	return id, nil
}

// Unsubscribe removes a subscription.
func (b *InMemoryEventBus) Unsubscribe(id SubscriptionID) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subscribers[id]; !ok {
		return fmt.Errorf("subscription not found: %s", id)
	}
	delete(b.subscribers, id)
	return nil
}

// Close stops the workers. Queued but undispatched events are dropped.
func (b *InMemoryEventBus) Close() error {
	b.cancel()
	b.wg.Wait()
	return nil
}

// matchesTypePattern checks a dot-separated event type against a
// subscription pattern: "*" matches exactly one segment, "**" matches
// everything from its position on.
func matchesTypePattern(eventType, pattern string) bool {
	if eventType == pattern {
		return true
	}

	eventParts := strings.Split(eventType, ".")
	patternParts := strings.Split(pattern, ".")

	for i, p := range patternParts {
		if p == "**" {
			return true
		}
		if i >= len(eventParts) {
			return false
		}
		if p == "*" {
			continue
		}
		if p != eventParts[i] {
			return false
		}
	}
	return len(eventParts) == len(patternParts)
}
