// Copyright © 2025 OpenCHAMI a Series of LF Projects, LLC
//
// SPDX-License-Identifier: MIT

// Package events publishes repository commits as CloudEvents
// (https://cloudevents.io/) so external tooling can follow the commit
// stream without long-polling the watch API.
//
// Publication is disabled by default and enabled through configuration.
// The in-memory bus in this package is suitable for single-instance
// deployments and tests; durable brokers can implement EventBus.
package events

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/ikhoon/centraldogma/pkg/revision"
)

// Config controls commit event publishing.
type Config struct {
	// Enabled controls whether commit events are published at all.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// TypePrefix sets the prefix for generated event types.
	// Example: "com.centraldogma" generates "com.centraldogma.repository.commit".
	TypePrefix string `json:"typePrefix" yaml:"typePrefix"`

	// Source sets the CloudEvents source identifier.
	Source string `json:"source" yaml:"source"`

	// BufferSize is the in-memory bus queue length.
	BufferSize int `json:"bufferSize" yaml:"bufferSize"`

	// WorkerCount is the number of dispatch workers.
	WorkerCount int `json:"workerCount" yaml:"workerCount"`
}

// DefaultConfig returns the defaults used when the config file omits the
// events section.
func DefaultConfig() Config {
	return Config{
		Enabled:     false,
		TypePrefix:  "com.centraldogma",
		Source:      "centraldogma",
		BufferSize:  1000,
		WorkerCount: 4,
	}
}

// CommitEventType is the suffix of the event type emitted per commit.
const CommitEventType = "repository.commit"

// Event wraps a CloudEvents event.
type Event struct {
	cloudevents.Event
}

// CommitData is the payload of a commit event.
type CommitData struct {
	ID       string            `json:"id"`
	Revision revision.Revision `json:"revision"`
	Summary  string            `json:"summary"`
	Paths    []string          `json:"paths"`
	Time     time.Time         `json:"time"`
}

// NewCommitEvent builds the CloudEvent for one commit. The event type is
// "<typePrefix>.repository.commit" and the revision and commit id ride
// along as extension attributes.
func NewCommitEvent(cfg Config, data CommitData) (*Event, error) {
	event := cloudevents.NewEvent()
	event.SetID(newEventID())
	event.SetType(fmt.Sprintf("%s.%s", cfg.TypePrefix, CommitEventType))
	event.SetSource(cfg.Source)
	event.SetTime(data.Time)
	if err := event.SetData(cloudevents.ApplicationJSON, data); err != nil {
		return nil, fmt.Errorf("failed to set commit event data: %w", err)
	}
	event.SetExtension("revision", int64(data.Revision))
	event.SetExtension("commitid", data.ID)
	return &Event{Event: event}, nil
}

// Revision returns the revision extension attribute, or 0 when absent.
// The CloudEvents context may normalize the integer type, so every
// representation the SDK produces is accepted.
func (e *Event) Revision() revision.Revision {
	switch n := e.Extensions()["revision"].(type) {
	case int64:
		return revision.Revision(n)
	case int32:
		return revision.Revision(n)
	case int:
		return revision.Revision(n)
	case string:
		if rev, err := revision.Parse(n); err == nil {
			return rev
		}
	}
	return 0
}

// EventHandler processes events delivered by a bus.
type EventHandler func(ctx context.Context, event Event) error

// SubscriptionID uniquely identifies a subscription.
type SubscriptionID string

// EventBus manages event publishing and subscription.
type EventBus interface {
	// Publish an event to all matching subscribers.
	Publish(ctx context.Context, event Event) error

	// Subscribe to events by type pattern. "*" matches one dot-separated
	// segment, "**" matches the rest.
	Subscribe(typePattern string, handler EventHandler) (SubscriptionID, error)

	// Unsubscribe removes a subscription.
	Unsubscribe(id SubscriptionID) error

	// Close shuts the bus down.
	Close() error
}

func newEventID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return "evt-" + hex.EncodeToString(b)[:12]
}
