// Package export defines the domain model for the build-export stream:
// builds, build events, and the contracts pluggable observers implement.
package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Build identifies one build published on the top-level feed.
type Build struct {
	// ID is the server-assigned build identifier, opaque and unique.
	ID string `json:"buildId"`
	// Timestamp is the server-side publication time in epoch milliseconds.
	Timestamp int64 `json:"timestamp"`
	// ArrivedAt records when the listener received the notification.
	ArrivedAt time.Time `json:"-"`
}

// ParseBuild decodes a Build notification payload.
func ParseBuild(payload string) (Build, error) {
	var b Build
	if err := json.Unmarshal([]byte(payload), &b); err != nil {
		return Build{}, fmt.Errorf("decode build: %w", err)
	}
	if b.ID == "" {
		return Build{}, errors.New("build payload missing buildId")
	}
	return b, nil
}

// EventTypeRef names the versioned type of a build event.
type EventTypeRef struct {
	MajorVersion int    `json:"majorVersion"`
	MinorVersion int    `json:"minorVersion"`
	EventType    string `json:"eventType"`
}

// BuildEvent is one fine-grained event on a build's stream. Data is kept
// undecoded; each observer decodes only the shapes it understands.
type BuildEvent struct {
	Timestamp int64           `json:"timestamp"`
	Type      EventTypeRef    `json:"type"`
	Data      json.RawMessage `json:"data"`
}

// ParseBuildEvent decodes a BuildEvent payload.
func ParseBuildEvent(payload string) (BuildEvent, error) {
	var ev BuildEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return BuildEvent{}, fmt.Errorf("decode build event: %w", err)
	}
	if ev.Type.EventType == "" {
		return BuildEvent{}, errors.New("build event payload missing type.eventType")
	}
	return ev, nil
}

// Observer consumes events for a single build. One instance is created per
// (build, observer type) pair and is never shared across builds.
type Observer interface {
	HandleEvent(ev BuildEvent)
}

// Finalizer is the optional capability an observer type implements to
// summarize its accumulated state after the build's stream completes
// cleanly. It is never invoked after a terminal stream error.
type Finalizer interface {
	Finalize()
}

// Registration declares an observer type: the event types it is interested
// in and how to construct one instance for a build. The declared event types
// decide which events are requested from each per-build subscription.
type Registration struct {
	Name       string
	EventTypes []string
	New        func(Build) Observer
}

// Publisher sends processed build summaries to an external topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock abstracts wall-clock reads so arrival stamping is testable.
type Clock interface {
	Now() time.Time
}
