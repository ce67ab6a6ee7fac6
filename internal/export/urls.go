package export

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Wire event names used by the export API.
const (
	// EventNameBuild is the event name on the top-level feed of new builds.
	EventNameBuild = "Build"
	// EventNameBuildEvent is the event name on per-build streams; the
	// payload's type.eventType field carries the fine-grained identifier.
	EventNameBuildEvent = "BuildEvent"
)

// CursorNow subscribes from the present moment instead of an absolute time.
const CursorNow = "now"

// BuildStreamURL returns the top-level subscription URL for builds published
// at or after cursor.
func BuildStreamURL(base, cursor string) string {
	return fmt.Sprintf("%s/build-export/v1/builds/since/%s?stream", strings.TrimRight(base, "/"), cursor)
}

// EventStreamURL returns the subscription URL for one build's events,
// requesting only the given event types.
func EventStreamURL(base, buildID string, eventTypes []string) string {
	return fmt.Sprintf(
		"%s/build-export/v1/build/%s/events?eventTypes=%s",
		strings.TrimRight(base, "/"),
		buildID,
		strings.Join(eventTypes, ","),
	)
}

// ValidateCursor checks that cursor is either CursorNow or an epoch
// millisecond timestamp.
func ValidateCursor(cursor string) error {
	if cursor == CursorNow {
		return nil
	}
	if cursor == "" {
		return errors.New("cursor is required")
	}
	if _, err := strconv.ParseInt(cursor, 10, 64); err != nil {
		return fmt.Errorf("cursor must be %q or epoch milliseconds: %w", CursorNow, err)
	}
	return nil
}
