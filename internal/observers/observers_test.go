package observers

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/buildline/exportstream/internal/export"
	"github.com/buildline/exportstream/internal/publisher/memory"
)

func TestBuildDurationComputesSpan(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.DebugLevel)
	reg := NewBuildDurationRegistration(zap.New(core))
	require.Equal(t, []string{EventBuildStarted, EventBuildFinished}, reg.EventTypes)

	obs := reg.New(export.Build{ID: "b1"}).(*BuildDuration)
	obs.HandleEvent(buildEvent(100, EventBuildStarted, `{}`))
	obs.HandleEvent(buildEvent(340, EventBuildFinished, `{}`))

	got, ok := obs.DurationMillis()
	require.True(t, ok)
	require.Equal(t, int64(240), got)

	entries := logs.FilterMessage("build duration").All()
	require.Len(t, entries, 1)
	require.Equal(t, int64(240), entries[0].ContextMap()["duration_ms"])
}

func TestBuildDurationWithoutStartLogsWarning(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.DebugLevel)
	reg := NewBuildDurationRegistration(zap.New(core))

	obs := reg.New(export.Build{ID: "b1"}).(*BuildDuration)
	obs.HandleEvent(buildEvent(340, EventBuildFinished, `{}`))

	_, ok := obs.DurationMillis()
	require.False(t, ok)
	require.Len(t, logs.FilterMessage("build finished without a start event").All(), 1)
}

func TestCacheableTasksCountsAndFinalizes(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.DebugLevel)
	reg := NewCacheableTasksRegistration(zap.New(core))
	require.Equal(t, []string{EventTaskFinished}, reg.EventTypes)

	obs := reg.New(export.Build{ID: "b1"}).(*CacheableTasks)
	obs.HandleEvent(buildEvent(205, EventTaskFinished, `{"cacheable": true}`))
	obs.HandleEvent(buildEvent(290, EventTaskFinished, `{"cacheable": false}`))

	cacheable, total := obs.Count()
	require.Equal(t, 1, cacheable)
	require.Equal(t, 2, total)

	fin, ok := any(obs).(export.Finalizer)
	require.True(t, ok)
	fin.Finalize()

	entries := logs.FilterMessage("cacheable task count").All()
	require.Len(t, entries, 1)
	require.Equal(t, int64(1), entries[0].ContextMap()["tasks_cacheable"])
	require.Equal(t, int64(2), entries[0].ContextMap()["tasks_total"])
}

func TestCacheableTasksSkipsBadPayloads(t *testing.T) {
	t.Parallel()

	reg := NewCacheableTasksRegistration(zap.NewNop())
	obs := reg.New(export.Build{ID: "b1"}).(*CacheableTasks)

	obs.HandleEvent(export.BuildEvent{
		Timestamp: 205,
		Type:      export.EventTypeRef{EventType: EventTaskFinished},
		Data:      json.RawMessage(`"not an object"`),
	})

	_, total := obs.Count()
	require.Zero(t, total)
}

func TestSummaryPublishesOnFinalize(t *testing.T) {
	t.Parallel()

	pub := memory.New()
	reg := NewSummaryRegistration(context.Background(), pub, "build-summaries", zap.NewNop())

	obs := reg.New(export.Build{ID: "b1"}).(*Summary)
	obs.HandleEvent(buildEvent(100, EventBuildStarted, `{}`))
	obs.HandleEvent(buildEvent(205, EventTaskFinished, `{"cacheable": true}`))
	obs.HandleEvent(buildEvent(340, EventBuildFinished, `{}`))
	obs.Finalize()

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "build-summaries", msgs[0].Topic)

	var summary BuildSummary
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &summary))
	require.Equal(t, "b1", summary.BuildID)
	require.Equal(t, int64(100), summary.StartedAt)
	require.Equal(t, int64(340), summary.FinishedAt)
	require.Equal(t, map[string]int{
		EventBuildStarted:  1,
		EventBuildFinished: 1,
		EventTaskFinished:  1,
	}, summary.EventCounts)
}

func TestSummaryLogsPublishFailure(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.DebugLevel)
	pub := failingPublisher{}
	reg := NewSummaryRegistration(context.Background(), pub, "build-summaries", zap.New(core))

	obs := reg.New(export.Build{ID: "b1"}).(*Summary)
	obs.Finalize()

	require.Len(t, logs.FilterMessage("publishing build summary failed").All(), 1)
}

func buildEvent(ts int64, eventType, data string) export.BuildEvent {
	return export.BuildEvent{
		Timestamp: ts,
		Type:      export.EventTypeRef{MajorVersion: 1, EventType: eventType},
		Data:      json.RawMessage(data),
	}
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, string, any) (string, error) {
	return "", fmt.Errorf("topic unavailable")
}
