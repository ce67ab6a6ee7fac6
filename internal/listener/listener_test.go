package listener

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/buildline/exportstream/internal/export"
	"github.com/buildline/exportstream/internal/stream"
	"github.com/buildline/exportstream/internal/transport"
)

var testPolicy = stream.RetryPolicy{Interval: time.Millisecond, MaxRetries: 2}

func TestListenerEnqueuesDiscoveredBuilds(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	sub := newFakeSub(
		transport.Notice{Kind: transport.KindOpen},
		buildNotice(`{"buildId":"b1","timestamp":1700000000000}`),
		buildNotice(`{"buildId":"b2","timestamp":1700000001000}`),
		transport.Notice{Kind: transport.KindComplete},
	)
	tr := &fakeTransport{sub: sub}
	queue := &fakeQueue{}

	l := New(tr, "https://ge.example.com", "now", queue, testPolicy, stubClock{now: now}, zap.NewNop())
	require.NoError(t, l.Run(context.Background()))

	require.Equal(t, "https://ge.example.com/build-export/v1/builds/since/now?stream", tr.opts.URL)
	require.Equal(t, []string{export.EventNameBuild}, tr.opts.EventNames)

	builds := queue.enqueued()
	require.Len(t, builds, 2)
	require.Equal(t, "b1", builds[0].ID)
	require.Equal(t, "b2", builds[1].ID)
	require.Equal(t, now, builds[0].ArrivedAt)
}

func TestListenerReturnsErrorOnPermanentStreamFailure(t *testing.T) {
	t.Parallel()

	sub := newFakeSub(
		transport.Notice{Kind: transport.KindError, Err: &transport.StatusError{Code: 503}},
		transport.Notice{Kind: transport.KindError, Err: &transport.StatusError{Code: 503}},
	)
	tr := &fakeTransport{sub: sub}
	queue := &fakeQueue{}

	l := New(tr, "https://ge.example.com", "now", queue, testPolicy, stubClock{}, zap.NewNop())
	err := l.Run(context.Background())
	require.ErrorContains(t, err, "build stream terminated")
	require.Empty(t, queue.enqueued())
}

func TestListenerSkipsUndecodableNotifications(t *testing.T) {
	t.Parallel()

	sub := newFakeSub(
		transport.Notice{Kind: transport.KindOpen},
		buildNotice("not json"),
		buildNotice(`{"buildId":"b1","timestamp":1700000000000}`),
		transport.Notice{Kind: transport.KindComplete},
	)
	tr := &fakeTransport{sub: sub}
	queue := &fakeQueue{}

	l := New(tr, "https://ge.example.com", "now", queue, testPolicy, stubClock{}, zap.NewNop())
	require.NoError(t, l.Run(context.Background()))

	builds := queue.enqueued()
	require.Len(t, builds, 1)
	require.Equal(t, "b1", builds[0].ID)
}

func TestListenerUsesConfiguredCursor(t *testing.T) {
	t.Parallel()

	sub := newFakeSub(transport.Notice{Kind: transport.KindComplete})
	tr := &fakeTransport{sub: sub}

	l := New(tr, "https://ge.example.com", "1700000000000", &fakeQueue{}, testPolicy, stubClock{}, zap.NewNop())
	require.NoError(t, l.Run(context.Background()))
	require.Equal(t, "https://ge.example.com/build-export/v1/builds/since/1700000000000?stream", tr.opts.URL)
}

func buildNotice(payload string) transport.Notice {
	return transport.Notice{
		Kind:  transport.KindEvent,
		Event: transport.Event{Name: export.EventNameBuild, Data: payload},
	}
}

type fakeTransport struct {
	sub  *fakeSub
	opts transport.SubscribeOptions
}

func (f *fakeTransport) Subscribe(_ context.Context, opts transport.SubscribeOptions) (transport.Subscription, error) {
	f.opts = opts
	return f.sub, nil
}

type fakeSub struct {
	notices chan transport.Notice
	once    sync.Once
}

func newFakeSub(notices ...transport.Notice) *fakeSub {
	s := &fakeSub{notices: make(chan transport.Notice, len(notices)+1)}
	for _, n := range notices {
		s.notices <- n
	}
	return s
}

func (s *fakeSub) Notices() <-chan transport.Notice { return s.notices }

func (s *fakeSub) Close() {
	s.once.Do(func() { close(s.notices) })
}

type fakeQueue struct {
	mu     sync.Mutex
	builds []export.Build
}

func (q *fakeQueue) Enqueue(build export.Build) {
	q.mu.Lock()
	q.builds = append(q.builds, build)
	q.mu.Unlock()
}

func (q *fakeQueue) enqueued() []export.Build {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]export.Build(nil), q.builds...)
}

type stubClock struct {
	now time.Time
}

func (c stubClock) Now() time.Time { return c.now }
