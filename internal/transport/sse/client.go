// Package sse implements the transport contract over Server-Sent Events.
package sse

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/buildline/exportstream/internal/transport"
)

const (
	defaultReconnectDelay = time.Second
	defaultBufferSize     = 64
	// maxLineBytes bounds a single SSE line; event payloads are JSON and can
	// grow well past bufio's default 64K.
	maxLineBytes = 4 * 1024 * 1024
)

// errInterrupted marks an established stream breaking without the server's
// no-more-data status. It carries no status and therefore never counts
// toward a retry budget; the reconnect attempt that follows does.
var errInterrupted = errors.New("stream interrupted")

// Config controls the SSE client.
type Config struct {
	// AccessToken is sent as a bearer token when non-empty.
	AccessToken string
	// ReconnectDelay is the default wait between reconnection attempts,
	// overridable per subscription.
	ReconnectDelay time.Duration
	// BufferSize is the notice channel capacity.
	BufferSize int
	// HTTPClient overrides the default client. It must not set an overall
	// timeout; streams are long-lived.
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client subscribes to SSE endpoints and keeps each subscription connected
// until it is closed or the server reports no more data.
type Client struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// NewClient constructs a Client, applying defaults for unset fields.
func NewClient(cfg Config) *Client {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{cfg: cfg, client: client, logger: logger}
}

// Subscribe opens the stream and starts its reconnect loop.
func (c *Client) Subscribe(ctx context.Context, opts transport.SubscribeOptions) (transport.Subscription, error) {
	if opts.URL == "" {
		return nil, errors.New("subscribe: url required")
	}
	delay := opts.ReconnectDelay
	if delay <= 0 {
		delay = c.cfg.ReconnectDelay
	}
	subCtx, cancel := context.WithCancel(ctx)
	s := &subscription{
		client:  c,
		url:     opts.URL,
		delay:   delay,
		wanted:  nameSet(opts.EventNames),
		notices: make(chan transport.Notice, c.cfg.BufferSize),
		cancel:  cancel,
		logger:  c.logger.With(zap.String("url", opts.URL)),
	}
	go s.run(subCtx)
	return s, nil
}

type subscription struct {
	client    *Client
	url       string
	delay     time.Duration
	wanted    map[string]struct{}
	notices   chan transport.Notice
	cancel    context.CancelFunc
	closeOnce sync.Once
	logger    *zap.Logger
}

func (s *subscription) Notices() <-chan transport.Notice {
	return s.notices
}

func (s *subscription) Close() {
	s.closeOnce.Do(s.cancel)
}

var errNoMoreData = errors.New("no more data")

func (s *subscription) run(ctx context.Context) {
	defer close(s.notices)
	bo := backoff.WithContext(backoff.NewConstantBackOff(s.delay), ctx)
	for {
		err := s.streamOnce(ctx)
		switch {
		case errors.Is(err, errNoMoreData):
			s.emit(ctx, transport.Notice{Kind: transport.KindComplete})
			return
		case ctx.Err() != nil:
			return
		default:
			s.logger.Debug("stream attempt failed", zap.Error(err))
			s.emit(ctx, transport.Notice{Kind: transport.KindError, Err: err})
		}
		next := bo.NextBackOff()
		if next == backoff.Stop {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(next):
		}
	}
}

// streamOnce performs a single connection attempt and consumes the stream
// until it breaks. It returns errNoMoreData on the clean-completion status.
func (s *subscription) streamOnce(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if s.client.cfg.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.client.cfg.AccessToken)
	}

	resp, err := s.client.client.Do(req)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == transport.StatusNoMoreData:
		return errNoMoreData
	case resp.StatusCode != http.StatusOK:
		return &transport.StatusError{Code: resp.StatusCode, Status: resp.Status}
	}

	s.emit(ctx, transport.Notice{Kind: transport.KindOpen})
	return s.readEvents(ctx, resp.Body)
}

// readEvents parses the SSE line framing: "event:" and "data:" fields
// accumulate until a blank line dispatches them. Comment lines (leading
// colon) are keep-alives; id: and retry: fields are not used by this
// protocol and are skipped.
func (s *subscription) readEvents(ctx context.Context, body io.Reader) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var name string
	var data []string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			s.dispatch(ctx, name, data)
			name = ""
			data = data[:0]
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read stream: %w", err)
	}
	return errInterrupted
}

func (s *subscription) dispatch(ctx context.Context, name string, data []string) {
	if len(data) == 0 {
		return
	}
	if name == "" {
		name = "message"
	}
	if len(s.wanted) > 0 {
		if _, ok := s.wanted[name]; !ok {
			return
		}
	}
	s.emit(ctx, transport.Notice{
		Kind:  transport.KindEvent,
		Event: transport.Event{Name: name, Data: strings.Join(data, "\n")},
	})
}

func (s *subscription) emit(ctx context.Context, n transport.Notice) {
	select {
	case s.notices <- n:
	case <-ctx.Done():
	}
}

func nameSet(names []string) map[string]struct{} {
	if len(names) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}
