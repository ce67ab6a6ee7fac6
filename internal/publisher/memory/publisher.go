// Package memory provides an in-process Publisher. It backs the summary
// observer in tests and whenever Pub/Sub publishing is disabled.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// PublishedMessage records one Publish call.
type PublishedMessage struct {
	Topic   string
	Payload []byte
}

// Publisher stores published messages in memory.
type Publisher struct {
	mu       sync.Mutex
	messages []PublishedMessage
}

// New constructs an empty in-memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish serializes payload and appends it to the in-memory log.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, PublishedMessage{Topic: topic, Payload: data})
	return fmt.Sprintf("memory-%d", len(p.messages)), nil
}

// Messages returns a copy of everything published so far.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]PublishedMessage(nil), p.messages...)
}
