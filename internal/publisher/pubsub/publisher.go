// Package pubsub publishes crawl payloads to Google Cloud Pub/Sub topics.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"

	"github.com/JakeFAU/frontier-crawler/internal/crawler"
)

// Publisher publishes JSON payloads, keeping one topic handle per topic ID.
type Publisher struct {
	client *pubsub.Client

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
}

// New creates a Publisher on an existing client.
func New(client *pubsub.Client) (*Publisher, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client is required")
	}
	return &Publisher{client: client, topics: make(map[string]*pubsub.Topic)}, nil
}

// Publish marshals the payload to JSON and waits for the server-assigned ID.
// Outcomes carry crawl_key, kind and status attributes for subscription filters.
func (p *Publisher) Publish(ctx context.Context, topicID string, payload any) (string, error) {
	if topicID == "" {
		return "", fmt.Errorf("topic is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	msg := &pubsub.Message{Data: data, Attributes: attributes(payload)}

	id, err := p.topic(topicID).Publish(ctx, msg).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish to %s: %w", topicID, err)
	}
	return id, nil
}

// Close flushes and stops every topic handle. The client is owned by the caller.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, t := range p.topics {
		t.Stop()
		delete(p.topics, id)
	}
}

func (p *Publisher) topic(id string) *pubsub.Topic {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.topics[id]
	if !ok {
		t = p.client.Topic(id)
		p.topics[id] = t
	}
	return t
}

func attributes(payload any) map[string]string {
	switch v := payload.(type) {
	case crawler.Outcome:
		return map[string]string{
			"crawl_key": v.Key,
			"kind":      string(v.Kind),
			"status":    string(v.Status),
		}
	case *crawler.Outcome:
		if v != nil {
			return attributes(*v)
		}
	}
	return nil
}

var _ crawler.Publisher = (*Publisher)(nil)
