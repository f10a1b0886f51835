// Package pubsub publishes dataset notifications to Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"
)

// EventAttribute names the message attribute carrying the event type.
const EventAttribute = "event"

type sendFunc func(ctx context.Context, topicID string, msg *pubsub.Message) (string, error)

// Publisher sends JSON payloads to a single configured Pub/Sub topic. The event
// name passed to Publish travels as a message attribute.
type Publisher struct {
	topicID string
	send    sendFunc

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
	client *pubsub.Client
}

// New creates a Publisher for topicID using client.
func New(client *pubsub.Client, topicID string) *Publisher {
	p := &Publisher{
		topicID: topicID,
		client:  client,
		topics:  make(map[string]*pubsub.Topic),
	}
	p.send = p.sendWithClient
	return p
}

func newWithSend(topicID string, send sendFunc) *Publisher {
	return &Publisher{topicID: topicID, send: send, topics: make(map[string]*pubsub.Topic)}
}

// Publish marshals payload to JSON and blocks until the server acknowledges it.
func (p *Publisher) Publish(ctx context.Context, event string, payload any) (string, error) {
	if p.topicID == "" {
		return "", fmt.Errorf("pubsub topic is not configured")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	msg := &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{EventAttribute: event},
	}
	id, err := p.send(ctx, p.topicID, msg)
	if err != nil {
		return "", fmt.Errorf("publish %s: %w", event, err)
	}
	return id, nil
}

func (p *Publisher) sendWithClient(ctx context.Context, topicID string, msg *pubsub.Message) (string, error) {
	if p.client == nil {
		return "", fmt.Errorf("pubsub client is not configured")
	}
	p.mu.Lock()
	topic, ok := p.topics[topicID]
	if !ok {
		topic = p.client.Topic(topicID)
		p.topics[topicID] = topic
	}
	p.mu.Unlock()
	return topic.Publish(ctx, msg).Get(ctx)
}

// Close flushes pending messages on every topic handle.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, topic := range p.topics {
		topic.Stop()
		delete(p.topics, id)
	}
	return nil
}
