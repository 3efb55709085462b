// Package pubsub publishes status-change events to Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"

	"github.com/visawatch/visawatch/internal/monitor"
)

// Config identifies the target topic.
type Config struct {
	ProjectID string
	TopicID   string
}

// Notifier implements monitor.Notifier on a Pub/Sub topic.
type Notifier struct {
	client *pubsub.Client
	topic  *pubsub.Topic
}

// New connects to Pub/Sub and binds the topic.
func New(ctx context.Context, cfg Config) (*Notifier, error) {
	if cfg.ProjectID == "" || cfg.TopicID == "" {
		return nil, fmt.Errorf("pubsub project and topic are required")
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	return &Notifier{
		client: client,
		topic:  client.Topic(cfg.TopicID),
	}, nil
}

// Notify publishes the change as a JSON message. The call blocks until the
// server acknowledges the publish.
func (n *Notifier) Notify(ctx context.Context, change monitor.StatusChange) error {
	data, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("marshal status change: %w", err)
	}
	msg := &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"new_status": string(change.NewStatus),
		},
	}
	if _, err := n.topic.Publish(ctx, msg).Get(ctx); err != nil {
		return fmt.Errorf("publish status change: %w", err)
	}
	return nil
}

// Close flushes pending publishes and releases the client.
func (n *Notifier) Close() error {
	n.topic.Stop()
	if err := n.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}
