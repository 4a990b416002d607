package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/Oashe02/ELVORA-Backend-sub000/internal/notifications"
)

// PubSubEmailPublisher queues rendered emails on a Pub/Sub topic for an out-of-process mailer.
type PubSubEmailPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubEmailPublisher constructs a Pub/Sub backed email sender.
func NewPubSubEmailPublisher(topic *pubsub.Topic) (*PubSubEmailPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub email publisher: topic is required")
	}
	return &PubSubEmailPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// Send enqueues the message and waits for the publish acknowledgement.
func (p *PubSubEmailPublisher) Send(ctx context.Context, msg notifications.Message) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub email publisher: not initialised")
	}

	data, err := p.marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal email: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "kind", msg.Kind)
	setAttr(attrs, "orderId", msg.Tags["orderId"])

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish email %s: %w", msg.Kind, err)
	}
	return nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
