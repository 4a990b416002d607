package notifications

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
)

// ErrNoRecipient indicates an email had no usable recipient address.
var ErrNoRecipient = errors.New("notifications: no recipient")

// Message is a rendered email ready for a transport.
type Message struct {
	Kind    string            `json:"kind"`
	To      []string          `json:"to"`
	Subject string            `json:"subject"`
	HTML    string            `json:"html"`
	Text    string            `json:"text"`
	Tags    map[string]string `json:"tags,omitempty"`
}

// Sender delivers rendered emails.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, msg Message) error

// Send calls f.
func (f SenderFunc) Send(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}

// LogSender writes emails to the logger instead of delivering them. Used when no transport is configured.
type LogSender struct {
	Logger *zap.Logger
}

// Send logs the message envelope.
func (s LogSender) Send(_ context.Context, msg Message) error {
	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("email suppressed",
		zap.String("kind", msg.Kind),
		zap.String("to", strings.Join(msg.To, ",")),
		zap.String("subject", msg.Subject),
		zap.Int("htmlBytes", len(msg.HTML)),
	)
	return nil
}
