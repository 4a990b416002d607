package email

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/mail"
	"net/url"
	"strings"
	"time"

	gax "github.com/googleapis/gax-go/v2"

	"github.com/Oashe02/ELVORA-Backend-sub000/internal/notifications"
	"github.com/Oashe02/ELVORA-Backend-sub000/internal/platform/textutil"
)

const (
	defaultTimeout     = 10 * time.Second
	defaultMaxAttempts = 3
	maxErrorBody       = 4 << 10
)

// Config configures the transactional email HTTP API transport.
type Config struct {
	Endpoint    string
	APIKey      string
	From        string
	ReplyTo     string
	MaxAttempts int
	HTTPClient  *http.Client
	// Backoff controls the pause between retried attempts.
	Backoff *gax.Backoff
}

// HTTPSender posts rendered emails to a JSON mail API using bearer authentication.
type HTTPSender struct {
	endpoint    string
	apiKey      string
	from        string
	replyTo     string
	maxAttempts int
	client      *http.Client
	backoff     gax.Backoff
}

// NewHTTPSender validates cfg and constructs a sender.
func NewHTTPSender(cfg Config) (*HTTPSender, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, errors.New("email: endpoint is required")
	}
	if u, err := url.Parse(endpoint); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("email: invalid endpoint %q", endpoint)
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("email: api key is required")
	}
	from, err := mail.ParseAddress(strings.TrimSpace(cfg.From))
	if err != nil {
		return nil, fmt.Errorf("email: invalid from address: %w", err)
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	backoff := gax.Backoff{Initial: 200 * time.Millisecond, Max: 2 * time.Second, Multiplier: 2}
	if cfg.Backoff != nil {
		backoff = *cfg.Backoff
	}
	return &HTTPSender{
		endpoint:    endpoint,
		apiKey:      strings.TrimSpace(cfg.APIKey),
		from:        from.String(),
		replyTo:     strings.TrimSpace(cfg.ReplyTo),
		maxAttempts: attempts,
		client:      client,
		backoff:     backoff,
	}, nil
}

type apiMessage struct {
	From    string            `json:"from"`
	To      []string          `json:"to"`
	ReplyTo string            `json:"reply_to,omitempty"`
	Subject string            `json:"subject"`
	HTML    string            `json:"html"`
	Text    string            `json:"text,omitempty"`
	Tags    map[string]string `json:"tags,omitempty"`
}

// APIError reports a non-2xx response from the mail API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("email api status %d", e.StatusCode)
	}
	return fmt.Sprintf("email api status %d: %s", e.StatusCode, e.Body)
}

func (e *APIError) retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Send delivers msg, retrying throttled and server errors with backoff.
func (s *HTTPSender) Send(ctx context.Context, msg notifications.Message) error {
	to := make([]string, 0, len(msg.To))
	for _, raw := range msg.To {
		addr, err := mail.ParseAddress(strings.TrimSpace(raw))
		if err != nil {
			return fmt.Errorf("email: invalid recipient %q: %w", raw, err)
		}
		to = append(to, addr.Address)
	}
	if len(to) == 0 {
		return notifications.ErrNoRecipient
	}
	tags := map[string]string{"kind": msg.Kind}
	for k, v := range textutil.NormalizeStringMap(msg.Tags) {
		tags[k] = v
	}
	body, err := json.Marshal(apiMessage{
		From:    s.from,
		To:      to,
		ReplyTo: s.replyTo,
		Subject: msg.Subject,
		HTML:    msg.HTML,
		Text:    msg.Text,
		Tags:    tags,
	})
	if err != nil {
		return fmt.Errorf("email: encode: %w", err)
	}

	backoff := s.backoff
	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		lastErr = s.post(ctx, body)
		if lastErr == nil {
			return nil
		}
		var apiErr *APIError
		if errors.As(lastErr, &apiErr) && !apiErr.retryable() {
			return lastErr
		}
		if attempt == s.maxAttempts {
			break
		}
		if err := gax.Sleep(ctx, backoff.Pause()); err != nil {
			return err
		}
	}
	return fmt.Errorf("email: send %s after %d attempts: %w", msg.Kind, s.maxAttempts, lastErr)
}

func (s *HTTPSender) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	res, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
		return &APIError{StatusCode: res.StatusCode, Body: strings.TrimSpace(string(detail))}
	}
	_, _ = io.Copy(io.Discard, res.Body)
	return nil
}
