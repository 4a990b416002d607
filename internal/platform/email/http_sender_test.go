package email

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	gax "github.com/googleapis/gax-go/v2"

	"github.com/Oashe02/ELVORA-Backend-sub000/internal/notifications"
)

var fastBackoff = &gax.Backoff{Initial: time.Millisecond, Max: time.Millisecond, Multiplier: 1}

func testMessage() notifications.Message {
	return notifications.Message{
		Kind:    notifications.KindOrderConfirmation,
		To:      []string{"Layla <layla@example.com>"},
		Subject: "Elvora: order ELV-260304-0001 confirmed",
		HTML:    "<p>Thanks</p>",
		Text:    "Thanks",
		Tags:    map[string]string{"orderId": "ord_1"},
	}
}

func TestHTTPSenderPostsMessage(t *testing.T) {
	var got apiMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer key_123" {
			t.Errorf("unexpected authorization %q", r.Header.Get("Authorization"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	sender, err := NewHTTPSender(Config{Endpoint: srv.URL, APIKey: "key_123", From: "Elvora <orders@elvora.test>"})
	if err != nil {
		t.Fatalf("NewHTTPSender: %v", err)
	}
	if err := sender.Send(context.Background(), testMessage()); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got.From != `"Elvora" <orders@elvora.test>` {
		t.Fatalf("unexpected from %q", got.From)
	}
	if len(got.To) != 1 || got.To[0] != "layla@example.com" {
		t.Fatalf("unexpected recipients %v", got.To)
	}
	if got.Tags["kind"] != notifications.KindOrderConfirmation || got.Tags["orderId"] != "ord_1" {
		t.Fatalf("unexpected tags %v", got.Tags)
	}
}

func TestHTTPSenderRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sender, err := NewHTTPSender(Config{Endpoint: srv.URL, APIKey: "k", From: "orders@elvora.test", Backoff: fastBackoff})
	if err != nil {
		t.Fatalf("NewHTTPSender: %v", err)
	}
	if err := sender.Send(context.Background(), testMessage()); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestHTTPSenderDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"message":"invalid from"}`, http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	sender, err := NewHTTPSender(Config{Endpoint: srv.URL, APIKey: "k", From: "orders@elvora.test", Backoff: fastBackoff})
	if err != nil {
		t.Fatalf("NewHTTPSender: %v", err)
	}
	err = sender.Send(context.Background(), testMessage())
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected api error, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single attempt, got %d", calls.Load())
	}
}

func TestHTTPSenderValidation(t *testing.T) {
	if _, err := NewHTTPSender(Config{APIKey: "k", From: "a@b.test"}); err == nil {
		t.Fatal("expected missing endpoint error")
	}
	if _, err := NewHTTPSender(Config{Endpoint: "https://mail.test/send", From: "a@b.test"}); err == nil {
		t.Fatal("expected missing key error")
	}
	if _, err := NewHTTPSender(Config{Endpoint: "https://mail.test/send", APIKey: "k", From: "not-an-address"}); err == nil {
		t.Fatal("expected invalid from error")
	}

	sender, err := NewHTTPSender(Config{Endpoint: "https://mail.test/send", APIKey: "k", From: "a@b.test"})
	if err != nil {
		t.Fatalf("NewHTTPSender: %v", err)
	}
	msg := testMessage()
	msg.To = []string{"broken"}
	if err := sender.Send(context.Background(), msg); err == nil {
		t.Fatal("expected invalid recipient error")
	}
	msg.To = nil
	if err := sender.Send(context.Background(), msg); !errors.Is(err, notifications.ErrNoRecipient) {
		t.Fatalf("expected no recipient error, got %v", err)
	}
}
