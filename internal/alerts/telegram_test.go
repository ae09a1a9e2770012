package alerts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"lp-hedge-bot/internal/config"

	"go.uber.org/zap"
)

func TestTelegramSendDisabled(t *testing.T) {
	cfg := config.TelegramConfig{Enabled: false}
	client := newTelegram(cfg, zap.NewNop(), "http://unused", nil)
	if err := client.Send(context.Background(), "Standby", "hello"); err != nil {
		t.Fatalf("expected nil error when disabled, got %v", err)
	}
}

func TestTelegramSendMissingConfig(t *testing.T) {
	cfg := config.TelegramConfig{Enabled: true}
	client := newTelegram(cfg, zap.NewNop(), "http://unused", nil)
	if err := client.Send(context.Background(), "Standby", "hello"); err == nil {
		t.Fatalf("expected error for missing token/chat_id")
	}
}

func TestTelegramSendPostsMessage(t *testing.T) {
	var gotPath string
	var gotPayload map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&gotPayload); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"result":{}}`))
	}))
	defer server.Close()

	cfg := config.TelegramConfig{Enabled: true, Token: "token", ChatID: "123"}
	client := newTelegram(cfg, zap.NewNop(), server.URL, server.Client())
	if err := client.Send(context.Background(), "PANIC EXIT", "health factor 0.95"); err != nil {
		t.Fatalf("expected send success, got %v", err)
	}
	if gotPath != "/bottoken/sendMessage" {
		t.Fatalf("expected path /bottoken/sendMessage, got %s", gotPath)
	}
	if gotPayload["chat_id"] != "123" {
		t.Fatalf("expected chat_id 123, got %q", gotPayload["chat_id"])
	}
	if gotPayload["text"] != "[lp-hedge-bot] PANIC EXIT\nhealth factor 0.95" {
		t.Fatalf("unexpected text %q", gotPayload["text"])
	}
}

func TestTelegramSendAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":false,"description":"chat not found"}`))
	}))
	defer server.Close()

	cfg := config.TelegramConfig{Enabled: true, Token: "token", ChatID: "123"}
	client := newTelegram(cfg, zap.NewNop(), server.URL, server.Client())
	err := client.Send(context.Background(), "Status", "ok")
	if err == nil || !strings.Contains(err.Error(), "chat not found") {
		t.Fatalf("expected api error, got %v", err)
	}
}

func TestFormatMessageTruncates(t *testing.T) {
	msg := formatMessage("Status", strings.Repeat("x", 5000))
	if len(msg) != maxMessageLen {
		t.Fatalf("expected truncation to %d, got %d", maxMessageLen, len(msg))
	}
	if formatMessage(" ", "") != "" {
		t.Fatalf("expected empty message")
	}
}

func TestTelegramCooldownSuppressesRepeats(t *testing.T) {
	var posts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		posts.Add(1)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	cfg := config.TelegramConfig{Enabled: true, Token: "token", ChatID: "123", Cooldown: 10 * time.Minute}
	client := newTelegram(cfg, zap.NewNop(), server.URL, server.Client())
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	client.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := client.Send(ctx, "Rebalance aborted", "twap check"); err != nil {
			t.Fatalf("send: %v", err)
		}
	}
	if err := client.Send(ctx, "Standby entered", "price 2000"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got := posts.Load(); got != 2 {
		t.Fatalf("expected 2 posts inside cooldown, got %d", got)
	}
	now = now.Add(11 * time.Minute)
	if err := client.Send(ctx, "Rebalance aborted", "twap check"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got := posts.Load(); got != 3 {
		t.Fatalf("expected repeat after cooldown, got %d", got)
	}
}

func TestTelegramFailedSendDoesNotStartCooldown(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	cfg := config.TelegramConfig{Enabled: true, Token: "token", ChatID: "123", Cooldown: time.Hour}
	client := newTelegram(cfg, zap.NewNop(), server.URL, server.Client())
	if err := client.Send(context.Background(), "PANIC EXIT", "hf 0.9"); err == nil {
		t.Fatalf("expected http error")
	}
	fail.Store(false)
	if err := client.Send(context.Background(), "PANIC EXIT", "hf 0.9"); err != nil {
		t.Fatalf("expected retry to send, got %v", err)
	}
}
