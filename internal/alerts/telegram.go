package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"lp-hedge-bot/internal/config"

	"go.uber.org/zap"
)

const (
	telegramBaseURL = "https://api.telegram.org"
	// Telegram rejects messages above 4096 characters.
	maxMessageLen = 4000
	messagePrefix = "[lp-hedge-bot]"
)

type Telegram struct {
	enabled  bool
	token    string
	chatID   string
	baseURL  string
	cooldown time.Duration
	client   *http.Client
	log      *zap.Logger
	now      func() time.Time

	mu       sync.Mutex
	lastSent map[string]time.Time
}

func NewTelegram(cfg config.TelegramConfig, log *zap.Logger) *Telegram {
	return newTelegram(cfg, log, telegramBaseURL, &http.Client{Timeout: 10 * time.Second})
}

func newTelegram(cfg config.TelegramConfig, log *zap.Logger, baseURL string, client *http.Client) *Telegram {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Telegram{
		enabled:  cfg.Enabled,
		token:    strings.TrimSpace(cfg.Token),
		chatID:   strings.TrimSpace(cfg.ChatID),
		baseURL:  strings.TrimRight(baseURL, "/"),
		cooldown: cfg.Cooldown,
		client:   client,
		log:      log,
		now:      time.Now,
		lastSent: make(map[string]time.Time),
	}
}

// Send delivers one alert. A disabled client drops it silently, and a
// subject already sent within the cooldown is dropped as well.
func (t *Telegram) Send(ctx context.Context, subject, body string) error {
	if !t.enabled {
		t.log.Debug("alert suppressed", zap.String("subject", subject))
		return nil
	}
	if t.token == "" || t.chatID == "" {
		return errors.New("telegram token and chat_id are required")
	}
	message := formatMessage(subject, body)
	if message == "" {
		return errors.New("telegram message is empty")
	}
	if !t.claim(subject) {
		t.log.Debug("alert in cooldown", zap.String("subject", subject))
		return nil
	}
	if err := t.post(ctx, message); err != nil {
		t.release(subject)
		return err
	}
	return nil
}

func (t *Telegram) claim(subject string) bool {
	if t.cooldown <= 0 {
		return true
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	if last, ok := t.lastSent[subject]; ok && now.Sub(last) < t.cooldown {
		return false
	}
	t.lastSent[subject] = now
	return true
}

// release lets a failed send be retried before the cooldown ends.
func (t *Telegram) release(subject string) {
	t.mu.Lock()
	delete(t.lastSent, subject)
	t.mu.Unlock()
}

func (t *Telegram) post(ctx context.Context, message string) error {
	payload := map[string]string{
		"chat_id": t.chatID,
		"text":    message,
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("telegram send failed: http %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	var result struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			desc := strings.TrimSpace(result.Description)
			if desc == "" {
				desc = "unknown telegram error"
			}
			return fmt.Errorf("telegram send failed: %s", desc)
		}
	}
	return nil
}

func formatMessage(subject, body string) string {
	subject = strings.TrimSpace(subject)
	body = strings.TrimSpace(body)
	if subject == "" && body == "" {
		return ""
	}
	msg := messagePrefix + " " + subject
	if body != "" {
		msg += "\n" + body
	}
	if len(msg) > maxMessageLen {
		msg = msg[:maxMessageLen]
	}
	return msg
}
