// Package telegram sends notifications through the Telegram Bot API.
package telegram

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/newthinker/quoted/internal/notifier"
)

const apiURL = "https://api.telegram.org"

// Telegram implements the Notifier interface for Telegram Bot API
type Telegram struct {
	botToken string
	chatID   string
	apiURL   string
	client   *http.Client
}

// New creates a new Telegram notifier
func New(botToken, chatID string) *Telegram {
	return &Telegram{
		botToken: botToken,
		chatID:   chatID,
		apiURL:   apiURL,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (t *Telegram) Name() string {
	return "telegram"
}

func (t *Telegram) Init(cfg notifier.Config) error {
	if token := notifier.StringParam(cfg.Params, "bot_token"); token != "" {
		t.botToken = token
	}
	if chatID := notifier.StringParam(cfg.Params, "chat_id"); chatID != "" {
		t.chatID = chatID
	}
	if u := notifier.StringParam(cfg.Params, "api_url"); u != "" {
		t.apiURL = strings.TrimRight(u, "/")
	}
	if t.apiURL == "" {
		t.apiURL = apiURL
	}
	if t.client == nil {
		t.client = &http.Client{Timeout: 30 * time.Second}
	}

	if t.botToken == "" {
		return fmt.Errorf("telegram: bot_token is required")
	}
	if t.chatID == "" {
		return fmt.Errorf("telegram: chat_id is required")
	}
	return nil
}

func (t *Telegram) Send(ctx context.Context, n notifier.Notification) error {
	return t.sendMessage(ctx, format(n))
}

func (t *Telegram) SendBatch(ctx context.Context, ns []notifier.Notification) error {
	if len(ns) == 0 {
		return nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "*%d events from %s*\n\n", len(ns), ns[0].Provider)
	for i, n := range ns {
		sb.WriteString(format(n))
		if i < len(ns)-1 {
			sb.WriteString("\n\n")
		}
	}
	return t.sendMessage(ctx, sb.String())
}

func format(n notifier.Notification) string {
	var sb strings.Builder

	label := strings.ReplaceAll(n.Kind, "_", " ")
	if n.Symbol != "" {
		fmt.Fprintf(&sb, "*%s* %s\n", n.Symbol, label)
	} else {
		fmt.Fprintf(&sb, "*%s* %s\n", n.Provider, label)
	}
	if n.Message != "" {
		fmt.Fprintf(&sb, "%s\n", n.Message)
	}
	sb.WriteString(n.Time.Format("2006-01-02 15:04:05"))
	return sb.String()
}

func (t *Telegram) sendMessage(ctx context.Context, text string) error {
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.apiURL, t.botToken)

	body, err := json.Marshal(map[string]any{
		"chat_id":    t.chatID,
		"text":       text,
		"parse_mode": "Markdown",
	})
	if err != nil {
		return fmt.Errorf("telegram: failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: failed to send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var result map[string]any
		json.NewDecoder(resp.Body).Decode(&result)
		return fmt.Errorf("telegram: API error (status %d): %v", resp.StatusCode, result)
	}
	return nil
}
