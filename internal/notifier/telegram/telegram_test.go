package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newthinker/quoted/internal/notifier"
)

func TestTelegram_ImplementsNotifier(t *testing.T) {
	var _ notifier.Notifier = (*Telegram)(nil)
}

func TestTelegram_Init(t *testing.T) {
	tg := &Telegram{}
	err := tg.Init(notifier.Config{Params: map[string]any{
		"bot_token": "token",
		"chat_id":   "42",
	}})
	require.NoError(t, err)
	assert.Equal(t, "telegram", tg.Name())
	assert.Equal(t, apiURL, tg.apiURL)

	assert.Error(t, (&Telegram{}).Init(notifier.Config{Params: map[string]any{"chat_id": "42"}}))
	assert.Error(t, (&Telegram{}).Init(notifier.Config{Params: map[string]any{"bot_token": "token"}}))
}

func TestTelegram_Send(t *testing.T) {
	var path string
	var payload map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		json.NewDecoder(r.Body).Decode(&payload)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tg := New("", "")
	require.NoError(t, tg.Init(notifier.Config{Params: map[string]any{
		"bot_token": "token",
		"chat_id":   "42",
		"api_url":   srv.URL,
	}}))

	err := tg.Send(context.Background(), notifier.Notification{
		Kind:     "download_error",
		Provider: "yahoo",
		Symbol:   "AAPL",
		Message:  "unexpected status: 502",
		Time:     time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	})
	require.NoError(t, err)

	assert.Equal(t, "/bottoken/sendMessage", path)
	assert.Equal(t, "42", payload["chat_id"])
	text := payload["text"].(string)
	assert.Contains(t, text, "*AAPL* download error")
	assert.Contains(t, text, "unexpected status: 502")
	assert.Contains(t, text, "2024-01-02 03:04:05")
}

func TestTelegram_SendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"ok":false,"description":"bot was blocked"}`))
	}))
	defer srv.Close()

	tg := New("token", "42")
	tg.apiURL = srv.URL

	err := tg.Send(context.Background(), notifier.Notification{Kind: "complete"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestTelegram_Format(t *testing.T) {
	text := format(notifier.Notification{Kind: "suspended", Provider: "eastmoney", Message: "dispatch paused by request quota"})
	assert.True(t, strings.HasPrefix(text, "*eastmoney* suspended\n"))
	assert.Contains(t, text, "dispatch paused")
}

func TestTelegram_SendBatch(t *testing.T) {
	var payload map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&payload)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tg := New("token", "42")
	tg.apiURL = srv.URL

	require.NoError(t, tg.SendBatch(context.Background(), nil))
	assert.Nil(t, payload, "empty batch sends nothing")

	err := tg.SendBatch(context.Background(), []notifier.Notification{
		{Kind: "download_error", Provider: "yahoo", Symbol: "A"},
		{Kind: "symbol_not_found", Provider: "yahoo", Symbol: "B"},
	})
	require.NoError(t, err)
	text := payload["text"].(string)
	assert.Contains(t, text, "*2 events from yahoo*")
	assert.Contains(t, text, "*B* symbol not found")
}
