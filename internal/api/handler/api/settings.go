package api

import (
	"context"
	"net/http"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/newthinker/quoted/internal/api/response"
	"github.com/newthinker/quoted/internal/core"
	"github.com/newthinker/quoted/internal/settings"
)

// SettingsApp defines the interface needed from app.App.
type SettingsApp interface {
	Providers() []string
	Settings(ctx context.Context, name string) (*settings.ProviderSettings, error)
	UpdateSettings(ctx context.Context, name string, u settings.Update) ([]settings.Field, error)
}

// SettingsHandler reads and changes provider settings.
type SettingsHandler struct {
	app SettingsApp
}

// NewSettingsHandler creates a new settings handler.
func NewSettingsHandler(app SettingsApp) *SettingsHandler {
	return &SettingsHandler{app: app}
}

// SettingsView is the JSON form of provider settings. The API key is
// masked.
type SettingsView struct {
	Name              string `json:"name"`
	APIKey            string `json:"api_key"`
	RequestsPerMinute int    `json:"requests_per_minute_limit"`
	RequestsPerDay    int    `json:"requests_per_day_limit"`
	RequestsPerMonth  int    `json:"requests_per_month_limit"`
}

// SettingsRequest is the body for PUT /api/settings/{provider}. Absent
// fields are left unchanged.
type SettingsRequest struct {
	Name              *string `json:"name,omitempty"`
	APIKey            *string `json:"api_key,omitempty"`
	RequestsPerMinute *int    `json:"requests_per_minute_limit,omitempty"`
	RequestsPerDay    *int    `json:"requests_per_day_limit,omitempty"`
	RequestsPerMonth  *int    `json:"requests_per_month_limit,omitempty"`
}

func (req SettingsRequest) update() settings.Update {
	return settings.Update{
		Name:              req.Name,
		APIKey:            req.APIKey,
		RequestsPerMinute: req.RequestsPerMinute,
		RequestsPerDay:    req.RequestsPerDay,
		RequestsPerMonth:  req.RequestsPerMonth,
	}
}

func newSettingsView(s *settings.ProviderSettings) SettingsView {
	snap := s.Snapshot()
	return SettingsView{
		Name:              snap.Name,
		APIKey:            maskKey(snap.APIKey),
		RequestsPerMinute: snap.PerMinute,
		RequestsPerDay:    snap.PerDay,
		RequestsPerMonth:  snap.PerMonth,
	}
}

func maskKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 4 {
		return "****"
	}
	return strings.Repeat("*", 4) + key[len(key)-4:]
}

// List returns the settings of every registered provider.
func (h *SettingsHandler) List(w http.ResponseWriter, r *http.Request) {
	views := make([]SettingsView, 0)
	for _, name := range h.app.Providers() {
		s, err := h.app.Settings(r.Context(), name)
		if err != nil {
			response.Fail(w, err)
			return
		}
		views = append(views, newSettingsView(s))
	}
	response.JSON(w, http.StatusOK, map[string]any{
		"providers": views,
		"count":     len(views),
	})
}

// Get returns one provider's settings.
func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	s, err := h.app.Settings(r.Context(), r.PathValue("provider"))
	if err != nil {
		response.Fail(w, err)
		return
	}
	response.JSON(w, http.StatusOK, newSettingsView(s))
}

// Update applies the given fields and persists the result.
func (h *SettingsHandler) Update(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("provider")

	var req SettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, core.WrapError(core.ErrInvalidRequest, err))
		return
	}

	changed, err := h.app.UpdateSettings(r.Context(), name, req.update())
	if err != nil {
		response.Fail(w, err)
		return
	}
	s, err := h.app.Settings(r.Context(), name)
	if err != nil {
		response.Fail(w, err)
		return
	}

	fields := make([]string, len(changed))
	for i, f := range changed {
		fields[i] = string(f)
	}
	response.JSON(w, http.StatusOK, map[string]any{
		"settings": newSettingsView(s),
		"changed":  fields,
	})
}
