// Package settings holds per-provider credentials and rate-limit thresholds.
package settings

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"sync"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"github.com/newthinker/quoted/internal/core"
	"github.com/newthinker/quoted/internal/storage/archive"
)

// Field names a settings field. The values double as document keys.
type Field string

const (
	FieldName              Field = "name"
	FieldAPIKey            Field = "api_key"
	FieldRequestsPerMinute Field = "requests_per_minute_limit"
	FieldRequestsPerDay    Field = "requests_per_day_limit"
	FieldRequestsPerMonth  Field = "requests_per_month_limit"
)

// Fields lists every field in document order.
var Fields = []Field{FieldName, FieldAPIKey, FieldRequestsPerMinute, FieldRequestsPerDay, FieldRequestsPerMonth}

// Limits are request quotas. Zero or negative means unlimited.
type Limits struct {
	PerMinute int
	PerDay    int
	PerMonth  int
}

// Snapshot is a plain copy of all fields.
type Snapshot struct {
	Name   string
	APIKey string
	Limits
}

// Update carries the fields to change; nil fields are left alone.
type Update struct {
	Name              *string
	APIKey            *string
	RequestsPerMinute *int
	RequestsPerDay    *int
	RequestsPerMonth  *int
}

// ProviderSettings is safe for concurrent use. Each field is read and
// written atomically; there is no cross-field transaction.
type ProviderSettings struct {
	name      atomic.Value // string
	apiKey    atomic.Value // string
	perMinute atomic.Int64
	perDay    atomic.Int64
	perMonth  atomic.Int64

	// mu serializes writers and guards observers.
	mu        sync.Mutex
	observers []func(Field)
}

// New creates settings for the named provider with no key and no limits.
func New(name string) *ProviderSettings {
	s := &ProviderSettings{}
	s.name.Store(name)
	s.apiKey.Store("")
	return s
}

// Name is the provider the settings belong to.
func (s *ProviderSettings) Name() string { return loadString(&s.name) }

// APIKey is the provider credential, empty when none is configured.
func (s *ProviderSettings) APIKey() string { return loadString(&s.apiKey) }

// RequestsPerMinute is the per-minute quota. Zero means unlimited.
func (s *ProviderSettings) RequestsPerMinute() int { return int(s.perMinute.Load()) }

// RequestsPerDay is the per-day quota. Zero means unlimited.
func (s *ProviderSettings) RequestsPerDay() int { return int(s.perDay.Load()) }

// RequestsPerMonth is the rolling 30 day quota. Zero means unlimited.
func (s *ProviderSettings) RequestsPerMonth() int { return int(s.perMonth.Load()) }

// Limits reads the three quotas.
func (s *ProviderSettings) Limits() Limits {
	return Limits{
		PerMinute: s.RequestsPerMinute(),
		PerDay:    s.RequestsPerDay(),
		PerMonth:  s.RequestsPerMonth(),
	}
}

// Snapshot copies all fields.
func (s *ProviderSettings) Snapshot() Snapshot {
	return Snapshot{Name: s.Name(), APIKey: s.APIKey(), Limits: s.Limits()}
}

// OnChange registers fn to be called once per changed field, after the
// change is visible. fn runs on the mutating goroutine.
func (s *ProviderSettings) OnChange(fn func(Field)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

// SetName renames the settings. It reports whether the value changed.
func (s *ProviderSettings) SetName(v string) bool {
	return len(s.Apply(Update{Name: &v})) > 0
}

// SetAPIKey replaces the credential and reports whether it changed.
func (s *ProviderSettings) SetAPIKey(v string) bool {
	return len(s.Apply(Update{APIKey: &v})) > 0
}

// SetRequestsPerMinute sets the per-minute quota.
func (s *ProviderSettings) SetRequestsPerMinute(v int) bool {
	return len(s.Apply(Update{RequestsPerMinute: &v})) > 0
}

// SetRequestsPerDay sets the per-day quota.
func (s *ProviderSettings) SetRequestsPerDay(v int) bool {
	return len(s.Apply(Update{RequestsPerDay: &v})) > 0
}

// SetRequestsPerMonth sets the monthly quota.
func (s *ProviderSettings) SetRequestsPerMonth(v int) bool {
	return len(s.Apply(Update{RequestsPerMonth: &v})) > 0
}

// Apply writes the non-nil fields of u and returns the ones whose value
// actually changed, in document order.
func (s *ProviderSettings) Apply(u Update) []Field {
	s.mu.Lock()
	var changed []Field
	if u.Name != nil && s.Name() != *u.Name {
		s.name.Store(*u.Name)
		changed = append(changed, FieldName)
	}
	if u.APIKey != nil && s.APIKey() != *u.APIKey {
		s.apiKey.Store(*u.APIKey)
		changed = append(changed, FieldAPIKey)
	}
	if u.RequestsPerMinute != nil && swapInt(&s.perMinute, *u.RequestsPerMinute) {
		changed = append(changed, FieldRequestsPerMinute)
	}
	if u.RequestsPerDay != nil && swapInt(&s.perDay, *u.RequestsPerDay) {
		changed = append(changed, FieldRequestsPerDay)
	}
	if u.RequestsPerMonth != nil && swapInt(&s.perMonth, *u.RequestsPerMonth) {
		changed = append(changed, FieldRequestsPerMonth)
	}
	observers := make([]func(Field), len(s.observers))
	copy(observers, s.observers)
	s.mu.Unlock()

	for _, f := range changed {
		for _, fn := range observers {
			fn(f)
		}
	}
	return changed
}

func swapInt(v *atomic.Int64, n int) bool {
	return v.Swap(int64(n)) != int64(n)
}

func loadString(v *atomic.Value) string {
	s, _ := v.Load().(string)
	return s
}

// document is the persisted form. Pointer fields tell present keys from
// missing ones.
type document struct {
	Name              *string `yaml:"name"`
	APIKey            *string `yaml:"api_key"`
	RequestsPerMinute *int    `yaml:"requests_per_minute_limit"`
	RequestsPerDay    *int    `yaml:"requests_per_day_limit"`
	RequestsPerMonth  *int    `yaml:"requests_per_month_limit"`
}

// Serialize writes all five fields, in document order.
func (s *ProviderSettings) Serialize(w io.Writer) error {
	snap := s.Snapshot()
	doc := document{
		Name:              &snap.Name,
		APIKey:            &snap.APIKey,
		RequestsPerMinute: &snap.PerMinute,
		RequestsPerDay:    &snap.PerDay,
		RequestsPerMonth:  &snap.PerMonth,
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return core.WrapError(core.ErrPersistence, fmt.Errorf("encoding settings: %w", err))
	}
	return enc.Close()
}

// Deserialize applies the keys present in the document read from r.
// Unknown keys are ignored and missing keys keep their current value. It
// returns the fields that changed.
func (s *ProviderSettings) Deserialize(r io.Reader) ([]Field, error) {
	var doc document
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, core.WrapError(core.ErrMalformedData, fmt.Errorf("decoding settings: %w", err))
	}
	return s.Apply(Update{
		Name:              doc.Name,
		APIKey:            doc.APIKey,
		RequestsPerMinute: doc.RequestsPerMinute,
		RequestsPerDay:    doc.RequestsPerDay,
		RequestsPerMonth:  doc.RequestsPerMonth,
	}), nil
}

// StoragePath is where settings for the named provider are persisted.
func StoragePath(name string) string {
	return path.Join("settings", url.PathEscape(name)+".yaml")
}

// Save persists the settings under their provider name.
func (s *ProviderSettings) Save(ctx context.Context, st archive.Storage) error {
	var buf bytes.Buffer
	if err := s.Serialize(&buf); err != nil {
		return err
	}
	if err := st.Write(ctx, StoragePath(s.Name()), buf.Bytes()); err != nil {
		return core.WrapError(core.ErrPersistence, fmt.Errorf("saving %s settings: %w", s.Name(), err))
	}
	return nil
}

// LoadFrom applies the persisted document for this provider, if any. It
// reports whether a document was found.
func (s *ProviderSettings) LoadFrom(ctx context.Context, st archive.Storage) (bool, error) {
	data, err := st.Read(ctx, StoragePath(s.Name()))
	if err != nil {
		if errors.Is(err, archive.ErrNotExist) {
			return false, nil
		}
		return false, core.WrapError(core.ErrPersistence, fmt.Errorf("reading %s settings: %w", s.Name(), err))
	}
	if _, err := s.Deserialize(bytes.NewReader(data)); err != nil {
		return true, err
	}
	return true, nil
}
