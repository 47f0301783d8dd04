package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockNotifier struct {
	name       string
	shouldFail bool

	mu      sync.Mutex
	sent    []Notification
	batches [][]Notification
}

func (m *mockNotifier) Name() string { return m.name }

func (m *mockNotifier) Init(cfg Config) error { return nil }

func (m *mockNotifier) Send(ctx context.Context, n Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, n)
	if m.shouldFail {
		return errors.New("send failed")
	}
	return nil
}

func (m *mockNotifier) SendBatch(ctx context.Context, ns []Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = append(m.batches, ns)
	if m.shouldFail {
		return errors.New("batch send failed")
	}
	return nil
}

func (m *mockNotifier) counts() (sent, batches int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent), len(m.batches)
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Register(&mockNotifier{name: "hook"}))
	assert.Error(t, r.Register(&mockNotifier{name: "hook"}), "duplicate names are rejected")
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_Get(t *testing.T) {
	r := NewRegistry()
	m := &mockNotifier{name: "hook"}
	r.Register(m)

	got, err := r.Get("hook")
	require.NoError(t, err)
	assert.Same(t, m, got)

	_, err = r.Get("missing")
	assert.Error(t, err)
}

func TestRegistry_GetAllSorted(t *testing.T) {
	r := NewRegistry()
	r.Register(&mockNotifier{name: "b"})
	r.Register(&mockNotifier{name: "a"})

	all := r.GetAll()
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].Name())
	assert.Equal(t, "b", all[1].Name())
}

func TestRegistry_NotifyAll(t *testing.T) {
	r := NewRegistry()
	ok := &mockNotifier{name: "ok"}
	bad := &mockNotifier{name: "bad", shouldFail: true}
	r.Register(ok)
	r.Register(bad)

	errs := r.NotifyAll(context.Background(), Notification{Kind: "suspended"})

	assert.Len(t, errs, 1)
	assert.Contains(t, errs, "bad")
	sent, _ := ok.counts()
	assert.Equal(t, 1, sent)
	sent, _ = bad.counts()
	assert.Equal(t, 1, sent, "a failing notifier does not stop the others")
}

func TestRegistry_NotifyAllBatch(t *testing.T) {
	r := NewRegistry()
	m := &mockNotifier{name: "hook"}
	r.Register(m)

	errs := r.NotifyAllBatch(context.Background(), []Notification{{Kind: "a"}, {Kind: "b"}})
	assert.Empty(t, errs)
	_, batches := m.counts()
	assert.Equal(t, 1, batches)

	r.NotifyAllBatch(context.Background(), nil)
	_, batches = m.counts()
	assert.Equal(t, 1, batches, "empty batches are skipped")
}

func TestStringParams(t *testing.T) {
	params := map[string]any{
		"url":     "http://example.com",
		"number":  3,
		"headers": map[string]any{"X-Token": "abc", "X-Bad": 1},
		"typed":   map[string]string{"A": "b"},
	}

	assert.Equal(t, "http://example.com", StringParam(params, "url"))
	assert.Equal(t, "", StringParam(params, "number"))
	assert.Equal(t, map[string]string{"X-Token": "abc"}, StringMapParam(params, "headers"))
	assert.Equal(t, map[string]string{"A": "b"}, StringMapParam(params, "typed"))
	assert.Nil(t, StringMapParam(params, "missing"))
}
