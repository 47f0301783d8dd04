package history

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newthinker/quoted/internal/core"
	"github.com/newthinker/quoted/internal/storage/archive"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	fs, err := archive.NewLocalFS(t.TempDir())
	require.NoError(t, err)
	return NewStore(fs, nil)
}

func TestStore_LoadMissing(t *testing.T) {
	s := newTestStore(t)

	h, err := s.Load(context.Background(), "AAPL")
	assert.NoError(t, err)
	assert.Nil(t, h)
}

func TestStore_SaveLoad(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	h := New("AAPL")
	h.AddQuote(quoteOn(1, "100"), true)
	require.NoError(t, s.Save(ctx, h))

	loaded, err := s.Load(ctx, "AAPL")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, 1, loaded.Len())
}

func TestStore_Record(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Record(ctx, quoteOn(2, "100")))
	require.NoError(t, s.Record(ctx, quoteOn(1, "99")))
	require.NoError(t, s.Record(ctx, quoteOn(2, "105")))

	h, err := s.Load(ctx, "AAPL")
	require.NoError(t, err)
	require.Equal(t, 2, h.Len())
	assertStrictlyAscending(t, h.Quotes)
	assert.True(t, h.Quotes[1].Close.Equal(decimal.RequireFromString("105")))
}

func TestStore_RecordConcurrent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			assert.NoError(t, s.Record(ctx, quoteOn(n, "100")))
		}(i)
	}
	wg.Wait()

	h, err := s.Load(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 20, h.Len(), "no read-modify-write may be lost")
	assertStrictlyAscending(t, h.Quotes)
}

func TestStore_UpdateErrorSkipsSave(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Update(ctx, "AAPL", func(h *History) error {
		h.AddQuote(quoteOn(1, "100"), true)
		return errors.New("abort")
	})
	assert.Error(t, err)

	h, err := s.Load(ctx, "AAPL")
	assert.NoError(t, err)
	assert.Nil(t, h)
}

func TestStore_LoadMalformed(t *testing.T) {
	fs, err := archive.NewLocalFS(t.TempDir())
	require.NoError(t, err)
	s := NewStore(fs, nil)
	ctx := context.Background()

	require.NoError(t, fs.Write(ctx, "history/AAPL.json", []byte("not json")))

	_, err = s.Load(ctx, "AAPL")
	assert.True(t, errors.Is(err, core.ErrMalformedData))
}

func TestStore_Symbols(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, sym := range []string{"AAPL", "BRK/B", "600519.SH"} {
		q := quoteOn(1, "10")
		q.Symbol = sym
		require.NoError(t, s.Record(ctx, q), fmt.Sprintf("record %s", sym))
	}

	symbols, err := s.Symbols(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"AAPL", "BRK/B", "600519.SH"}, symbols)
}
