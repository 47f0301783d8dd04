package mock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newthinker/quoted/internal/collector"
	"github.com/newthinker/quoted/internal/core"
)

func TestCollector_ImplementsCollector(t *testing.T) {
	var _ collector.Collector = (*Collector)(nil)
}

func TestFetchQuote_Scripted(t *testing.T) {
	c := New("test", collector.Capabilities{})
	c.SetQuote(core.Quote{Symbol: "AAPL", Close: decimal.NewFromInt(190)})

	q, err := c.FetchQuote(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.True(t, q.Close.Equal(decimal.NewFromInt(190)))
	assert.False(t, q.Downloaded.IsZero())

	_, err = c.FetchQuote(context.Background(), "NOPE")
	assert.ErrorIs(t, err, core.ErrSymbolNotFound)
}

func TestFetchQuote_Failure(t *testing.T) {
	c := New("test", collector.Capabilities{})
	boom := errors.New("boom")
	c.Fail("AAPL", boom)

	_, err := c.FetchQuote(context.Background(), "AAPL")
	assert.ErrorIs(t, err, boom)
}

func TestFetchQuotes_RequiresBatch(t *testing.T) {
	c := New("test", collector.Capabilities{})
	_, err := c.FetchQuotes(context.Background(), []string{"AAPL"})
	assert.ErrorIs(t, err, core.ErrUnsupported)
	assert.Zero(t, c.CallCount())
}

func TestFetchQuotes_SkipsUnknown(t *testing.T) {
	c := New("test", collector.Capabilities{Batch: true})
	c.SetQuote(core.Quote{Symbol: "AAPL"})
	c.SetQuote(core.Quote{Symbol: "MSFT"})

	quotes, err := c.FetchQuotes(context.Background(), []string{"AAPL", "NOPE", "MSFT"})
	require.NoError(t, err)
	assert.Len(t, quotes, 2)
	assert.Equal(t, []Call{{Method: "FetchQuotes", Symbols: []string{"AAPL", "NOPE", "MSFT"}}}, c.Calls())
}

func TestFetchHistory_FiltersRange(t *testing.T) {
	c := New("test", collector.Capabilities{History: true})
	d := func(n int) time.Time { return time.Date(2024, 1, n, 0, 0, 0, 0, time.UTC) }
	c.SetHistory("AAPL", []core.Quote{{Symbol: "AAPL", Date: d(1)}, {Symbol: "AAPL", Date: d(5)}, {Symbol: "AAPL", Date: d(9)}})

	bars, err := c.FetchHistory(context.Background(), "AAPL", d(2), d(9))
	require.NoError(t, err)
	assert.Len(t, bars, 2)

	_, err = c.FetchHistory(context.Background(), "NOPE", d(1), d(9))
	assert.ErrorIs(t, err, core.ErrSymbolNotFound)
}

func TestBlock_ReleasesOnContext(t *testing.T) {
	c := New("test", collector.Capabilities{})
	c.SetQuote(core.Quote{Symbol: "AAPL"})
	release := c.Block()
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := c.FetchQuote(ctx, "AAPL")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSynthetic_AnswersAnything(t *testing.T) {
	c := NewSynthetic()

	q, err := c.FetchQuote(context.Background(), "ANY")
	require.NoError(t, err)
	assert.Equal(t, "ANY", q.Symbol)
	assert.True(t, q.Close.IsPositive())

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) // Monday
	bars, err := c.FetchHistory(context.Background(), "ANY", start, start.AddDate(0, 0, 13))
	require.NoError(t, err)
	assert.Len(t, bars, 10, "two weeks of weekdays")
}
