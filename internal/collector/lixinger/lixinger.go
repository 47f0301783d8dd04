// Package lixinger implements the Lixinger open API collector for A-shares.
// Every request carries the account token.
package lixinger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/newthinker/quoted/internal/collector"
	"github.com/newthinker/quoted/internal/core"
)

const (
	baseURL = "https://open.lixinger.com/api"

	realtimePath = "/cn/stock/real-time"
	historyPath  = "/cn/stock/hq"

	defaultMaxBatch = 100
)

var cst = time.FixedZone("CST", 8*3600)

var errNoKey = errors.New("lixinger: api key not set")

// Lixinger implements collector.Collector and collector.Keyed.
type Lixinger struct {
	client   *http.Client
	baseURL  string
	maxBatch int
	now      func() time.Time

	mu     sync.RWMutex
	apiKey string
}

// New creates a new Lixinger collector
func New() *Lixinger {
	return &Lixinger{
		client:   &http.Client{Timeout: 30 * time.Second},
		baseURL:  baseURL,
		maxBatch: defaultMaxBatch,
		now:      time.Now,
	}
}

func (l *Lixinger) Name() string { return "lixinger" }

func (l *Lixinger) Capabilities() collector.Capabilities {
	return collector.Capabilities{Batch: true, History: true, MaxBatch: l.maxBatch}
}

// Init applies configuration. The key may also arrive later through
// SetAPIKey; requests fail until one is set.
func (l *Lixinger) Init(cfg collector.Config) error {
	if cfg.APIKey != "" {
		l.SetAPIKey(cfg.APIKey)
	}
	if cfg.MaxBatch > 0 {
		l.maxBatch = cfg.MaxBatch
	}
	if u, ok := cfg.Extra["base_url"].(string); ok && u != "" {
		l.baseURL = strings.TrimRight(u, "/")
	}
	return nil
}

// SetAPIKey replaces the token sent with each request.
func (l *Lixinger) SetAPIKey(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.apiKey = key
}

func (l *Lixinger) token() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.apiKey
}

// toLixingerSymbol converts internal symbol format to Lixinger format
// 600519.SH -> 600519, 000001.SZ -> 000001
func toLixingerSymbol(symbol string) string {
	code, _, _ := strings.Cut(symbol, ".")
	return code
}

// FetchQuote fetches today's bar for one symbol.
func (l *Lixinger) FetchQuote(ctx context.Context, symbol string) (*core.Quote, error) {
	quotes, err := l.FetchQuotes(ctx, []string{symbol})
	if err != nil {
		return nil, err
	}
	if len(quotes) == 0 {
		return nil, core.WrapError(core.ErrSymbolNotFound, fmt.Errorf("no quote data for %s", symbol))
	}
	return &quotes[0], nil
}

// FetchQuotes fetches today's bars; codes the API does not return are
// absent from the result.
func (l *Lixinger) FetchQuotes(ctx context.Context, symbols []string) ([]core.Quote, error) {
	requested := make(map[string]string, len(symbols))
	codes := make([]string, 0, len(symbols))
	for _, s := range symbols {
		code := toLixingerSymbol(s)
		if _, dup := requested[code]; dup {
			continue
		}
		requested[code] = s
		codes = append(codes, code)
	}

	var result struct {
		response
		Data []struct {
			StockCode string          `json:"stockCode"`
			Open      decimal.Decimal `json:"open"`
			High      decimal.Decimal `json:"high"`
			Low       decimal.Decimal `json:"low"`
			Close     decimal.Decimal `json:"close"`
			Volume    decimal.Decimal `json:"volume"`
		} `json:"data"`
	}
	if err := l.post(ctx, realtimePath, map[string]any{"stockCodes": codes}, &result); err != nil {
		return nil, err
	}

	now := l.now()
	day := tradeDay(now)
	quotes := make([]core.Quote, 0, len(result.Data))
	for _, d := range result.Data {
		symbol, ok := requested[d.StockCode]
		if !ok {
			continue
		}
		quotes = append(quotes, core.Quote{
			Symbol:     symbol,
			Date:       day,
			Open:       d.Open,
			High:       d.High,
			Low:        d.Low,
			Close:      d.Close,
			Volume:     d.Volume,
			Downloaded: now,
		})
	}
	return quotes, nil
}

// FetchHistory fetches daily bars between start and end.
func (l *Lixinger) FetchHistory(ctx context.Context, symbol string, start, end time.Time) ([]core.Quote, error) {
	payload := map[string]any{
		"stockCodes": []string{toLixingerSymbol(symbol)},
		"startDate":  start.In(cst).Format("2006-01-02"),
		"endDate":    end.In(cst).Format("2006-01-02"),
		"metrics":    []string{"open", "high", "low", "close", "volume"},
	}

	var result struct {
		response
		Data []struct {
			Date   string          `json:"date"`
			Open   decimal.Decimal `json:"open"`
			High   decimal.Decimal `json:"high"`
			Low    decimal.Decimal `json:"low"`
			Close  decimal.Decimal `json:"close"`
			Volume decimal.Decimal `json:"volume"`
		} `json:"data"`
	}
	if err := l.post(ctx, historyPath, payload, &result); err != nil {
		return nil, err
	}
	if len(result.Data) == 0 {
		return nil, core.WrapError(core.ErrSymbolNotFound, fmt.Errorf("no history for %s", symbol))
	}

	now := l.now()
	quotes := make([]core.Quote, 0, len(result.Data))
	for _, item := range result.Data {
		// Dates come as 2024-01-02 or 2024-01-02T00:00:00+08:00.
		if len(item.Date) < 10 {
			continue
		}
		date, err := time.Parse("2006-01-02", item.Date[:10])
		if err != nil {
			continue
		}
		quotes = append(quotes, core.Quote{
			Symbol:     symbol,
			Date:       date,
			Open:       item.Open,
			High:       item.High,
			Low:        item.Low,
			Close:      item.Close,
			Volume:     item.Volume,
			Downloaded: now,
		})
	}
	return quotes, nil
}

type response struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (r response) err() error {
	if r.Code == 0 {
		return nil
	}
	return core.WrapError(core.ErrDownloadFailed, fmt.Errorf("lixinger: API error %d: %s", r.Code, r.Message))
}

// post sends payload with the token added and decodes the body into v,
// which must embed response.
func (l *Lixinger) post(ctx context.Context, path string, payload map[string]any, v interface{ err() error }) error {
	key := l.token()
	if key == "" {
		return core.WrapError(core.ErrDownloadFailed, errNoKey)
	}
	payload["token"] = key

	body, err := json.Marshal(payload)
	if err != nil {
		return core.WrapError(core.ErrDownloadFailed, fmt.Errorf("encoding request: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return core.WrapError(core.ErrDownloadFailed, fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return core.WrapError(core.ErrDownloadFailed, fmt.Errorf("lixinger: request failed: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return core.WrapError(core.ErrRateLimited, fmt.Errorf("unexpected status: %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return core.WrapError(core.ErrDownloadFailed, fmt.Errorf("unexpected status: %d", resp.StatusCode))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return core.WrapError(core.ErrDownloadFailed, fmt.Errorf("reading response: %w", err))
	}
	if err := json.Unmarshal(data, v); err != nil {
		return core.WrapError(core.ErrDownloadFailed, fmt.Errorf("decoding response: %w", err))
	}
	return v.err()
}

func tradeDay(t time.Time) time.Time {
	y, m, d := t.In(cst).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
