package eastmoney

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/newthinker/quoted/internal/collector"
	"github.com/newthinker/quoted/internal/core"
)

const (
	quoteURL   = "https://push2.eastmoney.com"
	historyURL = "https://push2his.eastmoney.com"

	quotePath   = "/api/qt/stock/get"
	listPath    = "/api/qt/ulist.np/get"
	historyPath = "/api/qt/stock/kline/get"

	defaultMaxBatch = 100
)

// China Standard Time, used to date bars.
var cst = time.FixedZone("CST", 8*3600)

// Eastmoney implements the Eastmoney collector for A-shares
type Eastmoney struct {
	client     *http.Client
	config     collector.Config
	quoteURL   string
	historyURL string
	maxBatch   int
}

// New creates a new Eastmoney collector
func New() *Eastmoney {
	return &Eastmoney{
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		quoteURL:   quoteURL,
		historyURL: historyURL,
		maxBatch:   defaultMaxBatch,
	}
}

func (e *Eastmoney) Name() string {
	return "eastmoney"
}

func (e *Eastmoney) Capabilities() collector.Capabilities {
	return collector.Capabilities{Batch: true, History: true, MaxBatch: e.maxBatch}
}

// Init applies configuration. Extra["quote_url"] and Extra["history_url"]
// override the API hosts.
func (e *Eastmoney) Init(cfg collector.Config) error {
	e.config = cfg
	if cfg.MaxBatch > 0 {
		e.maxBatch = cfg.MaxBatch
	}
	if u, ok := cfg.Extra["quote_url"].(string); ok && u != "" {
		e.quoteURL = strings.TrimRight(u, "/")
	}
	if u, ok := cfg.Extra["history_url"].(string); ok && u != "" {
		e.historyURL = strings.TrimRight(u, "/")
	}
	return nil
}

// parseSymbol converts 600519.SH to (600519, 1) for Eastmoney API
// Shanghai = 1, Shenzhen = 0
func (e *Eastmoney) parseSymbol(symbol string) (code, market string) {
	parts := strings.Split(symbol, ".")
	if len(parts) != 2 {
		return symbol, "1"
	}

	code = parts[0]
	switch strings.ToUpper(parts[1]) {
	case "SH":
		market = "1"
	case "SZ":
		market = "0"
	default:
		market = "1"
	}
	return
}

func (e *Eastmoney) secid(symbol string) string {
	code, market := e.parseSymbol(symbol)
	return market + "." + code
}

// FetchQuote fetches the current session bar from Eastmoney
func (e *Eastmoney) FetchQuote(ctx context.Context, symbol string) (*core.Quote, error) {
	params := url.Values{
		"secid":  {e.secid(symbol)},
		"fltt":   {"2"},
		"fields": {"f43,f44,f45,f46,f47,f57,f58,f86"},
	}

	var result quoteResponse
	if err := e.get(ctx, e.endpoint(e.quoteURL, quotePath, params), &result); err != nil {
		return nil, err
	}
	if result.Data == nil || !result.Data.Price.ok {
		return nil, core.WrapError(core.ErrSymbolNotFound, fmt.Errorf("no data for symbol: %s", symbol))
	}

	d := result.Data
	date := time.Now()
	if d.Time > 0 {
		date = time.Unix(d.Time, 0)
	}
	return &core.Quote{
		Symbol:     symbol,
		Name:       d.Name,
		Date:       tradeDay(date),
		Open:       d.Open.or(d.Price),
		Close:      d.Price.Decimal,
		High:       d.High.or(d.Price),
		Low:        d.Low.or(d.Price),
		Volume:     d.Volume.Decimal,
		Downloaded: time.Now(),
	}, nil
}

// FetchQuotes fetches several symbols with one list request
func (e *Eastmoney) FetchQuotes(ctx context.Context, symbols []string) ([]core.Quote, error) {
	if len(symbols) == 0 {
		return nil, nil
	}
	bySecid := make(map[string]string, len(symbols))
	secids := make([]string, 0, len(symbols))
	for _, s := range symbols {
		id := e.secid(s)
		bySecid[id] = s
		secids = append(secids, id)
	}

	params := url.Values{
		"secids": {strings.Join(secids, ",")},
		"fltt":   {"2"},
		"fields": {"f2,f5,f12,f13,f14,f15,f16,f17,f124"},
	}

	var result listResponse
	if err := e.get(ctx, e.endpoint(e.quoteURL, listPath, params), &result); err != nil {
		return nil, err
	}
	if result.Data == nil {
		return nil, nil
	}

	now := time.Now()
	quotes := make([]core.Quote, 0, len(result.Data.Diff))
	for _, d := range result.Data.Diff {
		symbol, ok := bySecid[fmt.Sprintf("%d.%s", d.Market, d.Code)]
		if !ok || !d.Price.ok {
			continue
		}
		date := now
		if d.Time > 0 {
			date = time.Unix(d.Time, 0)
		}
		quotes = append(quotes, core.Quote{
			Symbol:     symbol,
			Name:       d.Name,
			Date:       tradeDay(date),
			Open:       d.Open.or(d.Price),
			Close:      d.Price.Decimal,
			High:       d.High.or(d.Price),
			Low:        d.Low.or(d.Price),
			Volume:     d.Volume.Decimal,
			Downloaded: now,
		})
	}
	return quotes, nil
}

// FetchHistory fetches forward-adjusted daily klines
func (e *Eastmoney) FetchHistory(ctx context.Context, symbol string, start, end time.Time) ([]core.Quote, error) {
	params := url.Values{
		"secid":   {e.secid(symbol)},
		"klt":     {"101"},
		"fqt":     {"1"},
		"beg":     {start.In(cst).Format("20060102")},
		"end":     {end.In(cst).Format("20060102")},
		"fields1": {"f1,f2,f3,f4,f5,f6"},
		"fields2": {"f51,f52,f53,f54,f55,f56"},
	}

	var result historyResponse
	if err := e.get(ctx, e.endpoint(e.historyURL, historyPath, params), &result); err != nil {
		return nil, err
	}
	if result.Data == nil {
		return nil, core.WrapError(core.ErrSymbolNotFound, fmt.Errorf("no history for symbol: %s", symbol))
	}

	now := time.Now()
	data := make([]core.Quote, 0, len(result.Data.Klines))
	for _, line := range result.Data.Klines {
		q, err := parseKline(line)
		if err != nil {
			continue
		}
		q.Symbol = symbol
		q.Name = result.Data.Name
		q.Downloaded = now
		data = append(data, q)
	}
	return data, nil
}

// parseKline parses "date,open,close,high,low,volume".
func parseKline(line string) (core.Quote, error) {
	fields := strings.Split(line, ",")
	if len(fields) < 6 {
		return core.Quote{}, fmt.Errorf("short kline: %q", line)
	}
	date, err := time.Parse("2006-01-02", fields[0])
	if err != nil {
		return core.Quote{}, fmt.Errorf("kline date: %w", err)
	}

	values := make([]decimal.Decimal, 5)
	for i := range values {
		v, err := decimal.NewFromString(fields[i+1])
		if err != nil {
			return core.Quote{}, fmt.Errorf("kline field %d: %w", i+1, err)
		}
		values[i] = v
	}
	return core.Quote{
		Date:   date,
		Open:   values[0],
		Close:  values[1],
		High:   values[2],
		Low:    values[3],
		Volume: values[4],
	}, nil
}

// endpoint builds a request URL. A configured API key is sent as the ut
// token.
func (e *Eastmoney) endpoint(host, path string, params url.Values) string {
	if e.config.APIKey != "" {
		params.Set("ut", e.config.APIKey)
	}
	return host + path + "?" + params.Encode()
}

func (e *Eastmoney) get(ctx context.Context, endpoint string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return core.WrapError(core.ErrDownloadFailed, fmt.Errorf("creating request: %w", err))
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return core.WrapError(core.ErrDownloadFailed, fmt.Errorf("fetching %s: %w", endpoint, err))
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusTooManyRequests:
		return core.WrapError(core.ErrRateLimited, fmt.Errorf("unexpected status: %d", resp.StatusCode))
	default:
		return core.WrapError(core.ErrDownloadFailed, fmt.Errorf("unexpected status: %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return core.WrapError(core.ErrDownloadFailed, fmt.Errorf("reading response: %w", err))
	}
	if err := json.Unmarshal(body, v); err != nil {
		return core.WrapError(core.ErrDownloadFailed, fmt.Errorf("decoding response: %w", err))
	}
	return nil
}

// tradeDay dates t by its calendar day in China.
func tradeDay(t time.Time) time.Time {
	y, m, d := t.In(cst).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// number decodes Eastmoney numeric fields, which use "-" for missing values.
type number struct {
	decimal.Decimal
	ok bool
}

func (n *number) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "-" || s == "null" {
		*n = number{}
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("number %q: %w", s, err)
	}
	*n = number{Decimal: d, ok: true}
	return nil
}

func (n number) or(fallback number) decimal.Decimal {
	if n.ok {
		return n.Decimal
	}
	return fallback.Decimal
}

// Response types
type quoteResponse struct {
	Data *quoteData `json:"data"`
}

type quoteData struct {
	Price  number `json:"f43"` // Current price
	High   number `json:"f44"`
	Low    number `json:"f45"`
	Open   number `json:"f46"`
	Volume number `json:"f47"` // Lots
	Code   string `json:"f57"`
	Name   string `json:"f58"`
	Time   int64  `json:"f86"` // Unix seconds
}

type listResponse struct {
	Data *struct {
		Total int        `json:"total"`
		Diff  []listItem `json:"diff"`
	} `json:"data"`
}

type listItem struct {
	Price  number `json:"f2"`
	Volume number `json:"f5"`
	Code   string `json:"f12"`
	Market int    `json:"f13"`
	Name   string `json:"f14"`
	High   number `json:"f15"`
	Low    number `json:"f16"`
	Open   number `json:"f17"`
	Time   int64  `json:"f124"`
}

type historyResponse struct {
	Data *historyData `json:"data"`
}

type historyData struct {
	Code   string   `json:"code"`
	Name   string   `json:"name"`
	Klines []string `json:"klines"`
}
