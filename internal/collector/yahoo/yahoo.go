package yahoo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/newthinker/quoted/internal/collector"
	"github.com/newthinker/quoted/internal/core"
)

const (
	baseURL = "https://query1.finance.yahoo.com"

	chartPath = "/v8/finance/chart/"
	quotePath = "/v7/finance/quote"

	defaultMaxBatch = 50
)

// validSymbol matches stock symbols like AAPL, BRK-B, 600519.SH, 0700.HK, ^GSPC
var validSymbol = regexp.MustCompile(`^\^?[A-Za-z0-9-]{1,10}(\.[A-Za-z]{1,4})?$`)

// validateSymbol checks if a symbol has valid format
func validateSymbol(symbol string) error {
	if symbol == "" {
		return fmt.Errorf("symbol cannot be empty")
	}
	if len(symbol) > 20 {
		return fmt.Errorf("symbol too long: %s", symbol)
	}
	if !validSymbol.MatchString(symbol) {
		return fmt.Errorf("invalid symbol format: %s", symbol)
	}
	return nil
}

// Yahoo implements the Yahoo Finance collector
type Yahoo struct {
	client   *http.Client
	config   collector.Config
	baseURL  string
	maxBatch int
}

// New creates a new Yahoo collector
func New() *Yahoo {
	return &Yahoo{
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		baseURL:  baseURL,
		maxBatch: defaultMaxBatch,
	}
}

func (y *Yahoo) Name() string {
	return "yahoo"
}

func (y *Yahoo) Capabilities() collector.Capabilities {
	return collector.Capabilities{Batch: true, History: true, MaxBatch: y.maxBatch}
}

// Init applies configuration. Extra["base_url"] points the collector at a
// different host.
func (y *Yahoo) Init(cfg collector.Config) error {
	y.config = cfg
	if cfg.MaxBatch > 0 {
		y.maxBatch = cfg.MaxBatch
	}
	if u, ok := cfg.Extra["base_url"].(string); ok && u != "" {
		y.baseURL = strings.TrimRight(u, "/")
	}
	return nil
}

// toYahooSymbol converts internal symbol format to Yahoo format
func (y *Yahoo) toYahooSymbol(symbol string) string {
	// Shanghai stocks: 600519.SH -> 600519.SS
	if strings.HasSuffix(symbol, ".SH") {
		return strings.TrimSuffix(symbol, ".SH") + ".SS"
	}
	return symbol
}

// FetchQuote fetches the latest daily bar
func (y *Yahoo) FetchQuote(ctx context.Context, symbol string) (*core.Quote, error) {
	if err := validateSymbol(symbol); err != nil {
		return nil, core.WrapError(core.ErrSymbolNotFound, err)
	}

	params := url.Values{"interval": {"1d"}, "range": {"1d"}}
	result, err := y.chart(ctx, symbol, params)
	if err != nil {
		return nil, err
	}

	meta := result.Meta
	q := &core.Quote{
		Symbol:     symbol,
		Name:       meta.name(),
		Date:       core.TradeDay(time.Unix(meta.RegularMarketTime, 0)),
		Close:      decimal.NewFromFloat(meta.RegularMarketPrice),
		Volume:     decimal.NewFromInt(meta.RegularMarketVolume),
		Downloaded: time.Now(),
	}
	q.Open, q.High, q.Low = q.Close, q.Close, q.Close
	if bars := result.bars(symbol); len(bars) > 0 {
		last := bars[len(bars)-1]
		q.Open, q.High, q.Low = last.Open, last.High, last.Low
	}
	return q, nil
}

// FetchQuotes fetches quotes for several symbols in one request
func (y *Yahoo) FetchQuotes(ctx context.Context, symbols []string) ([]core.Quote, error) {
	requested := make(map[string]string, len(symbols))
	yahooSymbols := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if validateSymbol(s) != nil {
			continue
		}
		ys := y.toYahooSymbol(s)
		requested[strings.ToUpper(ys)] = s
		yahooSymbols = append(yahooSymbols, ys)
	}
	if len(yahooSymbols) == 0 {
		return nil, nil
	}

	endpoint := y.baseURL + quotePath + "?" + url.Values{"symbols": {strings.Join(yahooSymbols, ",")}}.Encode()

	var resp quoteResponse
	if err := y.get(ctx, endpoint, &resp); err != nil {
		return nil, err
	}
	if resp.QuoteResponse.Error != nil {
		return nil, core.WrapError(core.ErrDownloadFailed,
			fmt.Errorf("yahoo error: %s", resp.QuoteResponse.Error.Description))
	}

	now := time.Now()
	quotes := make([]core.Quote, 0, len(resp.QuoteResponse.Result))
	for _, r := range resp.QuoteResponse.Result {
		symbol, ok := requested[strings.ToUpper(r.Symbol)]
		if !ok || r.RegularMarketTime == 0 {
			continue
		}
		name := r.LongName
		if name == "" {
			name = r.ShortName
		}
		quotes = append(quotes, core.Quote{
			Symbol:     symbol,
			Name:       name,
			Date:       core.TradeDay(time.Unix(r.RegularMarketTime, 0)),
			Open:       decimal.NewFromFloat(r.RegularMarketOpen),
			Close:      decimal.NewFromFloat(r.RegularMarketPrice),
			High:       decimal.NewFromFloat(r.RegularMarketDayHigh),
			Low:        decimal.NewFromFloat(r.RegularMarketDayLow),
			Volume:     decimal.NewFromInt(r.RegularMarketVolume),
			Downloaded: now,
		})
	}
	return quotes, nil
}

// FetchHistory fetches daily bars between start and end
func (y *Yahoo) FetchHistory(ctx context.Context, symbol string, start, end time.Time) ([]core.Quote, error) {
	if err := validateSymbol(symbol); err != nil {
		return nil, core.WrapError(core.ErrSymbolNotFound, err)
	}

	params := url.Values{
		"interval": {"1d"},
		"period1":  {fmt.Sprint(start.Unix())},
		"period2":  {fmt.Sprint(end.Unix())},
	}
	result, err := y.chart(ctx, symbol, params)
	if err != nil {
		return nil, err
	}
	return result.bars(symbol), nil
}

func (y *Yahoo) chart(ctx context.Context, symbol string, params url.Values) (*chartResult, error) {
	endpoint := y.baseURL + chartPath + url.PathEscape(y.toYahooSymbol(symbol)) + "?" + params.Encode()

	var resp chartResponse
	if err := y.get(ctx, endpoint, &resp); err != nil {
		return nil, err
	}
	if resp.Chart.Error != nil {
		if strings.EqualFold(resp.Chart.Error.Code, "Not Found") {
			return nil, core.WrapError(core.ErrSymbolNotFound, errors.New(resp.Chart.Error.Description))
		}
		return nil, core.WrapError(core.ErrDownloadFailed,
			fmt.Errorf("yahoo error: %s", resp.Chart.Error.Description))
	}
	if len(resp.Chart.Result) == 0 {
		return nil, core.WrapError(core.ErrSymbolNotFound, fmt.Errorf("no data for symbol: %s", symbol))
	}
	return &resp.Chart.Result[0], nil
}

// get performs the request and decodes the body into v. A 404 carrying a
// chart error is decoded too so the caller can report an unknown symbol.
func (y *Yahoo) get(ctx context.Context, endpoint string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return core.WrapError(core.ErrDownloadFailed, fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; quoted)")

	resp, err := y.client.Do(req)
	if err != nil {
		return core.WrapError(core.ErrDownloadFailed, fmt.Errorf("fetching %s: %w", endpoint, err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return core.WrapError(core.ErrRateLimited, fmt.Errorf("unexpected status: %d", resp.StatusCode))
	case resp.StatusCode == http.StatusNotFound:
	case resp.StatusCode != http.StatusOK:
		return core.WrapError(core.ErrDownloadFailed, fmt.Errorf("unexpected status: %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return core.WrapError(core.ErrDownloadFailed, fmt.Errorf("reading response: %w", err))
	}
	if err := json.Unmarshal(body, v); err != nil {
		if resp.StatusCode == http.StatusNotFound {
			return core.WrapError(core.ErrSymbolNotFound, fmt.Errorf("unexpected status: %d", resp.StatusCode))
		}
		return core.WrapError(core.ErrDownloadFailed, fmt.Errorf("decoding response: %w", err))
	}
	return nil
}

// Yahoo API response types
type chartResponse struct {
	Chart struct {
		Result []chartResult `json:"result"`
		Error  *apiError     `json:"error"`
	} `json:"chart"`
}

type apiError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

type chartResult struct {
	Meta       chartMeta  `json:"meta"`
	Timestamp  []int64    `json:"timestamp"`
	Indicators indicators `json:"indicators"`
}

type chartMeta struct {
	Symbol              string  `json:"symbol"`
	ShortName           string  `json:"shortName"`
	LongName            string  `json:"longName"`
	RegularMarketPrice  float64 `json:"regularMarketPrice"`
	RegularMarketVolume int64   `json:"regularMarketVolume"`
	RegularMarketTime   int64   `json:"regularMarketTime"`
}

func (m chartMeta) name() string {
	if m.LongName != "" {
		return m.LongName
	}
	return m.ShortName
}

type indicators struct {
	Quote []quoteIndicator `json:"quote"`
}

type quoteIndicator struct {
	Open   []*float64 `json:"open"`
	High   []*float64 `json:"high"`
	Low    []*float64 `json:"low"`
	Close  []*float64 `json:"close"`
	Volume []*int64   `json:"volume"`
}

// bars converts the indicator arrays to quotes, skipping incomplete rows.
func (r *chartResult) bars(symbol string) []core.Quote {
	if len(r.Indicators.Quote) == 0 {
		return nil
	}
	ind := r.Indicators.Quote[0]
	name := r.Meta.name()
	now := time.Now()

	data := make([]core.Quote, 0, len(r.Timestamp))
	for i, ts := range r.Timestamp {
		open, high, low, closePrice := at(ind.Open, i), at(ind.High, i), at(ind.Low, i), at(ind.Close, i)
		if open == nil || high == nil || low == nil || closePrice == nil {
			continue // Skip missing data
		}
		volume := decimal.Zero
		if i < len(ind.Volume) && ind.Volume[i] != nil {
			volume = decimal.NewFromInt(*ind.Volume[i])
		}
		data = append(data, core.Quote{
			Symbol:     symbol,
			Name:       name,
			Date:       core.TradeDay(time.Unix(ts, 0)),
			Open:       decimal.NewFromFloat(*open),
			High:       decimal.NewFromFloat(*high),
			Low:        decimal.NewFromFloat(*low),
			Close:      decimal.NewFromFloat(*closePrice),
			Volume:     volume,
			Downloaded: now,
		})
	}
	return data
}

func at(values []*float64, i int) *float64 {
	if i >= len(values) {
		return nil
	}
	return values[i]
}

type quoteResponse struct {
	QuoteResponse struct {
		Result []quoteResult `json:"result"`
		Error  *apiError     `json:"error"`
	} `json:"quoteResponse"`
}

type quoteResult struct {
	Symbol               string  `json:"symbol"`
	ShortName            string  `json:"shortName"`
	LongName             string  `json:"longName"`
	RegularMarketPrice   float64 `json:"regularMarketPrice"`
	RegularMarketOpen    float64 `json:"regularMarketOpen"`
	RegularMarketDayHigh float64 `json:"regularMarketDayHigh"`
	RegularMarketDayLow  float64 `json:"regularMarketDayLow"`
	RegularMarketVolume  int64   `json:"regularMarketVolume"`
	RegularMarketTime    int64   `json:"regularMarketTime"`
}
