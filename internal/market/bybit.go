// Package market fetches candlestick data from the Bybit v5 public API.
package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"cryptosignal/internal/logging"
)

const (
	// DefaultBaseURL is the Bybit production REST endpoint.
	DefaultBaseURL = "https://api.bybit.com"

	userAgent = "cryptosignal/1.0"
)

// Timeframe intervals used for the multi-timeframe pack.
const (
	IntervalWeekly = "W"
	IntervalDaily  = "D"
	Interval4H     = "240"
)

// Bar is one OHLCV candle. Times are UTC.
type Bar struct {
	Start    time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
	Turnover float64
}

// APIError is a non-zero retCode returned by Bybit.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bybit API error %d: %s", e.Code, e.Message)
}

// Client talks to the Bybit v5 market endpoints.
type Client struct {
	baseURL    string
	httpClient *http.Client
	retries    int
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API endpoint, mainly for tests.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithRetries sets how many times a failed request is retried.
func WithRetries(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.retries = n
		}
	}
}

// WithProxy routes requests through an HTTP proxy. Only this client uses
// the proxy; the rest of the process keeps its direct transport.
func WithProxy(proxyURL string) Option {
	return func(c *Client) {
		if proxyURL == "" {
			return
		}
		parsed, err := url.Parse(proxyURL)
		if err != nil {
			logging.Get(logging.CategoryMarket).Error("Invalid proxy URL %q: %v", proxyURL, err)
			return
		}
		c.httpClient.Transport = &http.Transport{Proxy: http.ProxyURL(parsed)}
		logging.Market("Routing Bybit requests through proxy %s", parsed.Host)
	}
}

// NewClient creates a Bybit market data client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		retries: 2,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type klineResponse struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		Category string     `json:"category"`
		Symbol   string     `json:"symbol"`
		List     [][]string `json:"list"`
	} `json:"result"`
}

// NormalizeSymbol uppercases a trading pair and strips slash separators,
// so "btc/usdt" becomes "BTCUSDT".
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(symbol), "/", ""))
}

// Kline fetches up to limit candles for symbol at the given interval,
// oldest first. Category is "spot" or "linear".
func (c *Client) Kline(ctx context.Context, category, symbol, interval string, limit int) ([]Bar, error) {
	timer := logging.StartTimer(logging.CategoryMarket, "Kline")
	defer timer.StopWithThreshold(2 * time.Second)

	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	symbol = NormalizeSymbol(symbol)

	q := url.Values{}
	q.Set("category", category)
	q.Set("symbol", symbol)
	q.Set("interval", interval)
	q.Set("limit", strconv.Itoa(limit))
	endpoint := c.baseURL + "/v5/market/kline?" + q.Encode()

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			logging.MarketDebug("Retrying kline %s %s in %v (attempt %d/%d)", symbol, interval, backoff, attempt, c.retries)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		bars, err := c.fetchKline(ctx, endpoint)
		if err == nil {
			return bars, nil
		}
		lastErr = err
		if _, ok := err.(*APIError); ok {
			// The exchange rejected the request; retrying will not help.
			break
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	logging.Get(logging.CategoryMarket).Error("Kline %s %s failed: %v", symbol, interval, lastErr)
	return nil, fmt.Errorf("kline %s %s: %w", symbol, interval, lastErr)
}

func (c *Client) fetchKline(ctx context.Context, endpoint string) ([]Bar, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var kr klineResponse
	if err := json.Unmarshal(body, &kr); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if kr.RetCode != 0 {
		return nil, &APIError{Code: kr.RetCode, Message: kr.RetMsg}
	}

	bars := make([]Bar, 0, len(kr.Result.List))
	for _, row := range kr.Result.List {
		if len(row) < 7 {
			continue
		}
		bar, err := parseBar(row)
		if err != nil {
			logging.MarketDebug("Skipping malformed bar: %v", err)
			continue
		}
		bars = append(bars, bar)
	}

	// Bybit returns newest first.
	sort.Slice(bars, func(i, j int) bool { return bars[i].Start.Before(bars[j].Start) })
	return bars, nil
}

func parseBar(row []string) (Bar, error) {
	startMs, err := strconv.ParseInt(row[0], 10, 64)
	if err != nil {
		return Bar{}, fmt.Errorf("bad start time %q: %w", row[0], err)
	}
	vals := make([]float64, 6)
	for i := 0; i < 6; i++ {
		v, err := strconv.ParseFloat(row[i+1], 64)
		if err != nil {
			return Bar{}, fmt.Errorf("bad field %q: %w", row[i+1], err)
		}
		vals[i] = v
	}
	return Bar{
		Start:    time.UnixMilli(startMs).UTC(),
		Open:     vals[0],
		High:     vals[1],
		Low:      vals[2],
		Close:    vals[3],
		Volume:   vals[4],
		Turnover: vals[5],
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// TimeframeData is one timeframe slot in a Pack. Exactly one of Bars or
// Err is set.
type TimeframeData struct {
	Bars []Bar
	Err  error
}

// Pack bundles the three analysis timeframes for one symbol.
type Pack struct {
	Symbol   string
	Category string
	Weekly   TimeframeData
	Daily    TimeframeData
	FourHour TimeframeData
}

// Failed reports whether any timeframe slot carries an error. The
// analysis needs all three timeframes, so one bad slot fails the pack.
func (p *Pack) Failed() bool {
	return p.Weekly.Err != nil || p.Daily.Err != nil || p.FourHour.Err != nil
}

// LatestPack fetches weekly, daily and 4-hour candles for a symbol.
// A failed timeframe does not abort the other fetches; its slot records
// the error so the caller can report which interval broke.
func (c *Client) LatestPack(ctx context.Context, category, symbol string, limit int) *Pack {
	symbol = NormalizeSymbol(symbol)
	pack := &Pack{Symbol: symbol, Category: category}

	fetch := func(interval string) TimeframeData {
		bars, err := c.Kline(ctx, category, symbol, interval, limit)
		if err != nil {
			return TimeframeData{Err: err}
		}
		return TimeframeData{Bars: bars}
	}

	pack.Weekly = fetch(IntervalWeekly)
	pack.Daily = fetch(IntervalDaily)
	pack.FourHour = fetch(Interval4H)

	logging.Market("Fetched pack for %s (weekly=%d daily=%d 4h=%d)",
		symbol, len(pack.Weekly.Bars), len(pack.Daily.Bars), len(pack.FourHour.Bars))
	return pack
}
