package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"papertrade/config"
)

var (
	ErrNotFound = errors.New("unknown symbol")
	ErrTimeout  = errors.New("price lookup timed out")
)

// Quote is one price-oracle answer for a ticker symbol.
type Quote struct {
	Symbol  string          `json:"symbol"`
	Company string          `json:"company"`
	Price   decimal.Decimal `json:"price"`
}

// PricePoint is one day of closing-price history.
type PricePoint struct {
	Date  time.Time       `json:"date"`
	Close decimal.Decimal `json:"close"`
}

// Oracle is the lookup contract the ledger depends on.
type Oracle interface {
	Lookup(ctx context.Context, symbol string) (Quote, error)
}

// Cache is the quote-cache contract; backed by redis in production and by a
// map in tests.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key string, value string, ttl time.Duration)
}

const (
	quoteCacheTTL   = 5 * time.Minute
	historyCacheTTL = 24 * time.Hour

	defaultBaseURL = "https://www.alphavantage.co"
	defaultTimeout = 5 * time.Second
)

// Client looks prices up from Alpha Vantage. The HTTP client carries the
// caller-visible timeout; a lookup that exceeds it fails with ErrTimeout
// rather than hanging the request.
type Client struct {
	HTTP    *http.Client
	APIKey  string
	BaseURL string
	Cache   Cache

	log *logrus.Entry
}

func NewClient(apiKey string, cache Cache, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		HTTP:    &http.Client{Timeout: timeout},
		APIKey:  apiKey,
		BaseURL: defaultBaseURL,
		Cache:   cache,
		log:     config.ModuleLogger("oracle"),
	}
}

type alphaVantageResponse struct {
	GlobalQuote struct {
		Symbol string `json:"01. symbol"`
		Price  string `json:"05. price"`
	} `json:"Global Quote"`
	TimeSeriesDaily map[string]struct {
		Open   string `json:"1. open"`
		High   string `json:"2. high"`
		Low    string `json:"3. low"`
		Close  string `json:"4. close"`
		Volume string `json:"5. volume"`
	} `json:"Time Series (Daily)"`
	BestMatches []struct {
		Symbol string `json:"1. symbol"`
		Name   string `json:"2. name"`
	} `json:"bestMatches"`
}

// Lookup resolves a symbol to its company name and current price.
func (c *Client) Lookup(ctx context.Context, symbol string) (Quote, error) {
	l := c.log.WithFields(logrus.Fields{
		"method":       "Lookup",
		"param_symbol": symbol,
	})

	cacheKey := fmt.Sprintf("stock:%s:quote", symbol)
	if cached, ok := c.cacheGet(ctx, cacheKey); ok {
		var q Quote
		if err := json.Unmarshal([]byte(cached), &q); err == nil {
			return q, nil
		}
	}

	var result alphaVantageResponse
	url := fmt.Sprintf("%s/query?function=GLOBAL_QUOTE&symbol=%s&apikey=%s", c.BaseURL, symbol, c.APIKey)
	if err := c.get(ctx, url, &result); err != nil {
		return Quote{}, err
	}

	if result.GlobalQuote.Price == "" {
		return Quote{}, ErrNotFound
	}

	price, err := decimal.NewFromString(result.GlobalQuote.Price)
	if err != nil {
		return Quote{}, fmt.Errorf("bad price %q for %s: %w", result.GlobalQuote.Price, symbol, err)
	}

	q := Quote{
		Symbol: symbol,
		Price:  price,
	}
	if result.GlobalQuote.Symbol != "" {
		q.Symbol = result.GlobalQuote.Symbol
	}

	// Company name comes from a second endpoint; a quote without a name is
	// still a usable quote, so failures here only log.
	if company, err := c.companyName(ctx, symbol); err != nil {
		l.Warnf("company name lookup failed: %v", err)
	} else {
		q.Company = company
	}

	if data, err := json.Marshal(q); err == nil {
		c.cacheSet(ctx, cacheKey, string(data), quoteCacheTTL)
	}

	return q, nil
}

func (c *Client) companyName(ctx context.Context, symbol string) (string, error) {
	var result alphaVantageResponse
	url := fmt.Sprintf("%s/query?function=SYMBOL_SEARCH&keywords=%s&apikey=%s", c.BaseURL, symbol, c.APIKey)
	if err := c.get(ctx, url, &result); err != nil {
		return "", err
	}
	if len(result.BestMatches) == 0 {
		return "", nil
	}
	return result.BestMatches[0].Name, nil
}

// DailyHistory fetches the daily close series for a symbol, oldest first.
// The second return reports whether the series came from the cache, so
// callers that ingest fresh fetches can skip already-seen data.
func (c *Client) DailyHistory(ctx context.Context, symbol string) ([]PricePoint, bool, error) {
	cacheKey := fmt.Sprintf("stock:%s:history", symbol)
	if cached, ok := c.cacheGet(ctx, cacheKey); ok {
		var points []PricePoint
		if err := json.Unmarshal([]byte(cached), &points); err == nil {
			return points, true, nil
		}
	}

	var result alphaVantageResponse
	url := fmt.Sprintf("%s/query?function=TIME_SERIES_DAILY&symbol=%s&apikey=%s", c.BaseURL, symbol, c.APIKey)
	if err := c.get(ctx, url, &result); err != nil {
		return nil, false, err
	}

	if len(result.TimeSeriesDaily) == 0 {
		return nil, false, ErrNotFound
	}

	points := make([]PricePoint, 0, len(result.TimeSeriesDaily))
	for date, day := range result.TimeSeriesDaily {
		closePrice, err := decimal.NewFromString(day.Close)
		if err != nil {
			return nil, false, fmt.Errorf("bad close %q for %s on %s: %w", day.Close, symbol, date, err)
		}
		ts, err := time.Parse("2006-01-02", date)
		if err != nil {
			return nil, false, fmt.Errorf("bad date %q for %s: %w", date, symbol, err)
		}
		points = append(points, PricePoint{Date: ts, Close: closePrice})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Date.Before(points[j].Date) })

	if data, err := json.Marshal(points); err == nil {
		c.cacheSet(ctx, cacheKey, string(data), historyCacheTTL)
	}

	return points, false, nil
}

func (c *Client) get(ctx context.Context, url string, out *alphaVantageResponse) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return fmt.Errorf("price lookup failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("price lookup failed: status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse stock data: %w", err)
	}
	return nil
}

func (c *Client) cacheGet(ctx context.Context, key string) (string, bool) {
	if c.Cache == nil {
		return "", false
	}
	return c.Cache.Get(ctx, key)
}

func (c *Client) cacheSet(ctx context.Context, key, value string, ttl time.Duration) {
	if c.Cache != nil {
		c.Cache.Set(ctx, key, value, ttl)
	}
}
