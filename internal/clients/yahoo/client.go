package yahoo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultBaseURL   = "https://query1.finance.yahoo.com"
	defaultCookieURL = "https://fc.yahoo.com"

	browserUA = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36"
)

// Client fetches fundamental data and index history from Yahoo Finance.
// The quoteSummary endpoints require a session cookie plus a crumb token;
// both are bootstrapped lazily and refreshed when Yahoo rejects them.
type Client struct {
	client    *http.Client
	baseURL   string
	cookieURL string
	log       zerolog.Logger

	mu    sync.Mutex
	crumb string
}

// NewClient creates a new Yahoo Finance client
func NewClient(log zerolog.Logger) *Client {
	jar, _ := cookiejar.New(nil)
	return &Client{
		client: &http.Client{
			Timeout: 30 * time.Second,
			Jar:     jar,
		},
		baseURL:   defaultBaseURL,
		cookieURL: defaultCookieURL,
		log:       log.With().Str("client", "yahoo").Logger(),
	}
}

// ToYahooSymbol converts an NSE/BSE trading symbol to Yahoo's listing code.
// RELIANCE-EQ on NSE becomes RELIANCE.NS; on BSE the suffix is .BO.
func ToYahooSymbol(symbol, exchange string) string {
	base := strings.TrimSuffix(strings.TrimSpace(symbol), "-EQ")
	if exchange == "BSE" {
		return base + ".BO"
	}
	return base + ".NS"
}

// Fundamentals fetches the fundamental metrics for one symbol. Two
// quoteSummary calls are made, two modules each; Yahoo rejects larger
// module lists for anonymous sessions.
func (c *Client) Fundamentals(ctx context.Context, symbol, exchange string) (*FundamentalData, error) {
	yfSymbol := ToYahooSymbol(symbol, exchange)

	financial, err := c.quoteSummary(ctx, yfSymbol, "financialData,defaultKeyStatistics")
	if err != nil {
		return nil, fmt.Errorf("failed to get financial data: %w", err)
	}
	detail, err := c.quoteSummary(ctx, yfSymbol, "summaryDetail,assetProfile")
	if err != nil {
		return nil, fmt.Errorf("failed to get summary detail: %w", err)
	}

	fin := financial["financialData"]
	stats := financial["defaultKeyStatistics"]
	summary := detail["summaryDetail"]
	profile := detail["assetProfile"]

	data := &FundamentalData{Symbol: symbol}
	data.Sector = getStringPtr(profile, "sector")

	if v := rawValue(fin, "revenueGrowth"); v != nil {
		pct := *v * 100
		data.RevenueGrowthPct = &pct
	}

	// ROE, falling back to EPS over book value when Yahoo omits it
	if v := rawValue(fin, "returnOnEquity"); v != nil {
		pct := *v * 100
		data.ROEPct = &pct
	} else {
		eps := rawValue(stats, "trailingEps")
		book := rawValue(stats, "bookValue")
		if eps != nil && book != nil && *book > 0 {
			pct := *eps / *book * 100
			data.ROEPct = &pct
		}
	}

	// ROCE is not reported directly; approximate from ROA, else scale ROE
	if v := rawValue(fin, "returnOnAssets"); v != nil {
		pct := *v * 1.5 * 100
		data.ROCEPct = &pct
	} else if data.ROEPct != nil {
		pct := *data.ROEPct * 0.8
		data.ROCEPct = &pct
	}

	// Yahoo reports debt-to-equity as a percentage
	if v := rawValue(fin, "debtToEquity"); v != nil {
		ratio := *v / 100
		data.DebtToEquity = &ratio
	}

	data.OperatingCashflow = rawValue(fin, "operatingCashflow")
	data.CurrentPrice = rawValue(fin, "currentPrice")

	if v := rawValue(stats, "heldPercentInsiders"); v != nil {
		pct := *v * 100
		data.PromoterHoldingPct = &pct
	}
	data.PEGRatio = rawValue(stats, "pegRatio")
	data.PriceToBook = rawValue(stats, "priceToBook")
	data.PERatio = rawValue(summary, "trailingPE")

	return data, nil
}

// IndexCloses fetches the daily close series for an index symbol such as
// ^NSEI over the given range (e.g. "1y"). Ascending date order, null bars
// dropped.
func (c *Client) IndexCloses(ctx context.Context, symbol, period string) ([]float64, error) {
	params := url.Values{}
	params.Add("interval", "1d")
	params.Add("range", period)
	reqURL := c.baseURL + "/v8/finance/chart/" + url.PathEscape(symbol) + "?" + params.Encode()

	body, err := c.get(ctx, reqURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch index history: %w", err)
	}

	var result chartResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse chart response: %w", err)
	}
	if result.Chart.Error != nil {
		return nil, fmt.Errorf("chart API error: %v", result.Chart.Error)
	}
	if len(result.Chart.Result) == 0 || len(result.Chart.Result[0].Indicators.Quote) == 0 {
		return nil, fmt.Errorf("no chart data returned for %s", symbol)
	}

	raw := result.Chart.Result[0].Indicators.Quote[0].Close
	closes := make([]float64, 0, len(raw))
	for _, v := range raw {
		if v != nil && *v > 0 {
			closes = append(closes, *v)
		}
	}

	c.log.Debug().Str("symbol", symbol).Int("bars", len(closes)).Msg("Fetched index history")
	return closes, nil
}

// quoteSummary calls the v10 quoteSummary endpoint, refreshing the crumb
// and retrying once when the session is rejected.
func (c *Client) quoteSummary(ctx context.Context, symbol, modules string) (map[string]map[string]interface{}, error) {
	crumb, err := c.ensureCrumb(ctx)
	if err != nil {
		return nil, err
	}

	result, status, err := c.fetchQuoteSummary(ctx, symbol, modules, crumb)
	if err == nil {
		return result, nil
	}

	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		c.log.Warn().Str("symbol", symbol).Msg("Crumb rejected, refreshing session")
		crumb, crumbErr := c.refreshCrumb(ctx)
		if crumbErr != nil {
			return nil, crumbErr
		}
		result, _, err = c.fetchQuoteSummary(ctx, symbol, modules, crumb)
		return result, err
	}

	return nil, err
}

func (c *Client) fetchQuoteSummary(ctx context.Context, symbol, modules, crumb string) (map[string]map[string]interface{}, int, error) {
	params := url.Values{}
	params.Add("modules", modules)
	params.Add("crumb", crumb)
	reqURL := c.baseURL + "/v10/finance/quoteSummary/" + url.PathEscape(symbol) + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", browserUA)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("quoteSummary request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode, fmt.Errorf("quoteSummary returned status %d for %s", resp.StatusCode, symbol)
	}

	var envelope quoteSummaryResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to parse quoteSummary response: %w", err)
	}
	if envelope.QuoteSummary.Error != nil {
		return nil, resp.StatusCode, fmt.Errorf("quoteSummary API error: %v", envelope.QuoteSummary.Error)
	}
	if len(envelope.QuoteSummary.Result) == 0 {
		return nil, resp.StatusCode, fmt.Errorf("no quoteSummary data for %s", symbol)
	}

	return envelope.QuoteSummary.Result[0], resp.StatusCode, nil
}

// ensureCrumb returns the cached crumb, bootstrapping a session if needed
func (c *Client) ensureCrumb(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.crumb != "" {
		return c.crumb, nil
	}
	return c.refreshCrumbLocked(ctx)
}

// refreshCrumb discards the cached crumb and bootstraps a fresh session
func (c *Client) refreshCrumb(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.crumb = ""
	return c.refreshCrumbLocked(ctx)
}

func (c *Client) refreshCrumbLocked(ctx context.Context) (string, error) {
	// The cookie endpoint 404s; only the session cookie it sets matters
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cookieURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create cookie request: %w", err)
	}
	req.Header.Set("User-Agent", browserUA)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("cookie bootstrap failed: %w", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	body, err := c.get(ctx, c.baseURL+"/v1/test/getcrumb")
	if err != nil {
		return "", fmt.Errorf("crumb fetch failed: %w", err)
	}

	crumb := strings.TrimSpace(string(body))
	if crumb == "" || strings.Contains(crumb, "Too Many Requests") {
		return "", fmt.Errorf("crumb endpoint returned %q", crumb)
	}

	c.crumb = crumb
	c.log.Debug().Msg("Yahoo session established")
	return crumb, nil
}

func (c *Client) get(ctx context.Context, reqURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", browserUA)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("Yahoo returned status %d: %s", resp.StatusCode, truncate(body))
	}
	return body, nil
}

func truncate(body []byte) string {
	const max = 200
	if len(body) <= max {
		return string(body)
	}
	return string(body[:max]) + "..."
}

// Helper functions to safely extract values from quoteSummary module maps.
// Numeric fields usually arrive as {"raw": 1.23, "fmt": "1.23"} objects but
// occasionally as plain numbers.

func rawValue(m map[string]interface{}, key string) *float64 {
	if m == nil {
		return nil
	}
	val, ok := m[key]
	if !ok || val == nil {
		return nil
	}

	switch v := val.(type) {
	case float64:
		return &v
	case map[string]interface{}:
		if raw, ok := v["raw"].(float64); ok {
			return &raw
		}
	}
	return nil
}

func getStringPtr(m map[string]interface{}, key string) *string {
	if m == nil {
		return nil
	}
	if val, ok := m[key]; ok && val != nil {
		if s, ok := val.(string); ok && s != "" {
			return &s
		}
	}
	return nil
}
