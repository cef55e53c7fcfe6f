package angelone

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/aristath/nse-trader/internal/domain"
	"github.com/aristath/nse-trader/internal/metrics"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

const (
	defaultBaseURL = "https://apiconnect.angelbroking.com"

	loginPath    = "/rest/auth/angelbroking/user/v1/loginByPassword"
	quotePath    = "/rest/secure/angelbroking/market/v1/quote/"
	candlePath   = "/rest/secure/angelbroking/historical/v1/getCandleData"
	orderPath    = "/rest/secure/angelbroking/order/v1/placeOrder"
	rmsPath      = "/rest/secure/angelbroking/user/v1/getRMS"
	holdingsPath = "/rest/secure/angelbroking/portfolio/v1/getHolding"

	// Sessions expire after 8 hours; re-login a little early
	sessionLifetime = 7*time.Hour + 30*time.Minute
)

// Config holds AngelOne SmartAPI credentials
type Config struct {
	APIKey     string
	ClientID   string
	MPIN       string
	TOTPSecret string
	BaseURL    string // override for tests
}

// Client talks to the AngelOne SmartAPI. All authenticated calls go through
// a shared rate limiter and circuit breaker so a misbehaving endpoint cannot
// burn the whole refresh window.
type Client struct {
	cfg     Config
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	log     zerolog.Logger

	mu       sync.Mutex
	jwtToken string
	loginAt  time.Time
}

// NewClient creates a new AngelOne client
func NewClient(cfg Config, log zerolog.Logger) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "angelone",
		Timeout: 60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})

	return &Client{
		cfg:     cfg,
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(5), 10),
		breaker: breaker,
		log:     log.With().Str("client", "angelone").Logger(),
	}
}

// EnsureSession logs in if there is no session or the current one is near
// its 8-hour expiry.
func (c *Client) EnsureSession(ctx context.Context) error {
	if c.Authenticated() {
		return nil
	}
	return c.Login(ctx)
}

// Authenticated reports whether a session token is held and still valid
func (c *Client) Authenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.jwtToken != "" && time.Since(c.loginAt) < sessionLifetime
}

// Login opens a new session using MPIN + TOTP
func (c *Client) Login(ctx context.Context) error {
	if c.cfg.APIKey == "" || c.cfg.ClientID == "" {
		return fmt.Errorf("broker credentials not configured")
	}

	code, err := GenerateTOTP(c.cfg.TOTPSecret, time.Now())
	if err != nil {
		return fmt.Errorf("failed to generate TOTP: %w", err)
	}

	req := loginRequest{
		ClientCode: c.cfg.ClientID,
		Password:   c.cfg.MPIN,
		TOTP:       code,
	}

	data, err := c.doRequest(ctx, http.MethodPost, loginPath, req, false)
	if err != nil {
		metrics.BrokerRequests.WithLabelValues("login", "error").Inc()
		return fmt.Errorf("login failed: %w", err)
	}

	var session loginData
	if err := json.Unmarshal(data, &session); err != nil {
		return fmt.Errorf("failed to parse login response: %w", err)
	}
	if session.JWTToken == "" {
		return fmt.Errorf("login returned empty session token")
	}

	c.mu.Lock()
	c.jwtToken = session.JWTToken
	c.loginAt = time.Now()
	c.mu.Unlock()

	metrics.BrokerRequests.WithLabelValues("login", "ok").Inc()
	c.log.Info().Str("client_id", c.cfg.ClientID).Msg("Broker session opened")
	return nil
}

// Quotes fetches FULL-mode quotes for up to 250 tokens on one exchange
func (c *Client) Quotes(ctx context.Context, exchange string, tokens []string) ([]domain.Quote, error) {
	if len(tokens) == 0 {
		return nil, nil
	}
	if len(tokens) > 250 {
		return nil, fmt.Errorf("quote batch too large: %d tokens (max 250)", len(tokens))
	}

	req := quoteRequest{
		Mode:           "FULL",
		ExchangeTokens: map[string][]string{exchange: tokens},
	}

	data, err := c.authRequest(ctx, http.MethodPost, quotePath, req)
	if err != nil {
		metrics.BrokerRequests.WithLabelValues("quote", "error").Inc()
		return nil, fmt.Errorf("quote request failed: %w", err)
	}
	metrics.BrokerRequests.WithLabelValues("quote", "ok").Inc()

	var payload quoteData
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse quote response: %w", err)
	}

	quotes := make([]domain.Quote, 0, len(payload.Fetched))
	for _, q := range payload.Fetched {
		quotes = append(quotes, q.toDomain())
	}

	if len(payload.Unfetched) > 0 {
		c.log.Debug().Int("count", len(payload.Unfetched)).Msg("Some tokens were not quoted")
	}

	return quotes, nil
}

// DailyCandles fetches daily OHLCV bars for one token in [from, to]
func (c *Client) DailyCandles(ctx context.Context, exchange, token string, from, to time.Time) ([]domain.Candle, error) {
	req := candleRequest{
		Exchange:    exchange,
		SymbolToken: token,
		Interval:    "ONE_DAY",
		FromDate:    from.Format("2006-01-02 15:04"),
		ToDate:      to.Format("2006-01-02 15:04"),
	}

	data, err := c.authRequest(ctx, http.MethodPost, candlePath, req)
	if err != nil {
		metrics.BrokerRequests.WithLabelValues("candles", "error").Inc()
		return nil, fmt.Errorf("candle request failed: %w", err)
	}
	metrics.BrokerRequests.WithLabelValues("candles", "ok").Inc()

	var rows [][]interface{}
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse candle response: %w", err)
	}

	candles := make([]domain.Candle, 0, len(rows))
	for _, row := range rows {
		candle, ok := parseCandleRow(row)
		if !ok {
			continue
		}
		candles = append(candles, candle)
	}

	return candles, nil
}

// PlaceOrder submits a limit order and returns the broker order id
func (c *Client) PlaceOrder(ctx context.Context, order domain.OrderRequest) (string, error) {
	req := placeOrderRequest{
		Variety:         "NORMAL",
		TradingSymbol:   order.Symbol,
		SymbolToken:     order.Token,
		TransactionType: order.Side,
		Exchange:        order.Exchange,
		OrderType:       "LIMIT",
		ProductType:     "DELIVERY",
		Duration:        "DAY",
		Price:           strconv.FormatFloat(order.Price, 'f', 2, 64),
		SquareOff:       "0",
		StopLoss:        "0",
		Quantity:        strconv.Itoa(order.Quantity),
	}

	data, err := c.authRequest(ctx, http.MethodPost, orderPath, req)
	if err != nil {
		metrics.BrokerRequests.WithLabelValues("place_order", "error").Inc()
		return "", fmt.Errorf("order placement failed: %w", err)
	}
	metrics.BrokerRequests.WithLabelValues("place_order", "ok").Inc()

	var result orderData
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("failed to parse order response: %w", err)
	}
	if result.OrderID == "" {
		return "", fmt.Errorf("broker returned empty order id")
	}

	c.log.Info().
		Str("symbol", order.Symbol).
		Str("side", order.Side).
		Int("quantity", order.Quantity).
		Float64("price", order.Price).
		Str("order_id", result.OrderID).
		Msg("Order placed")

	return result.OrderID, nil
}

// AvailableCash returns the free cash reported by the risk-management endpoint
func (c *Client) AvailableCash(ctx context.Context) (float64, error) {
	data, err := c.authRequest(ctx, http.MethodGet, rmsPath, nil)
	if err != nil {
		metrics.BrokerRequests.WithLabelValues("rms", "error").Inc()
		return 0, fmt.Errorf("RMS request failed: %w", err)
	}
	metrics.BrokerRequests.WithLabelValues("rms", "ok").Inc()

	var rms rmsData
	if err := json.Unmarshal(data, &rms); err != nil {
		return 0, fmt.Errorf("failed to parse RMS response: %w", err)
	}

	cash, err := strconv.ParseFloat(rms.AvailableCash, 64)
	if err != nil {
		return 0, fmt.Errorf("unparseable available cash %q: %w", rms.AvailableCash, err)
	}
	return cash, nil
}

// Holdings returns demat holdings with current marks
func (c *Client) Holdings(ctx context.Context) ([]domain.Holding, error) {
	data, err := c.authRequest(ctx, http.MethodGet, holdingsPath, nil)
	if err != nil {
		metrics.BrokerRequests.WithLabelValues("holdings", "error").Inc()
		return nil, fmt.Errorf("holdings request failed: %w", err)
	}
	metrics.BrokerRequests.WithLabelValues("holdings", "ok").Inc()

	var rows []holdingData
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse holdings response: %w", err)
	}

	holdings := make([]domain.Holding, 0, len(rows))
	for _, h := range rows {
		holdings = append(holdings, domain.Holding{
			Symbol:       h.TradingSymbol,
			Token:        h.SymbolToken,
			Exchange:     h.Exchange,
			Quantity:     h.Quantity,
			AveragePrice: h.AveragePrice,
			LTP:          h.LTP,
		})
	}
	return holdings, nil
}

// authRequest performs an authenticated call, re-logging-in once when the
// session has been rejected.
func (c *Client) authRequest(ctx context.Context, method, path string, payload interface{}) (json.RawMessage, error) {
	if err := c.EnsureSession(ctx); err != nil {
		return nil, err
	}

	data, err := c.doRequest(ctx, method, path, payload, true)
	if err == nil {
		return data, nil
	}

	apiErr, ok := err.(*apiError)
	if !ok || !apiErr.isAuthError() {
		return nil, err
	}

	c.log.Warn().Str("errorcode", apiErr.Code).Msg("Session rejected, re-logging in")
	if err := c.Login(ctx); err != nil {
		return nil, err
	}
	return c.doRequest(ctx, method, path, payload, true)
}

func (c *Client) doRequest(ctx context.Context, method, path string, payload interface{}, withAuth bool) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.send(ctx, method, path, payload, withAuth)
	})
	if err != nil {
		return nil, err
	}
	return result.(json.RawMessage), nil
}

func (c *Client) send(ctx context.Context, method, path string, payload interface{}, withAuth bool) (json.RawMessage, error) {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	c.setHeaders(req, withAuth)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	return c.parseResponse(resp)
}

func (c *Client) setHeaders(req *http.Request, withAuth bool) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-UserType", "USER")
	req.Header.Set("X-SourceID", "WEB")
	req.Header.Set("X-ClientLocalIP", "127.0.0.1")
	req.Header.Set("X-ClientPublicIP", "127.0.0.1")
	req.Header.Set("X-MACAddress", "00:00:00:00:00:00")
	req.Header.Set("X-PrivateKey", c.cfg.APIKey)

	if withAuth {
		c.mu.Lock()
		token := c.jwtToken
		c.mu.Unlock()
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

func (c *Client) parseResponse(resp *http.Response) (json.RawMessage, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("broker returned HTTP %d: %s", resp.StatusCode, truncateBody(body))
	}

	var envelope apiResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if !envelope.Status {
		return nil, &apiError{Code: envelope.ErrorCode, Message: envelope.Message}
	}

	return envelope.Data, nil
}

func truncateBody(body []byte) string {
	const max = 200
	if len(body) <= max {
		return string(body)
	}
	return string(body[:max]) + "..."
}
