package angelone

import (
	"context"
	"encoding/base32"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aristath/nse-trader/internal/domain"
	"github.com/pquerna/otp/totp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RFC 6238 test secret: base32 of "12345678901234567890"
const testSecret = "GEZDGNBVGY3TQOJQGEZDGNBVGY3TQOJQ"

func TestGenerateTOTP(t *testing.T) {
	at := time.Unix(59, 0)

	code, err := GenerateTOTP(testSecret, at)
	require.NoError(t, err)
	assert.Equal(t, "287082", code)

	// Hyphens and spaces in the seed are ignored
	code, err = GenerateTOTP("GEZD-GNBV GY3T-QOJQ GEZD-GNBV GY3T-QOJQ", at)
	require.NoError(t, err)
	assert.Equal(t, "287082", code)

	_, err = GenerateTOTP("", at)
	assert.Error(t, err)
}

func TestGenerateTOTPHexSeed(t *testing.T) {
	// 32 hex chars decode to 16 raw bytes before base32 encoding
	hexSeed := "31323334353637383930313233343536"
	raw, err := hex.DecodeString(hexSeed)
	require.NoError(t, err)

	at := time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)
	want, err := totp.GenerateCode(base32.StdEncoding.EncodeToString(raw), at)
	require.NoError(t, err)

	got, err := GenerateTOTP(hexSeed, at)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestParseCandleRow(t *testing.T) {
	tests := []struct {
		name string
		row  []interface{}
		ok   bool
	}{
		{
			name: "valid row",
			row:  []interface{}{"2026-01-05T00:00:00+05:30", 100.0, 105.0, 99.0, 104.0, 250000.0},
			ok:   true,
		},
		{
			name: "too short",
			row:  []interface{}{"2026-01-05T00:00:00+05:30", 100.0},
			ok:   false,
		},
		{
			name: "bad timestamp",
			row:  []interface{}{"yesterday", 100.0, 105.0, 99.0, 104.0, 250000.0},
			ok:   false,
		},
		{
			name: "non-numeric value",
			row:  []interface{}{"2026-01-05T00:00:00+05:30", "100", 105.0, 99.0, 104.0, 250000.0},
			ok:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			candle, ok := parseCandleRow(tt.row)
			assert.Equal(t, tt.ok, ok)
			if ok {
				assert.Equal(t, 104.0, candle.Close)
				assert.Equal(t, int64(250000), candle.Volume)
			}
		})
	}
}

func TestQuoteToDomain(t *testing.T) {
	q := fetchedQuote{
		TradingSymbol: "RELIANCE-EQ",
		SymbolToken:   "2885",
		Exchange:      "NSE",
		LTP:           2500,
		AvgPrice:      2480,
		TradeVolume:   1000,
	}
	d := q.toDomain()
	assert.Equal(t, 2480000.0, d.TradedValue)

	// Missing avgPrice falls back to LTP
	q.AvgPrice = 0
	d = q.toDomain()
	assert.Equal(t, 2500000.0, d.TradedValue)
}

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return NewClient(Config{
		APIKey:     "test-key",
		ClientID:   "C12345",
		MPIN:       "0000",
		TOTPSecret: testSecret,
		BaseURL:    server.URL,
	}, zerolog.Nop())
}

func TestQuotesLoginFlow(t *testing.T) {
	var logins int
	var authHeader, privateKey string

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case loginPath:
			logins++
			json.NewEncoder(w).Encode(map[string]interface{}{
				"status": true,
				"data":   map[string]string{"jwtToken": "jwt-abc"},
			})
		case quotePath:
			authHeader = r.Header.Get("Authorization")
			privateKey = r.Header.Get("X-PrivateKey")
			json.NewEncoder(w).Encode(map[string]interface{}{
				"status": true,
				"data": map[string]interface{}{
					"fetched": []map[string]interface{}{
						{
							"tradingSymbol": "SBIN-EQ",
							"symbolToken":   "3045",
							"exchange":      "NSE",
							"ltp":           820.5,
							"avgPrice":      815.0,
							"tradeVolume":   500000,
						},
					},
				},
			})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))

	quotes, err := client.Quotes(context.Background(), "NSE", []string{"3045"})
	require.NoError(t, err)
	require.Len(t, quotes, 1)
	assert.Equal(t, "SBIN-EQ", quotes[0].Symbol)
	assert.Equal(t, 820.5, quotes[0].LTP)

	assert.Equal(t, 1, logins)
	assert.Equal(t, "Bearer jwt-abc", authHeader)
	assert.Equal(t, "test-key", privateKey)

	// Session is reused on the next call
	_, err = client.Quotes(context.Background(), "NSE", []string{"3045"})
	require.NoError(t, err)
	assert.Equal(t, 1, logins)
}

func TestQuotesBatchTooLarge(t *testing.T) {
	client := NewClient(Config{}, zerolog.Nop())

	tokens := make([]string, 251)
	_, err := client.Quotes(context.Background(), "NSE", tokens)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max 250")
}

func TestAuthRetryOnExpiredSession(t *testing.T) {
	var logins, quoteCalls int

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case loginPath:
			logins++
			json.NewEncoder(w).Encode(map[string]interface{}{
				"status": true,
				"data":   map[string]string{"jwtToken": "jwt-new"},
			})
		case quotePath:
			quoteCalls++
			if quoteCalls == 1 {
				// Session rejected on first attempt
				json.NewEncoder(w).Encode(map[string]interface{}{
					"status":    false,
					"errorcode": "AG8002",
					"message":   "Token Expired",
				})
				return
			}
			json.NewEncoder(w).Encode(map[string]interface{}{
				"status": true,
				"data":   map[string]interface{}{"fetched": []map[string]interface{}{}},
			})
		}
	}))

	_, err := client.Quotes(context.Background(), "NSE", []string{"2885"})
	require.NoError(t, err)
	assert.Equal(t, 2, logins, "expected initial login plus one re-login")
	assert.Equal(t, 2, quoteCalls)
}

func TestPlaceOrderSendsStringFields(t *testing.T) {
	var captured map[string]string

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case loginPath:
			json.NewEncoder(w).Encode(map[string]interface{}{
				"status": true,
				"data":   map[string]string{"jwtToken": "jwt"},
			})
		case orderPath:
			json.NewDecoder(r.Body).Decode(&captured)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"status": true,
				"data":   map[string]string{"orderid": "240101000123456"},
			})
		}
	}))

	orderID, err := client.PlaceOrder(context.Background(), testOrder())
	require.NoError(t, err)
	assert.Equal(t, "240101000123456", orderID)

	assert.Equal(t, "NORMAL", captured["variety"])
	assert.Equal(t, "LIMIT", captured["ordertype"])
	assert.Equal(t, "DELIVERY", captured["producttype"])
	assert.Equal(t, "DAY", captured["duration"])
	assert.Equal(t, "104.55", captured["price"])
	assert.Equal(t, "10", captured["quantity"])
	assert.Equal(t, "0", captured["squareoff"])
}

func TestIsAuthError(t *testing.T) {
	assert.True(t, (&apiError{Code: "AG8001"}).isAuthError())
	assert.True(t, (&apiError{Code: "AG8002"}).isAuthError())
	assert.False(t, (&apiError{Code: "AB1004"}).isAuthError())
}

func testOrder() domain.OrderRequest {
	return domain.OrderRequest{
		Symbol:   "ITC-EQ",
		Token:    "1660",
		Exchange: "NSE",
		Side:     "BUY",
		Quantity: 10,
		Price:    104.55,
	}
}
