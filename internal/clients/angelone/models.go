package angelone

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/aristath/nse-trader/internal/domain"
)

// apiResponse is the SmartAPI envelope wrapping every endpoint
type apiResponse struct {
	Status    bool            `json:"status"`
	Message   string          `json:"message"`
	ErrorCode string          `json:"errorcode"`
	Data      json.RawMessage `json:"data"`
}

// apiError is a status=false envelope surfaced as an error
type apiError struct {
	Code    string
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("broker error %s: %s", e.Code, e.Message)
}

// isAuthError reports whether the session token was rejected or expired
func (e *apiError) isAuthError() bool {
	switch e.Code {
	case "AG8001", "AG8002", "AG8003", "AB8050", "AB8051":
		return true
	}
	return false
}

type loginRequest struct {
	ClientCode string `json:"clientcode"`
	Password   string `json:"password"`
	TOTP       string `json:"totp"`
}

type loginData struct {
	JWTToken     string `json:"jwtToken"`
	RefreshToken string `json:"refreshToken"`
	FeedToken    string `json:"feedToken"`
}

type quoteRequest struct {
	Mode           string              `json:"mode"`
	ExchangeTokens map[string][]string `json:"exchangeTokens"`
}

type quoteData struct {
	Fetched   []fetchedQuote   `json:"fetched"`
	Unfetched []unfetchedQuote `json:"unfetched"`
}

type fetchedQuote struct {
	Exchange      string  `json:"exchange"`
	TradingSymbol string  `json:"tradingSymbol"`
	SymbolToken   string  `json:"symbolToken"`
	LTP           float64 `json:"ltp"`
	Open          float64 `json:"open"`
	High          float64 `json:"high"`
	Low           float64 `json:"low"`
	Close         float64 `json:"close"`
	AvgPrice      float64 `json:"avgPrice"`
	TradeVolume   int64   `json:"tradeVolume"`
}

type unfetchedQuote struct {
	SymbolToken string `json:"symbolToken"`
	Message     string `json:"message"`
}

// toDomain converts one fetched quote; traded value is reconstructed from
// the day's volume-weighted average price.
func (q fetchedQuote) toDomain() domain.Quote {
	avg := q.AvgPrice
	if avg <= 0 {
		avg = q.LTP
	}
	return domain.Quote{
		Token:       q.SymbolToken,
		Symbol:      q.TradingSymbol,
		Exchange:    q.Exchange,
		LTP:         q.LTP,
		Open:        q.Open,
		High:        q.High,
		Low:         q.Low,
		Close:       q.Close,
		Volume:      q.TradeVolume,
		TradedValue: avg * float64(q.TradeVolume),
	}
}

type candleRequest struct {
	Exchange    string `json:"exchange"`
	SymbolToken string `json:"symboltoken"`
	Interval    string `json:"interval"`
	FromDate    string `json:"fromdate"`
	ToDate      string `json:"todate"`
}

// parseCandleRow converts one [timestamp, o, h, l, c, v] row
func parseCandleRow(row []interface{}) (domain.Candle, bool) {
	if len(row) < 6 {
		return domain.Candle{}, false
	}

	ts, ok := row[0].(string)
	if !ok {
		return domain.Candle{}, false
	}
	date, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return domain.Candle{}, false
	}

	values := make([]float64, 0, 5)
	for _, v := range row[1:6] {
		f, ok := v.(float64)
		if !ok {
			return domain.Candle{}, false
		}
		values = append(values, f)
	}

	return domain.Candle{
		Date:   date,
		Open:   values[0],
		High:   values[1],
		Low:    values[2],
		Close:  values[3],
		Volume: int64(values[4]),
	}, true
}

type placeOrderRequest struct {
	Variety         string `json:"variety"`
	TradingSymbol   string `json:"tradingsymbol"`
	SymbolToken     string `json:"symboltoken"`
	TransactionType string `json:"transactiontype"`
	Exchange        string `json:"exchange"`
	OrderType       string `json:"ordertype"`
	ProductType     string `json:"producttype"`
	Duration        string `json:"duration"`
	Price           string `json:"price"`
	SquareOff       string `json:"squareoff"`
	StopLoss        string `json:"stoploss"`
	Quantity        string `json:"quantity"`
}

type orderData struct {
	Script        string `json:"script"`
	OrderID       string `json:"orderid"`
	UniqueOrderID string `json:"uniqueorderid"`
}

type rmsData struct {
	Net           string `json:"net"`
	AvailableCash string `json:"availablecash"`
}

type holdingData struct {
	TradingSymbol string  `json:"tradingsymbol"`
	SymbolToken   string  `json:"symboltoken"`
	Exchange      string  `json:"exchange"`
	Quantity      int     `json:"quantity"`
	AveragePrice  float64 `json:"averageprice"`
	LTP           float64 `json:"ltp"`
}
