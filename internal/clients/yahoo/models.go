package yahoo

// FundamentalData holds the metrics extracted from Yahoo's quoteSummary
// modules. Pointers are nil when Yahoo does not report the field; the
// scoring layer substitutes sector defaults.
type FundamentalData struct {
	Symbol             string
	Sector             *string
	RevenueGrowthPct   *float64
	ROEPct             *float64
	ROCEPct            *float64
	DebtToEquity       *float64
	OperatingCashflow  *float64
	PromoterHoldingPct *float64
	PERatio            *float64
	PriceToBook        *float64
	PEGRatio           *float64
	CurrentPrice       *float64
}

type quoteSummaryResponse struct {
	QuoteSummary struct {
		Result []map[string]map[string]interface{} `json:"result"`
		Error  interface{}                         `json:"error"`
	} `json:"quoteSummary"`
}

type chartResponse struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Close []*float64 `json:"close"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error interface{} `json:"error"`
	} `json:"chart"`
}
