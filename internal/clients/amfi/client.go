package amfi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

const defaultBaseURL = "https://api.mfapi.in"

// Client fetches mutual fund NAV history from the public AMFI API
type Client struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

// NewClient creates a new AMFI client
func NewClient(log zerolog.Logger) *Client {
	return &Client{
		baseURL: defaultBaseURL,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		log: log.With().Str("client", "amfi").Logger(),
	}
}

// NAVPoint is a single NAV observation. History arrives newest first.
type NAVPoint struct {
	Date time.Time
	NAV  float64
}

// SchemeData is the parsed NAV history for one scheme
type SchemeData struct {
	SchemeCode string
	SchemeName string
	FundHouse  string
	Category   string
	NAVs       []NAVPoint
}

type schemeResponse struct {
	Meta struct {
		FundHouse      string `json:"fund_house"`
		SchemeType     string `json:"scheme_type"`
		SchemeCategory string `json:"scheme_category"`
		SchemeCode     int    `json:"scheme_code"`
		SchemeName     string `json:"scheme_name"`
	} `json:"meta"`
	Data []struct {
		Date string `json:"date"`
		NAV  string `json:"nav"`
	} `json:"data"`
	Status string `json:"status"`
}

// GetNAVHistory fetches full NAV history for a scheme code. Rows with an
// unparsable date or NAV are skipped; newest-first order is preserved.
func (c *Client) GetNAVHistory(ctx context.Context, schemeCode string) (*SchemeData, error) {
	reqURL := fmt.Sprintf("%s/mf/%s", c.baseURL, schemeCode)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("AMFI request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("AMFI returned status %d for scheme %s", resp.StatusCode, schemeCode)
	}

	var parsed schemeResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse AMFI response: %w", err)
	}
	if len(parsed.Data) == 0 {
		return nil, fmt.Errorf("no NAV data for scheme %s", schemeCode)
	}

	data := &SchemeData{
		SchemeCode: schemeCode,
		SchemeName: parsed.Meta.SchemeName,
		FundHouse:  parsed.Meta.FundHouse,
		Category:   parsed.Meta.SchemeCategory,
		NAVs:       make([]NAVPoint, 0, len(parsed.Data)),
	}
	if data.FundHouse == "" {
		data.FundHouse = "Unknown Fund"
	}

	for _, row := range parsed.Data {
		// AMFI dates are dd-mm-yyyy
		date, err := time.Parse("02-01-2006", row.Date)
		if err != nil {
			continue
		}
		nav, err := strconv.ParseFloat(row.NAV, 64)
		if err != nil || nav <= 0 {
			continue
		}
		data.NAVs = append(data.NAVs, NAVPoint{Date: date, NAV: nav})
	}

	if len(data.NAVs) == 0 {
		return nil, fmt.Errorf("no parseable NAV rows for scheme %s", schemeCode)
	}

	c.log.Debug().
		Str("scheme", schemeCode).
		Str("fund_house", data.FundHouse).
		Int("nav_points", len(data.NAVs)).
		Msg("Fetched NAV history")

	return data, nil
}
