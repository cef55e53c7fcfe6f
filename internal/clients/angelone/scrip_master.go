package angelone

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const scripMasterURL = "https://margincalculator.angelbroking.com/OpenAPI_File/files/OpenAPIScripMaster.json"

// ScripEntry is one row of the broker's instrument catalog. All fields are
// strings in the upstream file.
type ScripEntry struct {
	Token          string `json:"token"`
	Symbol         string `json:"symbol"`
	Name           string `json:"name"`
	Expiry         string `json:"expiry"`
	Strike         string `json:"strike"`
	LotSize        string `json:"lotsize"`
	InstrumentType string `json:"instrumenttype"`
	ExchSeg        string `json:"exch_seg"`
	TickSize       string `json:"tick_size"`
}

// FetchScripMaster downloads the instrument catalog, keeping only entries on
// the given exchange segments. The file is tens of megabytes, so rows are
// decoded one at a time instead of buffering the whole array.
func (c *Client) FetchScripMaster(ctx context.Context, exchanges []string) ([]ScripEntry, error) {
	keep := make(map[string]bool, len(exchanges))
	for _, e := range exchanges {
		keep[e] = true
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, scripMasterURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build scrip master request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	// Dedicated client: the download takes far longer than API calls
	client := &http.Client{Timeout: 120 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("scrip master download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("scrip master download returned HTTP %d", resp.StatusCode)
	}

	dec := json.NewDecoder(resp.Body)
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("scrip master is not a JSON array: %w", err)
	}

	var entries []ScripEntry
	for dec.More() {
		var entry ScripEntry
		if err := dec.Decode(&entry); err != nil {
			return nil, fmt.Errorf("failed to decode scrip master entry: %w", err)
		}
		if keep[entry.ExchSeg] {
			entries = append(entries, entry)
		}
	}

	c.log.Info().Int("entries", len(entries)).Msg("Scrip master downloaded")
	return entries, nil
}
