package registry

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/nse-trader/internal/clients/angelone"
	"github.com/aristath/nse-trader/internal/domain"
	"github.com/aristath/nse-trader/internal/metrics"
)

// FetchFunc downloads the broker's instrument catalog for the given
// exchange segments
type FetchFunc func(ctx context.Context, exchanges []string) ([]angelone.ScripEntry, error)

// Name substrings that mark index funds and debt vehicles masquerading as
// equity entries in the catalog
var nameExclusions = []string{
	"ETF", "BEES", "INDEX FUND", "LIQUID FUND", "LIQUID BEES", "GILT FUND",
}

// Symbol substrings excluded for the same reason
var symbolExclusions = []string{
	"LIQUID", "GILT", "ETF", "IETF", "BEES", "BETA", "NIFTY", "SENSEX",
}

// Registry owns the symbol-to-token map for the tradeable equity universe.
// The whole map is replaced atomically on reload; readers never observe a
// partially loaded catalog.
type Registry struct {
	fetch            FetchFunc
	includeSecondary bool
	log              zerolog.Logger

	mu          sync.RWMutex
	byKey       map[string]domain.Instrument
	instruments []domain.Instrument
	loadedAt    time.Time
	fallback    bool
}

// New creates an empty registry. Call Load before first use; until then
// Resolve misses and SymbolsOn returns nothing.
func New(fetch FetchFunc, includeSecondary bool, log zerolog.Logger) *Registry {
	return &Registry{
		fetch:            fetch,
		includeSecondary: includeSecondary,
		log:              log.With().Str("component", "registry").Logger(),
		byKey:            make(map[string]domain.Instrument),
	}
}

// Load downloads and installs a fresh catalog. On failure the previous
// catalog is retained if one exists; otherwise the built-in fallback list
// is installed so the agent can still operate in a degraded mode.
func (r *Registry) Load(ctx context.Context) error {
	exchanges := []string{domain.ExchangeNSE}
	if r.includeSecondary {
		exchanges = append(exchanges, domain.ExchangeBSE)
	}

	entries, err := r.fetch(ctx, exchanges)
	if err != nil {
		return r.handleLoadFailure(fmt.Errorf("catalog download failed: %w", err))
	}

	instruments := make([]domain.Instrument, 0, len(entries))
	for _, entry := range entries {
		if !eligible(entry) {
			continue
		}
		instruments = append(instruments, domain.Instrument{
			Token:    entry.Token,
			Symbol:   strings.ToUpper(entry.Symbol),
			Name:     entry.Name,
			Exchange: entry.ExchSeg,
		})
	}

	if len(instruments) == 0 {
		return r.handleLoadFailure(fmt.Errorf("catalog yielded no eligible equities from %d entries", len(entries)))
	}

	r.install(instruments, false)
	r.log.Info().
		Int("entries", len(entries)).
		Int("eligible", len(instruments)).
		Msg("Instrument registry reloaded")
	return nil
}

func (r *Registry) handleLoadFailure(err error) error {
	r.mu.RLock()
	empty := len(r.instruments) == 0
	r.mu.RUnlock()

	if empty {
		r.install(fallbackInstruments(), true)
		r.log.Warn().Err(err).
			Int("symbols", len(fallbackInstruments())).
			Msg("Installed built-in fallback universe")
	} else {
		r.log.Error().Err(err).Msg("Registry reload failed, keeping previous catalog")
	}
	return err
}

func (r *Registry) install(instruments []domain.Instrument, fallback bool) {
	byKey := make(map[string]domain.Instrument, len(instruments))
	for _, inst := range instruments {
		byKey[key(inst.Symbol, inst.Exchange)] = inst
	}

	r.mu.Lock()
	r.byKey = byKey
	r.instruments = instruments
	r.loadedAt = time.Now()
	r.fallback = fallback
	r.mu.Unlock()

	metrics.UniverseSize.Set(float64(len(instruments)))
}

// Resolve looks up an instrument by trading symbol, with or without the
// -EQ suffix
func (r *Registry) Resolve(symbol, exchange string) (domain.Instrument, bool) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	r.mu.RLock()
	defer r.mu.RUnlock()

	if inst, ok := r.byKey[key(symbol, exchange)]; ok {
		return inst, true
	}
	inst, ok := r.byKey[key(symbol+"-EQ", exchange)]
	return inst, ok
}

// SymbolsOn returns all instruments listed on the given exchange
func (r *Registry) SymbolsOn(exchange string) []domain.Instrument {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Instrument, 0, len(r.instruments))
	for _, inst := range r.instruments {
		if inst.Exchange == exchange {
			out = append(out, inst)
		}
	}
	return out
}

// Count returns the number of instruments in the current catalog
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.instruments)
}

// LoadedAt returns when the current catalog was installed
func (r *Registry) LoadedAt() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loadedAt
}

// UsingFallback reports whether the built-in list is installed
func (r *Registry) UsingFallback() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.fallback
}

func key(symbol, exchange string) string {
	return exchange + "|" + symbol
}

// eligible filters the catalog down to cash-equity instruments
func eligible(entry angelone.ScripEntry) bool {
	symbol := strings.ToUpper(entry.Symbol)
	if !strings.HasSuffix(symbol, "-EQ") {
		return false
	}
	if entry.InstrumentType != "" && entry.InstrumentType != "EQ" {
		return false
	}

	name := strings.ToUpper(entry.Name)
	for _, excl := range nameExclusions {
		if strings.Contains(name, excl) {
			return false
		}
	}
	for _, excl := range symbolExclusions {
		if strings.Contains(symbol, excl) {
			return false
		}
	}
	return true
}

// fallbackInstruments is the degraded-mode universe: twenty liquid NSE
// large caps with their fixed broker tokens.
func fallbackInstruments() []domain.Instrument {
	list := []struct {
		symbol string
		token  string
		name   string
	}{
		{"RELIANCE", "2885", "Reliance Industries"},
		{"TCS", "11536", "Tata Consultancy Services"},
		{"INFY", "1594", "Infosys"},
		{"HDFCBANK", "1333", "HDFC Bank"},
		{"ICICIBANK", "4963", "ICICI Bank"},
		{"KOTAKBANK", "1922", "Kotak Mahindra Bank"},
		{"AXISBANK", "5900", "Axis Bank"},
		{"SBIN", "3045", "State Bank of India"},
		{"BAJFINANCE", "317", "Bajaj Finance"},
		{"HINDUNILVR", "1394", "Hindustan Unilever"},
		{"ITC", "1660", "ITC"},
		{"LT", "11483", "Larsen & Toubro"},
		{"TITAN", "3506", "Titan Company"},
		{"ASIANPAINT", "236", "Asian Paints"},
		{"NESTLEIND", "17963", "Nestle India"},
		{"WIPRO", "3787", "Wipro"},
		{"HCLTECH", "7229", "HCL Technologies"},
		{"TECHM", "13538", "Tech Mahindra"},
		{"SUNPHARMA", "3351", "Sun Pharmaceutical"},
		{"DRREDDY", "881", "Dr Reddys Laboratories"},
	}

	instruments := make([]domain.Instrument, len(list))
	for i, item := range list {
		instruments[i] = domain.Instrument{
			Token:    item.token,
			Symbol:   item.symbol + "-EQ",
			Name:     item.name,
			Exchange: domain.ExchangeNSE,
		}
	}
	return instruments
}
