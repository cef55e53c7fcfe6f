package analysis

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/aristath/nse-trader/internal/clients/yahoo"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// fundamentalsTTL is how long a fetched company record stays fresh. Company
// fundamentals move on quarterly results, so a day is plenty.
const fundamentalsTTL = 24 * time.Hour

// maxConcurrentFetches caps in-flight provider calls so bulk analysis does
// not trip the provider's rate limiting.
const maxConcurrentFetches = 5

// FundamentalsProvider fetches raw company fundamentals for one symbol
type FundamentalsProvider interface {
	Fundamentals(ctx context.Context, symbol, exchange string) (*yahoo.FundamentalData, error)
}

type cachedFundamentals struct {
	data      *yahoo.FundamentalData
	fetchedAt time.Time
}

// FundamentalSource wraps a provider with a TTL cache and a concurrency cap.
// Failures degrade to nil data, which resolves to conservative defaults
// downstream, so a provider outage never blocks signal generation.
type FundamentalSource struct {
	provider FundamentalsProvider
	sem      *semaphore.Weighted
	log      zerolog.Logger

	mu    sync.Mutex
	cache map[string]cachedFundamentals
	now   func() time.Time
}

// NewFundamentalSource creates a cached fundamentals source
func NewFundamentalSource(provider FundamentalsProvider, log zerolog.Logger) *FundamentalSource {
	return &FundamentalSource{
		provider: provider,
		sem:      semaphore.NewWeighted(maxConcurrentFetches),
		log:      log.With().Str("component", "fundamental_source").Logger(),
		cache:    make(map[string]cachedFundamentals),
		now:      time.Now,
	}
}

// Get returns the fundamentals record for a symbol, or nil when the provider
// cannot supply one. Successful fetches are cached; failures are not, so the
// next refresh retries.
func (s *FundamentalSource) Get(ctx context.Context, symbol, exchange string) *yahoo.FundamentalData {
	key := strings.ToUpper(strings.TrimSpace(symbol))

	s.mu.Lock()
	if entry, ok := s.cache[key]; ok && s.now().Sub(entry.fetchedAt) < fundamentalsTTL {
		s.mu.Unlock()
		return entry.data
	}
	s.mu.Unlock()

	if err := s.sem.Acquire(ctx, 1); err != nil {
		s.log.Warn().Err(err).Str("symbol", key).Msg("Fundamentals fetch cancelled")
		return nil
	}
	defer s.sem.Release(1)

	data, err := s.provider.Fundamentals(ctx, symbol, exchange)
	if err != nil {
		s.log.Warn().Err(err).Str("symbol", key).Msg("Fundamentals fetch failed, using defaults")
		return nil
	}

	s.mu.Lock()
	s.cache[key] = cachedFundamentals{data: data, fetchedAt: s.now()}
	s.mu.Unlock()

	return data
}

// CacheSize reports the number of cached company records
func (s *FundamentalSource) CacheSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cache)
}
