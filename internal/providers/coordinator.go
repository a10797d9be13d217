package providers

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/shaoq/stockwatch/internal/domain"
)

// ErrAllProvidersFailed means every capable, available provider was tried
// and none returned usable data.
var ErrAllProvidersFailed = errors.New("all providers failed")

// Coordinator fans a request through the registered providers in priority
// order, first usable answer wins. A shared limiter keeps outbound calls at
// least minInterval apart so upstreams do not see bursts.
type Coordinator struct {
	providers []Provider
	limiter   *rate.Limiter
	log       zerolog.Logger
}

// NewCoordinator registers the given providers, lowest priority value first.
func NewCoordinator(minInterval time.Duration, log zerolog.Logger, provs ...Provider) *Coordinator {
	sorted := make([]Provider, len(provs))
	copy(sorted, provs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority() < sorted[j].Priority()
	})
	return &Coordinator{
		providers: sorted,
		limiter:   rate.NewLimiter(rate.Every(minInterval), 1),
		log:       log.With().Str("component", "coordinator").Logger(),
	}
}

// candidates returns the available providers declaring cap, priority order.
func (c *Coordinator) candidates(cap domain.Capability) []Provider {
	out := make([]Provider, 0, len(c.providers))
	for _, p := range c.providers {
		if p.HasCapability(cap) && p.Health().IsAvailable() {
			out = append(out, p)
		}
	}
	return out
}

// FetchRealtime returns the first valid quote, recording every provider it
// actually called.
func (c *Coordinator) FetchRealtime(ctx context.Context, code string, mkt domain.Market) domain.FetchResult {
	result := domain.FetchResult{Tried: []string{}}

	for _, p := range c.candidates(domain.CapRealtimePrice) {
		if err := c.limiter.Wait(ctx); err != nil {
			result.Error = err.Error()
			return result
		}

		result.Tried = append(result.Tried, p.Name())
		quote, err := p.RealtimeQuote(code, mkt)
		if err != nil {
			if !errors.Is(err, ErrNotSupported) {
				c.log.Debug().Err(err).Str("provider", p.Name()).Str("code", code).Msg("realtime fetch failed")
				result.Error = err.Error()
			}
			continue
		}
		if !quote.Valid() {
			continue
		}

		result.Success = true
		result.Quote = quote
		result.Provider = p.Name()
		result.Error = ""
		return result
	}

	if result.Error == "" {
		result.Error = ErrAllProvidersFailed.Error()
	}
	return result
}

// Kline returns the first non-empty candle series, oldest first.
func (c *Coordinator) Kline(ctx context.Context, code string, mkt domain.Market, days int) ([]domain.Bar, error) {
	var lastErr error
	for _, p := range c.candidates(domain.CapKlineData) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		bars, err := p.Kline(code, mkt, days)
		if err != nil {
			if !errors.Is(err, ErrNotSupported) {
				c.log.Debug().Err(err).Str("provider", p.Name()).Str("code", code).Msg("kline fetch failed")
				lastErr = err
			}
			continue
		}
		if len(bars) > 0 {
			return bars, nil
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrAllProvidersFailed, lastErr)
	}
	return nil, ErrAllProvidersFailed
}

// FinancialReport returns per-period fundamentals from the first capable
// provider.
func (c *Coordinator) FinancialReport(ctx context.Context, code string, mkt domain.Market) ([]map[string]any, error) {
	var lastErr error
	for _, p := range c.candidates(domain.CapFinancialReport) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		rows, err := p.FinancialReport(code, mkt)
		if err != nil {
			if !errors.Is(err, ErrNotSupported) {
				lastErr = err
			}
			continue
		}
		if len(rows) > 0 {
			return rows, nil
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrAllProvidersFailed, lastErr)
	}
	return nil, ErrAllProvidersFailed
}

// ValuationMetrics returns valuation ratios from the first capable provider.
func (c *Coordinator) ValuationMetrics(ctx context.Context, code string, mkt domain.Market) (map[string]any, error) {
	var lastErr error
	for _, p := range c.candidates(domain.CapValuationMetrics) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		metrics, err := p.ValuationMetrics(code, mkt)
		if err != nil {
			if !errors.Is(err, ErrNotSupported) {
				lastErr = err
			}
			continue
		}
		if len(metrics) > 0 {
			return metrics, nil
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrAllProvidersFailed, lastErr)
	}
	return nil, ErrAllProvidersFailed
}

// MacroIndicators returns a macro series from the first capable provider.
func (c *Coordinator) MacroIndicators(ctx context.Context, indicator string) ([]map[string]any, error) {
	var lastErr error
	for _, p := range c.candidates(domain.CapMacroIndicators) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		rows, err := p.MacroIndicators(indicator)
		if err != nil {
			if !errors.Is(err, ErrNotSupported) {
				lastErr = err
			}
			continue
		}
		if len(rows) > 0 {
			return rows, nil
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrAllProvidersFailed, lastErr)
	}
	return nil, ErrAllProvidersFailed
}

// Provider finds a registered provider by name.
func (c *Coordinator) Provider(name string) (Provider, bool) {
	for _, p := range c.providers {
		if p.Name() == name {
			return p, true
		}
	}
	return nil, false
}

// ResetProvider clears one provider's health state.
func (c *Coordinator) ResetProvider(name string) bool {
	p, ok := c.Provider(name)
	if !ok {
		return false
	}
	p.Health().Reset()
	c.log.Info().Str("provider", name).Msg("provider health reset")
	return true
}

// ResetAll clears every provider's health state.
func (c *Coordinator) ResetAll() {
	for _, p := range c.providers {
		p.Health().Reset()
	}
	c.log.Info().Msg("all provider health reset")
}

// HealthStatus snapshots every provider's health, keyed by name.
func (c *Coordinator) HealthStatus() map[string]HealthSnapshot {
	out := make(map[string]HealthSnapshot, len(c.providers))
	for _, p := range c.providers {
		out[p.Name()] = p.Health().Snapshot()
	}
	return out
}

// Capabilities lists each provider's declared capabilities, keyed by name.
func (c *Coordinator) Capabilities() map[string][]domain.Capability {
	out := make(map[string][]domain.Capability, len(c.providers))
	for _, p := range c.providers {
		out[p.Name()] = p.Capabilities()
	}
	return out
}
