// Package providers implements the market-data sources, their health
// tracking, the shared full-market spot cache and the fallback coordinator.
package providers

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/shaoq/stockwatch/internal/domain"
)

// ErrNotSupported marks a capability a provider does not implement. The
// coordinator skips it without touching the provider's health.
var ErrNotSupported = errors.New("capability not supported")

// ErrInvalidData marks a response that parsed but carried no usable payload
// (price <= 0, empty table, missing fields).
var ErrInvalidData = errors.New("invalid data")

// StatusError is a non-2xx HTTP response from a provider endpoint.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// IsBanStatus reports whether err is an HTTP 403/429, which forces the
// provider straight into cooldown.
func IsBanStatus(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == 403 || se.Code == 429
	}
	return false
}

// recordFetchErr classifies one transport failure into a provider's health:
// ban statuses force the cooldown, anything else counts a plain failure.
func recordFetchErr(log zerolog.Logger, h *Health, err error) {
	if IsBanStatus(err) {
		log.Warn().Err(err).Msg("rate limited, entering cooldown")
		h.MarkBanned()
		return
	}
	h.RecordFailure()
}

// Provider is the uniform contract every data source satisfies. Capability
// methods a source does not declare return ErrNotSupported.
type Provider interface {
	Name() string
	Priority() int
	Capabilities() []domain.Capability
	HasCapability(c domain.Capability) bool
	Health() *Health

	RealtimeQuote(code string, market domain.Market) (*domain.Quote, error)
	Kline(code string, market domain.Market, days int) ([]domain.Bar, error)
	FinancialReport(code string, market domain.Market) ([]map[string]any, error)
	ValuationMetrics(code string, market domain.Market) (map[string]any, error)
	MacroIndicators(indicator string) ([]map[string]any, error)
}

// base carries the identity and health shared by all providers and supplies
// the not-supported defaults for capability methods.
type base struct {
	name     string
	priority int
	caps     []domain.Capability
	health   *Health
}

func newBase(name string, priority int, health *Health, caps ...domain.Capability) base {
	return base{name: name, priority: priority, caps: caps, health: health}
}

func (b *base) Name() string                       { return b.name }
func (b *base) Priority() int                      { return b.priority }
func (b *base) Capabilities() []domain.Capability  { return b.caps }
func (b *base) Health() *Health                    { return b.health }
func (b *base) HasCapability(c domain.Capability) bool {
	for _, have := range b.caps {
		if have == c {
			return true
		}
	}
	return false
}

func (b *base) RealtimeQuote(string, domain.Market) (*domain.Quote, error) {
	return nil, ErrNotSupported
}

func (b *base) Kline(string, domain.Market, int) ([]domain.Bar, error) {
	return nil, ErrNotSupported
}

func (b *base) FinancialReport(string, domain.Market) ([]map[string]any, error) {
	return nil, ErrNotSupported
}

func (b *base) ValuationMetrics(string, domain.Market) (map[string]any, error) {
	return nil, ErrNotSupported
}

func (b *base) MacroIndicators(string) ([]map[string]any, error) {
	return nil, ErrNotSupported
}
