package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/shaoq/stockwatch/internal/domain"
)

func at(y int, m time.Month, d, hh, mm int) time.Time {
	return time.Date(y, m, d, hh, mm, 0, 0, Shanghai)
}

func TestInCNSession(t *testing.T) {
	tests := []struct {
		name string
		t    time.Time
		want bool
	}{
		{"morning open", at(2025, 6, 2, 9, 30), true}, // Monday
		{"mid morning", at(2025, 6, 2, 10, 15), true},
		{"morning close boundary", at(2025, 6, 2, 11, 30), true},
		{"lunch break", at(2025, 6, 2, 12, 0), false},
		{"afternoon open", at(2025, 6, 2, 13, 0), true},
		{"afternoon close boundary", at(2025, 6, 2, 15, 0), true},
		{"after close", at(2025, 6, 2, 15, 1), false},
		{"before open", at(2025, 6, 2, 9, 29), false},
		{"saturday", at(2025, 6, 7, 10, 0), false},
		{"sunday", at(2025, 6, 8, 10, 0), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, InCNSession(tt.t))
		})
	}
}

func TestLastCNClose(t *testing.T) {
	// Monday before close -> previous Friday 15:00
	got := LastCNClose(at(2025, 6, 2, 10, 0))
	assert.Equal(t, at(2025, 5, 30, 15, 0), got)

	// Monday after close -> Monday 15:00
	got = LastCNClose(at(2025, 6, 2, 16, 0))
	assert.Equal(t, at(2025, 6, 2, 15, 0), got)

	// Sunday -> previous Friday 15:00
	got = LastCNClose(at(2025, 6, 8, 12, 0))
	assert.Equal(t, at(2025, 6, 6, 15, 0), got)
}

func TestNextCNOpen(t *testing.T) {
	// Weekday before close -> today 09:30
	assert.Equal(t, at(2025, 6, 2, 9, 30), NextCNOpen(at(2025, 6, 2, 8, 0)))
	assert.Equal(t, at(2025, 6, 2, 9, 30), NextCNOpen(at(2025, 6, 2, 14, 0)))

	// Weekday after close -> next weekday 09:30
	assert.Equal(t, at(2025, 6, 3, 9, 30), NextCNOpen(at(2025, 6, 2, 15, 30)))

	// Friday after close -> Monday 09:30
	assert.Equal(t, at(2025, 6, 9, 9, 30), NextCNOpen(at(2025, 6, 6, 16, 0)))

	// Saturday -> Monday 09:30
	assert.Equal(t, at(2025, 6, 9, 9, 30), NextCNOpen(at(2025, 6, 7, 11, 0)))
}

func TestDecide(t *testing.T) {
	price := 10.5
	fresh := at(2025, 6, 2, 15, 30) // Monday after close
	stale := at(2025, 5, 28, 16, 0)

	tests := []struct {
		name         string
		in           Input
		wantFetch    bool
		wantRealtime bool
	}{
		{
			name:         "need calc always fetches",
			in:           Input{Market: domain.MarketCN, TradingDay: false, NeedCalc: true, Now: at(2025, 6, 7, 10, 0)},
			wantFetch:    true,
			wantRealtime: false,
		},
		{
			name:      "non trading day uses cache",
			in:        Input{Market: domain.MarketCN, TradingDay: false, LastPrice: &price, Now: at(2025, 6, 2, 10, 0)},
			wantFetch: false,
		},
		{
			name:         "in session fetches realtime",
			in:           Input{Market: domain.MarketCN, TradingDay: true, LastPrice: &price, Now: at(2025, 6, 2, 10, 0)},
			wantFetch:    true,
			wantRealtime: true,
		},
		{
			name:      "missing price fetches",
			in:        Input{Market: domain.MarketCN, TradingDay: true, Now: at(2025, 6, 2, 16, 0)},
			wantFetch: true,
		},
		{
			name:      "stale update fetches",
			in:        Input{Market: domain.MarketCN, TradingDay: true, LastPrice: &price, UpdatedAt: &stale, Now: at(2025, 6, 2, 16, 0)},
			wantFetch: true,
		},
		{
			name:      "fresh data cached",
			in:        Input{Market: domain.MarketCN, TradingDay: true, LastPrice: &price, UpdatedAt: &fresh, Now: at(2025, 6, 2, 16, 30)},
			wantFetch: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Decide(tt.in)
			assert.Equal(t, tt.wantFetch, got.Fetch)
			assert.Equal(t, tt.wantRealtime, got.Realtime)
			assert.NotEmpty(t, got.Reason)
		})
	}
}
