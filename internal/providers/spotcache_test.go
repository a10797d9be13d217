package providers

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaoq/stockwatch/internal/market"
)

func shTime(y int, m time.Month, d, hh, mm int) time.Time {
	return time.Date(y, m, d, hh, mm, 0, 0, market.Shanghai)
}

func TestSpotValid(t *testing.T) {
	tests := []struct {
		name      string
		fetchedAt time.Time
		now       time.Time
		want      bool
	}{
		{
			name:      "in session within ttl",
			fetchedAt: shTime(2025, 6, 2, 10, 0),
			now:       shTime(2025, 6, 2, 10, 4),
			want:      true,
		},
		{
			name:      "in session past ttl",
			fetchedAt: shTime(2025, 6, 2, 10, 0),
			now:       shTime(2025, 6, 2, 10, 6),
			want:      false,
		},
		{
			name:      "after close valid until next open",
			fetchedAt: shTime(2025, 6, 2, 15, 10),
			now:       shTime(2025, 6, 2, 22, 0),
			want:      true,
		},
		{
			name:      "friday close snapshot still valid sunday",
			fetchedAt: shTime(2025, 6, 6, 15, 30),
			now:       shTime(2025, 6, 8, 12, 0),
			want:      true,
		},
		{
			name:      "stale snapshot dead once the next session runs",
			fetchedAt: shTime(2025, 6, 2, 15, 10),
			now:       shTime(2025, 6, 3, 10, 0),
			want:      false,
		},
		{
			name:      "zero fetch time invalid",
			fetchedAt: time.Time{},
			now:       shTime(2025, 6, 2, 10, 0),
			want:      false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, spotValid(tt.fetchedAt, tt.now))
		})
	}
}

func TestSpotCacheFetchOnceWhileValid(t *testing.T) {
	c := NewSpotCache("", zerolog.Nop())
	now := shTime(2025, 6, 2, 10, 0)
	c.now = func() time.Time { return now }

	calls := 0
	fetch := func() (map[string]SpotRow, error) {
		calls++
		return map[string]SpotRow{
			"600000": {Code: "600000", Name: "浦发银行", Price: 10.5},
		}, nil
	}

	row, ok, err := c.Lookup("600000", fetch, "eastmoney")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 10.5, row.Price)
	assert.Equal(t, 1, calls)

	// Second lookup inside the TTL hits the cache.
	now = now.Add(time.Minute)
	_, ok, err = c.Lookup("600000", fetch, "eastmoney")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, calls)

	// Past the in-session TTL the table is refetched.
	now = now.Add(10 * time.Minute)
	_, _, err = c.Lookup("600000", fetch, "eastmoney")
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestSpotCacheClearAndStatus(t *testing.T) {
	c := NewSpotCache("", zerolog.Nop())
	now := shTime(2025, 6, 2, 10, 0)
	c.now = func() time.Time { return now }

	_, err := c.Data(func() (map[string]SpotRow, error) {
		return map[string]SpotRow{"600000": {Code: "600000", Price: 1}}, nil
	}, "eastmoney")
	require.NoError(t, err)

	status := c.Status()
	assert.Equal(t, true, status["has_cache"])
	assert.Equal(t, "eastmoney", status["source"])
	assert.Equal(t, 1, status["rows"])

	c.Clear()
	status = c.Status()
	assert.Equal(t, false, status["has_cache"])
}

func TestSpotCachePersistRoundTrip(t *testing.T) {
	path := t.TempDir() + "/spot.bin"
	now := shTime(2025, 6, 2, 10, 0)

	c := NewSpotCache(path, zerolog.Nop())
	c.now = func() time.Time { return now }

	_, err := c.Data(func() (map[string]SpotRow, error) {
		return map[string]SpotRow{"600000": {Code: "600000", Name: "浦发银行", Price: 10.5}}, nil
	}, "eastmoney")
	require.NoError(t, err)

	// A new cache instance restores the still-valid snapshot without fetching.
	c2 := &SpotCache{path: path, log: zerolog.Nop(), now: func() time.Time { return now.Add(time.Minute) }}
	c2.load()

	row, ok, err := c2.Lookup("600000", func() (map[string]SpotRow, error) {
		t.Fatal("fetch should not run for a valid restored snapshot")
		return nil, nil
	}, "eastmoney")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "浦发银行", row.Name)
}
