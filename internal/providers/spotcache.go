package providers

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/sync/singleflight"

	"github.com/shaoq/stockwatch/internal/market"
)

// spotTTLTrading bounds the in-session lifetime of the full-market table.
const spotTTLTrading = 300 * time.Second

// SpotRow is one instrument in the full-market A-share table, keyed by its
// bare six-digit code.
type SpotRow struct {
	Code      string  `json:"code" msgpack:"code"`
	Name      string  `json:"name" msgpack:"name"`
	Price     float64 `json:"price" msgpack:"price"`
	Open      float64 `json:"open" msgpack:"open"`
	PrevClose float64 `json:"prev_close" msgpack:"prev_close"`
	High      float64 `json:"high" msgpack:"high"`
	Low       float64 `json:"low" msgpack:"low"`
	Volume    float64 `json:"volume" msgpack:"volume"`
	Turnover  float64 `json:"turnover" msgpack:"turnover"`

	PERatio        *float64 `json:"pe_ratio,omitempty" msgpack:"pe_ratio,omitempty"`
	PBRatio        *float64 `json:"pb_ratio,omitempty" msgpack:"pb_ratio,omitempty"`
	TotalMarketCap *float64 `json:"total_market_cap,omitempty" msgpack:"total_market_cap,omitempty"`
	CircMarketCap  *float64 `json:"circulating_market_cap,omitempty" msgpack:"circulating_market_cap,omitempty"`
}

// SpotFetcher loads the full-market table from a provider.
type SpotFetcher func() (map[string]SpotRow, error)

// SpotCache is the process-wide single-entry cache of the last full-market
// snapshot. Validity: 5 minutes while a session is open, otherwise until the
// next session open.
type SpotCache struct {
	mu        sync.Mutex
	data      map[string]SpotRow
	fetchedAt time.Time
	source    string

	sf   singleflight.Group
	path string // optional msgpack persistence for warm restarts
	log  zerolog.Logger
	now  func() time.Time
}

// NewSpotCache creates an empty cache. path may be empty to skip persistence.
func NewSpotCache(path string, log zerolog.Logger) *SpotCache {
	c := &SpotCache{
		path: path,
		log:  log.With().Str("component", "spot_cache").Logger(),
		now:  time.Now,
	}
	if path != "" {
		c.load()
	}
	return c
}

// spotValid mirrors the session-aware validity rule.
func spotValid(fetchedAt, now time.Time) bool {
	if fetchedAt.IsZero() {
		return false
	}
	if market.InCNSession(now) {
		return now.Sub(fetchedAt) < spotTTLTrading
	}
	nextOpen := market.NextCNOpen(now)
	if fetchedAt.Before(nextOpen) {
		return now.Before(nextOpen)
	}
	return false
}

// Data returns the cached table, refreshing through fetchFn when the cache is
// stale. Concurrent refreshes collapse into a single outbound call.
func (c *SpotCache) Data(fetchFn SpotFetcher, source string) (map[string]SpotRow, error) {
	c.mu.Lock()
	if c.data != nil && spotValid(c.fetchedAt, c.now()) {
		data := c.data
		c.mu.Unlock()
		return data, nil
	}
	c.mu.Unlock()

	v, err, _ := c.sf.Do("spot", func() (any, error) {
		// Another waiter may have refreshed while we queued.
		c.mu.Lock()
		if c.data != nil && spotValid(c.fetchedAt, c.now()) {
			data := c.data
			c.mu.Unlock()
			return data, nil
		}
		c.mu.Unlock()

		c.log.Info().Str("source", source).Msg("refreshing full-market snapshot")
		data, err := fetchFn()
		if err != nil {
			return nil, err
		}
		if len(data) == 0 {
			return nil, ErrInvalidData
		}

		c.mu.Lock()
		c.data = data
		c.fetchedAt = c.now()
		c.source = source
		c.mu.Unlock()

		c.persist()
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]SpotRow), nil
}

// Lookup fetches one row by bare six-digit code, refreshing as needed.
func (c *SpotCache) Lookup(code string, fetchFn SpotFetcher, source string) (SpotRow, bool, error) {
	data, err := c.Data(fetchFn, source)
	if err != nil {
		return SpotRow{}, false, err
	}
	row, ok := data[code]
	return row, ok, nil
}

// Clear drops the cached table.
func (c *SpotCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = nil
	c.fetchedAt = time.Time{}
	c.source = ""
	c.log.Info().Msg("spot cache cleared")
}

// Status reports the cache state for the operator surface.
func (c *SpotCache) Status() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := map[string]any{
		"has_cache": c.data != nil,
		"source":    c.source,
		"is_valid":  c.data != nil && spotValid(c.fetchedAt, c.now()),
		"rows":      len(c.data),
	}
	if !c.fetchedAt.IsZero() {
		status["fetched_at"] = c.fetchedAt.Format(time.RFC3339)
	}
	return status
}

type spotSnapshotFile struct {
	Data      map[string]SpotRow `msgpack:"data"`
	FetchedAt time.Time          `msgpack:"fetched_at"`
	Source    string             `msgpack:"source"`
}

// persist writes the table to disk so a restart inside the validity window
// does not refetch the whole market.
func (c *SpotCache) persist() {
	if c.path == "" {
		return
	}
	c.mu.Lock()
	snap := spotSnapshotFile{Data: c.data, FetchedAt: c.fetchedAt, Source: c.source}
	c.mu.Unlock()

	if err := writeSpotSnapshot(c.path, snap); err != nil {
		c.log.Warn().Err(err).Str("path", c.path).Msg("failed to persist spot snapshot")
	}
}

func writeSpotSnapshot(path string, snap spotSnapshotFile) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	blob, err := msgpack.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, blob, 0644); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return os.Rename(tmp, path)
}

func (c *SpotCache) load() {
	blob, err := os.ReadFile(c.path)
	if err != nil {
		return
	}
	var snap spotSnapshotFile
	if err := msgpack.Unmarshal(blob, &snap); err != nil {
		c.log.Warn().Err(err).Str("path", c.path).Msg("discarding unreadable spot snapshot")
		return
	}
	if !spotValid(snap.FetchedAt, c.now()) {
		return
	}
	c.mu.Lock()
	c.data = snap.Data
	c.fetchedAt = snap.FetchedAt
	c.source = snap.Source
	c.mu.Unlock()
	c.log.Info().Int("rows", len(snap.Data)).Time("fetched_at", snap.FetchedAt).Msg("restored spot snapshot from disk")
}
