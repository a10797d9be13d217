package calendar

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaoq/stockwatch/internal/database"
)

func testDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.New(t.TempDir() + "/test.db")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate())
	return db
}

type fakeSource struct {
	dates []string
	err   error
	calls int
}

func (f *fakeSource) TradeDates() ([]string, error) {
	f.calls++
	return f.dates, f.err
}

func TestIsTradingDayFromPersistedCalendar(t *testing.T) {
	db := testDB(t)
	for _, row := range []struct {
		date    string
		trading bool
	}{
		{"2025-06-02", true},  // Monday
		{"2025-06-07", false}, // Saturday
		{"2025-10-01", false}, // National Day, Wednesday
	} {
		_, err := db.Exec(
			"INSERT INTO trading_calendar (trade_date, is_trading_day, year) VALUES (?, ?, ?)",
			row.date, row.trading, 2025)
		require.NoError(t, err)
	}

	s := New(db, nil, zerolog.Nop())

	trading, reason, err := s.IsTradingDay("2025-06-02")
	require.NoError(t, err)
	assert.True(t, trading)
	assert.Equal(t, ReasonTradingDay, reason)

	trading, reason, err = s.IsTradingDay("2025-06-07")
	require.NoError(t, err)
	assert.False(t, trading)
	assert.Equal(t, ReasonWeekend, reason)

	trading, reason, err = s.IsTradingDay("2025-10-01")
	require.NoError(t, err)
	assert.False(t, trading)
	assert.Equal(t, ReasonHoliday, reason)
}

func TestIsTradingDayEmbeddedHolidayFallback(t *testing.T) {
	s := New(testDB(t), nil, zerolog.Nop())

	// No DB rows: 2025 resolves through the embedded table.
	trading, reason, err := s.IsTradingDay("2025-05-01")
	require.NoError(t, err)
	assert.False(t, trading)
	assert.Equal(t, ReasonHoliday, reason)

	trading, reason, err = s.IsTradingDay("2025-05-06")
	require.NoError(t, err)
	assert.True(t, trading)
	assert.Equal(t, ReasonTradingDay, reason)
}

func TestIsTradingDayWeekdayFallbackOutsideTable(t *testing.T) {
	s := New(testDB(t), nil, zerolog.Nop())

	// 2027 has neither DB rows nor an embedded table.
	trading, reason, err := s.IsTradingDay("2027-06-05") // Saturday
	require.NoError(t, err)
	assert.False(t, trading)
	assert.Equal(t, ReasonWeekend, reason)

	trading, reason, err = s.IsTradingDay("2027-06-07") // Monday
	require.NoError(t, err)
	assert.True(t, trading)
	assert.Equal(t, ReasonBasic, reason)
}

func TestIsTradingDayRejectsBadDate(t *testing.T) {
	s := New(testDB(t), nil, zerolog.Nop())
	_, _, err := s.IsTradingDay("06/02/2025")
	assert.Error(t, err)
}

func TestRefreshReplacesYear(t *testing.T) {
	db := testDB(t)
	src := &fakeSource{dates: []string{
		"2024-12-31",
		"2025-01-02", "2025-01-03", "2025-01-06",
		"2026-01-05",
	}}
	s := New(db, src, zerolog.Nop())

	total, msg, err := s.Refresh(2025)
	require.NoError(t, err)
	assert.Equal(t, 365, total)
	assert.Equal(t, "已刷新 2025 年交易日历，共 365 天，其中 3 个交易日", msg)

	trading, reason, err := s.IsTradingDay("2025-01-02")
	require.NoError(t, err)
	assert.True(t, trading)
	assert.Equal(t, ReasonTradingDay, reason)

	// New Year's Day is a persisted non-trading weekday.
	trading, reason, err = s.IsTradingDay("2025-01-01")
	require.NoError(t, err)
	assert.False(t, trading)
	assert.Equal(t, ReasonHoliday, reason)
}

func TestRefreshEmptyYear(t *testing.T) {
	s := New(testDB(t), &fakeSource{dates: []string{"2024-01-02"}}, zerolog.Nop())

	total, msg, err := s.Refresh(2027)
	require.NoError(t, err)
	assert.Equal(t, 0, total)
	assert.Equal(t, "获取 2027 年交易日历失败", msg)
}

func TestLazyHydrationRunsOncePerYear(t *testing.T) {
	db := testDB(t)
	src := &fakeSource{dates: []string{"2025-06-02", "2025-06-03"}}
	s := New(db, src, zerolog.Nop())

	trading, _, err := s.IsTradingDay("2025-06-02")
	require.NoError(t, err)
	assert.True(t, trading)
	assert.Equal(t, 1, src.calls)

	// The year is persisted now; no further upstream calls.
	_, _, err = s.IsTradingDay("2025-06-03")
	require.NoError(t, err)
	assert.Equal(t, 1, src.calls)
}

func TestMonth(t *testing.T) {
	s := New(testDB(t), nil, zerolog.Nop())

	days, err := s.Month(2025, 6)
	require.NoError(t, err)
	require.Len(t, days, 30)
	assert.Equal(t, "2025-06-01", days[0].Date)
	assert.False(t, days[0].IsTradingDay) // Sunday
	assert.True(t, days[1].IsTradingDay)  // Monday
}

func TestTradingDaysInRange(t *testing.T) {
	s := New(testDB(t), nil, zerolog.Nop())

	days, err := s.TradingDaysInRange("2025-05-01", "2025-05-07")
	require.NoError(t, err)
	// May 1-2 and 5 are holidays, 3-4 the weekend.
	assert.Equal(t, []string{"2025-05-06", "2025-05-07"}, days)
}
