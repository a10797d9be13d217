// Package calendar answers the trading-day question for the A-share market
// with three layers: the persisted exchange calendar, an embedded holiday
// table, and a plain weekend check.
package calendar

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/shaoq/stockwatch/internal/database"
	"github.com/shaoq/stockwatch/internal/market"
)

const dateLayout = "2006-01-02"

// Answer reasons, surfaced to clients as-is.
const (
	ReasonTradingDay = "交易日"
	ReasonHoliday    = "节假日"
	ReasonWeekend    = "周末"
	ReasonBasic      = "工作日（基础判断）"
)

// TradeDateSource supplies the full exchange calendar as YYYY-MM-DD strings.
type TradeDateSource interface {
	TradeDates() ([]string, error)
}

// Service resolves trading days and maintains the persisted calendar.
type Service struct {
	db     *database.DB
	source TradeDateSource // nil when no upstream is configured
	log    zerolog.Logger

	sf  singleflight.Group // collapses concurrent per-year hydrations
	now func() time.Time
}

// New creates the calendar service. source may be nil; resolution then relies
// on the persisted calendar and the built-in fallbacks.
func New(db *database.DB, source TradeDateSource, log zerolog.Logger) *Service {
	return &Service{
		db:     db,
		source: source,
		log:    log.With().Str("component", "calendar").Logger(),
		now:    time.Now,
	}
}

// DayAnswer is one resolved date.
type DayAnswer struct {
	Date         string `json:"date"`
	IsTradingDay bool   `json:"is_trading_day"`
	Reason       string `json:"reason"`
}

// IsTradingDay resolves one YYYY-MM-DD date through the three layers.
func (s *Service) IsTradingDay(date string) (bool, string, error) {
	day, err := time.ParseInLocation(dateLayout, date, market.Shanghai)
	if err != nil {
		return false, "", fmt.Errorf("invalid date %q: %w", date, err)
	}

	var trading bool
	err = s.db.QueryRow(
		"SELECT is_trading_day FROM trading_calendar WHERE trade_date = ?", date,
	).Scan(&trading)
	switch {
	case err == nil:
		if trading {
			return true, ReasonTradingDay, nil
		}
		if isWeekend(day) {
			return false, ReasonWeekend, nil
		}
		return false, ReasonHoliday, nil
	case errors.Is(err, sql.ErrNoRows):
		// fall through to the built-in layers
	default:
		return false, "", fmt.Errorf("failed to query calendar: %w", err)
	}

	// The year may simply not be loaded yet; hydrate once and re-check.
	if s.source != nil && s.hydrateYear(day.Year()) {
		return s.IsTradingDay(date)
	}

	if holidays, ok := cnHolidays[day.Year()]; ok {
		if isWeekend(day) {
			return false, ReasonWeekend, nil
		}
		if _, holiday := holidays[date]; holiday {
			return false, ReasonHoliday, nil
		}
		return true, ReasonTradingDay, nil
	}

	if isWeekend(day) {
		return false, ReasonWeekend, nil
	}
	return true, ReasonBasic, nil
}

// hydrateYear loads one year from the upstream source if the table has no
// rows for it yet. Returns true when rows were inserted.
func (s *Service) hydrateYear(year int) bool {
	v, _, _ := s.sf.Do(strconv.Itoa(year), func() (any, error) {
		var count int
		if err := s.db.QueryRow(
			"SELECT COUNT(*) FROM trading_calendar WHERE year = ?", year,
		).Scan(&count); err != nil || count > 0 {
			return false, nil
		}

		inserted, _, err := s.Refresh(year)
		if err != nil {
			s.log.Warn().Err(err).Int("year", year).Msg("lazy calendar hydration failed")
			return false, nil
		}
		return inserted > 0, nil
	})
	loaded, _ := v.(bool)
	return loaded
}

// Refresh replaces one year of the persisted calendar from the upstream
// source. Every calendar day of the year gets a row; trade dates are flagged.
func (s *Service) Refresh(year int) (int, string, error) {
	if s.source == nil {
		return 0, "", errors.New("no calendar source configured")
	}

	dates, err := s.source.TradeDates()
	if err != nil {
		return 0, fmt.Sprintf("获取 %d 年交易日历失败", year), err
	}

	prefix := fmt.Sprintf("%d-", year)
	trading := make(map[string]struct{})
	for _, d := range dates {
		if strings.HasPrefix(d, prefix) {
			trading[d] = struct{}{}
		}
	}
	if len(trading) == 0 {
		return 0, fmt.Sprintf("获取 %d 年交易日历失败", year), nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM trading_calendar WHERE year = ?", year); err != nil {
		return 0, "", fmt.Errorf("failed to clear year %d: %w", year, err)
	}

	stmt, err := tx.Prepare(
		"INSERT INTO trading_calendar (trade_date, is_trading_day, year) VALUES (?, ?, ?)")
	if err != nil {
		return 0, "", fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	total := 0
	start := time.Date(year, 1, 1, 0, 0, 0, 0, market.Shanghai)
	for d := start; d.Year() == year; d = d.AddDate(0, 0, 1) {
		date := d.Format(dateLayout)
		_, isTrading := trading[date]
		if _, err := stmt.Exec(date, isTrading, year); err != nil {
			return 0, "", fmt.Errorf("failed to insert %s: %w", date, err)
		}
		total++
	}

	if err := tx.Commit(); err != nil {
		return 0, "", fmt.Errorf("failed to commit calendar: %w", err)
	}

	msg := fmt.Sprintf("已刷新 %d 年交易日历，共 %d 天，其中 %d 个交易日", year, total, len(trading))
	s.log.Info().Int("year", year).Int("days", total).Int("trading_days", len(trading)).Msg("calendar refreshed")
	return total, msg, nil
}

// Month resolves every day of one month, for the calendar view.
func (s *Service) Month(year int, month time.Month) ([]DayAnswer, error) {
	start := time.Date(year, month, 1, 0, 0, 0, 0, market.Shanghai)
	var days []DayAnswer
	for d := start; d.Month() == month; d = d.AddDate(0, 0, 1) {
		date := d.Format(dateLayout)
		trading, reason, err := s.IsTradingDay(date)
		if err != nil {
			return nil, err
		}
		days = append(days, DayAnswer{Date: date, IsTradingDay: trading, Reason: reason})
	}
	return days, nil
}

// TradingDaysInRange lists the trading days in [start, end], inclusive.
func (s *Service) TradingDaysInRange(start, end string) ([]string, error) {
	from, err := time.ParseInLocation(dateLayout, start, market.Shanghai)
	if err != nil {
		return nil, fmt.Errorf("invalid start date %q: %w", start, err)
	}
	to, err := time.ParseInLocation(dateLayout, end, market.Shanghai)
	if err != nil {
		return nil, fmt.Errorf("invalid end date %q: %w", end, err)
	}

	var days []string
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		date := d.Format(dateLayout)
		trading, _, err := s.IsTradingDay(date)
		if err != nil {
			return nil, err
		}
		if trading {
			days = append(days, date)
		}
	}
	return days, nil
}

func isWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}
