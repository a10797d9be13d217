// Package market holds the session-window clock math and the fetch-vs-cache
// freshness policy.
package market

import (
	"time"

	"github.com/shaoq/stockwatch/internal/domain"
)

var (
	// Shanghai is the reference zone for all A-share clock decisions.
	Shanghai = mustLoadLocation("Asia/Shanghai")
	// NewYork is the reference zone for US session checks.
	NewYork = mustLoadLocation("America/New_York")
)

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

// InCNSession reports whether t falls inside the A-share quote windows,
// [09:30, 11:30] or [13:00, 15:00] on Mon-Fri, Asia/Shanghai.
func InCNSession(t time.Time) bool {
	t = t.In(Shanghai)
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	minutes := t.Hour()*60 + t.Minute()
	morning := minutes >= 9*60+30 && minutes <= 11*60+30
	afternoon := minutes >= 13*60 && minutes <= 15*60
	return morning || afternoon
}

// InUSSession reports whether t falls inside the US regular session,
// [09:30, 16:00] on Mon-Fri, America/New_York.
func InUSSession(t time.Time) bool {
	t = t.In(NewYork)
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	minutes := t.Hour()*60 + t.Minute()
	return minutes >= 9*60+30 && minutes <= 16*60
}

// InSession dispatches the session check by market.
func InSession(market domain.Market, t time.Time) bool {
	if market == domain.MarketCN {
		return InCNSession(t)
	}
	return InUSSession(t)
}

// LastCNClose returns the most recent A-share close boundary before now:
// the latest weekday at 15:00 Asia/Shanghai, skipping weekends. Before 15:00
// on a weekday the boundary is the previous weekday's close.
func LastCNClose(now time.Time) time.Time {
	t := now.In(Shanghai)
	day := time.Date(t.Year(), t.Month(), t.Day(), 15, 0, 0, 0, Shanghai)

	if t.Before(day) {
		day = day.AddDate(0, 0, -1)
	}
	for day.Weekday() == time.Saturday || day.Weekday() == time.Sunday {
		day = day.AddDate(0, 0, -1)
	}
	return day
}

// NextCNOpen returns the next session open at or after now: today 09:30 if we
// are on a weekday before 15:00, otherwise the next weekday's 09:30.
func NextCNOpen(now time.Time) time.Time {
	t := now.In(Shanghai)
	open := time.Date(t.Year(), t.Month(), t.Day(), 9, 30, 0, 0, Shanghai)

	weekday := t.Weekday() != time.Saturday && t.Weekday() != time.Sunday
	if weekday && t.Hour() < 15 {
		return open
	}

	open = open.AddDate(0, 0, 1)
	for open.Weekday() == time.Saturday || open.Weekday() == time.Sunday {
		open = open.AddDate(0, 0, 1)
	}
	return open
}
