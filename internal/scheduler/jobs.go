package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/shaoq/stockwatch/internal/calendar"
	"github.com/shaoq/stockwatch/internal/market"
	"github.com/shaoq/stockwatch/internal/snapshots"
)

// SnapshotJob generates the end-of-day snapshots after the A-share close.
// Non-trading days are skipped up front so holidays don't burn provider
// quota.
type SnapshotJob struct {
	snapshots *snapshots.Service
	calendar  *calendar.Service
	timeout   time.Duration
	log       zerolog.Logger
}

// NewSnapshotJob creates the daily snapshot job.
func NewSnapshotJob(snaps *snapshots.Service, cal *calendar.Service, log zerolog.Logger) *SnapshotJob {
	return &SnapshotJob{
		snapshots: snaps,
		calendar:  cal,
		timeout:   10 * time.Minute,
		log:       log.With().Str("job", "daily_snapshot").Logger(),
	}
}

// Name implements Job.
func (j *SnapshotJob) Name() string { return "daily_snapshot" }

// Run implements Job.
func (j *SnapshotJob) Run() error {
	today := time.Now().In(market.Shanghai).Format("2006-01-02")
	trading, reason, err := j.calendar.IsTradingDay(today)
	if err != nil {
		return fmt.Errorf("calendar lookup failed: %w", err)
	}
	if !trading {
		j.log.Info().Str("date", today).Str("reason", reason).Msg("non-trading day, skipping snapshot run")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	res, err := j.snapshots.GenerateDaily(ctx, today, true)
	if err != nil {
		return err
	}
	j.log.Info().Str("date", today).Str("result", res.Message).Msg("snapshot job finished")
	return nil
}

// CalendarRefreshJob hydrates the new year's trading calendar. Scheduled for
// early January; safe to run any time.
type CalendarRefreshJob struct {
	calendar *calendar.Service
	log      zerolog.Logger
}

// NewCalendarRefreshJob creates the yearly calendar refresh job.
func NewCalendarRefreshJob(cal *calendar.Service, log zerolog.Logger) *CalendarRefreshJob {
	return &CalendarRefreshJob{
		calendar: cal,
		log:      log.With().Str("job", "calendar_refresh").Logger(),
	}
}

// Name implements Job.
func (j *CalendarRefreshJob) Name() string { return "calendar_refresh" }

// Run implements Job.
func (j *CalendarRefreshJob) Run() error {
	year := time.Now().In(market.Shanghai).Year()
	count, message, err := j.calendar.Refresh(year)
	if err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("calendar refresh returned no days: %s", message)
	}
	j.log.Info().Int("year", year).Str("result", message).Msg("calendar refreshed")
	return nil
}
