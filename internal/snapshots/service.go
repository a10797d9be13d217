package snapshots

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/shaoq/stockwatch/internal/domain"
	"github.com/shaoq/stockwatch/internal/enrich"
	"github.com/shaoq/stockwatch/internal/market"
)

// Enricher is the slice of the enrichment service the snapshot flows need.
type Enricher interface {
	EnrichBatch(ctx context.Context, stocks []domain.Stock, force bool) []enrich.EnrichedStock
	FetchHistorical(ctx context.Context, symbol, targetDate string, maTypes []string) (float64, map[string]domain.MAResult, error)
}

// StockSource lists the monitored stocks.
type StockSource interface {
	List(search string, groupID int64, skip, limit int) ([]domain.Stock, error)
}

// Service generates snapshots and serves the reporting views.
type Service struct {
	repo     *Repository
	stocks   StockSource
	enricher Enricher
	log      zerolog.Logger
	now      func() time.Time
}

// NewService creates the snapshot service.
func NewService(repo *Repository, stocks StockSource, enricher Enricher, log zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		stocks:   stocks,
		enricher: enricher,
		log:      log.With().Str("component", "snapshots").Logger(),
		now:      time.Now,
	}
}

// GenerateResult summarizes one snapshot run.
type GenerateResult struct {
	Created int    `json:"created_count"`
	Updated int    `json:"updated_count"`
	Skipped int    `json:"skipped_count"`
	Message string `json:"message"`
}

func (s *Service) today() string {
	return s.now().In(market.Shanghai).Format("2006-01-02")
}

// GenerateDaily builds snapshots for every monitored stock. Past dates read
// the kline close; today uses a forced realtime batch. Existing snapshots are
// skipped unless force is set.
func (s *Service) GenerateDaily(ctx context.Context, targetDate string, force bool) (*GenerateResult, error) {
	today := s.today()
	if targetDate == "" {
		targetDate = today
	}
	if targetDate > today {
		return nil, fmt.Errorf("cannot snapshot a future date: %s", targetDate)
	}

	allStocks, err := s.stocks.List("", 0, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list stocks: %w", err)
	}
	if len(allStocks) == 0 {
		return &GenerateResult{Message: "没有监控的股票"}, nil
	}

	var created, updated, skipped int

	if targetDate < today {
		s.log.Info().Str("date", targetDate).Int("stocks", len(allStocks)).Msg("generating historical snapshots")

		for _, stock := range allStocks {
			exists, err := s.repo.Exists(stock.ID, targetDate)
			if err != nil {
				return nil, err
			}
			if exists && !force {
				skipped++
				continue
			}

			price, maResults, err := s.enricher.FetchHistorical(ctx, stock.Symbol, targetDate, stock.MATypes)
			if err != nil || price <= 0 {
				s.log.Warn().Err(err).Str("symbol", stock.Symbol).Str("date", targetDate).Msg("skipping stock, no historical data")
				skipped++
				continue
			}
			for maType, res := range maResults {
				res.DataSource = "kline_close"
				maResults[maType] = res
			}
			if err := s.repo.Upsert(stock.ID, targetDate, price, maResults); err != nil {
				return nil, err
			}
			if exists {
				updated++
			} else {
				created++
			}
		}
	} else {
		s.log.Info().Str("date", targetDate).Int("stocks", len(allStocks)).Msg("generating today's snapshots")

		for _, es := range s.enricher.EnrichBatch(ctx, allStocks, true) {
			maResults := make(map[string]domain.MAResult, len(es.MAResults))
			for maType, res := range es.MAResults {
				res.DataSource = "realtime"
				maResults[maType] = res
			}
			price := 0.0
			if es.CurrentPrice != nil {
				price = *es.CurrentPrice
			}

			exists, err := s.repo.Exists(es.ID, targetDate)
			if err != nil {
				return nil, err
			}
			switch {
			case exists && force:
				if err := s.repo.Upsert(es.ID, targetDate, price, maResults); err != nil {
					return nil, err
				}
				updated++
			case !exists:
				if err := s.repo.Upsert(es.ID, targetDate, price, maResults); err != nil {
					return nil, err
				}
				created++
			}
		}
	}

	message := fmt.Sprintf("已生成 %d 个新快照", created)
	if updated > 0 {
		message += fmt.Sprintf("，更新 %d 个现有快照", updated)
	}
	if skipped > 0 {
		message += fmt.Sprintf("，跳过 %d 个", skipped)
	}
	s.log.Info().Str("date", targetDate).Str("result", message).Msg("snapshot run finished")

	return &GenerateResult{Created: created, Updated: updated, Skipped: skipped, Message: message}, nil
}

// ReportSummary is the aggregate block of the daily report.
type ReportSummary struct {
	TotalStocks       int     `json:"total_stocks"`
	ReachedCount      int     `json:"reached_count"`
	NewlyReached      int     `json:"newly_reached"`
	NewlyBelow        int     `json:"newly_below"`
	ContinuousBelow   int     `json:"continuous_below"`
	ReachedRate       float64 `json:"reached_rate"`
	ReachedRateChange float64 `json:"reached_rate_change"`
}

// ReachedIndicator is one qualifying average on a reached stock.
type ReachedIndicator struct {
	MAType                 string  `json:"ma_type"`
	MAPrice                float64 `json:"ma_price"`
	PriceDifferencePercent float64 `json:"price_difference_percent"`
	ReachType              string  `json:"reach_type"` // new_reach | continuous_reach
}

// ReachedStock is one stock above at least one of its averages.
type ReachedStock struct {
	StockID             int64              `json:"stock_id"`
	Symbol              string             `json:"symbol"`
	Name                string             `json:"name"`
	CurrentPrice        float64            `json:"current_price"`
	MaxDeviationPercent float64            `json:"max_deviation_percent"`
	ReachedIndicators   []ReachedIndicator `json:"reached_indicators"`
}

// BelowStock is one stock/average pair under the line.
type BelowStock struct {
	StockID                int64   `json:"stock_id"`
	Symbol                 string  `json:"symbol"`
	Name                   string  `json:"name"`
	CurrentPrice           float64 `json:"current_price"`
	MAType                 string  `json:"ma_type"`
	MAPrice                float64 `json:"ma_price"`
	PriceDifferencePercent float64 `json:"price_difference_percent"`
	FallType               string  `json:"fall_type"` // new_fall | continuous_below
}

// ChangeItem is one day-over-day status flip.
type ChangeItem struct {
	StockID                int64   `json:"stock_id"`
	Symbol                 string  `json:"symbol"`
	Name                   string  `json:"name"`
	MAType                 string  `json:"ma_type"`
	CurrentPrice           float64 `json:"current_price"`
	MAPrice                float64 `json:"ma_price"`
	PriceDifferencePercent float64 `json:"price_difference_percent"`
}

// DailyReport is the full reporting payload for one date.
type DailyReport struct {
	Date           string         `json:"date"`
	HasToday       bool           `json:"has_today"`
	HasYesterday   bool           `json:"has_yesterday"`
	Summary        ReportSummary  `json:"summary"`
	NewlyReached   []ChangeItem   `json:"newly_reached"`
	NewlyBelow     []ChangeItem   `json:"newly_below"`
	AllBelowStocks []BelowStock   `json:"all_below_stocks"`
	ReachedStocks  []ReachedStock `json:"reached_stocks"`
	TotalReached   int            `json:"total_reached"`
}

var maDigits = regexp.MustCompile(`\d+`)

func maNumber(maType string) int {
	if m := maDigits.FindString(maType); m != "" {
		n, _ := strconv.Atoi(m)
		return n
	}
	return 0
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }

// DailyReport compares the target date's snapshots with the previous
// trading day's and aggregates the reached/below views. Reached stocks are
// paginated, worst deviation first.
func (s *Service) DailyReport(targetDate string, page, pageSize int) (*DailyReport, error) {
	if targetDate == "" {
		targetDate = s.today()
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > 50 {
		pageSize = 50
	}

	report := &DailyReport{
		Date:           targetDate,
		NewlyReached:   []ChangeItem{},
		NewlyBelow:     []ChangeItem{},
		AllBelowStocks: []BelowStock{},
		ReachedStocks:  []ReachedStock{},
	}

	targetSnaps, err := s.repo.ByDate(targetDate)
	if err != nil {
		return nil, err
	}
	if len(targetSnaps) == 0 {
		return report, nil
	}
	report.HasToday = true

	yesterday, err := s.repo.LatestBefore(targetDate)
	if err != nil {
		return nil, err
	}
	report.HasYesterday = len(yesterday) > 0

	allStocks, err := s.stocks.List("", 0, 0, 0)
	if err != nil {
		return nil, err
	}
	stockByID := make(map[int64]domain.Stock, len(allStocks))
	for _, st := range allStocks {
		stockByID[st.ID] = st
	}

	var (
		reachedCount int
		allReached   []ReachedStock
	)

	for _, snap := range targetSnaps {
		isReached := false
		for _, res := range snap.MAResults {
			if res.Reached {
				isReached = true
				break
			}
		}
		if isReached {
			reachedCount++
		}

		stock, known := stockByID[snap.StockID]
		if !known {
			continue
		}

		prev, hasPrev := yesterday[snap.StockID]

		// MA keys iterate in the stock's configured order so tie-breaks and
		// indicator lists stay stable.
		maOrder := stock.MATypes
		if len(maOrder) == 0 {
			for maType := range snap.MAResults {
				maOrder = append(maOrder, maType)
			}
			sort.Strings(maOrder)
		}

		if isReached {
			var indicators []ReachedIndicator
			for _, maType := range maOrder {
				res, ok := snap.MAResults[maType]
				if !ok || !res.Reached {
					continue
				}
				reachType := "new_reach"
				if hasPrev && prev.MAResults[maType].Reached {
					reachType = "continuous_reach"
				}
				indicators = append(indicators, ReachedIndicator{
					MAType:                 maType,
					MAPrice:                res.MAPrice,
					PriceDifferencePercent: res.DiffPct,
					ReachType:              reachType,
				})
			}

			maxDeviation := 0.0
			for _, ind := range indicators {
				if math.Abs(ind.PriceDifferencePercent) > math.Abs(maxDeviation) {
					maxDeviation = ind.PriceDifferencePercent
				}
			}
			allReached = append(allReached, ReachedStock{
				StockID:             snap.StockID,
				Symbol:              stock.Symbol,
				Name:                stock.Name,
				CurrentPrice:        snap.Price,
				MaxDeviationPercent: maxDeviation,
				ReachedIndicators:   indicators,
			})
		}

		for _, maType := range maOrder {
			res, ok := snap.MAResults[maType]
			if !ok {
				continue
			}
			prevReached := hasPrev && prev.MAResults[maType].Reached

			if !res.Reached {
				fallType := "continuous_below"
				if prevReached {
					fallType = "new_fall"
				}
				report.AllBelowStocks = append(report.AllBelowStocks, BelowStock{
					StockID:                snap.StockID,
					Symbol:                 stock.Symbol,
					Name:                   stock.Name,
					CurrentPrice:           snap.Price,
					MAType:                 maType,
					MAPrice:                res.MAPrice,
					PriceDifferencePercent: res.DiffPct,
					FallType:               fallType,
				})
			}

			if !hasPrev {
				continue
			}
			item := ChangeItem{
				StockID:                snap.StockID,
				Symbol:                 stock.Symbol,
				Name:                   stock.Name,
				MAType:                 maType,
				CurrentPrice:           snap.Price,
				MAPrice:                res.MAPrice,
				PriceDifferencePercent: res.DiffPct,
			}
			switch {
			case res.Reached && !prevReached:
				report.NewlyReached = append(report.NewlyReached, item)
			case !res.Reached && prevReached:
				report.NewlyBelow = append(report.NewlyBelow, item)
			}
		}
	}

	// Previous-day rate, over whatever stocks had a snapshot then.
	var prevReachedCount int
	for _, prev := range yesterday {
		for _, res := range prev.MAResults {
			if res.Reached {
				prevReachedCount++
				break
			}
		}
	}

	todayRate := 0.0
	if len(targetSnaps) > 0 {
		todayRate = float64(reachedCount) / float64(len(targetSnaps)) * 100
	}
	rateChange := 0.0
	if report.HasYesterday {
		prevRate := float64(prevReachedCount) / float64(len(yesterday)) * 100
		rateChange = todayRate - prevRate
	}

	sort.SliceStable(allReached, func(i, j int) bool {
		return math.Abs(allReached[i].MaxDeviationPercent) > math.Abs(allReached[j].MaxDeviationPercent)
	})
	report.TotalReached = len(allReached)
	start := (page - 1) * pageSize
	if start < len(allReached) {
		end := start + pageSize
		if end > len(allReached) {
			end = len(allReached)
		}
		report.ReachedStocks = allReached[start:end]
	}

	// Below list: shortest average first, fresh falls before continuous ones,
	// deepest deviation first within each bucket.
	sort.SliceStable(report.AllBelowStocks, func(i, j int) bool {
		a, b := report.AllBelowStocks[i], report.AllBelowStocks[j]
		if na, nb := maNumber(a.MAType), maNumber(b.MAType); na != nb {
			return na < nb
		}
		fa, fb := 0, 0
		if a.FallType != "new_fall" {
			fa = 1
		}
		if b.FallType != "new_fall" {
			fb = 1
		}
		if fa != fb {
			return fa < fb
		}
		return a.PriceDifferencePercent < b.PriceDifferencePercent
	})

	continuousBelow := 0
	for _, item := range report.AllBelowStocks {
		if item.FallType == "continuous_below" {
			continuousBelow++
		}
	}

	report.Summary = ReportSummary{
		TotalStocks:       len(targetSnaps),
		ReachedCount:      reachedCount,
		NewlyReached:      len(report.NewlyReached),
		NewlyBelow:        len(report.NewlyBelow),
		ContinuousBelow:   continuousBelow,
		ReachedRate:       round1(todayRate),
		ReachedRateChange: round1(rateChange),
	}
	return report, nil
}

// TrendPoint is one day on the reached-rate trend.
type TrendPoint struct {
	Date         string  `json:"date"` // MM/DD
	ReachedCount int     `json:"reached_count"`
	ReachedRate  float64 `json:"reached_rate"`
}

// TrendData returns the reached counts and rates over the last N snapshot
// dates, oldest first.
func (s *Service) TrendData(days int) ([]TrendPoint, error) {
	if days <= 0 {
		days = 7
	}
	dates, err := s.repo.Dates()
	if err != nil {
		return nil, err
	}
	if len(dates) > days {
		dates = dates[:days]
	}
	// Dates() is newest-first; the chart wants oldest-first.
	for i, j := 0, len(dates)-1; i < j; i, j = i+1, j-1 {
		dates[i], dates[j] = dates[j], dates[i]
	}

	points := make([]TrendPoint, 0, len(dates))
	for _, d := range dates {
		snaps, err := s.repo.ByDate(d)
		if err != nil {
			return nil, err
		}
		reached := 0
		for _, snap := range snaps {
			for _, res := range snap.MAResults {
				if res.Reached {
					reached++
					break
				}
			}
		}
		rate := 0.0
		if len(snaps) > 0 {
			rate = round1(float64(reached) / float64(len(snaps)) * 100)
		}
		t, err := time.Parse("2006-01-02", d)
		if err != nil {
			return nil, fmt.Errorf("bad snapshot date %q: %w", d, err)
		}
		points = append(points, TrendPoint{
			Date:         t.Format("01/02"),
			ReachedCount: reached,
			ReachedRate:  rate,
		})
	}
	return points, nil
}

// TodayStatus reports whether today's snapshots exist yet.
type TodayStatus struct {
	HasSnapshots  bool    `json:"has_snapshots"`
	SnapshotCount int     `json:"snapshot_count"`
	TotalStocks   int     `json:"total_stocks"`
	SnapshotDate  *string `json:"snapshot_date"`
}

// CheckToday counts today's snapshots against the monitored universe.
func (s *Service) CheckToday() (*TodayStatus, error) {
	today := s.today()
	count, err := s.repo.CountForDate(today)
	if err != nil {
		return nil, err
	}
	allStocks, err := s.stocks.List("", 0, 0, 0)
	if err != nil {
		return nil, err
	}
	status := &TodayStatus{
		HasSnapshots:  count > 0,
		SnapshotCount: count,
		TotalStocks:   len(allStocks),
	}
	if count > 0 {
		status.SnapshotDate = &today
	}
	return status, nil
}

// DateIndex is the snapshot-date navigation payload.
type DateIndex struct {
	Dates    []string `json:"dates"`
	PrevDate *string  `json:"prev_date"`
	NextDate *string  `json:"next_date"`
}

// DateList returns every snapshot date plus the neighbors of today.
func (s *Service) DateList() (*DateIndex, error) {
	dates, err := s.repo.Dates()
	if err != nil {
		return nil, err
	}
	prev, next, err := s.repo.Adjacent(s.today())
	if err != nil {
		return nil, err
	}
	if dates == nil {
		dates = []string{}
	}
	return &DateIndex{Dates: dates, PrevDate: prev, NextDate: next}, nil
}
