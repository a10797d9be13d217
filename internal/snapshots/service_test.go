package snapshots

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaoq/stockwatch/internal/database"
	"github.com/shaoq/stockwatch/internal/domain"
	"github.com/shaoq/stockwatch/internal/enrich"
	"github.com/shaoq/stockwatch/internal/market"
	"github.com/shaoq/stockwatch/internal/stocks"
)

type fakeEnricher struct {
	batch func(stocks []domain.Stock, force bool) []enrich.EnrichedStock
	hist  func(symbol, date string, maTypes []string) (float64, map[string]domain.MAResult, error)
}

func (f *fakeEnricher) EnrichBatch(_ context.Context, stocks []domain.Stock, force bool) []enrich.EnrichedStock {
	if f.batch == nil {
		return nil
	}
	return f.batch(stocks, force)
}

func (f *fakeEnricher) FetchHistorical(_ context.Context, symbol, date string, maTypes []string) (float64, map[string]domain.MAResult, error) {
	if f.hist == nil {
		return 0, nil, errors.New("no data")
	}
	return f.hist(symbol, date, maTypes)
}

func testService(t *testing.T, fe *fakeEnricher) (*Service, *Repository, *stocks.Repository) {
	t.Helper()
	db, err := database.New(t.TempDir() + "/test.db")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate())

	stockRepo := stocks.NewRepository(db, zerolog.Nop())
	snapRepo := NewRepository(db, zerolog.Nop())
	svc := NewService(snapRepo, stockRepo, fe, zerolog.Nop())
	svc.now = func() time.Time {
		return time.Date(2025, 6, 5, 16, 0, 0, 0, market.Shanghai)
	}
	return svc, snapRepo, stockRepo
}

func ptrf(v float64) *float64 { return &v }

func TestGenerateHistoricalSnapshots(t *testing.T) {
	fe := &fakeEnricher{
		hist: func(symbol, date string, maTypes []string) (float64, map[string]domain.MAResult, error) {
			return 10.5, map[string]domain.MAResult{
				"MA5": {MAPrice: 10.0, Reached: true, Diff: 0.5, DiffPct: 5.0},
			}, nil
		},
	}
	svc, repo, stockRepo := testService(t, fe)
	_, err := stockRepo.Create("600000", "浦发银行", nil, nil)
	require.NoError(t, err)
	_, err = stockRepo.Create("000001", "平安银行", nil, nil)
	require.NoError(t, err)

	res, err := svc.GenerateDaily(context.Background(), "2025-06-01", false)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Created)
	assert.Equal(t, "已生成 2 个新快照", res.Message)

	rows, err := repo.ByDate("2025-06-01")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "kline_close", rows[0].MAResults["MA5"].DataSource)

	// Existing snapshots are skipped without force.
	res, err = svc.GenerateDaily(context.Background(), "2025-06-01", false)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Created)
	assert.Equal(t, 2, res.Skipped)
	assert.Equal(t, "已生成 0 个新快照，跳过 2 个", res.Message)

	// Force rewrites them.
	res, err = svc.GenerateDaily(context.Background(), "2025-06-01", true)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Updated)
	assert.Equal(t, "已生成 0 个新快照，更新 2 个现有快照", res.Message)
}

func TestGenerateTodaySnapshots(t *testing.T) {
	fe := &fakeEnricher{
		batch: func(batch []domain.Stock, force bool) []enrich.EnrichedStock {
			out := make([]enrich.EnrichedStock, 0, len(batch))
			for _, st := range batch {
				out = append(out, enrich.EnrichedStock{
					ID: st.ID, Symbol: st.Symbol, CurrentPrice: ptrf(12.0),
					MAResults: map[string]domain.MAResult{
						"MA5": {MAPrice: 11.0, Reached: true, Diff: 1.0, DiffPct: 9.09},
					},
				})
			}
			return out
		},
	}
	svc, repo, stockRepo := testService(t, fe)
	_, err := stockRepo.Create("600000", "浦发银行", nil, nil)
	require.NoError(t, err)

	res, err := svc.GenerateDaily(context.Background(), "", false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)

	rows, err := repo.ByDate("2025-06-05")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 12.0, rows[0].Price)
	assert.Equal(t, "realtime", rows[0].MAResults["MA5"].DataSource)

	// Without force an existing snapshot stays untouched.
	res, err = svc.GenerateDaily(context.Background(), "", false)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Created)
	assert.Equal(t, 0, res.Updated)
}

func TestGenerateRejectsFutureDate(t *testing.T) {
	svc, _, _ := testService(t, &fakeEnricher{})
	_, err := svc.GenerateDaily(context.Background(), "2025-06-06", false)
	assert.Error(t, err)
}

func TestGenerateWithoutStocks(t *testing.T) {
	svc, _, _ := testService(t, &fakeEnricher{})
	res, err := svc.GenerateDaily(context.Background(), "", false)
	require.NoError(t, err)
	assert.Equal(t, "没有监控的股票", res.Message)
}

func seedReportData(t *testing.T, repo *Repository, stockRepo *stocks.Repository) (s1, s2, s3 int64) {
	t.Helper()
	a, err := stockRepo.Create("600000", "浦发银行", []string{"MA5"}, nil)
	require.NoError(t, err)
	b, err := stockRepo.Create("000001", "平安银行", []string{"MA5", "MA20"}, nil)
	require.NoError(t, err)
	c, err := stockRepo.Create("AAPL", "Apple", []string{"MA5"}, nil)
	require.NoError(t, err)

	require.NoError(t, repo.Upsert(a.ID, "2025-06-04", 10.2, map[string]domain.MAResult{
		"MA5": {MAPrice: 10.0, Reached: true, DiffPct: 2.0},
	}))
	require.NoError(t, repo.Upsert(b.ID, "2025-06-04", 12.0, map[string]domain.MAResult{
		"MA5":  {MAPrice: 12.1, Reached: false, DiffPct: -1.0},
		"MA20": {MAPrice: 11.6, Reached: true, DiffPct: 3.0},
	}))
	require.NoError(t, repo.Upsert(c.ID, "2025-06-04", 190.0, map[string]domain.MAResult{
		"MA5": {MAPrice: 200.0, Reached: false, DiffPct: -5.0},
	}))

	require.NoError(t, repo.Upsert(a.ID, "2025-06-05", 10.6, map[string]domain.MAResult{
		"MA5": {MAPrice: 10.2, Reached: true, DiffPct: 4.0},
	}))
	require.NoError(t, repo.Upsert(b.ID, "2025-06-05", 12.3, map[string]domain.MAResult{
		"MA5":  {MAPrice: 12.2, Reached: true, DiffPct: 1.0},
		"MA20": {MAPrice: 12.5, Reached: false, DiffPct: -2.0},
	}))
	require.NoError(t, repo.Upsert(c.ID, "2025-06-05", 188.0, map[string]domain.MAResult{
		"MA5": {MAPrice: 200.0, Reached: false, DiffPct: -6.0},
	}))
	return a.ID, b.ID, c.ID
}

func TestDailyReport(t *testing.T) {
	svc, repo, stockRepo := testService(t, &fakeEnricher{})
	_, s2, s3 := seedReportData(t, repo, stockRepo)

	report, err := svc.DailyReport("2025-06-05", 1, 10)
	require.NoError(t, err)

	assert.True(t, report.HasToday)
	assert.True(t, report.HasYesterday)

	assert.Equal(t, 3, report.Summary.TotalStocks)
	assert.Equal(t, 2, report.Summary.ReachedCount)
	assert.Equal(t, 1, report.Summary.NewlyReached)
	assert.Equal(t, 1, report.Summary.NewlyBelow)
	assert.Equal(t, 1, report.Summary.ContinuousBelow)
	assert.Equal(t, 66.7, report.Summary.ReachedRate)
	assert.Equal(t, 0.0, report.Summary.ReachedRateChange)

	require.Len(t, report.NewlyReached, 1)
	assert.Equal(t, "000001", report.NewlyReached[0].Symbol)
	assert.Equal(t, "MA5", report.NewlyReached[0].MAType)

	require.Len(t, report.NewlyBelow, 1)
	assert.Equal(t, "MA20", report.NewlyBelow[0].MAType)

	// MA5 rows before MA20, within each the new fall first.
	require.Len(t, report.AllBelowStocks, 2)
	assert.Equal(t, s3, report.AllBelowStocks[0].StockID)
	assert.Equal(t, "continuous_below", report.AllBelowStocks[0].FallType)
	assert.Equal(t, s2, report.AllBelowStocks[1].StockID)
	assert.Equal(t, "new_fall", report.AllBelowStocks[1].FallType)

	// Deepest deviation first.
	require.Len(t, report.ReachedStocks, 2)
	assert.Equal(t, 2, report.TotalReached)
	assert.Equal(t, "600000", report.ReachedStocks[0].Symbol)
	assert.Equal(t, 4.0, report.ReachedStocks[0].MaxDeviationPercent)
	require.Len(t, report.ReachedStocks[0].ReachedIndicators, 1)
	assert.Equal(t, "continuous_reach", report.ReachedStocks[0].ReachedIndicators[0].ReachType)

	assert.Equal(t, "000001", report.ReachedStocks[1].Symbol)
	require.Len(t, report.ReachedStocks[1].ReachedIndicators, 1)
	assert.Equal(t, "new_reach", report.ReachedStocks[1].ReachedIndicators[0].ReachType)
}

func TestDailyReportPagination(t *testing.T) {
	svc, repo, stockRepo := testService(t, &fakeEnricher{})
	seedReportData(t, repo, stockRepo)

	report, err := svc.DailyReport("2025-06-05", 2, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, report.TotalReached)
	require.Len(t, report.ReachedStocks, 1)
	assert.Equal(t, "000001", report.ReachedStocks[0].Symbol)

	// Past the last page the list is empty but totals stay.
	report, err = svc.DailyReport("2025-06-05", 5, 10)
	require.NoError(t, err)
	assert.Empty(t, report.ReachedStocks)
	assert.Equal(t, 2, report.TotalReached)
}

func TestDailyReportEmptyDay(t *testing.T) {
	svc, _, _ := testService(t, &fakeEnricher{})

	report, err := svc.DailyReport("2025-06-05", 1, 10)
	require.NoError(t, err)
	assert.False(t, report.HasToday)
	assert.False(t, report.HasYesterday)
	assert.Equal(t, 0, report.Summary.TotalStocks)
	assert.NotNil(t, report.ReachedStocks)
	assert.NotNil(t, report.AllBelowStocks)
}

func TestTrendData(t *testing.T) {
	svc, repo, stockRepo := testService(t, &fakeEnricher{})
	seedReportData(t, repo, stockRepo)

	points, err := svc.TrendData(7)
	require.NoError(t, err)
	require.Len(t, points, 2)

	assert.Equal(t, "06/04", points[0].Date)
	assert.Equal(t, 2, points[0].ReachedCount)
	assert.Equal(t, 66.7, points[0].ReachedRate)
	assert.Equal(t, "06/05", points[1].Date)
	assert.Equal(t, 2, points[1].ReachedCount)
}

func TestCheckTodayAndDates(t *testing.T) {
	svc, repo, stockRepo := testService(t, &fakeEnricher{})
	seedReportData(t, repo, stockRepo)

	status, err := svc.CheckToday()
	require.NoError(t, err)
	assert.True(t, status.HasSnapshots)
	assert.Equal(t, 3, status.SnapshotCount)
	assert.Equal(t, 3, status.TotalStocks)
	require.NotNil(t, status.SnapshotDate)
	assert.Equal(t, "2025-06-05", *status.SnapshotDate)

	index, err := svc.DateList()
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-06-05", "2025-06-04"}, index.Dates)
	require.NotNil(t, index.PrevDate)
	assert.Equal(t, "2025-06-04", *index.PrevDate)
	assert.Nil(t, index.NextDate)
}
