// Package enrich combines realtime quotes, kline history and the freshness
// policy into the per-stock status the API serves.
package enrich

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/shaoq/stockwatch/internal/cache"
	"github.com/shaoq/stockwatch/internal/domain"
	"github.com/shaoq/stockwatch/internal/market"
	"github.com/shaoq/stockwatch/internal/rules"
	"github.com/shaoq/stockwatch/internal/symbols"
)

// MarketData is the slice of the provider coordinator this service needs.
type MarketData interface {
	FetchRealtime(ctx context.Context, code string, mkt domain.Market) domain.FetchResult
	Kline(ctx context.Context, code string, mkt domain.Market, days int) ([]domain.Bar, error)
	FinancialReport(ctx context.Context, code string, mkt domain.Market) ([]map[string]any, error)
	ValuationMetrics(ctx context.Context, code string, mkt domain.Market) (map[string]any, error)
	MacroIndicators(ctx context.Context, indicator string) ([]map[string]any, error)
}

// RuleSource loads the enabled trading rules.
type RuleSource interface {
	LoadEnabled() ([]rules.TradingRule, error)
}

// Calendar answers trading-day questions for the A-share side.
type Calendar interface {
	IsTradingDay(date string) (bool, string, error)
}

// EnrichedStock is one stock with its computed status, the shape the API
// returns.
type EnrichedStock struct {
	ID                     int64                       `json:"id"`
	Symbol                 string                      `json:"symbol"`
	Name                   string                      `json:"name"`
	MATypes                []string                    `json:"ma_types"`
	MAResults              map[string]domain.MAResult  `json:"ma_results"`
	GroupIDs               []int64                     `json:"group_ids"`
	GroupNames             []string                    `json:"group_names"`
	MAPrice                *float64                    `json:"ma_price"`
	CurrentPrice           *float64                    `json:"current_price"`
	CreatedAt              time.Time                   `json:"created_at"`
	UpdatedAt              *time.Time                  `json:"updated_at,omitempty"`
	ReachedTarget          bool                        `json:"reached_target"`
	PriceDifference        *float64                    `json:"price_difference"`
	PriceDifferencePercent *float64                    `json:"price_difference_percent"`
	IsRealtime             bool                        `json:"is_realtime"`
	DataFetchedAt          *time.Time                  `json:"data_fetched_at"`
	Signal                 *rules.Signal               `json:"signal"`
}

// signalMinBars is the shortest history the rule engine accepts.
const signalMinBars = 20

// Service runs the enrichment pipeline over the coordinator with layered
// caches in front of it.
type Service struct {
	md      MarketData
	cal     Calendar
	ruleSrc RuleSource
	workers int

	prices     *cache.Cache // symbol -> cachedQuote, 5s
	klines     *cache.Cache // symbol:date:maxPeriod -> []domain.Bar, 10min
	names      *cache.Cache // symbol -> string, 24h
	financials *cache.Cache // symbol -> rows, 24h
	valuations *cache.Cache // symbol -> metrics, 1h
	macros     *cache.Cache // indicator -> rows, 24h
	ruleSets   *cache.Cache // enabled rules, 1min

	log zerolog.Logger
	now func() time.Time
}

type cachedQuote struct {
	price float64
	name  string
}

// New creates the enrichment service and registers its caches.
func New(md MarketData, cal Calendar, ruleSrc RuleSource, workers int, reg *cache.Registry, log zerolog.Logger) *Service {
	if workers <= 0 {
		workers = 10
	}
	return &Service{
		md:         md,
		cal:        cal,
		ruleSrc:    ruleSrc,
		workers:    workers,
		prices:     reg.Add(cache.New("price", 100, 5*time.Second)),
		klines:     reg.Add(cache.New("kline", 100, 10*time.Minute)),
		names:      reg.Add(cache.New("name", 500, 24*time.Hour)),
		financials: reg.Add(cache.New("financial", 100, 24*time.Hour)),
		valuations: reg.Add(cache.New("valuation", 100, time.Hour)),
		macros:     reg.Add(cache.New("macro", 50, 24*time.Hour)),
		ruleSets:   reg.Add(cache.New("rules", 1, time.Minute)),
		log:        log.With().Str("component", "enrich").Logger(),
		now:        time.Now,
	}
}

var digitPattern = regexp.MustCompile(`\d+`)

func maPeriod(maType string) int {
	if m := digitPattern.FindString(maType); m != "" {
		if n, err := strconv.Atoi(m); err == nil && n > 0 {
			return n
		}
	}
	return 5
}

func normalizeMATypes(maTypes []string) []string {
	out := make([]string, 0, len(maTypes))
	for _, ma := range maTypes {
		if ma = strings.TrimSpace(ma); ma != "" {
			out = append(out, ma)
		}
	}
	if len(out) == 0 {
		out = []string{"MA5"}
	}
	return out
}

// tradingDayFor resolves today's trading-day flag. Only the A-share side has
// a calendar; the us flag stays true and the session window decides.
func (s *Service) tradingDayFor(mkt domain.Market) bool {
	if mkt != domain.MarketCN {
		return true
	}
	today := s.now().In(market.Shanghai).Format("2006-01-02")
	trading, _, err := s.cal.IsTradingDay(today)
	if err != nil {
		s.log.Warn().Err(err).Msg("calendar lookup failed, assuming trading day")
		return true
	}
	return trading
}

// Enrich computes one stock's status, fetching or reusing data per the
// freshness policy.
func (s *Service) Enrich(ctx context.Context, stock domain.Stock, force bool) (*EnrichedStock, error) {
	_, mkt := symbols.Normalize(stock.Symbol)
	return s.enrichWith(ctx, stock, force, s.tradingDayFor(mkt))
}

func (s *Service) enrichWith(ctx context.Context, stock domain.Stock, force, tradingDay bool) (*EnrichedStock, error) {
	code, mkt := symbols.Normalize(stock.Symbol)
	maTypes := normalizeMATypes(stock.MATypes)

	decision := market.Decide(market.Input{
		Market:     mkt,
		TradingDay: tradingDay,
		NeedCalc:   force,
		LastPrice:  stock.CurrentPrice,
		UpdatedAt:  stock.UpdatedAt,
		Now:        s.now(),
	})
	fetch := decision.Fetch
	isRealtime := decision.Realtime

	s.log.Debug().Str("symbol", stock.Symbol).Bool("fetch", fetch).Bool("realtime", isRealtime).Str("reason", decision.Reason).Msg("enriching")

	// A stored price that is missing or non-positive cannot serve cached mode.
	if !fetch && (stock.CurrentPrice == nil || *stock.CurrentPrice <= 0) {
		fetch = true
	}

	var currentPrice *float64
	var name string
	var fetchedAt *time.Time
	if fetch {
		price, fetchedName, err := s.realtimePrice(ctx, stock.Symbol, code, mkt, true)
		if err != nil {
			s.log.Warn().Err(err).Str("symbol", stock.Symbol).Msg("realtime fetch failed")
			isRealtime = false
		} else {
			currentPrice = &price
			name = fetchedName
			ts := s.now()
			fetchedAt = &ts
		}
	} else {
		currentPrice = stock.CurrentPrice
		fetchedAt = stock.UpdatedAt
	}

	maxPeriod := 5
	for _, ma := range maTypes {
		if p := maPeriod(ma); p > maxPeriod {
			maxPeriod = p
		}
	}

	bars := s.klineSeries(ctx, stock.Symbol, code, mkt, maxPeriod, currentPrice, isRealtime)

	// With no live reading the last close stands in, then the stored price.
	if currentPrice == nil && len(bars) > 0 && bars[len(bars)-1].Close > 0 {
		last := bars[len(bars)-1].Close
		currentPrice = &last
		s.log.Info().Str("symbol", stock.Symbol).Float64("close", last).Msg("using last close as current price")
	}
	if currentPrice == nil && stock.CurrentPrice != nil && *stock.CurrentPrice > 0 {
		currentPrice = stock.CurrentPrice
		fetchedAt = stock.UpdatedAt
	}
	if currentPrice == nil {
		return nil, fmt.Errorf("no price available for %s", stock.Symbol)
	}

	maResults := make(map[string]domain.MAResult, len(maTypes))
	for _, maType := range maTypes {
		period := maPeriod(maType)
		res := domain.MAResult{}
		if currentPrice != nil && len(bars) >= period {
			sum := 0.0
			for _, b := range bars[len(bars)-period:] {
				sum += b.Close
			}
			maVal := round2(sum / float64(period))
			if maVal > 0 {
				diff := *currentPrice - maVal
				res = domain.MAResult{
					MAPrice: maVal,
					Reached: *currentPrice >= maVal,
					Diff:    round2(diff),
					DiffPct: round2(diff / maVal * 100),
				}
			}
		}
		maResults[maType] = res
	}

	var signal *rules.Signal
	if len(bars) >= signalMinBars {
		if ruleSet, err := s.enabledRules(); err != nil {
			s.log.Warn().Err(err).Str("symbol", stock.Symbol).Msg("rule load failed, skipping signal")
		} else {
			signal = rules.NewEngine(ruleSet, s.log).EvaluateAll(bars, currentPrice)
		}
	}

	es := &EnrichedStock{
		ID:            stock.ID,
		Symbol:        stock.Symbol,
		Name:          stock.Name,
		MATypes:       maTypes,
		MAResults:     maResults,
		GroupIDs:      stock.GroupIDs,
		GroupNames:    stock.GroupNames,
		CurrentPrice:  currentPrice,
		CreatedAt:     stock.CreatedAt,
		UpdatedAt:     stock.UpdatedAt,
		IsRealtime:    isRealtime,
		DataFetchedAt: fetchedAt,
		Signal:        signal,
	}
	if es.Name == "" {
		es.Name = name
	}
	if main, ok := maResults[maTypes[0]]; ok && main.MAPrice > 0 {
		es.MAPrice = &main.MAPrice
		es.ReachedTarget = main.Reached
		es.PriceDifference = &main.Diff
		es.PriceDifferencePercent = &main.DiffPct
	}
	return es, nil
}

// EnrichBatch enriches many stocks concurrently, input order preserved.
// Stocks with no obtainable price are logged and dropped.
func (s *Service) EnrichBatch(ctx context.Context, stocks []domain.Stock, force bool) []EnrichedStock {
	if len(stocks) == 0 {
		return nil
	}

	batchID := uuid.NewString()[:8]
	start := s.now()
	s.log.Info().Str("batch", batchID).Int("stocks", len(stocks)).Bool("force", force).Msg("batch enrichment started")

	// Resolve the calendar and rule set once; workers must not touch the
	// database.
	cnTrading := s.tradingDayFor(domain.MarketCN)
	if _, err := s.enabledRules(); err != nil {
		s.log.Warn().Err(err).Str("batch", batchID).Msg("rule preload failed")
	}

	results := make([]*EnrichedStock, len(stocks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i := range stocks {
		i, stock := i, stocks[i]
		g.Go(func() error {
			_, mkt := symbols.Normalize(stock.Symbol)
			tradingDay := true
			if mkt == domain.MarketCN {
				tradingDay = cnTrading
			}
			es, err := s.enrichWith(gctx, stock, force, tradingDay)
			if err != nil {
				s.log.Warn().Err(err).Str("batch", batchID).Str("symbol", stock.Symbol).Msg("enrichment failed")
				return nil
			}
			results[i] = es
			return nil
		})
	}
	_ = g.Wait()

	out := make([]EnrichedStock, 0, len(stocks))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}

	s.log.Info().Str("batch", batchID).Int("succeeded", len(out)).Int("total", len(stocks)).
		Dur("elapsed", s.now().Sub(start)).Msg("batch enrichment finished")
	return out
}

// realtimePrice fetches (or serves from the 5s cache) the latest price and
// name. bypassCache forces an outbound fetch, still writing the cache.
func (s *Service) realtimePrice(ctx context.Context, symbol, code string, mkt domain.Market, bypassCache bool) (float64, string, error) {
	if !bypassCache {
		if v, ok := s.prices.Get(symbol); ok {
			q := v.(cachedQuote)
			return q.price, q.name, nil
		}
	}

	res := s.md.FetchRealtime(ctx, code, mkt)
	if !res.Success {
		return 0, "", fmt.Errorf("realtime fetch failed: %s (tried %v)", res.Error, res.Tried)
	}

	s.prices.Set(symbol, cachedQuote{price: res.Quote.Price, name: res.Quote.Name})
	if res.Quote.Name != "" {
		s.names.Set(symbol, res.Quote.Name)
	}
	return res.Quote.Price, res.Quote.Name, nil
}

// FetchRealtime exposes the raw coordinator result for the price endpoints.
func (s *Service) FetchRealtime(ctx context.Context, symbol string) domain.FetchResult {
	code, mkt := symbols.Normalize(symbol)
	res := s.md.FetchRealtime(ctx, code, mkt)
	if res.Success {
		s.prices.Set(symbol, cachedQuote{price: res.Quote.Price, name: res.Quote.Name})
		if res.Quote.Name != "" {
			s.names.Set(symbol, res.Quote.Name)
		}
	}
	return res
}

// FetchName resolves the instrument's display name, cached for a day.
func (s *Service) FetchName(ctx context.Context, symbol string) (string, error) {
	if v, ok := s.names.Get(symbol); ok {
		return v.(string), nil
	}
	code, mkt := symbols.Normalize(symbol)
	_, name, err := s.realtimePrice(ctx, symbol, code, mkt, false)
	if err != nil {
		return "", fmt.Errorf("failed to resolve name for %s: %w", symbol, err)
	}
	if name == "" {
		return "", fmt.Errorf("provider returned no name for %s", symbol)
	}
	s.names.Set(symbol, name)
	return name, nil
}

// klineSeries returns the close series for MA computation. In realtime mode
// today's price is injected when the feed has not rolled over yet; outside it
// the series is served from and written to the ten-minute cache as is.
func (s *Service) klineSeries(ctx context.Context, symbol, code string, mkt domain.Market, maxPeriod int, currentPrice *float64, realtime bool) []domain.Bar {
	loc := market.Shanghai
	if mkt == domain.MarketUS {
		loc = market.NewYork
	}
	today := s.now().In(loc).Format("2006-01-02")
	cacheKey := fmt.Sprintf("%s:%s:%d", symbol, today, maxPeriod)

	if !realtime {
		if v, ok := s.klines.Get(cacheKey); ok {
			return v.([]domain.Bar)
		}
	}

	bars, err := s.md.Kline(ctx, code, mkt, maxPeriod+2)
	if err != nil {
		s.log.Warn().Err(err).Str("symbol", symbol).Msg("kline fetch failed")
		return nil
	}
	if realtime && len(bars) > 0 && currentPrice != nil && *currentPrice > 0 {
		lastDay := strings.SplitN(bars[len(bars)-1].Day, " ", 2)[0]
		if lastDay != today {
			p := *currentPrice
			bars = append(bars, domain.Bar{Day: today, Open: p, High: p, Low: p, Close: p})
		}
	}
	if !realtime {
		s.klines.Set(cacheKey, bars)
	}
	return bars
}

// enabledRules loads the enabled rule set through a short cache so batch
// workers do not hammer the database.
func (s *Service) enabledRules() ([]rules.TradingRule, error) {
	if v, ok := s.ruleSets.Get("enabled"); ok {
		return v.([]rules.TradingRule), nil
	}
	ruleSet, err := s.ruleSrc.LoadEnabled()
	if err != nil {
		return nil, err
	}
	s.ruleSets.Set("enabled", ruleSet)
	return ruleSet, nil
}

// FetchHistorical computes the close and MA readings for one past date from
// kline history alone.
func (s *Service) FetchHistorical(ctx context.Context, symbol, targetDate string, maTypes []string) (float64, map[string]domain.MAResult, error) {
	code, mkt := symbols.Normalize(symbol)
	maTypes = normalizeMATypes(maTypes)

	maxPeriod := 5
	for _, ma := range maTypes {
		if p := maPeriod(ma); p > maxPeriod {
			maxPeriod = p
		}
	}

	bars, err := s.md.Kline(ctx, code, mkt, maxPeriod+30)
	if err != nil {
		return 0, nil, fmt.Errorf("kline fetch failed for %s: %w", symbol, err)
	}

	targetIdx := -1
	for i, b := range bars {
		if strings.SplitN(b.Day, " ", 2)[0] == targetDate {
			targetIdx = i
			break
		}
	}
	if targetIdx < 0 {
		return 0, nil, fmt.Errorf("no candle for %s on %s", symbol, targetDate)
	}

	closePrice := bars[targetIdx].Close
	if closePrice <= 0 {
		return 0, nil, fmt.Errorf("invalid close for %s on %s", symbol, targetDate)
	}

	maResults := make(map[string]domain.MAResult)
	for _, maType := range maTypes {
		period := maPeriod(maType)
		start := targetIdx - period + 1
		if start < 0 {
			continue
		}
		sum := 0.0
		valid := true
		for _, b := range bars[start : targetIdx+1] {
			if b.Close <= 0 {
				valid = false
				break
			}
			sum += b.Close
		}
		if !valid {
			continue
		}
		maVal := round2(sum / float64(period))
		diff := closePrice - maVal
		pct := 0.0
		if maVal > 0 {
			pct = round2(diff / maVal * 100)
		}
		maResults[maType] = domain.MAResult{
			MAPrice: maVal,
			Reached: closePrice >= maVal,
			Diff:    round2(diff),
			DiffPct: pct,
		}
	}
	return closePrice, maResults, nil
}

// Signal evaluates the trading rules over a longer history window. Inside a
// session the latest price replaces the last close.
func (s *Service) Signal(ctx context.Context, stock domain.Stock) (*rules.Signal, error) {
	code, mkt := symbols.Normalize(stock.Symbol)

	bars, err := s.md.Kline(ctx, code, mkt, 120)
	if err != nil {
		return nil, fmt.Errorf("kline fetch failed for %s: %w", stock.Symbol, err)
	}
	if len(bars) < 20 {
		return nil, fmt.Errorf("not enough history for %s: %d candles", stock.Symbol, len(bars))
	}

	ruleSet, err := s.ruleSrc.LoadEnabled()
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}
	engine := rules.NewEngine(ruleSet, s.log)

	var currentPrice *float64
	if market.InSession(mkt, s.now()) && s.tradingDayFor(mkt) {
		if price, _, err := s.realtimePrice(ctx, stock.Symbol, code, mkt, false); err == nil {
			currentPrice = &price
		}
	}
	return engine.EvaluateAll(bars, currentPrice), nil
}

// FinancialReport is the cached fundamentals passthrough.
func (s *Service) FinancialReport(ctx context.Context, symbol string) ([]map[string]any, error) {
	if v, ok := s.financials.Get(symbol); ok {
		return v.([]map[string]any), nil
	}
	code, mkt := symbols.Normalize(symbol)
	rows, err := s.md.FinancialReport(ctx, code, mkt)
	if err != nil {
		return nil, err
	}
	s.financials.Set(symbol, rows)
	return rows, nil
}

// ValuationMetrics is the cached valuation passthrough.
func (s *Service) ValuationMetrics(ctx context.Context, symbol string) (map[string]any, error) {
	if v, ok := s.valuations.Get(symbol); ok {
		return v.(map[string]any), nil
	}
	code, mkt := symbols.Normalize(symbol)
	metrics, err := s.md.ValuationMetrics(ctx, code, mkt)
	if err != nil {
		return nil, err
	}
	s.valuations.Set(symbol, metrics)
	return metrics, nil
}

// MacroIndicators is the cached macro-series passthrough.
func (s *Service) MacroIndicators(ctx context.Context, indicator string) ([]map[string]any, error) {
	if v, ok := s.macros.Get(indicator); ok {
		return v.([]map[string]any), nil
	}
	rows, err := s.md.MacroIndicators(ctx, indicator)
	if err != nil {
		return nil, err
	}
	s.macros.Set(indicator, rows)
	return rows, nil
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
