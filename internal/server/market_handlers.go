package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/shaoq/stockwatch/internal/market"
)

func (s *Server) handleProviderHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.coordinator.HealthStatus())
}

func (s *Server) handleProviderCapabilities(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.coordinator.Capabilities())
}

func (s *Server) handleProviderReset(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !s.coordinator.ResetProvider(name) {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("未找到数据源 %s", name))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"message": fmt.Sprintf("数据源 %s 已重置", name),
	})
}

func (s *Server) handleProviderResetAll(w http.ResponseWriter, r *http.Request) {
	s.coordinator.ResetAll()
	s.writeJSON(w, http.StatusOK, map[string]string{"message": "所有数据源已重置"})
}

func (s *Server) handleSpotStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.spot.Status())
}

func (s *Server) handleSpotClear(w http.ResponseWriter, r *http.Request) {
	s.spot.Clear()
	s.writeJSON(w, http.StatusOK, map[string]string{"message": "全市场快照缓存已清空"})
}

func (s *Server) handleCalendarCheck(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date == "" {
		date = time.Now().In(market.Shanghai).Format("2006-01-02")
	}
	trading, reason, err := s.calendar.IsTradingDay(date)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("无效的日期 %s", date))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"date":           date,
		"is_trading_day": trading,
		"reason":         reason,
	})
}

func (s *Server) handleCalendarRefresh(w http.ResponseWriter, r *http.Request) {
	year := queryInt(r, "year", time.Now().In(market.Shanghai).Year())
	count, message, err := s.calendar.Refresh(year)
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"year":    year,
		"count":   count,
		"message": message,
	})
}

func (s *Server) handleCalendarMonthly(w http.ResponseWriter, r *http.Request) {
	now := time.Now().In(market.Shanghai)
	year := queryInt(r, "year", now.Year())
	month := queryInt(r, "month", int(now.Month()))
	if month < 1 || month > 12 {
		s.writeError(w, http.StatusBadRequest, "月份必须在 1-12 之间")
		return
	}

	start := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, market.Shanghai)
	end := start.AddDate(0, 1, -1)
	tradingDays, err := s.calendar.TradingDaysInRange(
		start.Format("2006-01-02"), end.Format("2006-01-02"))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if tradingDays == nil {
		tradingDays = []string{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"year":         year,
		"month":        month,
		"trading_days": tradingDays,
	})
}

func (s *Server) handleFinancialReport(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	rows, err := s.enricher.FinancialReport(r.Context(), symbol)
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, fmt.Sprintf("获取 %s 财务数据失败", symbol))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"symbol": symbol, "reports": rows})
}

func (s *Server) handleValuation(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	metrics, err := s.enricher.ValuationMetrics(r.Context(), symbol)
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, fmt.Sprintf("获取 %s 估值数据失败", symbol))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"symbol": symbol, "metrics": metrics})
}

func (s *Server) handleMacro(w http.ResponseWriter, r *http.Request) {
	indicator := chi.URLParam(r, "indicator")
	rows, err := s.enricher.MacroIndicators(r.Context(), indicator)
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, fmt.Sprintf("获取宏观指标 %s 失败", indicator))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"indicator": indicator, "data": rows})
}
