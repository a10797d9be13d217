package server

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/shaoq/stockwatch/internal/market"
)

// rejectNonTradingDay writes the 400 payload snapshot and report endpoints
// share for closed days. Returns true when the request was rejected.
func (s *Server) rejectNonTradingDay(w http.ResponseWriter, date string) bool {
	trading, reason, err := s.calendar.IsTradingDay(date)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("无效的日期 %s", date))
		return true
	}
	if trading {
		return false
	}
	s.writeError(w, http.StatusBadRequest, map[string]any{
		"error":          fmt.Sprintf("该日期为非交易日（%s）", reason),
		"is_trading_day": false,
		"reason":         reason,
		"date":           date,
	})
	return true
}

func (s *Server) handleGenerateSnapshots(w http.ResponseWriter, r *http.Request) {
	nowSH := s.now().In(market.Shanghai)
	today := nowSH.Format("2006-01-02")
	targetDate := r.URL.Query().Get("target_date")
	if targetDate == "" {
		targetDate = today
	}
	if s.rejectNonTradingDay(w, targetDate) {
		return
	}

	// Today's snapshot only exists after the session close.
	if targetDate == today {
		closeAt := time.Date(nowSH.Year(), nowSH.Month(), nowSH.Day(), 15, 0, 0, 0, market.Shanghai)
		if !nowSH.After(closeAt) {
			s.writeError(w, http.StatusBadRequest, map[string]any{
				"error":          "当日快照需在收盘（15:00）后生成",
				"is_trading_day": true,
				"reason":         "尚未收盘",
				"date":           targetDate,
			})
			return
		}
	}

	res, err := s.snapshots.GenerateDaily(r.Context(), targetDate, queryBool(r, "force", false))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"message":       res.Message,
		"created_count": res.Created,
		"updated_count": res.Updated,
	})
}

func (s *Server) handleCheckToday(w http.ResponseWriter, r *http.Request) {
	status, err := s.snapshots.CheckToday()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleSnapshotDates(w http.ResponseWriter, r *http.Request) {
	index, err := s.snapshots.DateList()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, index)
}

func (s *Server) handleDailyReport(w http.ResponseWriter, r *http.Request) {
	targetDate := r.URL.Query().Get("target_date")
	if targetDate == "" {
		targetDate = time.Now().In(market.Shanghai).Format("2006-01-02")
	}
	if s.rejectNonTradingDay(w, targetDate) {
		return
	}

	page := queryInt(r, "page", 1)
	pageSize := queryInt(r, "page_size", 10)
	report, err := s.snapshots.DailyReport(targetDate, page, pageSize)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleTrend(w http.ResponseWriter, r *http.Request) {
	days := queryInt(r, "days", 7)
	points, err := s.snapshots.TrendData(days)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"data": points})
}

func (s *Server) handleEvaluateSignal(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "无效的股票 ID")
		return
	}
	stock, err := s.stocks.Get(id)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "未找到该股票")
		return
	}

	sig, err := s.enricher.Signal(r.Context(), *stock)
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, fmt.Sprintf("无法评估 %s 的交易信号", stock.Symbol))
		return
	}

	today := time.Now().In(market.Shanghai).Format("2006-01-02")
	if err := s.rules.SaveSignal(stock.ID, today, sig); err != nil {
		s.log.Warn().Err(err).Str("symbol", stock.Symbol).Msg("failed to store signal")
	}
	s.writeJSON(w, http.StatusOK, sig)
}

func (s *Server) handleSignalHistory(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "无效的股票 ID")
		return
	}
	if _, err := s.stocks.Get(id); err != nil {
		s.writeError(w, http.StatusNotFound, "未找到该股票")
		return
	}

	history, err := s.rules.SignalHistory(id, queryInt(r, "limit", 30))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if history == nil {
		history = []map[string]any{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"signals": history})
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	list, err := s.rules.List()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleToggleRule(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "无效的规则 ID")
		return
	}
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if err := s.rules.SetEnabled(id, req.Enabled); err != nil {
		s.writeError(w, http.StatusNotFound, "未找到该规则")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"message": fmt.Sprintf("规则 %s 已%s", strconv.FormatInt(id, 10), enabledWord(req.Enabled)),
	})
}

func enabledWord(enabled bool) string {
	if enabled {
		return "启用"
	}
	return "禁用"
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	cleared := s.caches.ClearAll()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"message": "缓存已清空",
		"cleared": cleared,
	})
}
