package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/shaoq/stockwatch/internal/domain"
	"github.com/shaoq/stockwatch/internal/enrich"
	"github.com/shaoq/stockwatch/internal/stocks"
	"github.com/shaoq/stockwatch/internal/symbols"
)

func urlID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

func queryInt(r *http.Request, key string, fallback int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func queryBool(r *http.Request, key string, fallback bool) bool {
	if v := r.URL.Query().Get(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// bareStatus is the fallback shape when enrichment cannot produce a price.
func bareStatus(stock *domain.Stock) *enrich.EnrichedStock {
	maTypes := stock.MATypes
	if len(maTypes) == 0 {
		maTypes = []string{"MA5"}
	}
	maResults := make(map[string]domain.MAResult, len(maTypes))
	for _, ma := range maTypes {
		maResults[ma] = domain.MAResult{}
	}
	return &enrich.EnrichedStock{
		ID:           stock.ID,
		Symbol:       stock.Symbol,
		Name:         stock.Name,
		MATypes:      maTypes,
		MAResults:    maResults,
		GroupIDs:     stock.GroupIDs,
		GroupNames:   stock.GroupNames,
		CurrentPrice: stock.CurrentPrice,
		CreatedAt:    stock.CreatedAt,
		UpdatedAt:    stock.UpdatedAt,
	}
}

type stockCreateRequest struct {
	Symbol   string   `json:"symbol"`
	Name     string   `json:"name"`
	MATypes  []string `json:"ma_types"`
	GroupIDs []int64  `json:"group_ids"`
}

type stockUpdateRequest struct {
	Name     *string  `json:"name"`
	MATypes  []string `json:"ma_types"`
	GroupIDs []int64  `json:"group_ids"`
}

func (s *Server) handleCreateStock(w http.ResponseWriter, r *http.Request) {
	var req stockCreateRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	req.Symbol = strings.TrimSpace(req.Symbol)
	if req.Symbol == "" {
		s.writeError(w, http.StatusBadRequest, "股票代码不能为空")
		return
	}
	if _, err := s.stocks.GetBySymbol(req.Symbol); err == nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("股票代码 %s 已存在", req.Symbol))
		return
	}

	name, err := s.enricher.FetchName(r.Context(), strings.ToUpper(req.Symbol))
	if err != nil || name == "" {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("无法识别股票代码 %s，请检查格式", req.Symbol))
		return
	}

	stock, err := s.stocks.Create(req.Symbol, name, req.MATypes, req.GroupIDs)
	if err != nil {
		if errors.Is(err, stocks.ErrDuplicate) {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("股票代码 %s 已存在", req.Symbol))
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	enriched, err := s.enricher.Enrich(r.Context(), *stock, true)
	if err != nil {
		enriched = bareStatus(stock)
	}
	s.writeJSON(w, http.StatusCreated, enriched)
}

func (s *Server) handleListStocks(w http.ResponseWriter, r *http.Request) {
	search := r.URL.Query().Get("q")
	groupID := int64(queryInt(r, "group_id", 0))
	skip := queryInt(r, "skip", 0)
	limit := queryInt(r, "limit", 100)

	list, err := s.stocks.List(search, groupID, skip, limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	enriched := s.enricher.EnrichBatch(r.Context(), list, false)
	if enriched == nil {
		enriched = []enrich.EnrichedStock{}
	}
	s.writeJSON(w, http.StatusOK, enriched)
}

func (s *Server) handleGetStock(w http.ResponseWriter, r *http.Request) {
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
	enriched, err := s.enricher.Enrich(r.Context(), *stock, false)
	if err != nil {
		enriched = bareStatus(stock)
	}
	s.writeJSON(w, http.StatusOK, enriched)
}

func (s *Server) handleUpdateStock(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "无效的股票 ID")
		return
	}
	var req stockUpdateRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	stock, err := s.stocks.Update(id, req.Name, req.MATypes, req.GroupIDs)
	if err != nil {
		if errors.Is(err, stocks.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "未找到该股票")
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// Changed averages need a fresh computation.
	enriched, err := s.enricher.Enrich(r.Context(), *stock, true)
	if err != nil {
		enriched = bareStatus(stock)
	}
	s.writeJSON(w, http.StatusOK, enriched)
}

func (s *Server) handleDeleteStock(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "无效的股票 ID")
		return
	}
	if err := s.stocks.Delete(id); err != nil {
		s.writeError(w, http.StatusNotFound, "未找到该股票")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBatchDeleteStocks(w http.ResponseWriter, r *http.Request) {
	var ids []int64
	if !s.decodeJSON(w, r, &ids) {
		return
	}
	count, err := s.stocks.DeleteBatch(ids)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"message": fmt.Sprintf("成功删除 %d 只股票记录", count),
	})
}

type batchRemoveRequest struct {
	StockIDs []int64 `json:"stock_ids"`
	GroupID  int64   `json:"group_id"`
}

func (s *Server) handleBatchRemoveFromGroup(w http.ResponseWriter, r *http.Request) {
	var req batchRemoveRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	count := 0
	for _, id := range req.StockIDs {
		if err := s.stocks.RemoveFromGroup(id, req.GroupID); err == nil {
			count++
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"message": fmt.Sprintf("成功从当前分组移出 %d 只股票", count),
	})
}

func (s *Server) handleListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.stocks.Groups()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if groups == nil {
		groups = []domain.Group{}
	}
	s.writeJSON(w, http.StatusOK, groups)
}

func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if !s.decodeJSON(w, r, &req) {
		return
	}
	group, err := s.stocks.CreateGroup(req.Name)
	if err != nil {
		if errors.Is(err, stocks.ErrDuplicate) {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("分组 %s 已存在", req.Name))
			return
		}
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusCreated, group)
}

func (s *Server) handleDeleteGroup(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "无效的分组 ID")
		return
	}
	if err := s.stocks.DeleteGroup(id); err != nil {
		s.writeError(w, http.StatusNotFound, "未找到该分组")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUpdatePrice(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	stock, err := s.stocks.GetBySymbol(symbol)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "数据库中未找到该股票")
		return
	}

	enriched, err := s.enricher.Enrich(r.Context(), *stock, false)
	if err != nil || enriched.CurrentPrice == nil {
		s.writeError(w, http.StatusServiceUnavailable,
			fmt.Sprintf("股票 %s 数据获取失败，可能已停牌、退市或代码变更，请检查股票代码", symbol))
		return
	}

	// Only a realtime reading is worth persisting.
	if enriched.IsRealtime {
		if err := s.stocks.UpdatePrice(stock.ID, *enriched.CurrentPrice); err != nil {
			s.log.Warn().Err(err).Str("symbol", symbol).Msg("failed to persist price")
		}
	}

	statusParts := make([]string, 0, len(enriched.MATypes))
	for _, ma := range enriched.MATypes {
		res := enriched.MAResults[ma]
		tag := "⏳"
		if res.Reached {
			tag = "✅"
		}
		statusParts = append(statusParts, fmt.Sprintf("%s:%.2f %s", ma, res.MAPrice, tag))
	}
	realtimeTag := "📦缓存"
	if enriched.IsRealtime {
		realtimeTag = "🔴实时"
	}
	message := fmt.Sprintf("%s 当前:%.2f | %s | %s",
		stock.Symbol, *enriched.CurrentPrice, strings.Join(statusParts, " "), realtimeTag)

	s.writeJSON(w, http.StatusOK, map[string]any{
		"symbol":        stock.Symbol,
		"current_price": *enriched.CurrentPrice,
		"ma_results":    enriched.MAResults,
		"message":       message,
		"is_realtime":   enriched.IsRealtime,
	})
}

// handleForceRefresh bypasses every cache layer and rewrites them with fresh
// provider data.
func (s *Server) handleForceRefresh(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	stock, err := s.stocks.GetBySymbol(symbol)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "数据库中未找到该股票")
		return
	}

	enriched, err := s.enricher.Enrich(r.Context(), *stock, true)
	if err != nil || enriched.CurrentPrice == nil {
		s.writeError(w, http.StatusServiceUnavailable,
			fmt.Sprintf("股票 %s 数据获取失败，可能已停牌、退市或代码变更，请检查股票代码", symbol))
		return
	}
	if enriched.IsRealtime {
		if err := s.stocks.UpdatePrice(stock.ID, *enriched.CurrentPrice); err != nil {
			s.log.Warn().Err(err).Str("symbol", symbol).Msg("failed to persist price")
		}
	}
	s.writeJSON(w, http.StatusOK, enriched)
}

func (s *Server) handleUpdateAllPrices(w http.ResponseWriter, r *http.Request) {
	list, err := s.stocks.List("", 0, 0, 0)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	count := 0
	for _, enriched := range s.enricher.EnrichBatch(r.Context(), list, false) {
		if enriched.CurrentPrice == nil {
			continue
		}
		if err := s.stocks.UpdatePrice(enriched.ID, *enriched.CurrentPrice); err != nil {
			s.log.Warn().Err(err).Str("symbol", enriched.Symbol).Msg("failed to persist price")
			continue
		}
		count++
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"message": fmt.Sprintf("已成功更新 %d 只股票的均线指标数据", count),
	})
}

func (s *Server) handleCharts(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, symbols.ChartURLs(chi.URLParam(r, "symbol")))
}
