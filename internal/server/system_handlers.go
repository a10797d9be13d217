package server

import (
	"net/http"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

func (s *Server) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	cpuPercent, ramPercent := s.systemStats()

	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"uptime_seconds": int(time.Since(s.started).Seconds()),
		"cpu_percent":    cpuPercent,
		"ram_percent":    ramPercent,
		"goroutines":     runtime.NumGoroutine(),
		"providers":      s.coordinator.HealthStatus(),
		"spot_cache":     s.spot.Status(),
	})
}

func (s *Server) systemStats() (float64, float64) {
	cpuAvg := 0.0
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to get CPU stats")
	} else if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to get memory stats")
		return cpuAvg, 0
	}
	return cpuAvg, memStat.UsedPercent
}
