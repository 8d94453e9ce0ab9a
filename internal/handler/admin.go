package handler

import (
	"net/http"
	"runtime"
	"time"

	"autodelivery-api/internal/model"
	"autodelivery-api/internal/repository"
	"autodelivery-api/internal/service"
	"autodelivery-api/pkg/response"
)

// AdminHandler handles operator HTTP requests.
type AdminHandler struct {
	repo      repository.FulfillmentRepository
	stock     *service.StockMonitor
	sweeper   *service.StockSweeper
	storeType string
	startTime time.Time
}

// NewAdminHandler creates a new admin handler. sweeper may be nil.
func NewAdminHandler(
	repo repository.FulfillmentRepository,
	stock *service.StockMonitor,
	sweeper *service.StockSweeper,
	storeType string,
) *AdminHandler {
	return &AdminHandler{
		repo:      repo,
		stock:     stock,
		sweeper:   sweeper,
		storeType: storeType,
		startTime: time.Now(),
	}
}

// GetStats handles GET /api/v1/admin/stats
func (h *AdminHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stats := make(map[string]interface{})

	stats["uptime_seconds"] = int64(time.Since(h.startTime).Seconds())
	stats["uptime_human"] = time.Since(h.startTime).Round(time.Second).String()
	stats["server_time"] = time.Now().Format(time.RFC3339)
	stats["store_type"] = h.storeType

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	stats["memory"] = map[string]interface{}{
		"alloc_mb":      float64(memStats.Alloc) / 1024 / 1024,
		"sys_mb":        float64(memStats.Sys) / 1024 / 1024,
		"heap_inuse_mb": float64(memStats.HeapInuse) / 1024 / 1024,
		"num_gc":        memStats.NumGC,
		"goroutines":    runtime.NumGoroutine(),
	}

	storeStats, err := h.repo.GetStats(ctx)
	if err == nil {
		storeStats["status"] = "connected"
		stats["store"] = storeStats
	} else {
		stats["store"] = map[string]interface{}{
			"status": "error",
			"error":  err.Error(),
		}
	}

	stocks, err := h.stock.ListStock(ctx)
	if err == nil {
		var low, out int
		for _, s := range stocks {
			switch s.Level() {
			case model.StockLevelLow:
				low++
			case model.StockLevelOut:
				out++
			}
		}
		stats["stock"] = map[string]interface{}{
			"scopes":        len(stocks),
			"low_stock":     low,
			"out_of_stock":  out,
			"low_threshold": h.stock.LowThreshold(),
		}
	} else {
		stats["stock"] = map[string]interface{}{
			"status": "error",
			"error":  err.Error(),
		}
	}

	stats["runtime"] = map[string]interface{}{
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"cpus":       runtime.NumCPU(),
	}

	response.OK(w, stats)
}

// ListStock handles GET /api/v1/admin/stock
func (h *AdminHandler) ListStock(w http.ResponseWriter, r *http.Request) {
	stocks, err := h.stock.ListStock(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if stocks == nil {
		stocks = []model.Stock{}
	}
	response.List(w, stocks, len(stocks))
}

// Sweep handles POST /api/v1/admin/stock/sweep
func (h *AdminHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	if h.sweeper == nil {
		response.OK(w, map[string]int{"alerts": 0})
		return
	}
	alerts, err := h.sweeper.RunNow(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.OK(w, map[string]int{"alerts": alerts})
}

// GetHealth handles GET /api/v1/admin/health
func (h *AdminHandler) GetHealth(w http.ResponseWriter, r *http.Request) {
	response.OK(w, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}
