// 包 api：集中注册 HTTP API 路由以解耦主入口，便于后续扩展与替换
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"windwatts/internal/logger"
	"windwatts/internal/metrics"
	"windwatts/internal/table"
	"windwatts/internal/wtk"
)

// StatsService：年均表统计入口
type StatsService interface {
	Average(ctx context.Context, lat, long float64, height int, g wtk.Granularity) (*wtk.Aggregate, error)
	Heights() ([]int, error)
	Columns() []string
}

// HourlyService：全小时表统计入口
type HourlyService interface {
	WindwattsStats(ctx context.Context, lat, long float64, height int) (*wtk.Stats, error)
}

// handlers：路由共享的依赖
// 约束：统计客户端是有会话状态的单实例，入口处用互斥锁串行化；
// 热点坐标靠 Redis 响应缓存扛并发，锁内只剩真正的远端往返
type handlers struct {
	stats  StatsService
	hourly HourlyService
	rc     *redis.Client
	ttl    time.Duration
	mu     sync.Mutex
}

const defaultCacheTTL = 24 * time.Hour

// BuildRoutes：构建并返回 API 路由，独立 ServeMux 便于在主入口挂载到前缀下
func BuildRoutes(stats StatsService, hourly HourlyService, rc *redis.Client) *http.ServeMux {
	h := &handlers{stats: stats, hourly: hourly, rc: rc, ttl: defaultCacheTTL}
	mux := http.NewServeMux()
	mux.HandleFunc("/windwatts", h.handleWindwatts)
	mux.HandleFunc("/windwatts/hourly", h.handleHourly)
	mux.HandleFunc("/heights", h.handleHeights)
	mux.HandleFunc("/columns", h.handleColumns)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("content-type", "application/json; charset=utf-8")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return mux
}

// coordParams：lat/long/height 三个必填查询参数
func coordParams(r *http.Request) (lat, long float64, height int, err error) {
	q := r.URL.Query()
	lat, err = strconv.ParseFloat(q.Get("lat"), 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("parameter lat must be a number")
	}
	long, err = strconv.ParseFloat(q.Get("long"), 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("parameter long must be a number")
	}
	height, err = strconv.Atoi(q.Get("height"))
	if err != nil {
		return 0, 0, 0, fmt.Errorf("parameter height must be an integer")
	}
	return lat, long, height, nil
}

// bucketsJSON：[{name: 键, avg: 均值}, …]
func bucketsJSON(name string, bs []table.Bucket) []map[string]any {
	out := make([]map[string]any, len(bs))
	for i, b := range bs {
		out[i] = map[string]any{name: b.Key, "avg": b.Value}
	}
	return out
}

func (h *handlers) handleWindwatts(w http.ResponseWriter, r *http.Request) {
	tBegin := time.Now()
	metrics.RequestsTotal.Inc()
	defer func() {
		metrics.RequestDurationMs.Observe(float64(time.Since(tBegin).Milliseconds()))
	}()
	ctx := r.Context()
	lat, long, height, err := coordParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	key := fmt.Sprintf("wtk:%.4f:%.4f:%d", lat, long, height)
	if h.serveCached(ctx, w, key) {
		return
	}

	h.mu.Lock()
	var aggs [4]*wtk.Aggregate
	for i, g := range []wtk.Granularity{wtk.GranGlobal, wtk.GranYearly, wtk.GranMonthly, wtk.GranHourly} {
		aggs[i], err = h.stats.Average(ctx, lat, long, height, g)
		if err != nil {
			break
		}
	}
	h.mu.Unlock()
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	h.writeJSON(ctx, w, key, map[string]any{
		"global_avg":  aggs[0].Value,
		"yearly_avg":  bucketsJSON("year", aggs[1].Series),
		"monthly_avg": bucketsJSON("month", aggs[2].Series),
		"hourly_avg":  bucketsJSON("hour", aggs[3].Series),
	})
}

func (h *handlers) handleHourly(w http.ResponseWriter, r *http.Request) {
	tBegin := time.Now()
	metrics.RequestsTotal.Inc()
	defer func() {
		metrics.RequestDurationMs.Observe(float64(time.Since(tBegin).Milliseconds()))
	}()
	ctx := r.Context()
	lat, long, height, err := coordParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	key := fmt.Sprintf("wtk:hourly:%.4f:%.4f:%d", lat, long, height)
	if h.serveCached(ctx, w, key) {
		return
	}

	h.mu.Lock()
	stats, err := h.hourly.WindwattsStats(ctx, lat, long, height)
	h.mu.Unlock()
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	h.writeJSON(ctx, w, key, map[string]any{
		"global_avg":  stats.GlobalAvg,
		"yearly_avg":  bucketsJSON("year", stats.YearlyAvg),
		"monthly_avg": bucketsJSON("month", stats.MonthlyAvg),
		"daily_avg":   bucketsJSON("day", stats.DailyAvg),
		"hourly_avg":  bucketsJSON("hour", stats.HourlyAvg),
	})
}

func (h *handlers) handleHeights(w http.ResponseWriter, r *http.Request) {
	heights, err := h.stats.Heights()
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	h.writeJSON(r.Context(), w, "", map[string]any{"heights": heights})
}

func (h *handlers) handleColumns(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(r.Context(), w, "", map[string]any{"columns": h.stats.Columns()})
}

// serveCached：缓存命中则直接回包
func (h *handlers) serveCached(ctx context.Context, w http.ResponseWriter, key string) bool {
	if h.rc == nil {
		return false
	}
	s, _ := h.rc.Get(ctx, key).Result()
	if s == "" {
		metrics.RedisMissesTotal.Inc()
		return false
	}
	metrics.RedisHitsTotal.Inc()
	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.Header().Set("cache-control", "no-store")
	_, _ = w.Write([]byte(s))
	return true
}

// writeJSON：回包并按 key 回填缓存（key 为空表示不缓存）
func (h *handlers) writeJSON(ctx context.Context, w http.ResponseWriter, key string, body map[string]any) {
	b, err := json.Marshal(body)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if h.rc != nil && key != "" {
		_ = h.rc.Set(ctx, key, string(b), h.ttl).Err()
	}
	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.Header().Set("cache-control", "no-store")
	_, _ = w.Write(b)
}

// statusFor：错误到状态码：输入问题 400，查无数据 404，其余一律视为上游失败
func statusFor(err error) int {
	switch {
	case errors.Is(err, wtk.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, wtk.ErrNoData):
		return http.StatusNotFound
	default:
		return http.StatusBadGateway
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	if status >= 500 {
		logger.L().Error("api_error", "status", status, "err", err)
	} else {
		logger.L().Debug("api_reject", "status", status, "err", err)
	}
	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
