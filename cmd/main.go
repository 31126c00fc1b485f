// 程序入口：仅负责读取配置、初始化依赖并启动服务；API 注册在 internal/api 以便扩展
package main

import (
	"context"
	"net/http"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"windwatts/internal/api"
	"windwatts/internal/athena"
	"windwatts/internal/config"
	"windwatts/internal/locations"
	"windwatts/internal/logger"
	"windwatts/internal/metrics"
	"windwatts/internal/middleware"
	"windwatts/internal/utils"
	"windwatts/internal/wtk"
)

// rootMux 挂载路由：业务 API 收在 apiBase 前缀下，/metrics 固定在根路径
func rootMux(apiBase string, apiMux http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle(apiBase+"/", http.StripPrefix(apiBase, apiMux))
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

func main() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join("data", "env", ".env"))
	l := logger.Setup()
	l.Debug("log_init_ok")

	cfg, err := config.Load()
	if err != nil {
		l.Error("config_error", "err", err)
		os.Exit(1)
	}
	apiBase := os.Getenv("API_BASE")
	if apiBase == "" {
		apiBase = "/api"
	}
	l.Debug("config_api_base", "base", apiBase)

	ctx := context.Background()
	engine, s3c, err := athena.NewFromAWS(ctx, cfg)
	if err != nil {
		l.Error("aws_init_error", "err", err)
		os.Exit(1)
	}
	l.Info("aws_init_ok", "region", cfg.Region, "database", cfg.Database)

	recs, err := locations.Load(cfg.LocationsPath)
	if err != nil {
		l.Error("locations_load_error", "path", cfg.LocationsPath, "err", err)
		os.Exit(1)
	}
	l.Info("locations_load_ok", "count", len(recs))

	stats, err := wtk.NewStatsClient(ctx, cfg, engine, s3c, recs)
	if err != nil {
		l.Error("stats_client_error", "err", err)
		os.Exit(1)
	}
	hourly, err := wtk.NewFullHourlyClient(ctx, cfg, engine, s3c, recs)
	if err != nil {
		l.Error("hourly_client_error", "err", err)
		os.Exit(1)
	}

	rc := utils.OpenRedisFromEnv()
	if rc == nil {
		l.Info("redis_disabled")
	} else if err := rc.Ping(ctx).Err(); err != nil {
		l.Error("redis_ping_error", "err", err)
	} else {
		l.Info("redis_ping_ok")
	}

	mux := rootMux(apiBase, api.BuildRoutes(stats, hourly, rc))

	addr := os.Getenv("ADDR")
	if addr == "" {
		addr = ":8080"
	}
	handler := logger.AccessMiddleware(l)(mux)
	handler = middleware.Wrap(handler)
	l.Info("server_start", "addr", addr, "dataset", cfg.Dataset)
	s := &http.Server{Addr: addr, Handler: handler}
	if err := s.ListenAndServe(); err != nil {
		l.Error("server_exit", "err", err)
		os.Exit(1)
	}
}
