// wtk-download：按年份批量下载最近网格点的逐小时原始数据并转存 CSV
package main

import (
	"context"
	"flag"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"windwatts/internal/athena"
	"windwatts/internal/config"
	"windwatts/internal/locations"
	"windwatts/internal/logger"
	"windwatts/internal/wtk"
)

func main() {
	lat := flag.Float64("lat", 0, "纬度")
	long := flag.Float64("long", 0, "经度")
	yearsArg := flag.String("years", "", "年份列表，逗号分隔（如 2020,2021）")
	n := flag.Int("n", 1, "最近网格点个数（1-16）")
	varset := flag.String("varset", "", "变量集（默认取配置值）")
	dir := flag.String("dir", "downloads", "本地输出目录")
	flag.Parse()

	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join("data", "env", ".env"))
	l := logger.Setup()

	years, err := parseYears(*yearsArg)
	if err != nil {
		l.Error("bad_years", "arg", *yearsArg, "err", err)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		l.Error("config_error", "err", err)
		os.Exit(1)
	}
	vs := *varset
	if vs == "" {
		vs = cfg.DownloadVarset
	}

	ctx := context.Background()
	engine, s3c, err := athena.NewFromAWS(ctx, cfg)
	if err != nil {
		l.Error("aws_init_error", "err", err)
		os.Exit(1)
	}
	recs, err := locations.Load(cfg.LocationsPath)
	if err != nil {
		l.Error("locations_load_error", "path", cfg.LocationsPath, "err", err)
		os.Exit(1)
	}
	c, err := wtk.NewFullHourlyClient(ctx, cfg, engine, s3c, recs)
	if err != nil {
		l.Error("client_error", "err", err)
		os.Exit(1)
	}

	results, err := c.Download(ctx, wtk.DownloadRequest{
		Years: years, Lat: *lat, Long: *long, NNearest: *n, Varset: vs, Dir: *dir,
	})
	if err != nil {
		l.Error("download_error", "err", err)
		os.Exit(1)
	}
	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			continue
		}
		l.Info("saved", "path", r.Path)
	}
	l.Info("download_done", "total", len(results), "failed", failed)
	if failed == len(results) {
		os.Exit(1)
	}
}

func parseYears(s string) ([]int, error) {
	var years []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		y, err := strconv.Atoi(part)
		if err != nil {
			return nil, err
		}
		years = append(years, y)
	}
	return years, nil
}
