// wtk-stats：命令行查询单点风速统计，表格输出
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/olekukonko/tablewriter"

	"windwatts/internal/athena"
	"windwatts/internal/config"
	"windwatts/internal/locations"
	"windwatts/internal/logger"
	"windwatts/internal/table"
	"windwatts/internal/wtk"
)

func main() {
	lat := flag.Float64("lat", 0, "纬度")
	long := flag.Float64("long", 0, "经度")
	height := flag.Int("height", 100, "高度（米）")
	hourly := flag.Bool("hourly", false, "使用全小时表（额外给出逐日均值）")
	flag.Parse()

	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join("data", "env", ".env"))
	l := logger.Setup()

	cfg, err := config.Load()
	if err != nil {
		l.Error("config_error", "err", err)
		os.Exit(1)
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

	if *hourly {
		c, err := wtk.NewFullHourlyClient(ctx, cfg, engine, s3c, recs)
		if err != nil {
			l.Error("client_error", "err", err)
			os.Exit(1)
		}
		stats, err := c.WindwattsStats(ctx, *lat, *long, *height)
		if err != nil {
			l.Error("stats_error", "err", err)
			os.Exit(1)
		}
		fmt.Printf("global_avg: %.2f\n", stats.GlobalAvg)
		render("year", stats.YearlyAvg)
		render("month", stats.MonthlyAvg)
		render("day", stats.DailyAvg)
		render("hour", stats.HourlyAvg)
		return
	}

	c, err := wtk.NewStatsClient(ctx, cfg, engine, s3c, recs)
	if err != nil {
		l.Error("client_error", "err", err)
		os.Exit(1)
	}
	global, err := c.Average(ctx, *lat, *long, *height, wtk.GranGlobal)
	if err != nil {
		l.Error("stats_error", "err", err)
		os.Exit(1)
	}
	fmt.Printf("global_avg: %.2f\n", global.Value)
	for _, g := range []wtk.Granularity{wtk.GranYearly, wtk.GranMonthly, wtk.GranHourly} {
		agg, err := c.Average(ctx, *lat, *long, *height, g)
		if err != nil {
			l.Error("stats_error", "granularity", g, "err", err)
			os.Exit(1)
		}
		render(string(g), agg.Series)
	}
}

func render(key string, buckets []table.Bucket) {
	t := tablewriter.NewWriter(os.Stdout)
	t.SetHeader([]string{key, "avg"})
	for _, b := range buckets {
		t.Append([]string{strconv.Itoa(b.Key), strconv.FormatFloat(b.Value, 'f', 2, 64)})
	}
	t.Render()
}
