// 包 config：集中读取并校验运行配置；核心键缺失视为启动失败而非运行期降级
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"windwatts/internal/logger"
)

// 数据源标识：决定高度列名的解析策略与默认表名
const (
	DatasetWTK  = "wtk"
	DatasetERA5 = "era5"
)

// Config：WindWatts 客户端的全部外部配置
// 背景：对应 Athena/S3 侧的库、表、工作组与结果输出位置；表名分为按位置过滤的默认表与全域统计的备用表
// 约束：仅在进程启动时装载一次，运行期只读
type Config struct {
	Region         string // AWS 区域
	Bucket         string // 列存数据桶（ts-parquet 工件）
	Database       string // Athena 库名
	OutputLocation string // Athena 结果输出位置（s3://…）
	OutputBucket   string // 结果输出桶名
	DefaultTable   string // 按位置过滤统计使用的表
	AltTable       string // 全域统计使用的表
	Workgroup      string // Athena 工作组
	Dataset        string // wtk | era5
	LocationsPath  string // 打包位置索引文件路径（csv.gz）
	ReuseMaxAgeMin int32  // 服务端结果复用窗口（分钟）
	DownloadVarset string // 批量下载默认变量集
}

// 必填键：任一缺失则 Load 返回错误
var required = []string{
	"AWS_REGION",
	"WTK_BUCKET",
	"ATHENA_DATABASE",
	"ATHENA_OUTPUT_LOCATION",
	"WTK_OUTPUT_BUCKET",
	"WTK_TABLE",
	"WTK_ALT_TABLE",
	"ATHENA_WORKGROUP",
}

// Load：从环境变量装载配置
// 为什么：远端查询缺少任何一个定位键（库/表/工作组/输出位置）都只会在首次查询时以更难排查的方式失败，
// 在启动期一次性校验并列出全部缺失键
func Load() (*Config, error) {
	var missing []string
	for _, k := range required {
		if os.Getenv(k) == "" {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("config: missing required keys: %s", strings.Join(missing, ", "))
	}

	cfg := &Config{
		Region:         os.Getenv("AWS_REGION"),
		Bucket:         os.Getenv("WTK_BUCKET"),
		Database:       os.Getenv("ATHENA_DATABASE"),
		OutputLocation: os.Getenv("ATHENA_OUTPUT_LOCATION"),
		OutputBucket:   os.Getenv("WTK_OUTPUT_BUCKET"),
		DefaultTable:   os.Getenv("WTK_TABLE"),
		AltTable:       os.Getenv("WTK_ALT_TABLE"),
		Workgroup:      os.Getenv("ATHENA_WORKGROUP"),
		Dataset:        DatasetWTK,
		LocationsPath:  "data/locations.csv.gz",
		ReuseMaxAgeMin: 10080,
		DownloadVarset: "all",
	}

	switch strings.ToLower(os.Getenv("WTK_DATASET")) {
	case "", DatasetWTK:
	case DatasetERA5:
		cfg.Dataset = DatasetERA5
		// era5 走独立表名；未配置时回退 WTK_TABLE 以便共用一套环境
		if t := os.Getenv("ERA5_TABLE"); t != "" {
			cfg.DefaultTable = t
		}
	default:
		return nil, fmt.Errorf("config: unknown WTK_DATASET %q (want wtk or era5)", os.Getenv("WTK_DATASET"))
	}

	if p := os.Getenv("WTK_LOCATIONS_PATH"); p != "" {
		cfg.LocationsPath = p
	}
	if v := os.Getenv("RESULT_REUSE_MAX_AGE_MIN"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.ReuseMaxAgeMin = int32(n)
		}
	}
	if v := os.Getenv("WTK_DOWNLOAD_VARSET"); v != "" {
		cfg.DownloadVarset = v
	}

	logger.L().Debug("config_loaded",
		"region", cfg.Region,
		"database", cfg.Database,
		"table", cfg.DefaultTable,
		"alt_table", cfg.AltTable,
		"workgroup", cfg.Workgroup,
		"dataset", cfg.Dataset,
	)
	return cfg, nil
}
