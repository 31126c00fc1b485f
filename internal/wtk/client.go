// 包 wtk：风资源数据集的查询门面
// 背景：把"坐标/高度/时间过滤 → 最近网格点 → 列解析 → 远端查询 → 表格结果"的链路收敛为少量方法；
// 单实例内同一时刻只有一个查询在途，会话状态不做内部加锁
package wtk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"windwatts/internal/athena"
	"windwatts/internal/config"
	"windwatts/internal/locations"
	"windwatts/internal/logger"
	"windwatts/internal/schema"
	"windwatts/internal/spatial"
)

var (
	// ErrInvalidArgument：调用方输入不合法（范围、组合、类型）
	ErrInvalidArgument = errors.New("wtk: invalid argument")
	// ErrNoData：查询成功但结果为空，无法计算统计量
	ErrNoData = errors.New("wtk: no data available")
)

// executor：查询执行引擎的最小抽象，便于测试注入
type executor interface {
	Execute(ctx context.Context, query string, opts athena.Options) (*athena.Result, error)
}

// Client：查询门面的公共底座
// 约束：列缓存按表名隔离；活动表在"按位置过滤"与"全域统计"之间切换时，index 列随之加入/移出活动列集合
type Client struct {
	cfg      *config.Config
	engine   executor
	obj      athena.ObjectAPI
	locator  *spatial.Locator
	resolver *schema.Resolver

	tableName string
	columns   []string
	colCache  map[string][]string
	log       *slog.Logger
}

// NewClient：构造底座并完成一次性初始化
// 背景：列集合来自一条 DESCRIBE 查询（远端往返），位置索引与高度映射在此处同步构建；
// 任一步骤失败都让构造失败，避免半初始化实例流入业务代码
func NewClient(ctx context.Context, cfg *config.Config, eng executor, obj athena.ObjectAPI, recs []locations.Record) (*Client, error) {
	c := &Client{
		cfg:       cfg,
		engine:    eng,
		obj:       obj,
		locator:   spatial.NewLocator(recs),
		resolver:  schema.NewResolver(schema.ExtractorFor(cfg.Dataset)),
		tableName: cfg.DefaultTable,
		colCache:  make(map[string][]string),
		log:       logger.Named("wtk"),
	}
	cols, err := c.describeColumns(ctx, cfg.DefaultTable)
	if err != nil {
		return nil, fmt.Errorf("wtk: initialize columns: %w", err)
	}
	c.columns = append([]string(nil), cols...)
	c.resolver.Init(cols)
	c.locator.Build()
	return c, nil
}

// describeColumns：表结构自省，按表名缓存
func (c *Client) describeColumns(ctx context.Context, tableName string) ([]string, error) {
	if cols, ok := c.colCache[tableName]; ok {
		return cols, nil
	}
	res, err := c.engine.Execute(ctx, "DESCRIBE "+tableName, athena.Options{Mode: athena.ModeRawRows})
	if err != nil {
		return nil, err
	}
	cols := schema.ParseDescribe(res.Raw.Rows)
	c.colCache[tableName] = cols
	c.log.Debug("columns_described", "table", tableName, "columns", len(cols))
	return cols, nil
}

// resetIndex：按查询形态切换活动表与活动列
// 背景：按位置过滤的统计走默认表并依赖 index 列；全域统计走备用表，结果里没有 index 列
func (c *Client) resetIndex(hasLocation bool) {
	if hasLocation {
		c.tableName = c.cfg.DefaultTable
		if !contains(c.columns, schema.Marker) {
			c.columns = append(c.columns, schema.Marker)
		}
		return
	}
	c.tableName = c.cfg.AltTable
	c.columns = remove(c.columns, schema.Marker)
}

// Columns：当前活动列集合（副本）
func (c *Client) Columns() []string {
	return append([]string(nil), c.columns...)
}

// Heights：数据中可用的高度
func (c *Client) Heights() ([]int, error) {
	return c.resolver.Heights()
}

// RelevantColumns：请求高度到列集合（精确或上下邻）
func (c *Client) RelevantColumns(heights []int) ([]string, error) {
	return c.resolver.Resolve(heights)
}

// FindNearest：最近网格点 id
func (c *Client) FindNearest(lat, long float64) (string, error) {
	return c.locator.Nearest(lat, long)
}

// FindNearestN：最近 n 个网格点 id（按距离不减）
func (c *Client) FindNearestN(lat, long float64, n int) ([]string, error) {
	return c.locator.NearestN(lat, long, n)
}

// windspeedColumn：指定高度的风速列名，按数据源风格拼接
func (c *Client) windspeedColumn(height int) string {
	if c.cfg.Dataset == config.DatasetERA5 {
		return fmt.Sprintf("ws%d", height)
	}
	return fmt.Sprintf("windspeed_%dm", height)
}

// validCoord：经纬度必须是有限数
func validCoord(lat, long float64) error {
	if math.IsNaN(lat) || math.IsInf(lat, 0) || math.IsNaN(long) || math.IsInf(long, 0) {
		return fmt.Errorf("%w: lat/long must be finite numbers", ErrInvalidArgument)
	}
	return nil
}

// locationPredicate：最近 n 点的 index IN (…) 谓词
func (c *Client) locationPredicate(lat, long float64, n int) (string, error) {
	ids, err := c.locator.NearestN(lat, long, n)
	if err != nil {
		return "", fmt.Errorf("wtk: resolve nearest locations: %w", err)
	}
	return " AND index IN (" + quoteList(ids) + ")", nil
}

// quoteList：'a', 'b', 'c'
func quoteList(items []string) string {
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = "'" + s + "'"
	}
	return strings.Join(quoted, ", ")
}

// intList：'2020', '2021'
func intList(items []int) string {
	quoted := make([]string, len(items))
	for i, v := range items {
		quoted[i] = fmt.Sprintf("'%d'", v)
	}
	return strings.Join(quoted, ", ")
}

// paddedList：'01', '02'（time_index 子串比较按两位零填充）
func paddedList(items []int) string {
	quoted := make([]string, len(items))
	for i, v := range items {
		quoted[i] = fmt.Sprintf("'%02d'", v)
	}
	return strings.Join(quoted, ", ")
}

// time_index（YYYYMMDDHH）中月/日/时的 SQL 子串表达式
const (
	monthExpr = "SUBSTRING(CAST(time_index AS VARCHAR), 5, 2)"
	dayExpr   = "SUBSTRING(CAST(time_index AS VARCHAR), 7, 2)"
	hourExpr  = "SUBSTRING(CAST(time_index AS VARCHAR), 9, 2)"
)

func contains(items []string, want string) bool {
	for _, s := range items {
		if s == want {
			return true
		}
	}
	return false
}

func remove(items []string, drop string) []string {
	out := items[:0]
	for _, s := range items {
		if s != drop {
			out = append(out, s)
		}
	}
	return out
}

// validateIntRange：列表元素范围校验
func validateIntRange(name string, items []int, lo, hi int) error {
	for _, v := range items {
		if v < lo || v > hi {
			return fmt.Errorf("%w: %s value %d out of range [%d, %d]", ErrInvalidArgument, name, v, lo, hi)
		}
	}
	return nil
}
