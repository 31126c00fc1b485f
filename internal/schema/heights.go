// 包 schema：表结构自省结果的解析，以及请求高度到数据列的映射
package schema

import (
	"errors"
	"sort"
	"strconv"
	"strings"

	"windwatts/internal/config"
	"windwatts/internal/logger"
)

// ErrNotInitialized：尚未装载任何列集合时请求高度解析
var ErrNotInitialized = errors.New("schema: height map not initialized")

// Marker：行定位列名；DESCRIBE 结果在该列之后是服务端内部的尾部元数据，需要截断
const Marker = "index"

// HeightExtractor：从列名提取高度（米）的策略
// 背景：wtk 列名以 _NNm 结尾（windspeed_30m），era5 以前缀后直接跟数字（ws100）；
// 策略在配置装载时一次性确定，避免运行期按列名猜测数据源
type HeightExtractor interface {
	Extract(column string) (int, bool)
}

// SuffixExtractor：wtk 风格，取末段 _NNm 中的数值
type SuffixExtractor struct{}

func (SuffixExtractor) Extract(column string) (int, bool) {
	if !strings.HasSuffix(column, "m") {
		return 0, false
	}
	parts := strings.Split(column, "_")
	last := parts[len(parts)-1]
	h, err := strconv.Atoi(strings.TrimSuffix(last, "m"))
	if err != nil {
		return 0, false
	}
	return h, true
}

// PrefixExtractor：era5 风格，跳过两字符变量前缀后取数值（ws100 → 100）
type PrefixExtractor struct{}

func (PrefixExtractor) Extract(column string) (int, bool) {
	if len(column) <= 2 {
		return 0, false
	}
	h, err := strconv.Atoi(column[2:])
	if err != nil {
		return 0, false
	}
	return h, true
}

// ExtractorFor：按数据源选择提取策略
func ExtractorFor(dataset string) HeightExtractor {
	if dataset == config.DatasetERA5 {
		return PrefixExtractor{}
	}
	return SuffixExtractor{}
}

// ParseDescribe：解析 DESCRIBE 原始行为列名列表
// 背景：Athena 的 DESCRIBE 每行是 "列名\t类型" 的单元格；列定义之后还会输出分区等附加段落
// 约束：在 Marker 列的最后一次出现处截断（含该列）；Marker 缺失时不截断，仅记录 debug 日志
func ParseDescribe(rows [][]string) []string {
	var cols []string
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		name := strings.TrimSpace(strings.SplitN(row[0], "\t", 2)[0])
		if name == "" {
			continue
		}
		cols = append(cols, name)
	}
	cut := -1
	for i, c := range cols {
		if c == Marker {
			cut = i
		}
	}
	if cut < 0 {
		logger.L().Debug("describe_marker_absent", "marker", Marker, "columns", len(cols))
		return cols
	}
	return cols[:cut+1]
}

// Resolver：高度到列集合的解析器
// 约束：单会话内使用，无内部加锁；Init 以新列集合整体重建映射
type Resolver struct {
	ex       HeightExtractor
	byHeight map[int][]string
	heights  []int
}

func NewResolver(ex HeightExtractor) *Resolver {
	return &Resolver{ex: ex}
}

// Init：按列集合构建高度映射
// 背景：同一高度通常有风速与风向两列；无法解析出高度的列（year、time_index 等）静默跳过
func (r *Resolver) Init(columns []string) {
	byHeight := make(map[int][]string)
	for _, c := range columns {
		h, ok := r.ex.Extract(c)
		if !ok {
			continue
		}
		byHeight[h] = append(byHeight[h], c)
	}
	heights := make([]int, 0, len(byHeight))
	for h := range byHeight {
		heights = append(heights, h)
	}
	sort.Ints(heights)
	r.byHeight = byHeight
	r.heights = heights
	logger.L().Debug("height_map_built", "heights", len(heights))
}

// Initialized：是否已装载列集合
func (r *Resolver) Initialized() bool { return r.byHeight != nil }

// Heights：可用高度（升序）
func (r *Resolver) Heights() ([]int, error) {
	if r.byHeight == nil {
		return nil, ErrNotInitialized
	}
	out := make([]int, len(r.heights))
	copy(out, r.heights)
	return out, nil
}

// Has：高度是否恰好存在于数据中
func (r *Resolver) Has(h int) (bool, error) {
	if r.byHeight == nil {
		return false, ErrNotInitialized
	}
	_, ok := r.byHeight[h]
	return ok, nil
}

// Resolve：请求高度列表到相关列集合
// 背景：精确命中取该高度全部列；否则取最近的下邻与上邻（两者存在且不同则并取）；
// 下上邻均不存在（空映射）时该高度不贡献任何列
// 返回：去重后按字典序排序的列名
func (r *Resolver) Resolve(requested []int) ([]string, error) {
	if r.byHeight == nil {
		return nil, ErrNotInitialized
	}
	seen := make(map[string]bool)
	var out []string
	add := func(h int) {
		for _, c := range r.byHeight[h] {
			if !seen[c] {
				seen[c] = true
				out = append(out, c)
			}
		}
	}
	for _, want := range requested {
		if _, ok := r.byHeight[want]; ok {
			add(want)
			continue
		}
		lower, upper, hasLower, hasUpper := r.neighbors(want)
		if hasLower {
			add(lower)
		}
		if hasUpper && (!hasLower || upper != lower) {
			add(upper)
		}
	}
	sort.Strings(out)
	return out, nil
}

// neighbors：want 的最近下邻与上邻高度
func (r *Resolver) neighbors(want int) (lower, upper int, hasLower, hasUpper bool) {
	for _, h := range r.heights {
		if h <= want {
			lower, hasLower = h, true
		}
		if h >= want && !hasUpper {
			upper, hasUpper = h, true
		}
	}
	return
}
