package wtk

import (
	"context"
	"fmt"
	"strings"

	"windwatts/internal/athena"
	"windwatts/internal/config"
	"windwatts/internal/locations"
	"windwatts/internal/table"
)

// FullHourlyClient：全小时粒度表（time_index=YYYYMMDDHH）的查询门面
// 背景：相比年均表，这张表保留逐小时记录，统计在远端用 SQL 聚合或取回后本地聚合两条路都走
type FullHourlyClient struct {
	*Client
}

func NewFullHourlyClient(ctx context.Context, cfg *config.Config, eng executor, obj athena.ObjectAPI, recs []locations.Record) (*FullHourlyClient, error) {
	base, err := NewClient(ctx, cfg, eng, obj, recs)
	if err != nil {
		return nil, err
	}
	return &FullHourlyClient{Client: base}, nil
}

// Stats：单点单高度的全套风速统计
type Stats struct {
	GlobalAvg  float64
	YearlyAvg  []table.Bucket
	MonthlyAvg []table.Bucket
	DailyAvg   []table.Bucket
	HourlyAvg  []table.Bucket
}

// fetchWindspeedAtHeight：取单点全列时序（含 time_index、year）
func (f *FullHourlyClient) fetchWindspeedAtHeight(ctx context.Context, lat, long float64, height int) (*table.Table, error) {
	if err := validCoord(lat, long); err != nil {
		return nil, err
	}
	ok, err := f.resolver.Has(height)
	if err != nil {
		return nil, fmt.Errorf("wtk: validate height: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: height %dm not present in dataset", ErrInvalidArgument, height)
	}
	f.resetIndex(true)
	if !contains(f.columns, f.windspeedColumn(height)) {
		return nil, fmt.Errorf("%w: column %q does not exist in table %s", ErrInvalidArgument, f.windspeedColumn(height), f.tableName)
	}
	pred, err := f.locationPredicate(lat, long, 1)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT * FROM %s WHERE 1=1%s", f.tableName, pred)
	res, err := f.engine.Execute(ctx, query, athena.Options{Mode: athena.ModeTable})
	if err != nil {
		return nil, fmt.Errorf("wtk: fetch hourly timeseries: %w", err)
	}
	return res.Table, nil
}

// WindwattsStats：全小时表上的单点风速统计（全局/逐年/逐月/逐日/逐时均值）
// 背景：月日时从 time_index（YYYYMMDDHH）子串派生后本地分组求均值，所有均值保留两位小数
func (f *FullHourlyClient) WindwattsStats(ctx context.Context, lat, long float64, height int) (*Stats, error) {
	tbl, err := f.fetchWindspeedAtHeight(ctx, lat, long, height)
	if err != nil {
		return nil, err
	}
	if tbl.Len() == 0 {
		return nil, fmt.Errorf("%w: no rows for location (%v, %v)", ErrNoData, lat, long)
	}
	col := f.windspeedColumn(height)
	global, err := tbl.Mean(col)
	if err != nil {
		return nil, fmt.Errorf("wtk: global average: %w", err)
	}
	out := &Stats{GlobalAvg: table.Round2(global)}
	parts := []struct {
		dst   *[]table.Bucket
		keyFn func(row int) (int, bool)
		name  string
	}{
		{&out.YearlyAvg, tbl.IntKey("year"), "yearly"},
		{&out.MonthlyAvg, timeIndexKey(tbl, 4, 6), "monthly"},
		{&out.DailyAvg, timeIndexKey(tbl, 6, 8), "daily"},
		{&out.HourlyAvg, timeIndexKey(tbl, 8, 10), "hourly"},
	}
	for _, p := range parts {
		buckets, err := tbl.GroupMean(col, p.keyFn)
		if err != nil {
			return nil, fmt.Errorf("wtk: %s average: %w", p.name, err)
		}
		*p.dst = buckets
	}
	return out, nil
}

// timeIndexKey：从 time_index（YYYYMMDDHH）的 [lo, hi) 子串派生分组键
func timeIndexKey(t *table.Table, lo, hi int) func(row int) (int, bool) {
	return func(row int) (int, bool) {
		cell, ok := t.Cell(row, "time_index")
		if !ok || len(cell) < hi {
			return 0, false
		}
		var v int
		for _, c := range cell[lo:hi] {
			if c < '0' || c > '9' {
				return 0, false
			}
			v = v*10 + int(c-'0')
		}
		return v, true
	}
}

// TimeseriesRequest：单点（或最近 n 点）的风速/风向时序请求
type TimeseriesRequest struct {
	Lat, Long float64
	Heights   []int
	Years     []int
	NNearest  int
	Varset    string
}

// Timeseries：取指定高度集合的风速与风向时序
// 约束：高度映射出的列只保留 windspeed/winddirection 前缀；NNearest 取值 1..16
func (f *FullHourlyClient) Timeseries(ctx context.Context, req TimeseriesRequest) (*table.Table, error) {
	if err := validCoord(req.Lat, req.Long); err != nil {
		return nil, err
	}
	if len(req.Heights) == 0 {
		return nil, fmt.Errorf("%w: heights must be a non-empty list", ErrInvalidArgument)
	}
	n := req.NNearest
	if n == 0 {
		n = 1
	}
	if n < 1 || n > 16 {
		return nil, fmt.Errorf("%w: n_nearest must be between 1 and 16", ErrInvalidArgument)
	}
	f.resetIndex(true)
	cols, err := f.windColumns(req.Heights)
	if err != nil {
		return nil, err
	}
	cols = append(cols, "year", "time_index", "index")
	query := fmt.Sprintf("SELECT %s FROM %s WHERE 1=1", strings.Join(cols, ", "), f.cfg.DefaultTable)
	if len(req.Years) > 0 {
		query += " AND year IN (" + intList(req.Years) + ")"
	}
	pred, err := f.locationPredicate(req.Lat, req.Long, n)
	if err != nil {
		return nil, err
	}
	query += pred
	query += varsetFilter(req.Varset)
	res, err := f.engine.Execute(ctx, query, athena.Options{Mode: athena.ModeTable})
	if err != nil {
		return nil, fmt.Errorf("wtk: fetch timeseries: %w", err)
	}
	return res.Table, nil
}

// windColumns：高度集合解析为风速/风向列，其他变量列丢弃
func (f *FullHourlyClient) windColumns(heights []int) ([]string, error) {
	resolved, err := f.resolver.Resolve(heights)
	if err != nil {
		return nil, fmt.Errorf("wtk: resolve height columns: %w", err)
	}
	var cols []string
	for _, c := range resolved {
		if strings.HasPrefix(c, "windspeed") || strings.HasPrefix(c, "winddirection") {
			cols = append(cols, c)
		}
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("%w: no windspeed/winddirection columns for requested heights", ErrInvalidArgument)
	}
	return cols, nil
}

// indexFromPath：结果里没有 index 列时从数据文件路径反解网格点 id
const indexFromPath = `regexp_extract("$path", '.*/index=([^/]+)/.*', 1) AS index`

// MapRequest：全域（所有网格点）的风场切片请求
// 约束：年月日时四个过滤维度都必须给出，否则扫描量不可控
type MapRequest struct {
	Heights []int
	Years   []int
	Months  []int
	Days    []int
	Hours   []int
	Varset  string
}

// Map：给定时间切片下全部网格点的风速/风向
func (f *FullHourlyClient) Map(ctx context.Context, req MapRequest) (*table.Table, error) {
	if len(req.Heights) == 0 {
		return nil, fmt.Errorf("%w: heights must be a non-empty list", ErrInvalidArgument)
	}
	if len(req.Years) == 0 || len(req.Months) == 0 || len(req.Days) == 0 || len(req.Hours) == 0 {
		return nil, fmt.Errorf("%w: years, months, days and hours must each have at least one value", ErrInvalidArgument)
	}
	if err := validateTimeFilters(req.Months, req.Days, req.Hours); err != nil {
		return nil, err
	}
	f.resetIndex(false)
	cols, err := f.windColumns(req.Heights)
	if err != nil {
		return nil, err
	}
	cols = append(cols, "time_index", "year")
	query := fmt.Sprintf("SELECT %s, %s FROM %s WHERE 1=1", strings.Join(cols, ", "), indexFromPath, f.tableName)
	query += timeFilters(req.Years, req.Months, req.Days, req.Hours)
	query += varsetFilter(req.Varset)
	res, err := f.engine.Execute(ctx, query, athena.Options{Mode: athena.ModeTable})
	if err != nil {
		return nil, fmt.Errorf("wtk: fetch map: %w", err)
	}
	return res.Table, nil
}

// FilterRequest：通用过滤取数请求（时序与切片的合流）
// 约束：Columns 与 Heights 二选一；HasLocation 为真时 Lat/Long 生效
type FilterRequest struct {
	Columns     []string
	Years       []int
	Months      []int
	Days        []int
	Hours       []int
	HasLocation bool
	Lat, Long   float64
	Heights     []int
	NNearest    int
	Varset      string
}

// FilterResult：带位置时取回表格；不带位置时只返回结果文件的存储位置，由调用方自行搬运
type FilterResult struct {
	Table    *table.Table
	Location string
}

// Filtered：通用过滤取数
func (f *FullHourlyClient) Filtered(ctx context.Context, req FilterRequest) (*FilterResult, error) {
	if len(req.Columns) > 0 && len(req.Heights) > 0 {
		return nil, fmt.Errorf("%w: specify either columns or heights, not both", ErrInvalidArgument)
	}
	n := req.NNearest
	if n == 0 {
		n = 1
	}
	if n < 1 || n > 16 {
		return nil, fmt.Errorf("%w: n_nearest must be between 1 and 16", ErrInvalidArgument)
	}
	if err := validateTimeFilters(req.Months, req.Days, req.Hours); err != nil {
		return nil, err
	}
	if req.HasLocation {
		if err := validCoord(req.Lat, req.Long); err != nil {
			return nil, err
		}
	}
	f.resetIndex(req.HasLocation)

	cols := req.Columns
	switch {
	case len(req.Heights) > 0:
		resolved, err := f.resolver.Resolve(req.Heights)
		if err != nil {
			return nil, fmt.Errorf("wtk: resolve height columns: %w", err)
		}
		cols = append(resolved, "time_index", "year")
	case len(cols) > 0:
		for _, c := range cols {
			if !contains(f.columns, c) {
				return nil, fmt.Errorf("%w: column %q does not exist in table %s", ErrInvalidArgument, c, f.tableName)
			}
		}
	default:
		cols = remove(f.Columns(), "index")
	}

	query := "SELECT " + strings.Join(cols, ", ")
	if req.HasLocation {
		query += ", index"
	} else {
		query += ", " + indexFromPath
	}
	query += fmt.Sprintf(" FROM %s WHERE 1=1", f.tableName)
	query += timeFilters(req.Years, req.Months, req.Days, req.Hours)
	query += varsetFilter(req.Varset)

	if req.HasLocation {
		pred, err := f.locationPredicate(req.Lat, req.Long, n)
		if err != nil {
			return nil, err
		}
		query += pred
		res, err := f.engine.Execute(ctx, query, athena.Options{Mode: athena.ModeTable})
		if err != nil {
			return nil, fmt.Errorf("wtk: fetch filtered data: %w", err)
		}
		return &FilterResult{Table: res.Table}, nil
	}
	res, err := f.engine.Execute(ctx, query, athena.Options{Mode: athena.ModeLocationOnly})
	if err != nil {
		return nil, fmt.Errorf("wtk: fetch filtered data: %w", err)
	}
	return &FilterResult{Location: res.Location}, nil
}

// 允许下推到远端的聚合函数白名单，防止把任意 SQL 片段拼进查询
var allowedStatistics = map[string]bool{
	"AVG": true, "SUM": true, "MIN": true, "MAX": true, "COUNT": true, "STDDEV": true,
}

// StatisticRequest：远端聚合统计请求
type StatisticRequest struct {
	Columns      []string
	Statistic    string
	HasLocation  bool
	Lat, Long    float64
	NNearest     int
	Heights      []int
	Years        []int
	Months       []int
	Days         []int
	Hours        []int
	GroupByIndex bool
	GroupByYear  bool
	GroupByMonth bool
	GroupByDay   bool
	GroupByHour  bool
	OrderBy      string
	OrderDir     string
}

// Statistic：在远端对选定列做聚合，可选按网格点/年/月/日/时分组
// 约束：OrderBy 只能引用 SELECT 子句里的别名；ORDER BY 在执行前拼入查询
func (f *FullHourlyClient) Statistic(ctx context.Context, req StatisticRequest) (*table.Table, error) {
	stat := strings.ToUpper(req.Statistic)
	if stat == "" {
		stat = "AVG"
	}
	if !allowedStatistics[stat] {
		return nil, fmt.Errorf("%w: unsupported statistic %q", ErrInvalidArgument, req.Statistic)
	}
	n := req.NNearest
	if n == 0 {
		n = 1
	}
	if n < 1 || n > 16 {
		return nil, fmt.Errorf("%w: n_nearest must be between 1 and 16", ErrInvalidArgument)
	}
	if err := validateTimeFilters(req.Months, req.Days, req.Hours); err != nil {
		return nil, err
	}
	if len(req.Columns) > 0 && len(req.Heights) > 0 {
		return nil, fmt.Errorf("%w: specify either columns or heights, not both", ErrInvalidArgument)
	}
	if req.HasLocation {
		if err := validCoord(req.Lat, req.Long); err != nil {
			return nil, err
		}
	}
	f.resetIndex(req.HasLocation)

	cols := req.Columns
	switch {
	case len(req.Heights) > 0:
		resolved, err := f.resolver.Resolve(req.Heights)
		if err != nil {
			return nil, fmt.Errorf("wtk: resolve height columns: %w", err)
		}
		cols = resolved
	case len(cols) > 0:
		for _, c := range cols {
			if !contains(f.columns, c) {
				return nil, fmt.Errorf("%w: column %q does not exist in table %s", ErrInvalidArgument, c, f.tableName)
			}
		}
	default:
		cols = f.Columns()
		for _, drop := range []string{"time_index", "varset", "year", "index"} {
			cols = remove(cols, drop)
		}
	}

	selects := make([]string, 0, len(cols)+5)
	aliases := make([]string, 0, len(cols)+5)
	for _, c := range cols {
		alias := fmt.Sprintf("%s_%s", c, strings.ToLower(stat))
		selects = append(selects, fmt.Sprintf("%s(%s) AS %s", stat, c, alias))
		aliases = append(aliases, alias)
	}
	var groupBy []string
	addGroup := func(expr, alias string) {
		if expr == alias {
			selects = append(selects, expr)
		} else {
			selects = append(selects, expr+" AS "+alias)
		}
		aliases = append(aliases, alias)
		groupBy = append(groupBy, expr)
	}
	if n > 1 && req.GroupByIndex {
		addGroup("index", "index")
	}
	if req.GroupByYear {
		addGroup("year", "year")
	}
	if req.GroupByMonth {
		addGroup(monthExpr, "month")
	}
	if req.GroupByDay {
		addGroup(dayExpr, "day")
	}
	if req.GroupByHour {
		addGroup(hourExpr, "hour")
	}

	if req.OrderBy != "" && !contains(aliases, strings.ToLower(req.OrderBy)) {
		return nil, fmt.Errorf("%w: order_by column %q must be one of the selected columns (%s)",
			ErrInvalidArgument, req.OrderBy, strings.Join(aliases, ", "))
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE 1=1", strings.Join(selects, ", "), f.tableName)
	if req.HasLocation {
		pred, err := f.locationPredicate(req.Lat, req.Long, n)
		if err != nil {
			return nil, err
		}
		query += pred
	}
	query += timeFilters(req.Years, req.Months, req.Days, req.Hours)
	if len(groupBy) > 0 {
		query += " GROUP BY " + strings.Join(groupBy, ", ")
	}
	if req.OrderBy != "" {
		dir := strings.ToUpper(req.OrderDir)
		if dir == "" {
			dir = "ASC"
		}
		if dir != "ASC" && dir != "DESC" {
			return nil, fmt.Errorf("%w: order direction must be ASC or DESC", ErrInvalidArgument)
		}
		query += fmt.Sprintf(" ORDER BY %s %s", strings.ToLower(req.OrderBy), dir)
	}

	res, err := f.engine.Execute(ctx, query, athena.Options{Mode: athena.ModeTable})
	if err != nil {
		return nil, fmt.Errorf("wtk: compute statistic: %w", err)
	}
	return res.Table, nil
}

// validateTimeFilters：月/日/时过滤值的范围校验
func validateTimeFilters(months, days, hours []int) error {
	if err := validateIntRange("months", months, 1, 12); err != nil {
		return err
	}
	if err := validateIntRange("days", days, 1, 31); err != nil {
		return err
	}
	return validateIntRange("hours", hours, 0, 23)
}

// timeFilters：年/月/日/时过滤子句，月日时走 time_index 子串比较
func timeFilters(years, months, days, hours []int) string {
	var b strings.Builder
	if len(years) > 0 {
		b.WriteString(" AND year IN (" + intList(years) + ")")
	}
	if len(months) > 0 {
		b.WriteString(" AND " + monthExpr + " IN (" + paddedList(months) + ")")
	}
	if len(days) > 0 {
		b.WriteString(" AND " + dayExpr + " IN (" + paddedList(days) + ")")
	}
	if len(hours) > 0 {
		b.WriteString(" AND " + hourExpr + " IN (" + paddedList(hours) + ")")
	}
	return b.String()
}

// varsetFilter：变量集过滤，空串表示不过滤
func varsetFilter(varset string) string {
	if varset == "" {
		return ""
	}
	return fmt.Sprintf(" AND varset = '%s'", varset)
}
