package wtk

import (
	"context"
	"fmt"

	"windwatts/internal/athena"
	"windwatts/internal/config"
	"windwatts/internal/locations"
	"windwatts/internal/metrics"
	"windwatts/internal/table"
)

// Granularity：聚合粒度
type Granularity string

const (
	GranGlobal  Granularity = "global"
	GranYearly  Granularity = "yearly"
	GranMonthly Granularity = "monthly"
	GranHourly  Granularity = "hourly"
)

// Aggregate：单粒度的聚合结果
// 约束：Global 粒度填 Value，其余粒度填 Series（键升序）
type Aggregate struct {
	Granularity Granularity
	Value       float64
	Series      []table.Bucket
}

// aggState：会话状态快照
// 背景：状态整体替换而不原位修改，失败路径丢弃快照即可回到旧状态；
// 均值备忘录挂在快照上，坐标或高度一变整段作废
type aggState struct {
	hasLoc    bool
	lat, long float64
	hasHeight bool
	height    int
	tbl       *table.Table

	global  *float64
	yearly  []table.Bucket
	monthly []table.Bucket
	hourly  []table.Bucket
}

// dropTable：查询失败后作废缓存表，保留坐标以外的输入无意义，一并清空
func (s aggState) dropTable() aggState {
	return aggState{hasHeight: s.hasHeight, height: s.height}
}

// clearMemo：换高度后清空均值备忘录，时序表仍然有效
func (s aggState) clearMemo() aggState {
	s.global = nil
	s.yearly = nil
	s.monthly = nil
	s.hourly = nil
	return s
}

// StatsClient：单点风速统计（年均表）
// 背景：底层表按网格点预聚合到 (year, mohr) 粒度，一次取全表后各粒度均值均可本地计算并备忘
type StatsClient struct {
	*Client
	state aggState
}

func NewStatsClient(ctx context.Context, cfg *config.Config, eng executor, obj athena.ObjectAPI, recs []locations.Record) (*StatsClient, error) {
	base, err := NewClient(ctx, cfg, eng, obj, recs)
	if err != nil {
		return nil, err
	}
	return &StatsClient{Client: base}, nil
}

// Fetch：确保缓存表对应 (lat, long) 的最近网格点
// 返回：是否发起了新的远端查询
// 约束：坐标与缓存坐标按位相等且表在手时直接短路；查询失败时作废缓存表，错误向上透传
func (s *StatsClient) Fetch(ctx context.Context, lat, long float64) (bool, error) {
	if err := validCoord(lat, long); err != nil {
		return false, err
	}
	if s.state.tbl != nil && s.state.hasLoc && s.state.lat == lat && s.state.long == long {
		metrics.AggregateHitsTotal.Inc()
		return false, nil
	}
	metrics.AggregateMissesTotal.Inc()
	s.resetIndex(true)
	id, err := s.locator.Nearest(lat, long)
	if err != nil {
		return false, fmt.Errorf("wtk: resolve nearest location: %w", err)
	}
	query := fmt.Sprintf("SELECT * FROM %s WHERE 1=1 AND index IN ('%s')", s.tableName, id)
	res, err := s.engine.Execute(ctx, query, athena.Options{Mode: athena.ModeTable, ReducePoll: true})
	if err != nil {
		s.state = s.state.dropTable()
		return false, fmt.Errorf("wtk: fetch aggregates: %w", err)
	}
	next := s.state.clearMemo()
	next.tbl = res.Table
	next.hasLoc = true
	next.lat = lat
	next.long = long
	s.state = next
	s.log.Info("aggregates_fetched", "location", id, "rows", res.Table.Len())
	return true, nil
}

// Average：指定坐标、高度、粒度的平均风速
// 约束：高度必须恰好存在于数据中；换高度只清备忘录不重查；同坐标同高度同粒度直接回备忘值
func (s *StatsClient) Average(ctx context.Context, lat, long float64, height int, g Granularity) (*Aggregate, error) {
	ok, err := s.resolver.Has(height)
	if err != nil {
		return nil, fmt.Errorf("wtk: validate height: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: height %dm not present in dataset", ErrInvalidArgument, height)
	}
	if !s.state.hasHeight || s.state.height != height {
		next := s.state.clearMemo()
		next.hasHeight = true
		next.height = height
		s.state = next
	}
	if _, err := s.Fetch(ctx, lat, long); err != nil {
		return nil, err
	}
	if s.state.tbl == nil || s.state.tbl.Len() == 0 {
		return nil, fmt.Errorf("%w: no rows for location (%v, %v)", ErrNoData, lat, long)
	}
	switch g {
	case GranGlobal:
		return s.globalAvg()
	case GranYearly:
		return s.seriesAvg(g, s.state.yearly,
			func(st *aggState, b []table.Bucket) { st.yearly = b },
			s.state.tbl.IntKey("year"))
	case GranMonthly:
		return s.seriesAvg(g, s.state.monthly,
			func(st *aggState, b []table.Bucket) { st.monthly = b },
			mohrKey(s.state.tbl, func(mohr int) int { return mohr / 100 }))
	case GranHourly:
		return s.seriesAvg(g, s.state.hourly,
			func(st *aggState, b []table.Bucket) { st.hourly = b },
			mohrKey(s.state.tbl, func(mohr int) int { return mohr % 100 }))
	default:
		return nil, fmt.Errorf("%w: unknown granularity %q", ErrInvalidArgument, g)
	}
}

func (s *StatsClient) globalAvg() (*Aggregate, error) {
	if s.state.global != nil {
		metrics.AggregateHitsTotal.Inc()
		return &Aggregate{Granularity: GranGlobal, Value: *s.state.global}, nil
	}
	v, err := s.state.tbl.Mean(s.windspeedColumn(s.state.height))
	if err != nil {
		return nil, fmt.Errorf("wtk: global average: %w", err)
	}
	v = table.Round2(v)
	next := s.state
	next.global = &v
	s.state = next
	return &Aggregate{Granularity: GranGlobal, Value: v}, nil
}

// seriesAvg：分组均值，算出后写入新快照的对应槽位
func (s *StatsClient) seriesAvg(g Granularity, cached []table.Bucket, store func(st *aggState, b []table.Bucket), keyFn func(row int) (int, bool)) (*Aggregate, error) {
	if cached != nil {
		metrics.AggregateHitsTotal.Inc()
		return &Aggregate{Granularity: g, Series: cached}, nil
	}
	buckets, err := s.state.tbl.GroupMean(s.windspeedColumn(s.state.height), keyFn)
	if err != nil {
		return nil, fmt.Errorf("wtk: %s average: %w", g, err)
	}
	next := s.state
	store(&next, buckets)
	s.state = next
	return &Aggregate{Granularity: g, Series: buckets}, nil
}

// mohrKey：从 mohr 列（月*100+时）派生分组键
func mohrKey(t *table.Table, derive func(mohr int) int) func(row int) (int, bool) {
	raw := t.IntKey("mohr")
	return func(row int) (int, bool) {
		mohr, ok := raw(row)
		if !ok {
			return 0, false
		}
		return derive(mohr), true
	}
}
