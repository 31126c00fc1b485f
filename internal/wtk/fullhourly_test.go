package wtk

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"windwatts/internal/athena"
	"windwatts/internal/table"
)

func newTestFullHourly(t *testing.T, fe *fakeExec) *FullHourlyClient {
	t.Helper()
	fe.describe = describeRows()
	c, err := NewFullHourlyClient(context.Background(), testConfig(), fe, &fakeObjects{}, testRecords())
	require.NoError(t, err)
	return c
}

func lastQuery(fe *fakeExec) string { return fe.queries[len(fe.queries)-1] }

func TestWindwattsStats(t *testing.T) {
	fe := &fakeExec{result: &athena.Result{Table: hourlyTable()}}
	c := newTestFullHourly(t, fe)

	stats, err := c.WindwattsStats(context.Background(), 0.1, 0.1, 30)
	require.NoError(t, err)

	assert.InDelta(t, 6.0, stats.GlobalAvg, 0.001)
	assert.Equal(t, []table.Bucket{{Key: 2020, Value: 5.0}, {Key: 2021, Value: 8.0}}, stats.YearlyAvg)
	assert.Equal(t, []table.Bucket{{Key: 1, Value: 5.0}, {Key: 2, Value: 8.0}}, stats.MonthlyAvg)
	assert.Equal(t, []table.Bucket{{Key: 1, Value: 6.0}, {Key: 2, Value: 6.0}}, stats.DailyAvg)
	assert.Equal(t, []table.Bucket{{Key: 6, Value: 6.0}, {Key: 12, Value: 6.0}}, stats.HourlyAvg)
	assert.Contains(t, lastQuery(fe), "index IN ('000001')")
}

func TestWindwattsStatsUnknownHeight(t *testing.T) {
	fe := &fakeExec{result: &athena.Result{Table: hourlyTable()}}
	c := newTestFullHourly(t, fe)

	_, err := c.WindwattsStats(context.Background(), 0.1, 0.1, 45)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestTimeseriesQuery(t *testing.T) {
	fe := &fakeExec{result: &athena.Result{Table: hourlyTable()}}
	c := newTestFullHourly(t, fe)

	_, err := c.Timeseries(context.Background(), TimeseriesRequest{
		Lat: 0.9, Long: 0.9,
		Heights:  []int{30},
		Years:    []int{2020, 2021},
		NNearest: 2,
		Varset:   "all",
	})
	require.NoError(t, err)

	want := "SELECT winddirection_30m, windspeed_30m, year, time_index, index FROM wtk_led WHERE 1=1" +
		" AND year IN ('2020', '2021') AND index IN ('000002', '000001') AND varset = 'all'"
	assert.Equal(t, want, lastQuery(fe))
}

func TestTimeseriesBetweenHeights(t *testing.T) {
	fe := &fakeExec{result: &athena.Result{Table: hourlyTable()}}
	c := newTestFullHourly(t, fe)

	// 45m 不在数据里：取 30m 与 60m 两侧的列
	_, err := c.Timeseries(context.Background(), TimeseriesRequest{Lat: 0.1, Long: 0.1, Heights: []int{45}})
	require.NoError(t, err)
	q := lastQuery(fe)
	assert.Contains(t, q, "windspeed_30m")
	assert.Contains(t, q, "windspeed_60m")
	assert.NotContains(t, q, "windspeed_100m")
}

func TestTimeseriesValidation(t *testing.T) {
	fe := &fakeExec{result: &athena.Result{Table: hourlyTable()}}
	c := newTestFullHourly(t, fe)
	ctx := context.Background()

	_, err := c.Timeseries(ctx, TimeseriesRequest{Lat: 0.1, Long: 0.1})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = c.Timeseries(ctx, TimeseriesRequest{Lat: 0.1, Long: 0.1, Heights: []int{30}, NNearest: 17})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestMapQuery(t *testing.T) {
	fe := &fakeExec{result: &athena.Result{Table: hourlyTable()}}
	c := newTestFullHourly(t, fe)

	_, err := c.Map(context.Background(), MapRequest{
		Heights: []int{30},
		Years:   []int{2020},
		Months:  []int{1},
		Days:    []int{1, 2},
		Hours:   []int{6},
		Varset:  "all",
	})
	require.NoError(t, err)

	q := lastQuery(fe)
	// 全域查询走无 index 列的表，网格点 id 从文件路径反解
	assert.Contains(t, q, "FROM wtk_led_noidx")
	assert.Contains(t, q, `regexp_extract("$path", '.*/index=([^/]+)/.*', 1) AS index`)
	assert.Contains(t, q, "AND year IN ('2020')")
	assert.Contains(t, q, "SUBSTRING(CAST(time_index AS VARCHAR), 5, 2) IN ('01')")
	assert.Contains(t, q, "SUBSTRING(CAST(time_index AS VARCHAR), 7, 2) IN ('01', '02')")
	assert.Contains(t, q, "SUBSTRING(CAST(time_index AS VARCHAR), 9, 2) IN ('06')")
	assert.NotContains(t, q, "index IN (")
}

func TestMapRequiresAllTimeFilters(t *testing.T) {
	fe := &fakeExec{result: &athena.Result{Table: hourlyTable()}}
	c := newTestFullHourly(t, fe)

	_, err := c.Map(context.Background(), MapRequest{Heights: []int{30}, Years: []int{2020}, Months: []int{1}, Days: []int{1}})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = c.Map(context.Background(), MapRequest{Heights: []int{30}, Years: []int{2020}, Months: []int{13}, Days: []int{1}, Hours: []int{0}})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestFilteredWithLocation(t *testing.T) {
	fe := &fakeExec{result: &athena.Result{Table: hourlyTable()}}
	c := newTestFullHourly(t, fe)

	res, err := c.Filtered(context.Background(), FilterRequest{
		Heights:     []int{30},
		Years:       []int{2020},
		HasLocation: true,
		Lat:         0.1, Long: 0.1,
		Varset: "all",
	})
	require.NoError(t, err)
	require.NotNil(t, res.Table)
	assert.Empty(t, res.Location)
	q := lastQuery(fe)
	assert.Contains(t, q, ", index FROM wtk_led")
	assert.Contains(t, q, "AND index IN ('000001')")
	assert.Equal(t, athena.ModeTable, fe.lastOpts.Mode)
}

func TestFilteredWithoutLocation(t *testing.T) {
	fe := &fakeExec{result: &athena.Result{Location: "s3://wtk-results/athena/exec-9.csv"}}
	c := newTestFullHourly(t, fe)

	res, err := c.Filtered(context.Background(), FilterRequest{Heights: []int{30}, Years: []int{2020}})
	require.NoError(t, err)
	assert.Nil(t, res.Table)
	assert.Equal(t, "s3://wtk-results/athena/exec-9.csv", res.Location)
	assert.Equal(t, athena.ModeLocationOnly, fe.lastOpts.Mode)
	assert.Contains(t, lastQuery(fe), "FROM wtk_led_noidx")
}

func TestFilteredColumnsXorHeights(t *testing.T) {
	fe := &fakeExec{result: &athena.Result{Table: hourlyTable()}}
	c := newTestFullHourly(t, fe)

	_, err := c.Filtered(context.Background(), FilterRequest{Columns: []string{"year"}, Heights: []int{30}})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = c.Filtered(context.Background(), FilterRequest{Columns: []string{"no_such_column"}})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestStatisticQuery(t *testing.T) {
	fe := &fakeExec{result: &athena.Result{Table: hourlyTable()}}
	c := newTestFullHourly(t, fe)

	_, err := c.Statistic(context.Background(), StatisticRequest{
		Heights:     []int{30},
		HasLocation: true,
		Lat:         0.1, Long: 0.1,
		Years:       []int{2020},
		GroupByYear: true,
		OrderBy:     "year",
	})
	require.NoError(t, err)

	want := "SELECT AVG(winddirection_30m) AS winddirection_30m_avg, AVG(windspeed_30m) AS windspeed_30m_avg, year" +
		" FROM wtk_led WHERE 1=1 AND index IN ('000001') AND year IN ('2020')" +
		" GROUP BY year ORDER BY year ASC"
	assert.Equal(t, want, lastQuery(fe))
}

func TestStatisticGroupByTimeParts(t *testing.T) {
	fe := &fakeExec{result: &athena.Result{Table: hourlyTable()}}
	c := newTestFullHourly(t, fe)

	_, err := c.Statistic(context.Background(), StatisticRequest{
		Columns:      []string{"windspeed_30m"},
		Statistic:    "max",
		GroupByMonth: true,
		GroupByHour:  true,
		OrderBy:      "month",
		OrderDir:     "desc",
	})
	require.NoError(t, err)

	q := lastQuery(fe)
	assert.Contains(t, q, "MAX(windspeed_30m) AS windspeed_30m_max")
	assert.Contains(t, q, "SUBSTRING(CAST(time_index AS VARCHAR), 5, 2) AS month")
	assert.Contains(t, q, "GROUP BY SUBSTRING(CAST(time_index AS VARCHAR), 5, 2), SUBSTRING(CAST(time_index AS VARCHAR), 9, 2)")
	assert.Contains(t, q, "ORDER BY month DESC")
}

func TestStatisticValidation(t *testing.T) {
	fe := &fakeExec{result: &athena.Result{Table: hourlyTable()}}
	c := newTestFullHourly(t, fe)
	ctx := context.Background()

	// ORDER BY 只能引用 SELECT 别名
	_, err := c.Statistic(ctx, StatisticRequest{Columns: []string{"windspeed_30m"}, OrderBy: "time_index"})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	// 聚合函数白名单之外的词不允许拼进查询
	_, err = c.Statistic(ctx, StatisticRequest{Columns: []string{"windspeed_30m"}, Statistic: "AVG); DROP TABLE x"})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = c.Statistic(ctx, StatisticRequest{Columns: []string{"year"}, Heights: []int{30}})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestStatisticDefaultColumns(t *testing.T) {
	fe := &fakeExec{result: &athena.Result{Table: hourlyTable()}}
	c := newTestFullHourly(t, fe)

	_, err := c.Statistic(context.Background(), StatisticRequest{})
	require.NoError(t, err)

	// 默认列集合剔除 time_index/varset/year/index 四个非数值列
	q := lastQuery(fe)
	assert.Contains(t, q, "AVG(windspeed_30m)")
	assert.Contains(t, q, "AVG(mohr)")
	assert.NotContains(t, q, "AVG(time_index)")
	assert.NotContains(t, q, "AVG(year)")
	assert.NotContains(t, q, "AVG(index)")
	assert.NotContains(t, q, "AVG(varset)")
}
