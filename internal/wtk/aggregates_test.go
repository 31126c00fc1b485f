package wtk

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"windwatts/internal/athena"
	"windwatts/internal/table"
)

func newTestStats(t *testing.T, fe *fakeExec) *StatsClient {
	t.Helper()
	fe.describe = describeRows()
	c, err := NewStatsClient(context.Background(), testConfig(), fe, &fakeObjects{}, testRecords())
	require.NoError(t, err)
	return c
}

func TestAverageGlobal(t *testing.T) {
	fe := &fakeExec{result: &athena.Result{Table: aggTable()}}
	c := newTestStats(t, fe)

	agg, err := c.Average(context.Background(), 0.1, 0.1, 30, GranGlobal)
	require.NoError(t, err)
	// (4+6+10)/3 保留两位
	assert.InDelta(t, 6.67, agg.Value, 0.001)
	assert.Equal(t, 1, fe.selectCount())
	assert.Contains(t, fe.queries[len(fe.queries)-1], "index IN ('000001')")
	assert.True(t, fe.lastOpts.ReducePoll)
}

func TestAverageSeries(t *testing.T) {
	fe := &fakeExec{result: &athena.Result{Table: aggTable()}}
	c := newTestStats(t, fe)
	ctx := context.Background()

	yearly, err := c.Average(ctx, 0.1, 0.1, 30, GranYearly)
	require.NoError(t, err)
	assert.Equal(t, []table.Bucket{{Key: 2020, Value: 5.0}, {Key: 2021, Value: 10.0}}, yearly.Series)

	// mohr=月*100+时：101/102 为 1 月，201 为 2 月
	monthly, err := c.Average(ctx, 0.1, 0.1, 30, GranMonthly)
	require.NoError(t, err)
	assert.Equal(t, []table.Bucket{{Key: 1, Value: 5.0}, {Key: 2, Value: 10.0}}, monthly.Series)

	hourly, err := c.Average(ctx, 0.1, 0.1, 30, GranHourly)
	require.NoError(t, err)
	assert.Equal(t, []table.Bucket{{Key: 1, Value: 7.0}, {Key: 2, Value: 6.0}}, hourly.Series)

	// 同坐标同高度只打一次远端
	assert.Equal(t, 1, fe.selectCount())
}

func TestAverageMemoized(t *testing.T) {
	fe := &fakeExec{result: &athena.Result{Table: aggTable()}}
	c := newTestStats(t, fe)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := c.Average(ctx, 0.1, 0.1, 30, GranGlobal)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, fe.selectCount())

	// 坐标一变必须重查
	_, err := c.Average(ctx, 0.9, 0.9, 30, GranGlobal)
	require.NoError(t, err)
	assert.Equal(t, 2, fe.selectCount())
	assert.Contains(t, fe.queries[len(fe.queries)-1], "index IN ('000002')")
}

func TestAverageHeightChangeKeepsTable(t *testing.T) {
	fe := &fakeExec{result: &athena.Result{Table: aggTable()}}
	c := newTestStats(t, fe)
	ctx := context.Background()

	a30, err := c.Average(ctx, 0.1, 0.1, 30, GranGlobal)
	require.NoError(t, err)
	a100, err := c.Average(ctx, 0.1, 0.1, 100, GranGlobal)
	require.NoError(t, err)

	// 换高度换列、清备忘录，但时序表不重取
	assert.InDelta(t, 6.67, a30.Value, 0.001)
	assert.InDelta(t, 10.0, a100.Value, 0.001)
	assert.Equal(t, 1, fe.selectCount())
}

func TestAverageInvalidHeight(t *testing.T) {
	fe := &fakeExec{result: &athena.Result{Table: aggTable()}}
	c := newTestStats(t, fe)

	_, err := c.Average(context.Background(), 0.1, 0.1, 47, GranGlobal)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.Equal(t, 0, fe.selectCount())
}

func TestAverageBadCoordinates(t *testing.T) {
	fe := &fakeExec{result: &athena.Result{Table: aggTable()}}
	c := newTestStats(t, fe)

	_, err := c.Average(context.Background(), math.NaN(), 0.1, 30, GranGlobal)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestAverageEmptyResult(t *testing.T) {
	fe := &fakeExec{result: &athena.Result{Table: newTable([]string{"year", "mohr", "windspeed_30m"})}}
	c := newTestStats(t, fe)

	_, err := c.Average(context.Background(), 0.1, 0.1, 30, GranGlobal)
	assert.ErrorIs(t, err, ErrNoData)
}

func TestFetchErrorInvalidatesCache(t *testing.T) {
	boom := errors.New("athena down")
	fe := &fakeExec{result: &athena.Result{Table: aggTable()}}
	c := newTestStats(t, fe)
	ctx := context.Background()

	_, err := c.Average(ctx, 0.1, 0.1, 30, GranGlobal)
	require.NoError(t, err)

	// 第二个坐标失败：错误透传，缓存作废
	fe.err = boom
	_, err = c.Average(ctx, 0.9, 0.9, 30, GranGlobal)
	assert.ErrorIs(t, err, boom)

	// 失败之后即便回到旧坐标也必须重查
	fe.err = nil
	_, err = c.Average(ctx, 0.1, 0.1, 30, GranGlobal)
	require.NoError(t, err)
	assert.Equal(t, 3, fe.selectCount())
}
