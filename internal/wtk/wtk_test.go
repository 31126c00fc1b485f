package wtk

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"windwatts/internal/athena"
	"windwatts/internal/config"
	"windwatts/internal/locations"
	"windwatts/internal/table"
)

// fakeExec：脚本化的查询执行器
// DESCRIBE 返回固定列集合，其余查询按 resultFn 或 result/err 响应，并记录查询串与选项
type fakeExec struct {
	queries  []string
	lastOpts athena.Options
	describe [][]string
	result   *athena.Result
	err      error
	resultFn func(query string) (*athena.Result, error)
}

func (f *fakeExec) Execute(_ context.Context, query string, opts athena.Options) (*athena.Result, error) {
	f.queries = append(f.queries, query)
	f.lastOpts = opts
	if strings.HasPrefix(query, "DESCRIBE") {
		return &athena.Result{Raw: &athena.RawResult{Rows: f.describe}}, nil
	}
	if f.resultFn != nil {
		return f.resultFn(query)
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

// selectCount：非 DESCRIBE 查询次数
func (f *fakeExec) selectCount() int {
	n := 0
	for _, q := range f.queries {
		if !strings.HasPrefix(q, "DESCRIBE") {
			n++
		}
	}
	return n
}

type fakeObjects struct {
	data map[string][]byte
}

func (f *fakeObjects) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	b, ok := f.data[*in.Key]
	if !ok {
		return nil, errors.New("NoSuchKey: " + *in.Key)
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(b))}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Region:         "us-west-2",
		Bucket:         "wtk-data",
		Database:       "wtk_db",
		OutputLocation: "s3://wtk-results/athena/",
		OutputBucket:   "wtk-results",
		DefaultTable:   "wtk_led",
		AltTable:       "wtk_led_noidx",
		Workgroup:      "primary",
		Dataset:        config.DatasetWTK,
		ReuseMaxAgeMin: 10080,
		DownloadVarset: "all",
	}
}

// describeRows：DESCRIBE 的原始行，尾随段落在 index 处截断
func describeRows() [][]string {
	cols := []string{
		"windspeed_30m\tdouble",
		"winddirection_30m\tdouble",
		"windspeed_60m\tdouble",
		"winddirection_60m\tdouble",
		"windspeed_100m\tdouble",
		"mohr\tint",
		"time_index\tbigint",
		"varset\tstring",
		"year\tint",
		"index\tstring",
		"# Partition Information\t",
	}
	rows := make([][]string, len(cols))
	for i, c := range cols {
		rows[i] = []string{c}
	}
	return rows
}

func testRecords() []locations.Record {
	return []locations.Record{
		{ID: "000001", X: 0, Y: 0},
		{ID: "000002", X: 1, Y: 1},
		{ID: "000003", X: 5, Y: 5},
	}
}

func newTable(cols []string, rows ...[]string) *table.Table {
	t := table.New(cols)
	for _, r := range rows {
		if err := t.AppendRow(r); err != nil {
			panic(err)
		}
	}
	return t
}

// aggTable：年均表的单点结果（year/mohr 粒度）
func aggTable() *table.Table {
	return newTable(
		[]string{"year", "mohr", "windspeed_30m", "windspeed_100m", "index"},
		[]string{"2020", "101", "4.0", "8.0", "000001"},
		[]string{"2020", "102", "6.0", "10.0", "000001"},
		[]string{"2021", "201", "10.0", "12.0", "000001"},
	)
}

// hourlyTable：全小时表的单点结果（time_index=YYYYMMDDHH）
func hourlyTable() *table.Table {
	return newTable(
		[]string{"time_index", "year", "windspeed_30m", "index"},
		[]string{"2020010106", "2020", "4.0", "000001"},
		[]string{"2020010212", "2020", "6.0", "000001"},
		[]string{"2021020106", "2021", "8.0", "000001"},
	)
}
