// 包 athena：异步查询的提交、轮询与结果抓取
// 背景：远端执行引擎是提交后轮询的异步模型，结果以 CSV 落在对象存储；本包把一次执行收敛为一个阻塞调用
package athena

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsathena "github.com/aws/aws-sdk-go-v2/service/athena"
	"github.com/aws/aws-sdk-go-v2/service/athena/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"windwatts/internal/config"
	"windwatts/internal/logger"
	"windwatts/internal/metrics"
	"windwatts/internal/table"
)

// Mode：结果物化方式
type Mode int

const (
	// ModeTable：抓取 S3 上的 CSV 结果并解析为内存表
	ModeTable Mode = iota
	// ModeRawRows：走分页接口取原始字符串单元格，不做任何类型转换
	ModeRawRows
	// ModeLocationOnly：只返回结果对象位置，用于预期过大的结果
	ModeLocationOnly
)

// Options：单次执行选项
// 背景：交互式调用（按位置过滤的统计）对时延敏感，用更小的初始轮询间隔
type Options struct {
	Mode       Mode
	ReducePoll bool
}

// 轮询节奏：初始间隔、低时延初始间隔与间隔上限
const (
	pollInitial        = 500 * time.Millisecond
	pollInitialReduced = 100 * time.Millisecond
	pollCap            = 5 * time.Second
)

// QueryError：远端执行失败
// 约束：提交、轮询与抓取过程中的传输错误同样包装为 QueryError；终态失败不重试
type QueryError struct {
	State  string
	Reason string
	Err    error
}

func (e *QueryError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("athena: query error: %v", e.Err)
	case e.Reason != "":
		return fmt.Sprintf("athena: query %s: %s", strings.ToLower(e.State), e.Reason)
	default:
		return fmt.Sprintf("athena: query %s", strings.ToLower(e.State))
	}
}

func (e *QueryError) Unwrap() error { return e.Err }

// QueryAPI：Athena 客户端中本包用到的子集
// 背景：窄接口便于测试注入假实现，避免对完整 SDK 客户端打桩
type QueryAPI interface {
	StartQueryExecution(ctx context.Context, params *awsathena.StartQueryExecutionInput, optFns ...func(*awsathena.Options)) (*awsathena.StartQueryExecutionOutput, error)
	GetQueryExecution(ctx context.Context, params *awsathena.GetQueryExecutionInput, optFns ...func(*awsathena.Options)) (*awsathena.GetQueryExecutionOutput, error)
	GetQueryResults(ctx context.Context, params *awsathena.GetQueryResultsInput, optFns ...func(*awsathena.Options)) (*awsathena.GetQueryResultsOutput, error)
}

// ObjectAPI：S3 客户端中本包用到的子集
type ObjectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// RawResult：分页接口的原始结果
type RawResult struct {
	Columns []string
	Rows    [][]string
}

// Result：一次执行的物化结果，三种模式互斥填充
type Result struct {
	Table    *table.Table
	Raw      *RawResult
	Location string
}

// Engine：查询执行引擎
// 约束：每次 Execute 恰好创建一个远端任务；不暴露取消任务的路径，调用方放弃等待时远端任务自行跑完
type Engine struct {
	ath            QueryAPI
	obj            ObjectAPI
	database       string
	workgroup      string
	outputLocation string
	reuseMaxAgeMin int32
	sleep          func(ctx context.Context, d time.Duration) error
	log            *slog.Logger
}

func NewEngine(ath QueryAPI, obj ObjectAPI, cfg *config.Config) *Engine {
	return &Engine{
		ath:            ath,
		obj:            obj,
		database:       cfg.Database,
		workgroup:      cfg.Workgroup,
		outputLocation: cfg.OutputLocation,
		reuseMaxAgeMin: cfg.ReuseMaxAgeMin,
		sleep:          sleepCtx,
		log:            logger.Named("athena"),
	}
}

// sleepCtx：可被上下文中断的休眠
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Execute：提交查询并阻塞至终态，按 Options.Mode 物化结果
// 背景：轮询采用指数退避（间隔翻倍、上限 5s）；服务端按结果年龄复用历史结果，减少重复计算
// 约束：总等待时间默认无上限，调用方需要硬期限时通过 ctx 的 Deadline 约束；轮询休眠被 ctx 打断时中止等待，
// 已提交的远端任务不受影响
func (e *Engine) Execute(ctx context.Context, query string, opts Options) (*Result, error) {
	start := time.Now()
	out, err := e.ath.StartQueryExecution(ctx, &awsathena.StartQueryExecutionInput{
		QueryString:           aws.String(query),
		QueryExecutionContext: &types.QueryExecutionContext{Database: aws.String(e.database)},
		ResultConfiguration:   &types.ResultConfiguration{OutputLocation: aws.String(e.outputLocation)},
		ResultReuseConfiguration: &types.ResultReuseConfiguration{
			ResultReuseByAgeConfiguration: &types.ResultReuseByAgeConfiguration{
				Enabled:         true,
				MaxAgeInMinutes: aws.Int32(e.reuseMaxAgeMin),
			},
		},
		WorkGroup: aws.String(e.workgroup),
	})
	if err != nil {
		metrics.QueriesTotal.WithLabelValues("submit_error").Inc()
		return nil, &QueryError{Err: fmt.Errorf("start query execution: %w", err)}
	}
	id := aws.ToString(out.QueryExecutionId)
	e.log.Debug("query_submitted", "execution_id", id)

	exec, err := e.waitTerminal(ctx, id, opts.ReducePoll)
	if err != nil {
		return nil, err
	}
	state := string(exec.Status.State)
	metrics.QueriesTotal.WithLabelValues(strings.ToLower(state)).Inc()
	metrics.QueryDurationMs.Observe(float64(time.Since(start).Milliseconds()))

	switch exec.Status.State {
	case types.QueryExecutionStateSucceeded:
		return e.materialize(ctx, id, exec, opts.Mode)
	case types.QueryExecutionStateFailed:
		reason := aws.ToString(exec.Status.StateChangeReason)
		e.log.Warn("query_failed", "execution_id", id, "reason", reason)
		return nil, &QueryError{State: state, Reason: reason}
	case types.QueryExecutionStateCancelled:
		e.log.Warn("query_cancelled", "execution_id", id)
		return nil, &QueryError{State: state}
	default:
		return nil, &QueryError{State: state, Reason: "unexpected terminal state"}
	}
}

// waitTerminal：轮询执行状态直到离开 QUEUED/RUNNING
func (e *Engine) waitTerminal(ctx context.Context, id string, reducePoll bool) (*types.QueryExecution, error) {
	wait := pollInitial
	if reducePoll {
		wait = pollInitialReduced
	}
	for {
		out, err := e.ath.GetQueryExecution(ctx, &awsathena.GetQueryExecutionInput{QueryExecutionId: aws.String(id)})
		if err != nil {
			return nil, &QueryError{Err: fmt.Errorf("get query execution: %w", err)}
		}
		st := out.QueryExecution.Status.State
		if st != types.QueryExecutionStateQueued && st != types.QueryExecutionStateRunning {
			return out.QueryExecution, nil
		}
		metrics.QueryPollsTotal.Inc()
		if err := e.sleep(ctx, wait); err != nil {
			return nil, &QueryError{Err: fmt.Errorf("poll aborted: %w", err)}
		}
		wait *= 2
		if wait > pollCap {
			wait = pollCap
		}
	}
}

// materialize：按模式物化成功结果
func (e *Engine) materialize(ctx context.Context, id string, exec *types.QueryExecution, mode Mode) (*Result, error) {
	location := aws.ToString(exec.ResultConfiguration.OutputLocation)
	switch mode {
	case ModeLocationOnly:
		e.log.Debug("query_result_location", "execution_id", id, "location", location)
		return &Result{Location: location}, nil
	case ModeRawRows:
		raw, err := e.fetchRaw(ctx, id)
		if err != nil {
			return nil, err
		}
		return &Result{Raw: raw, Location: location}, nil
	default:
		tb, err := e.fetchTable(ctx, location)
		if err != nil {
			return nil, err
		}
		e.log.Debug("query_result_table", "execution_id", id, "rows", tb.Len())
		return &Result{Table: tb, Location: location}, nil
	}
}

// fetchRaw：分页拉取原始结果行
// 约束：单元格保持服务端返回的文本；缺失值记为空字符串
func (e *Engine) fetchRaw(ctx context.Context, id string) (*RawResult, error) {
	raw := &RawResult{}
	var token *string
	for {
		page, err := e.ath.GetQueryResults(ctx, &awsathena.GetQueryResultsInput{
			QueryExecutionId: aws.String(id),
			NextToken:        token,
		})
		if err != nil {
			return nil, &QueryError{Err: fmt.Errorf("get query results: %w", err)}
		}
		if raw.Columns == nil && page.ResultSet != nil && page.ResultSet.ResultSetMetadata != nil {
			for _, ci := range page.ResultSet.ResultSetMetadata.ColumnInfo {
				raw.Columns = append(raw.Columns, aws.ToString(ci.Label))
			}
		}
		if page.ResultSet != nil {
			for _, row := range page.ResultSet.Rows {
				cells := make([]string, len(row.Data))
				for i, d := range row.Data {
					cells[i] = aws.ToString(d.VarCharValue)
				}
				raw.Rows = append(raw.Rows, cells)
			}
		}
		token = page.NextToken
		if token == nil {
			return raw, nil
		}
	}
}

// fetchTable：从对象存储抓取 CSV 结果并解析
func (e *Engine) fetchTable(ctx context.Context, location string) (*table.Table, error) {
	bucket, key, err := splitS3URL(location)
	if err != nil {
		return nil, &QueryError{Err: err}
	}
	obj, err := e.obj.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		return nil, &QueryError{Err: fmt.Errorf("get result object s3://%s/%s: %w", bucket, key, err)}
	}
	defer obj.Body.Close()
	tb, err := table.ReadCSV(obj.Body)
	if err != nil {
		return nil, &QueryError{Err: err}
	}
	return tb, nil
}

// splitS3URL：拆解 s3://bucket/key
func splitS3URL(u string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(u, "s3://")
	if !ok {
		return "", "", fmt.Errorf("athena: result location %q is not an s3 url", u)
	}
	bucket, key, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("athena: result location %q is not an s3 url", u)
	}
	return bucket, key, nil
}
