package wtk

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/parquet-go/parquet-go"

	"windwatts/internal/metrics"
)

// DownloadRequest：按年份批量下载最近 n 个网格点的原始时序
type DownloadRequest struct {
	Years     []int
	Lat, Long float64
	NNearest  int
	Varset    string
	Dir       string
}

// DownloadResult：单个数据文件的下载结果
// 背景：批次内逐项独立，单项失败记录在 Err 上不中断其余项
type DownloadResult struct {
	Key  string
	Path string
	Err  error
}

// Download：从对象存储取 parquet 数据文件并转存为本地 CSV
// 返回：每个 (网格点, 年份) 组合一项，Err 为 nil 表示已落盘到 Path
func (f *FullHourlyClient) Download(ctx context.Context, req DownloadRequest) ([]DownloadResult, error) {
	if err := validCoord(req.Lat, req.Long); err != nil {
		return nil, err
	}
	if len(req.Years) == 0 {
		return nil, fmt.Errorf("%w: at least one year must be specified", ErrInvalidArgument)
	}
	n := req.NNearest
	if n == 0 {
		n = 1
	}
	if n < 1 || n > 16 {
		return nil, fmt.Errorf("%w: n_nearest must be between 1 and 16", ErrInvalidArgument)
	}
	varset := req.Varset
	if varset == "" {
		varset = "all"
	}
	dir := req.Dir
	if dir == "" {
		dir = "downloads"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("wtk: create download directory %q: %w", dir, err)
	}
	indexes, err := f.locator.NearestN(req.Lat, req.Long, n)
	if err != nil {
		return nil, fmt.Errorf("wtk: resolve nearest locations: %w", err)
	}

	var results []DownloadResult
	for _, index := range indexes {
		for _, year := range req.Years {
			key := fmt.Sprintf("ts-parquet/year=%d/varset=%s/index=%s/%s_%d_%s.parquet",
				year, varset, index, index, year, varset)
			path := filepath.Join(dir, fmt.Sprintf("%s_%d_%s.csv", index, year, varset))
			if err := f.downloadOne(ctx, key, path); err != nil {
				metrics.DownloadFailuresTotal.Inc()
				f.log.Warn("download_failed", "key", key, "err", err)
				results = append(results, DownloadResult{Key: key, Err: err})
				continue
			}
			metrics.DownloadsTotal.Inc()
			f.log.Info("download_saved", "key", key, "path", path)
			results = append(results, DownloadResult{Key: key, Path: path})
		}
	}
	return results, nil
}

func (f *FullHourlyClient) downloadOne(ctx context.Context, key, path string) error {
	out, err := f.obj.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(f.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("get object: %w", err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return fmt.Errorf("read object body: %w", err)
	}
	rows, err := readParquet(data)
	if err != nil {
		return fmt.Errorf("decode parquet: %w", err)
	}
	if err := writeCSV(path, rows); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	return nil
}

// readParquet：整块解析 parquet 字节流，行以列名到值的映射返回
func readParquet(data []byte) ([]map[string]any, error) {
	pf, err := parquet.OpenFile(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}
	r := parquet.NewReader(pf)
	defer r.Close()
	var rows []map[string]any
	for {
		row := make(map[string]any)
		if err := r.Read(&row); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// writeCSV：列按字典序，缺失单元格留空
func writeCSV(path string, rows []map[string]any) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	w := csv.NewWriter(file)

	colSet := make(map[string]bool)
	for _, row := range rows {
		for c := range row {
			colSet[c] = true
		}
	}
	cols := make([]string, 0, len(colSet))
	for c := range colSet {
		cols = append(cols, c)
	}
	sort.Strings(cols)

	if err := w.Write(cols); err != nil {
		return err
	}
	record := make([]string, len(cols))
	for _, row := range rows {
		for i, c := range cols {
			record[i] = cellString(row[c])
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func cellString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		return strconv.FormatBool(x)
	case []byte:
		return string(x)
	default:
		return fmt.Sprint(x)
	}
}
