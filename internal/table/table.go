// 包 table：查询结果的内存表示与分组均值计算
// 背景：Athena 的 CSV 结果全部以文本形式落地，单元格保持原始字符串，数值转换延迟到聚合时进行
package table

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
)

// 单次追加的行块上限：限制解码过程中的峰值切片增长
const chunkRows = 100000

// Table：列名有序、单元格为字符串的二维表
// 约束：构建后按值读取，不支持删除；行内列数与表头一致
type Table struct {
	cols   []string
	colIdx map[string]int
	rows   [][]string
}

func New(cols []string) *Table {
	idx := make(map[string]int, len(cols))
	for i, c := range cols {
		idx[c] = i
	}
	cp := make([]string, len(cols))
	copy(cp, cols)
	return &Table{cols: cp, colIdx: idx}
}

// AppendRow：追加一行；列数不匹配返回错误
func (t *Table) AppendRow(row []string) error {
	if len(row) != len(t.cols) {
		return fmt.Errorf("table: row has %d cells, want %d", len(row), len(t.cols))
	}
	cp := make([]string, len(row))
	copy(cp, row)
	t.rows = append(t.rows, cp)
	return nil
}

func (t *Table) Len() int { return len(t.rows) }

func (t *Table) Columns() []string {
	cp := make([]string, len(t.cols))
	copy(cp, t.cols)
	return cp
}

func (t *Table) HasColumn(name string) bool {
	_, ok := t.colIdx[name]
	return ok
}

// Cell：读取单元格原始文本
func (t *Table) Cell(row int, col string) (string, bool) {
	i, ok := t.colIdx[col]
	if !ok || row < 0 || row >= len(t.rows) {
		return "", false
	}
	return t.rows[row][i], true
}

// Row：返回指定行（副本）
func (t *Table) Row(i int) []string {
	cp := make([]string, len(t.rows[i]))
	copy(cp, t.rows[i])
	return cp
}

// ReadCSV：流式解码 CSV 为内存表
// 背景：结果文件可能到数十万行，按固定行块读入再整体并接，避免逐行 append 的反复扩容
func ReadCSV(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		if err == io.EOF {
			return New(nil), nil
		}
		return nil, fmt.Errorf("table: read header: %w", err)
	}
	t := New(header)
	chunk := make([][]string, 0, chunkRows)
	flush := func() {
		t.rows = append(t.rows, chunk...)
		chunk = chunk[:0]
	}
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("table: read row %d: %w", t.Len()+len(chunk)+2, err)
		}
		cp := make([]string, len(row))
		copy(cp, row)
		chunk = append(chunk, cp)
		if len(chunk) == chunkRows {
			flush()
		}
	}
	flush()
	return t, nil
}

// Round2：四舍五入到两位小数，统计结果的统一精度
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Mean：列均值
// 约束：空单元格跳过（缺测值）；非空但无法解析的单元格视为数据损坏，直接报错
func (t *Table) Mean(col string) (float64, error) {
	i, ok := t.colIdx[col]
	if !ok {
		return 0, fmt.Errorf("table: no column %q", col)
	}
	var sum float64
	var n int
	for r, row := range t.rows {
		cell := row[i]
		if cell == "" {
			continue
		}
		v, err := strconv.ParseFloat(cell, 64)
		if err != nil {
			return 0, fmt.Errorf("table: row %d column %q: bad value %q", r, col, cell)
		}
		sum += v
		n++
	}
	if n == 0 {
		return 0, fmt.Errorf("table: column %q has no values", col)
	}
	return sum / float64(n), nil
}

// Bucket：一个分组键与该组均值
type Bucket struct {
	Key   int
	Value float64
}

// GroupMean：按派生整数键分组求 col 的均值
// 背景：年/月/日/时都是从原始列派生的整数键，由调用方以 keyFn 提供派生逻辑
// 返回：按键升序排列，均值保留两位小数；keyFn 返回 false 的行跳过
func (t *Table) GroupMean(col string, keyFn func(row int) (int, bool)) ([]Bucket, error) {
	i, ok := t.colIdx[col]
	if !ok {
		return nil, fmt.Errorf("table: no column %q", col)
	}
	sums := make(map[int]float64)
	counts := make(map[int]int)
	for r, row := range t.rows {
		key, ok := keyFn(r)
		if !ok {
			continue
		}
		cell := row[i]
		if cell == "" {
			continue
		}
		v, err := strconv.ParseFloat(cell, 64)
		if err != nil {
			return nil, fmt.Errorf("table: row %d column %q: bad value %q", r, col, cell)
		}
		sums[key] += v
		counts[key]++
	}
	out := make([]Bucket, 0, len(sums))
	for k, s := range sums {
		out = append(out, Bucket{Key: k, Value: Round2(s / float64(counts[k]))})
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Key < out[b].Key })
	return out, nil
}

// IntKey：将某列单元格解析为整数键的 keyFn 便捷构造
func (t *Table) IntKey(col string) func(row int) (int, bool) {
	i, ok := t.colIdx[col]
	return func(row int) (int, bool) {
		if !ok {
			return 0, false
		}
		v, err := strconv.Atoi(t.rows[row][i])
		if err != nil {
			return 0, false
		}
		return v, true
	}
}
