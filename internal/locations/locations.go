// 包 locations：加载打包的网格位置索引（id 与经纬度），进程生命周期内只读
package locations

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"

	"windwatts/internal/logger"
)

// Record：一个固定网格点
// 约束：X 为经度、Y 为纬度，与空间索引的查询轴一致；ID 即远端表中的 index 列取值
type Record struct {
	ID string
	X  float64
	Y  float64
}

// Load：从 csv.gz 文件读取全部位置记录
// 背景：原始数据集按 index/longitude/latitude 三列打包压缩随部署分发；列顺序以表头为准
// 约束：任何一行解析失败即失败，位置索引不允许部分加载
func Load(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("locations: open %s: %w", path, err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("locations: gzip %s: %w", path, err)
	}
	defer gz.Close()

	return Parse(gz)
}

// Parse：解析 csv 流为位置记录
func Parse(r io.Reader) ([]Record, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("locations: read header: %w", err)
	}
	idCol, xCol, yCol := -1, -1, -1
	for i, name := range header {
		switch strings.TrimSpace(strings.ToLower(name)) {
		case "index", "id":
			idCol = i
		case "longitude", "x":
			xCol = i
		case "latitude", "y":
			yCol = i
		}
	}
	if idCol < 0 || xCol < 0 || yCol < 0 {
		return nil, errors.New("locations: header must contain index, longitude and latitude columns")
	}

	var recs []Record
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("locations: read row %d: %w", len(recs)+2, err)
		}
		x, err := strconv.ParseFloat(strings.TrimSpace(row[xCol]), 64)
		if err != nil {
			return nil, fmt.Errorf("locations: row %d: bad longitude %q", len(recs)+2, row[xCol])
		}
		y, err := strconv.ParseFloat(strings.TrimSpace(row[yCol]), 64)
		if err != nil {
			return nil, fmt.Errorf("locations: row %d: bad latitude %q", len(recs)+2, row[yCol])
		}
		recs = append(recs, Record{ID: strings.TrimSpace(row[idCol]), X: x, Y: y})
	}
	logger.L().Debug("locations_loaded", "count", len(recs))
	return recs, nil
}
