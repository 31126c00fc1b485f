// 包 spatial：网格位置的最近邻索引（二维 KD-Tree）
package spatial

import (
	"errors"
	"math"

	"windwatts/internal/locations"
	"windwatts/internal/logger"
)

var (
	// ErrNotFound：索引为空（无任何位置记录）
	ErrNotFound = errors.New("spatial: no location records")
	// ErrInvalidArgument：NearestN 的 n 超出 [1, 记录数] 范围
	ErrInvalidArgument = errors.New("spatial: n out of range")
)

// 文档注释：KD-Tree 最近邻（平面坐标）
// 背景：网格点集固定且量大，预构建 KD-Tree 后单点最近邻为对数级；查询坐标系与数据一致取 (x=经度, y=纬度) 的欧氏距离
// 约束：按经度优先/纬度交替分割；距离完全相等时取 id 字典序最小者，保证结果可复现
type kdNode struct {
	rec locations.Record
	ax  int // 0:x(经度) 1:y(纬度)
	l   *kdNode
	r   *kdNode
}

// Locator：位置索引
// 约束：记录集构建后视为不可变；Build 幂等，重复调用为空操作
type Locator struct {
	recs []locations.Record
	root *kdNode
}

func NewLocator(recs []locations.Record) *Locator {
	return &Locator{recs: recs}
}

// Build：构建索引（幂等）
// 背景：中位数分割保证树高平衡；构建在记录副本上原地重排，不影响调用方切片
func (lc *Locator) Build() {
	if lc.root != nil || len(lc.recs) == 0 {
		return
	}
	cp := make([]locations.Record, len(lc.recs))
	copy(cp, lc.recs)
	lc.root = buildKD(cp, 0)
	logger.L().Debug("kdtree_built", "records", len(lc.recs))
}

// Built：索引是否已构建
func (lc *Locator) Built() bool { return lc.root != nil }

// Len：记录总数
func (lc *Locator) Len() int { return len(lc.recs) }

// Nearest：返回距 (lat, long) 最近记录的 id
func (lc *Locator) Nearest(lat, long float64) (string, error) {
	ids, err := lc.NearestN(lat, long, 1)
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

// NearestN：返回距 (lat, long) 最近的 n 个记录 id，按距离不减排序
// 约束：1 ≤ n ≤ 记录数，否则 ErrInvalidArgument；空索引返回 ErrNotFound
func (lc *Locator) NearestN(lat, long float64, n int) ([]string, error) {
	if len(lc.recs) == 0 {
		return nil, ErrNotFound
	}
	if n < 1 || n > len(lc.recs) {
		return nil, ErrInvalidArgument
	}
	lc.Build()

	best := make([]candidate, 0, n)
	search(lc.root, long, lat, n, &best)

	ids := make([]string, len(best))
	for i, c := range best {
		ids[i] = c.id
	}
	return ids, nil
}

type candidate struct {
	id string
	d2 float64
}

// search：分支限界遍历，维护按 (距离², id) 有序的前 n 候选
func search(node *kdNode, x, y float64, n int, best *[]candidate) {
	if node == nil {
		return
	}
	dx := node.rec.X - x
	dy := node.rec.Y - y
	insert(best, candidate{id: node.rec.ID, d2: dx*dx + dy*dy}, n)

	var key, split float64
	if node.ax == 0 {
		key, split = x, node.rec.X
	} else {
		key, split = y, node.rec.Y
	}
	first, second := node.l, node.r
	if key > split {
		first, second = node.r, node.l
	}
	search(first, x, y, n, best)
	// 仅当分割平面距查询点近于当前第 n 优（或候选未满）时才需要访问另一侧
	plane := key - split
	if len(*best) < n || plane*plane <= (*best)[len(*best)-1].d2 {
		search(second, x, y, n, best)
	}
}

// insert：有序插入候选；距离严格相等时 id 小者排前
func insert(best *[]candidate, c candidate, n int) {
	b := *best
	pos := len(b)
	for pos > 0 {
		prev := b[pos-1]
		if c.d2 > prev.d2 || (c.d2 == prev.d2 && c.id >= prev.id) {
			break
		}
		pos--
	}
	if pos == n {
		return
	}
	if len(b) < n {
		b = append(b, candidate{})
	}
	copy(b[pos+1:], b[pos:])
	b[pos] = c
	*best = b
}

func buildKD(recs []locations.Record, depth int) *kdNode {
	if len(recs) == 0 {
		return nil
	}
	ax := depth % 2
	// 选择中位数分割，避免外部排序带来的额外依赖
	mid := len(recs) / 2
	selectNth(recs, mid, ax)
	node := &kdNode{rec: recs[mid], ax: ax}
	node.l = buildKD(recs[:mid], depth+1)
	node.r = buildKD(recs[mid+1:], depth+1)
	return node
}

// 原地 nth 元素选择（轴为经度/纬度）
func selectNth(a []locations.Record, n int, ax int) {
	lo, hi := 0, len(a)-1
	for lo < hi {
		p := partition(a, lo, hi, (lo+hi)/2, ax)
		if p == n {
			return
		}
		if n < p {
			hi = p - 1
		} else {
			lo = p + 1
		}
	}
}

func partition(a []locations.Record, lo, hi, pivot, ax int) int {
	pv := a[pivot]
	a[pivot], a[hi] = a[hi], a[pivot]
	i := lo
	for j := lo; j < hi; j++ {
		if lessRec(a[j], pv, ax) {
			a[i], a[j] = a[j], a[i]
			i++
		}
	}
	a[i], a[hi] = a[hi], a[i]
	return i
}

func lessRec(a, b locations.Record, ax int) bool {
	if ax == 0 {
		return a.X < b.X
	}
	return a.Y < b.Y
}

// Distance：两点欧氏距离（调试与测试用）
func Distance(x1, y1, x2, y2 float64) float64 {
	return math.Hypot(x2-x1, y2-y1)
}
