package mapoverlay

// GridIndex is a grid-bucketed spatial index over a fixed set of
// detection-space points, used to restrict descriptor matching to
// keypoints that fall inside a region of interest without scanning the
// full keypoint set.
type GridIndex struct {
	minX, minY float64
	cellW, cellH float64
	cols, rows int

	// buckets[row*cols+col] holds indices into the original keypoint
	// slice whose coordinates fall in that cell.
	buckets [][]int

	// xs, ys are the indexed point coordinates, kept for exact
	// containment checks in QueryROI.
	xs, ys []float64
}

// gridIndexCellTarget is the nominal number of points a cell should hold
// at typical pyramid-level keypoint density; it only tunes cell count,
// never correctness.
const gridIndexCellTarget = 32

// NewGridIndex buckets the given detection-space points into a grid
// sized so that, on average, each cell holds roughly
// gridIndexCellTarget points.
func NewGridIndex(xs, ys []float64, minX, minY, maxX, maxY float64) *GridIndex {
	n := len(xs)
	cols, rows := 1, 1
	if n > 0 {
		targetCells := n / gridIndexCellTarget
		if targetCells < 1 {
			targetCells = 1
		}
		side := 1
		for side*side < targetCells {
			side++
		}
		cols, rows = side, side
	}

	width := maxX - minX
	height := maxY - minY
	if width <= 0 {
		width = 1
	}
	if height <= 0 {
		height = 1
	}

	idx := &GridIndex{
		minX: minX, minY: minY,
		cellW: width / float64(cols),
		cellH: height / float64(rows),
		cols:  cols, rows: rows,
		buckets: make([][]int, cols*rows),
		xs:      xs, ys: ys,
	}

	for i := 0; i < n; i++ {
		c, r := idx.cellOf(xs[i], ys[i])
		b := r*idx.cols + c
		idx.buckets[b] = append(idx.buckets[b], i)
	}

	return idx
}

func (g *GridIndex) cellOf(x, y float64) (col, row int) {
	col = int((x - g.minX) / g.cellW)
	row = int((y - g.minY) / g.cellH)
	if col < 0 {
		col = 0
	}
	if col >= g.cols {
		col = g.cols - 1
	}
	if row < 0 {
		row = 0
	}
	if row >= g.rows {
		row = g.rows - 1
	}
	return col, row
}

// QueryROI returns the indices of all points inside the given rectangle
// (edges inclusive). Only the buckets overlapping the rectangle are
// scanned, and each of their points is checked for exact containment.
func (g *GridIndex) QueryROI(x, y, w, h float64) []int {
	colMin, rowMin := g.cellOf(x, y)
	colMax, rowMax := g.cellOf(x+w, y+h)

	var out []int
	for r := rowMin; r <= rowMax; r++ {
		for c := colMin; c <= colMax; c++ {
			for _, i := range g.buckets[r*g.cols+c] {
				if g.xs[i] >= x && g.xs[i] <= x+w && g.ys[i] >= y && g.ys[i] <= y+h {
					out = append(out, i)
				}
			}
		}
	}
	return out
}
