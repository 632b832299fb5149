package omr

import (
	"image"
	"math"
)

// bitmap is a binarized page; true is ink.
type bitmap struct {
	w, h int
	pix  []bool
}

func (b *bitmap) at(x, y int) bool {
	if x < 0 || y < 0 || x >= b.w || y >= b.h {
		return false
	}
	return b.pix[y*b.w+x]
}

func (b *bitmap) clear(x, y int) { b.pix[y*b.w+x] = false }

// binarize thresholds g with Otsu's method.
func binarize(g *image.Gray) *bitmap {
	w, h := g.Rect.Dx(), g.Rect.Dy()
	t := otsu(g)
	b := &bitmap{w: w, h: h, pix: make([]bool, w*h)}
	for y := 0; y < h; y++ {
		row := g.Pix[y*g.Stride : y*g.Stride+w]
		for x, v := range row {
			b.pix[y*w+x] = v <= t
		}
	}
	return b
}

func otsu(g *image.Gray) uint8 {
	var hist [256]float64
	w, h := g.Rect.Dx(), g.Rect.Dy()
	for y := 0; y < h; y++ {
		for _, v := range g.Pix[y*g.Stride : y*g.Stride+w] {
			hist[v]++
		}
	}
	total := float64(w * h)
	var sum float64
	for i, c := range hist {
		sum += float64(i) * c
	}
	var sumB, wB, best float64
	threshold := uint8(127)
	for i, c := range hist {
		wB += c
		if wB == 0 {
			continue
		}
		wF := total - wB
		if wF == 0 {
			break
		}
		sumB += float64(i) * c
		mB := sumB / wB
		mF := (sum - sumB) / wF
		between := wB * wF * (mB - mF) * (mB - mF)
		if between > best {
			best = between
			threshold = uint8(i)
		}
	}
	return threshold
}

// staffLine is a run of consecutive long-ink rows.
type staffLine struct {
	top, bottom int
}

func (l staffLine) center() float64 { return float64(l.top+l.bottom) / 2 }

// staff is five evenly spaced lines, top first.
type staff struct {
	lines       [5]staffLine
	spacing     float64
	left, right int
	// band limits the rows searched for symbols.
	bandTop, bandBottom int
}

func (s staff) topY() float64    { return s.lines[0].center() }
func (s staff) bottomY() float64 { return s.lines[4].center() }
func (s staff) middleY() float64 { return s.lines[2].center() }

const (
	staffRowFill      = 0.5
	staffGapTolerance = 0.25
	bandSpacings      = 3
)

// findStaves locates five-line staves from rows whose ink covers at least
// half the page width.
func findStaves(b *bitmap) []staff {
	var lines []staffLine
	inLine := false
	for y := 0; y < b.h; y++ {
		n := 0
		for x := 0; x < b.w; x++ {
			if b.pix[y*b.w+x] {
				n++
			}
		}
		long := float64(n) >= staffRowFill*float64(b.w)
		switch {
		case long && !inLine:
			lines = append(lines, staffLine{top: y, bottom: y})
			inLine = true
		case long:
			lines[len(lines)-1].bottom = y
		default:
			inLine = false
		}
	}

	var staves []staff
	for i := 0; i+4 < len(lines); {
		var gaps [4]float64
		mean := 0.0
		for j := 0; j < 4; j++ {
			gaps[j] = lines[i+j+1].center() - lines[i+j].center()
			mean += gaps[j] / 4
		}
		ok := mean >= 4
		for _, g := range gaps {
			if math.Abs(g-mean) > staffGapTolerance*mean {
				ok = false
			}
		}
		thick := float64(lines[i].bottom - lines[i].top + 1)
		if !ok || mean < 2*thick {
			i++
			continue
		}
		var st staff
		copy(st.lines[:], lines[i:i+5])
		st.spacing = mean
		st.left, st.right = lineExtent(b, int(math.Round(st.middleY())))
		staves = append(staves, st)
		i += 5
	}

	for k := range staves {
		pad := bandSpacings * staves[k].spacing
		top := int(math.Floor(staves[k].topY() - pad))
		bottom := int(math.Ceil(staves[k].bottomY() + pad))
		if k > 0 {
			mid := int((staves[k-1].bottomY() + staves[k].topY()) / 2)
			top = max(top, mid+1)
		}
		if k+1 < len(staves) {
			mid := int((staves[k].bottomY() + staves[k+1].topY()) / 2)
			bottom = min(bottom, mid)
		}
		staves[k].bandTop = max(0, top)
		staves[k].bandBottom = min(b.h-1, bottom)
	}
	return staves
}

func lineExtent(b *bitmap, y int) (int, int) {
	left, right := 0, b.w-1
	for left < b.w && !b.at(left, y) {
		left++
	}
	for right > left && !b.at(right, y) {
		right--
	}
	return left, right
}

// removeStaffLines clears line pixels that have no ink directly above and
// below the line, leaving note heads and stems that cross it intact.
func removeStaffLines(b *bitmap, st staff) {
	for _, l := range st.lines {
		for x := st.left; x <= st.right; x++ {
			if b.at(x, l.top-1) || b.at(x, l.bottom+1) {
				continue
			}
			for y := l.top; y <= l.bottom; y++ {
				b.clear(x, y)
			}
		}
	}
}

// component is one 8-connected ink region.
type component struct {
	x0, y0, x1, y1 int
	area           int
	// rows[i] describes page row y0+i.
	rows []rowStat
}

type rowStat struct {
	count, minX, maxX int
}

func (c component) width() int  { return c.x1 - c.x0 + 1 }
func (c component) height() int { return c.y1 - c.y0 + 1 }

func (r rowStat) span() int {
	if r.count == 0 {
		return 0
	}
	return r.maxX - r.minX + 1
}

// components labels ink inside the band rows [top, bottom] and columns
// [left, right].
func components(b *bitmap, top, bottom, left, right int) []component {
	if top > bottom || left > right {
		return nil
	}
	bw := right - left + 1
	seen := make([]bool, bw*(bottom-top+1))
	idx := func(x, y int) int { return (y-top)*bw + (x - left) }

	var out []component
	var stack []image.Point
	for y := top; y <= bottom; y++ {
		for x := left; x <= right; x++ {
			if !b.at(x, y) || seen[idx(x, y)] {
				continue
			}
			seen[idx(x, y)] = true
			stack = append(stack[:0], image.Pt(x, y))
			var pts []image.Point
			c := component{x0: x, y0: y, x1: x, y1: y}
			for len(stack) > 0 {
				p := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				pts = append(pts, p)
				c.x0, c.x1 = min(c.x0, p.X), max(c.x1, p.X)
				c.y0, c.y1 = min(c.y0, p.Y), max(c.y1, p.Y)
				for dy := -1; dy <= 1; dy++ {
					for dx := -1; dx <= 1; dx++ {
						nx, ny := p.X+dx, p.Y+dy
						if nx < left || nx > right || ny < top || ny > bottom {
							continue
						}
						if b.at(nx, ny) && !seen[idx(nx, ny)] {
							seen[idx(nx, ny)] = true
							stack = append(stack, image.Pt(nx, ny))
						}
					}
				}
			}
			c.area = len(pts)
			c.rows = make([]rowStat, c.height())
			for i := range c.rows {
				c.rows[i] = rowStat{minX: math.MaxInt, maxX: -1}
			}
			for _, p := range pts {
				r := &c.rows[p.Y-c.y0]
				r.count++
				r.minX = min(r.minX, p.X)
				r.maxX = max(r.maxX, p.X)
			}
			out = append(out, c)
		}
	}
	return out
}
