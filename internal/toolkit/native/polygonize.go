package native

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"

	"github.com/mohammed-shakir/manning-roughness/internal/core/errs"
	"github.com/mohammed-shakir/manning-roughness/internal/toolkit"
)

// Region is one 4-connected group of equal-valued cells. Shape holds one
// polygon per outer boundary, normally exactly one, with exterior rings
// counter-clockwise and holes clockwise. A hole may touch its shell at a
// single vertex where two cells of the region meet only diagonally.
type Region struct {
	Value float64
	Cells int
	Shape orb.MultiPolygon
}

// Regions labels the grid in row-major order of each region's first cell.
// No-data cells belong to no region.
func Regions(g *Grid) []Region {
	label := make([]int, len(g.Data))
	for i := range label {
		label[i] = -1
	}
	var (
		regions []Region
		stack   []int
	)
	for start, v := range g.Data {
		if label[start] >= 0 || g.IsNoData(v) {
			continue
		}
		id := len(regions)
		regions = append(regions, Region{Value: v})
		label[start] = id
		stack = append(stack[:0], start)
		for len(stack) > 0 {
			i := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			regions[id].Cells++
			c, r := i%g.Cols, i/g.Cols
			for _, n := range [4][2]int{{c - 1, r}, {c + 1, r}, {c, r - 1}, {c, r + 1}} {
				if n[0] < 0 || n[0] >= g.Cols || n[1] < 0 || n[1] >= g.Rows {
					continue
				}
				j := n[1]*g.Cols + n[0]
				if label[j] < 0 && g.Data[j] == v {
					label[j] = id
					stack = append(stack, j)
				}
			}
		}
	}

	for id, rings := range traceRings(g, label) {
		regions[id].Shape = assemble(rings)
	}
	return regions
}

// edge is one cell side on a region boundary, directed so the region lies
// on its left. Vertices are grid corners keyed r*(Cols+1)+c.
type edge struct {
	region   int
	from, to int
	dx, dy   int
}

// traceRings returns the closed boundary rings of every region.
func traceRings(g *Grid, label []int) map[int][]orb.Ring {
	w := g.Cols + 1
	at := func(c, r int) int {
		if c < 0 || c >= g.Cols || r < 0 || r >= g.Rows {
			return -1
		}
		return label[r*g.Cols+c]
	}

	var edges []edge
	out := map[int][]int{}
	add := func(id, c0, r0, c1, r1 int) {
		out[r0*w+c0] = append(out[r0*w+c0], len(edges))
		// rows grow downwards, so dy is flipped
		edges = append(edges, edge{region: id, from: r0*w + c0, to: r1*w + c1, dx: c1 - c0, dy: r0 - r1})
	}
	for r := 0; r < g.Rows; r++ {
		for c := 0; c < g.Cols; c++ {
			id := label[r*g.Cols+c]
			if id < 0 {
				continue
			}
			if at(c, r+1) != id {
				add(id, c, r+1, c+1, r+1)
			}
			if at(c+1, r) != id {
				add(id, c+1, r+1, c+1, r)
			}
			if at(c, r-1) != id {
				add(id, c+1, r, c, r)
			}
			if at(c-1, r) != id {
				add(id, c, r, c, r+1)
			}
		}
	}

	point := func(v int) orb.Point {
		c, r := v%w, v/w
		return orb.Point{g.XLL + float64(c)*g.CellSize, g.Top() - float64(r)*g.CellSize}
	}

	used := make([]bool, len(edges))
	rings := map[int][]orb.Ring{}
	for first := range edges {
		if used[first] {
			continue
		}
		var ring orb.Ring
		cur := first
		for {
			used[cur] = true
			next := nextEdge(edges, out[edges[cur].to], cur)
			e, n := edges[cur], edges[next]
			if e.dx != n.dx || e.dy != n.dy {
				ring = append(ring, point(e.to))
			}
			if next == first {
				break
			}
			cur = next
		}
		ring = append(ring, ring[0])
		rings[edges[first].region] = append(rings[edges[first].region], ring)
	}
	return rings
}

// nextEdge continues a boundary at a vertex. Where a region meets itself
// diagonally the vertex has two exits and the right turn is taken, which
// closes the enclosed hole as its own ring touching the shell at that vertex.
func nextEdge(edges []edge, exits []int, in int) int {
	e := edges[in]
	pick := -1
	for _, x := range exits {
		n := edges[x]
		if n.region != e.region {
			continue
		}
		if pick < 0 || e.dx*n.dy-e.dy*n.dx < 0 {
			pick = x
		}
	}
	return pick
}

// assemble splits rings into shells and holes by orientation and puts each
// hole into the shell that contains it.
func assemble(rings []orb.Ring) orb.MultiPolygon {
	var (
		shells orb.MultiPolygon
		holes  []orb.Ring
	)
	for _, r := range rings {
		if planar.Area(r) >= 0 {
			shells = append(shells, orb.Polygon{r})
		} else {
			holes = append(holes, r)
		}
	}
	for _, h := range holes {
		mid := orb.Point{(h[0][0] + h[1][0]) / 2, (h[0][1] + h[1][1]) / 2}
		placed := false
		for i := range shells {
			if planar.RingContains(shells[i][0], mid) {
				shells[i] = append(shells[i], h)
				placed = true
				break
			}
		}
		if !placed {
			h.Reverse()
			shells = append(shells, orb.Polygon{h})
		}
	}
	return shells
}

// Polygonize writes one GeoJSON feature per region carrying the cell value
// in req.Field.
func (s *Service) Polygonize(ctx context.Context, req toolkit.PolygonizeRequest) (string, error) {
	switch strings.ToLower(filepath.Ext(req.Output)) {
	case ".geojson", ".json":
	default:
		return "", errs.New(errs.KindExternalTool, toolkit.ToolPolygonize, req.Output, "native backend writes GeoJSON vectors only")
	}
	if strings.TrimSpace(req.Field) == "" {
		return "", errs.New(errs.KindExternalTool, toolkit.ToolPolygonize, req.Input, "attribute field is required")
	}
	g, err := ReadGridFile(req.Input)
	if err != nil {
		return "", errs.Wrap(errs.KindExternalTool, toolkit.ToolPolygonize, req.Input, err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	fc := geojson.NewFeatureCollection()
	for _, reg := range Regions(g) {
		var geom orb.Geometry = reg.Shape
		if len(reg.Shape) == 1 {
			geom = reg.Shape[0]
		}
		f := geojson.NewFeature(geom)
		f.Properties[req.Field] = reg.Value
		fc.Append(f)
	}
	data, err := fc.MarshalJSON()
	if err != nil {
		return "", errs.Wrap(errs.KindExternalTool, toolkit.ToolPolygonize, req.Output, err)
	}
	if err := os.WriteFile(req.Output, data, 0o644); err != nil {
		return "", errs.Wrap(errs.KindExternalTool, toolkit.ToolPolygonize, req.Output, err)
	}
	return req.Output, nil
}
