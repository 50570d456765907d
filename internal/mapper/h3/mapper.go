// Package h3mapper covers extents and geometries with H3 cells.
package h3mapper

import (
	"errors"
	"fmt"
	"sort"

	"github.com/paulmach/orb"
	h3 "github.com/uber/h3-go/v4"

	"github.com/mohammed-shakir/manning-roughness/internal/core/model"
)

type Mapper struct{}

func New() *Mapper { return &Mapper{} }

// CellsForExtent returns the sorted cells touching a WGS84 extent. Extents
// smaller than a cell still map to the cells under their corners and center.
func (m *Mapper) CellsForExtent(e model.Extent, res int) ([]string, error) {
	if err := validateRes(res); err != nil {
		return nil, err
	}
	if model.NormalizeCRS(e.CRS) != model.CRSWGS84 {
		return nil, fmt.Errorf("extent crs must be %s (got %s)", model.CRSWGS84, e.CRS)
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	// rectangular loop, v4 wants degrees
	outer := h3.GeoLoop{
		{Lat: e.YMin, Lng: e.XMin},
		{Lat: e.YMin, Lng: e.XMax},
		{Lat: e.YMax, Lng: e.XMax},
		{Lat: e.YMax, Lng: e.XMin},
	}
	cells, err := polyfillOne(outer, nil, res)
	if err != nil {
		return nil, err
	}
	b := e.Bound()
	return withAnchors(cells, res, b.Min, b.Max, orb.Point{b.Min[0], b.Max[1]}, orb.Point{b.Max[0], b.Min[1]}, b.Center())
}

// CellsForGeometry covers every polygon of g, which must be in WGS84.
func (m *Mapper) CellsForGeometry(g orb.Geometry, res int) ([]string, error) {
	if err := validateRes(res); err != nil {
		return nil, err
	}
	polys, ok := model.AOI{Geometry: g}.Polygons()
	if !ok || len(polys) == 0 {
		return nil, errors.New("geometry must be a Polygon or MultiPolygon")
	}

	seen := make(map[string]struct{})
	var out []string
	for pi, p := range polys {
		if len(p) == 0 {
			return nil, fmt.Errorf("polygon %d is empty", pi)
		}
		outer := toLoop(p[0])
		if len(outer) < 3 {
			return nil, fmt.Errorf("polygon %d outer ring has < 4 vertices", pi)
		}
		var holes []h3.GeoLoop
		for i := 1; i < len(p); i++ {
			h := toLoop(p[i])
			if len(h) < 3 {
				return nil, fmt.Errorf("polygon %d hole %d has < 4 vertices", pi, i-1)
			}
			holes = append(holes, h)
		}
		cells, err := polyfillOne(outer, holes, res)
		if err != nil {
			return nil, err
		}
		b := p.Bound()
		cells, err = withAnchors(cells, res, b.Center())
		if err != nil {
			return nil, err
		}
		for _, c := range cells {
			if _, ok := seen[c]; !ok {
				seen[c] = struct{}{}
				out = append(out, c)
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

// --- helpers ---

func validateRes(res int) error {
	if res < 0 || res > 15 {
		return fmt.Errorf("invalid H3 resolution %d (must be 0..15)", res)
	}
	return nil
}

// Convert a ring to an h3.GeoLoop (in degrees). If the ring is explicitly
// closed, drop the trailing duplicate.
func toLoop(ring orb.Ring) h3.GeoLoop {
	loop := make(h3.GeoLoop, 0, len(ring))
	for _, p := range ring {
		loop = append(loop, h3.LatLng{Lat: p[1], Lng: p[0]})
	}
	if len(loop) >= 2 {
		last := loop[len(loop)-1]
		first := loop[0]
		if last.Lat == first.Lat && last.Lng == first.Lng {
			loop = loop[:len(loop)-1]
		}
	}
	return loop
}

// polyfillOne computes unique cells and returns them sorted for determinism.
func polyfillOne(outer h3.GeoLoop, holes []h3.GeoLoop, res int) ([]string, error) {
	if len(outer) < 3 {
		return nil, errors.New("outer ring has < 4 vertices")
	}
	poly := h3.GeoPolygon{
		GeoLoop: outer,
		Holes:   holes,
	}

	indexes, err := h3.PolygonToCells(poly, res)
	if err != nil {
		return nil, fmt.Errorf("h3 polyfill: %w", err)
	}

	out := make([]string, 0, len(indexes))
	seen := make(map[string]struct{}, len(indexes))
	for _, idx := range indexes {
		s := idx.String()
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out, nil
}

// withAnchors adds the cells containing pts; polyfill only keeps cells whose
// centers fall inside the polygon.
func withAnchors(cells []string, res int, pts ...orb.Point) ([]string, error) {
	seen := make(map[string]struct{}, len(cells)+len(pts))
	for _, c := range cells {
		seen[c] = struct{}{}
	}
	for _, p := range pts {
		c, err := h3.LatLngToCell(h3.LatLng{Lat: p[1], Lng: p[0]}, res)
		if err != nil {
			return nil, fmt.Errorf("h3 cell for %v: %w", p, err)
		}
		s := c.String()
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			cells = append(cells, s)
		}
	}
	sort.Strings(cells)
	return cells, nil
}
