// Package model defines core domain types shared across the service.
package model

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

const (
	// CRSWGS84 is the CRS of the land-cover source and of every buffered extent.
	CRSWGS84 = "EPSG:4326"

	// LandCoverPixelSize is the native resolution of the land-cover source in degrees.
	LandCoverPixelSize = 0.000083333333333

	// BufferPixels is the number of land-cover pixels added on every side of the AOI bbox.
	BufferPixels = 2

	// RoughnessNoData marks roughness pixels without a value. Roughness
	// coefficients are small and positive so it cannot collide with one.
	RoughnessNoData = -9999.0
)

// Extent is an axis-aligned bounding box in a specific CRS.
type Extent struct {
	XMin float64 `json:"xmin"`
	YMin float64 `json:"ymin"`
	XMax float64 `json:"xmax"`
	YMax float64 `json:"ymax"`
	CRS  string  `json:"crs"`
}

func ExtentFromBound(b orb.Bound, crs string) Extent {
	return Extent{XMin: b.Min[0], YMin: b.Min[1], XMax: b.Max[0], YMax: b.Max[1], CRS: crs}
}

func (e Extent) Validate() error {
	for _, v := range []float64{e.XMin, e.YMin, e.XMax, e.YMax} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.New("extent has non-finite coordinates")
		}
	}
	if e.XMin > e.XMax || e.YMin > e.YMax {
		return fmt.Errorf("extent must satisfy xmin<=xmax and ymin<=ymax (got %s)", e)
	}
	if strings.TrimSpace(e.CRS) == "" {
		return errors.New("extent has no crs")
	}
	return nil
}

// Buffer expands every side by margin, in the units of the extent CRS.
func (e Extent) Buffer(margin float64) Extent {
	return Extent{
		XMin: e.XMin - margin,
		YMin: e.YMin - margin,
		XMax: e.XMax + margin,
		YMax: e.YMax + margin,
		CRS:  e.CRS,
	}
}

// ProjWin encodes the extent the way raster clip tools take it: "xmin,xmax,ymin,ymax [CRS]".
func (e Extent) ProjWin() string {
	return fmt.Sprintf("%s,%s,%s,%s [%s]", ff(e.XMin), ff(e.XMax), ff(e.YMin), ff(e.YMax), e.CRS)
}

func (e Extent) Bound() orb.Bound {
	return orb.Bound{Min: orb.Point{e.XMin, e.YMin}, Max: orb.Point{e.XMax, e.YMax}}
}

func (e Extent) Width() float64  { return e.XMax - e.XMin }
func (e Extent) Height() float64 { return e.YMax - e.YMin }

func (e Extent) String() string {
	return fmt.Sprintf("%.9f,%.9f,%.9f,%.9f,%s", e.XMin, e.YMin, e.XMax, e.YMax, e.CRS)
}

func ff(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

// AOI is the caller's area of interest. Reprojection derives a new AOI and
// never mutates the original.
type AOI struct {
	Geometry orb.Geometry
	CRS      string
	Source   string
}

// Polygons returns every polygon of the AOI; non-polygon parts are reported by ok=false.
func (a AOI) Polygons() (polys []orb.Polygon, ok bool) {
	ok = true
	var walk func(g orb.Geometry)
	walk = func(g orb.Geometry) {
		switch t := g.(type) {
		case orb.Polygon:
			polys = append(polys, t)
		case orb.MultiPolygon:
			polys = append(polys, t...)
		case orb.Collection:
			for _, c := range t {
				walk(c)
			}
		case orb.Bound:
			polys = append(polys, t.ToPolygon())
		default:
			ok = false
		}
	}
	if a.Geometry != nil {
		walk(a.Geometry)
	}
	return polys, ok
}

// RoughnessClass selects one of the three lookup tables.
type RoughnessClass int

const (
	ClassLow RoughnessClass = iota
	ClassMedium
	ClassHigh
)

// DefaultClass is used when a request names no class.
const DefaultClass = ClassMedium

var classNames = [...]string{"low", "medium", "high"}
var classFiles = [...]string{"low_n.csv", "med_n.csv", "high_n.csv"}

func ParseRoughnessClass(s string) (RoughnessClass, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	switch v {
	case "low", "0":
		return ClassLow, nil
	case "medium", "med", "1":
		return ClassMedium, nil
	case "high", "2":
		return ClassHigh, nil
	}
	return 0, fmt.Errorf("unknown roughness class %q (want low|medium|high)", s)
}

func (c RoughnessClass) Valid() bool { return c >= ClassLow && c <= ClassHigh }

func (c RoughnessClass) String() string {
	if !c.Valid() {
		return "RoughnessClass(" + strconv.Itoa(int(c)) + ")"
	}
	return classNames[c]
}

// FileName is the lookup table file for the class.
func (c RoughnessClass) FileName() (string, error) {
	if !c.Valid() {
		return "", fmt.Errorf("invalid roughness class %d", int(c))
	}
	return classFiles[c], nil
}

func (c RoughnessClass) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("invalid roughness class %d", int(c))
	}
	return []byte(c.String()), nil
}

func (c *RoughnessClass) UnmarshalText(b []byte) error {
	v, err := ParseRoughnessClass(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// LookupEntry maps one land-cover code to a Manning's n value.
type LookupEntry struct {
	Code  int     `json:"code"`
	Value float64 `json:"value"`
}

// LookupTable keeps file order.
type LookupTable []LookupEntry

// UnmatchedPolicy decides what pixels without a lookup entry evaluate to.
type UnmatchedPolicy string

const (
	UnmatchedNoData UnmatchedPolicy = "nodata"
	UnmatchedZero   UnmatchedPolicy = "zero"
)

func ParseUnmatchedPolicy(s string) (UnmatchedPolicy, error) {
	switch p := UnmatchedPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case UnmatchedNoData, UnmatchedZero:
		return p, nil
	case "":
		return UnmatchedNoData, nil
	}
	return "", fmt.Errorf("unknown unmatched policy %q (want nodata|zero)", s)
}

// DuplicatePolicy decides how repeated land-cover codes in a table are combined.
type DuplicatePolicy string

const (
	DuplicateLast   DuplicatePolicy = "last"
	DuplicateSum    DuplicatePolicy = "sum"
	DuplicateReject DuplicatePolicy = "reject"
)

func ParseDuplicatePolicy(s string) (DuplicatePolicy, error) {
	switch p := DuplicatePolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case DuplicateLast, DuplicateSum, DuplicateReject:
		return p, nil
	case "":
		return DuplicateLast, nil
	}
	return "", fmt.Errorf("unknown duplicate policy %q (want last|sum|reject)", s)
}

// Output is one produced artifact.
type Output struct {
	Path string `json:"path"`
}

// Result holds the outputs that were both requested and produced.
type Result struct {
	Roughness *Output `json:"roughness,omitempty"`
	LandCover *Output `json:"landcover,omitempty"`
	Vector    *Output `json:"vector,omitempty"`
}

func (r Result) Empty() bool {
	return r.Roughness == nil && r.LandCover == nil && r.Vector == nil
}

// Paths lists the produced paths in a fixed order.
func (r Result) Paths() []string {
	var out []string
	for _, o := range []*Output{r.Roughness, r.LandCover, r.Vector} {
		if o != nil {
			out = append(out, o.Path)
		}
	}
	return out
}

// NormalizeCRS maps the common spellings of an EPSG code to "EPSG:<code>".
func NormalizeCRS(s string) string {
	v := strings.TrimSpace(s)
	if v == "" {
		return ""
	}
	up := strings.ToUpper(v)
	switch up {
	case "OGC:CRS84", "CRS84", "URN:OGC:DEF:CRS:OGC:1.3:CRS84", "WGS84":
		return CRSWGS84
	}
	if i := strings.LastIndex(up, "EPSG"); i >= 0 {
		rest := strings.TrimLeft(up[i+4:], ":")
		// urn:ogc:def:crs:EPSG:<version>:<code>
		if j := strings.LastIndex(rest, ":"); j >= 0 {
			rest = rest[j+1:]
		}
		if _, err := strconv.Atoi(rest); err == nil && rest != "" {
			return "EPSG:" + rest
		}
	}
	if _, err := strconv.Atoi(up); err == nil {
		return "EPSG:" + up
	}
	return up
}

// EPSGCode returns the numeric code of a normalized CRS.
func EPSGCode(crs string) (int, bool) {
	n := NormalizeCRS(crs)
	if !strings.HasPrefix(n, "EPSG:") {
		return 0, false
	}
	code, err := strconv.Atoi(strings.TrimPrefix(n, "EPSG:"))
	if err != nil {
		return 0, false
	}
	return code, true
}
