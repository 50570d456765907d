package native

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

// Grid is an in-memory single-band ESRI ASCII grid. Data is row-major with
// row 0 at the northern edge.
type Grid struct {
	Cols, Rows int
	XLL, YLL   float64
	CellSize   float64
	NoData     float64
	HasNoData  bool
	Data       []float64
}

func NewGrid(cols, rows int, xll, yll, cellSize float64) *Grid {
	return &Grid{Cols: cols, Rows: rows, XLL: xll, YLL: yll, CellSize: cellSize, Data: make([]float64, cols*rows)}
}

func (g *Grid) At(c, r int) float64     { return g.Data[r*g.Cols+c] }
func (g *Grid) Set(c, r int, v float64) { g.Data[r*g.Cols+c] = v }

func (g *Grid) IsNoData(v float64) bool {
	return g.HasNoData && (v == g.NoData || (math.IsNaN(v) && math.IsNaN(g.NoData)))
}

func (g *Grid) Top() float64 { return g.YLL + float64(g.Rows)*g.CellSize }

func (g *Grid) Bound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{g.XLL, g.YLL},
		Max: orb.Point{g.XLL + float64(g.Cols)*g.CellSize, g.Top()},
	}
}

// CellBound is the footprint of cell (c, r).
func (g *Grid) CellBound(c, r int) orb.Bound {
	x0 := g.XLL + float64(c)*g.CellSize
	y1 := g.Top() - float64(r)*g.CellSize
	return orb.Bound{Min: orb.Point{x0, y1 - g.CellSize}, Max: orb.Point{x0 + g.CellSize, y1}}
}

// ReadGrid parses an ESRI ASCII grid. Both the corner and the center forms
// of the origin are accepted.
func ReadGrid(r io.Reader) (*Grid, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	sc.Split(bufio.ScanWords)

	g := &Grid{}
	var (
		center  bool
		first   string
		haveXY  int
		haveDim int
	)
	for sc.Scan() {
		tok := sc.Text()
		if tok == "" {
			continue
		}
		if c := tok[0]; !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z') {
			first = tok
			break
		}
		key := strings.ToLower(tok)
		if !sc.Scan() {
			return nil, fmt.Errorf("header %s has no value", key)
		}
		val := sc.Text()
		var err error
		switch key {
		case "ncols":
			g.Cols, err = strconv.Atoi(val)
			haveDim++
		case "nrows":
			g.Rows, err = strconv.Atoi(val)
			haveDim++
		case "xllcorner", "xllcenter":
			g.XLL, err = strconv.ParseFloat(val, 64)
			center = center || key == "xllcenter"
			haveXY++
		case "yllcorner", "yllcenter":
			g.YLL, err = strconv.ParseFloat(val, 64)
			center = center || key == "yllcenter"
			haveXY++
		case "cellsize":
			g.CellSize, err = strconv.ParseFloat(val, 64)
		case "nodata_value":
			g.NoData, err = strconv.ParseFloat(val, 64)
			g.HasNoData = true
		default:
			return nil, fmt.Errorf("unknown header %q", tok)
		}
		if err != nil {
			return nil, fmt.Errorf("header %s: %w", key, err)
		}
	}
	if haveDim != 2 || haveXY != 2 || g.Cols <= 0 || g.Rows <= 0 || !(g.CellSize > 0) {
		return nil, errors.New("incomplete ascii grid header")
	}
	if center {
		g.XLL -= g.CellSize / 2
		g.YLL -= g.CellSize / 2
	}

	n := g.Cols * g.Rows
	g.Data = make([]float64, 0, n)
	push := func(tok string) error {
		v, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return fmt.Errorf("cell %d: %w", len(g.Data), err)
		}
		g.Data = append(g.Data, v)
		return nil
	}
	if first != "" {
		if err := push(first); err != nil {
			return nil, err
		}
	}
	for len(g.Data) < n && sc.Scan() {
		if err := push(sc.Text()); err != nil {
			return nil, err
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(g.Data) != n {
		return nil, fmt.Errorf("ascii grid has %d cells, header says %d", len(g.Data), n)
	}
	return g, nil
}

func ReadGridFile(path string) (*Grid, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	g, err := ReadGrid(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return g, nil
}

// Write encodes the grid. Values are rounded to the precision of dataType
// (Byte, Int16, UInt16, Int32, UInt32, Float32, Float64).
func (g *Grid) Write(w io.Writer, dataType string) error {
	format, err := formatter(dataType)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "ncols %d\nnrows %d\n", g.Cols, g.Rows)
	fmt.Fprintf(bw, "xllcorner %s\nyllcorner %s\ncellsize %s\n",
		strconv.FormatFloat(g.XLL, 'f', -1, 64),
		strconv.FormatFloat(g.YLL, 'f', -1, 64),
		strconv.FormatFloat(g.CellSize, 'g', -1, 64))
	if g.HasNoData {
		fmt.Fprintf(bw, "NODATA_value %s\n", format(g.NoData))
	}
	for r := 0; r < g.Rows; r++ {
		for c := 0; c < g.Cols; c++ {
			if c > 0 {
				bw.WriteByte(' ')
			}
			bw.WriteString(format(g.At(c, r)))
		}
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

func WriteGridFile(path string, g *Grid, dataType string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := g.Write(f, dataType); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func formatter(dataType string) (func(float64) string, error) {
	switch strings.ToLower(dataType) {
	case "float32", "":
		return func(v float64) string { return strconv.FormatFloat(float64(float32(v)), 'g', -1, 32) }, nil
	case "float64":
		return func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }, nil
	case "byte", "int16", "uint16", "int32", "uint32":
		return func(v float64) string { return strconv.FormatInt(int64(math.Round(v)), 10) }, nil
	}
	return nil, fmt.Errorf("unsupported data type %q", dataType)
}
