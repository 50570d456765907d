package gdal

import (
	"context"
	"errors"
	"os"
	"slices"
	"strings"
	"testing"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/manning-roughness/internal/core/errs"
	"github.com/mohammed-shakir/manning-roughness/internal/core/model"
	"github.com/mohammed-shakir/manning-roughness/internal/expression"
	"github.com/mohammed-shakir/manning-roughness/internal/toolkit"
)

type call struct {
	name string
	args []string
}

type fakeRunner struct {
	calls []call
	err   error
	// onRun lets a test produce the files a tool would write
	onRun func(name string, args []string)
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	f.calls = append(f.calls, call{name: name, args: args})
	if f.err != nil {
		return nil, f.err
	}
	if f.onRun != nil {
		f.onRun(name, args)
	}
	return nil, nil
}

func TestClip_ProjWinArguments(t *testing.T) {
	fr := &fakeRunner{}
	s := New(fr, t.TempDir(), nil)
	nd := 0.0
	_, err := s.Clip(context.Background(), toolkit.ClipRequest{
		Source: "/data/lc.vrt",
		Extent: model.Extent{XMin: 10.5, XMax: 12.5, YMin: 54.5, YMax: 56.5, CRS: model.CRSWGS84},
		NoData: &nd,
		Output: "/tmp/lc.tif",
	})
	if err != nil {
		t.Fatal(err)
	}
	got := strings.Join(fr.calls[0].args, " ")
	want := "-of GTiff -a_nodata 0 -projwin 10.5 56.5 12.5 54.5 -projwin_srs EPSG:4326 /data/lc.vrt /tmp/lc.tif"
	if fr.calls[0].name != cmdTranslate || got != want {
		t.Fatalf("got %s %q\nwant %q", fr.calls[0].name, got, want)
	}
}

func TestCalc_PassesFormulaAndType(t *testing.T) {
	fr := &fakeRunner{}
	s := New(fr, t.TempDir(), nil)
	expr, _ := expression.Build(model.LookupTable{{Code: 10, Value: 0.1}}, expression.Options{Unmatched: model.UnmatchedZero})
	_, err := s.Calc(context.Background(), toolkit.CalcRequest{
		Expression: expr, Input: "/tmp/lc.tif", Band: 1, NoData: -9999, OutputType: "Float32", Output: "/tmp/n.tif",
	})
	if err != nil {
		t.Fatal(err)
	}
	args := fr.calls[0].args
	for _, want := range []string{"--calc=(A == 10) * 0.1", "--NoDataValue=-9999", "--type=Float32", "--A_band=1", "--outfile=/tmp/n.tif", "--format=GTiff"} {
		if !slices.Contains(args, want) {
			t.Fatalf("args %q missing %q", args, want)
		}
	}
}

func TestPolygonize_DriverFromExtension(t *testing.T) {
	fr := &fakeRunner{}
	s := New(fr, t.TempDir(), nil)
	if _, err := s.Polygonize(context.Background(), toolkit.PolygonizeRequest{Input: "/tmp/n.tif", Field: "n", Output: "/out/manning.gpkg"}); err != nil {
		t.Fatal(err)
	}
	got := strings.Join(fr.calls[0].args, "|")
	if got != "/tmp/n.tif|-b|1|-f|GPKG|/out/manning.gpkg|manning|n" {
		t.Fatalf("args=%q", got)
	}
	if _, err := s.Polygonize(context.Background(), toolkit.PolygonizeRequest{Input: "/tmp/n.tif", Field: "n", Output: "/out/manning.xyz"}); !errors.Is(err, errs.ErrExternalTool) {
		t.Fatalf("unknown driver: err=%v", err)
	}
}

func TestToolFailureIsExternalTool(t *testing.T) {
	fr := &fakeRunner{err: errors.New("exit status 1: ERROR 4: no such file")}
	s := New(fr, t.TempDir(), nil)
	_, err := s.Clip(context.Background(), toolkit.ClipRequest{Source: "/nope.vrt", Output: "/tmp/x.tif", Extent: model.Extent{CRS: model.CRSWGS84}})
	if !errors.Is(err, errs.ErrExternalTool) || !strings.Contains(err.Error(), "/nope.vrt") {
		t.Fatalf("err=%v", err)
	}
}

func TestReproject_ThroughOgr2Ogr(t *testing.T) {
	work := t.TempDir()
	fr := &fakeRunner{onRun: func(name string, args []string) {
		// ogr2ogr -f GeoJSON -s_srs S -t_srs T out in
		out := args[len(args)-2]
		_ = os.WriteFile(out, []byte(`{"type":"Polygon","coordinates":[[[7,46],[8,46],[8,47],[7,46]]]}`), 0o600)
	}}
	s := New(fr, work, nil)
	a := model.AOI{Geometry: orb.Polygon{{{2600000, 1200000}, {2601000, 1200000}, {2601000, 1201000}, {2600000, 1200000}}}, CRS: "EPSG:2056", Source: "aoi.geojson"}

	out, err := s.Reproject(context.Background(), a, model.CRSWGS84)
	if err != nil {
		t.Fatal(err)
	}
	if out.CRS != model.CRSWGS84 || out.Source != "aoi.geojson" || out.Geometry.Bound().Min != (orb.Point{7, 46}) {
		t.Fatalf("out=%+v", out)
	}
	args := fr.calls[0].args
	if fr.calls[0].name != cmdOgr2Ogr || args[3] != "EPSG:2056" || args[5] != model.CRSWGS84 {
		t.Fatalf("call=%+v", fr.calls[0])
	}
	entries, _ := os.ReadDir(work)
	if len(entries) != 0 {
		t.Fatalf("scratch files left behind: %v", entries)
	}

	fr.onRun = nil
	if _, err := s.Reproject(context.Background(), a, model.CRSWGS84); !errors.Is(err, errs.ErrReprojection) {
		t.Fatalf("missing output: err=%v", err)
	}
}
