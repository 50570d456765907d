// Package native evaluates the raster pipeline in process on ESRI ASCII
// grids. It serves small areas and tests where no GDAL install is present.
package native

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"github.com/mohammed-shakir/manning-roughness/internal/core/errs"
	"github.com/mohammed-shakir/manning-roughness/internal/core/model"
	"github.com/mohammed-shakir/manning-roughness/internal/toolkit"
)

const GridExt = ".asc"

type Service struct {
	reproj    toolkit.Reprojector
	sourceCRS string
}

type Option func(*Service)

// WithSourceCRS sets the CRS of the rasters handed to Clip.
func WithSourceCRS(crs string) Option {
	return func(s *Service) { s.sourceCRS = model.NormalizeCRS(crs) }
}

// New builds the backend. reproj handles AOI reprojection; nil refuses
// anything but EPSG:4326.
func New(reproj toolkit.Reprojector, opts ...Option) *Service {
	s := &Service{reproj: reproj, sourceCRS: model.CRSWGS84}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) Name() string { return "native" }

func (s *Service) Reproject(ctx context.Context, a model.AOI, target string) (model.AOI, error) {
	if model.NormalizeCRS(a.CRS) == model.NormalizeCRS(target) {
		return a, nil
	}
	if s.reproj == nil {
		return model.AOI{}, errs.Newf(errs.KindReprojection, toolkit.ToolReproject, a.Source, "no reprojection from %s to %s", a.CRS, target)
	}
	return s.reproj.Reproject(ctx, a, target)
}

func checkExt(stage, path string) error {
	if !strings.EqualFold(filepath.Ext(path), GridExt) {
		return errs.Newf(errs.KindExternalTool, stage, path, "native backend writes %s grids only", GridExt)
	}
	return nil
}

// Clip copies the cells overlapping req.Extent.
func (s *Service) Clip(ctx context.Context, req toolkit.ClipRequest) (string, error) {
	if err := checkExt(toolkit.ToolClip, req.Output); err != nil {
		return "", err
	}
	if crs := model.NormalizeCRS(req.Extent.CRS); crs != s.sourceCRS {
		return "", errs.Newf(errs.KindExternalTool, toolkit.ToolClip, req.Source, "extent crs %s does not match source crs %s", crs, s.sourceCRS)
	}
	src, err := ReadGridFile(req.Source)
	if err != nil {
		return "", errs.Wrap(errs.KindExternalTool, toolkit.ToolClip, req.Source, err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	cs := src.CellSize
	top := src.Top()
	c0 := clampInt(int(math.Floor((req.Extent.XMin-src.XLL)/cs)), 0, src.Cols)
	c1 := clampInt(int(math.Ceil((req.Extent.XMax-src.XLL)/cs)), 0, src.Cols)
	r0 := clampInt(int(math.Floor((top-req.Extent.YMax)/cs)), 0, src.Rows)
	r1 := clampInt(int(math.Ceil((top-req.Extent.YMin)/cs)), 0, src.Rows)
	if c1 <= c0 || r1 <= r0 {
		return "", errs.Newf(errs.KindExternalTool, toolkit.ToolClip, req.Source, "extent %s does not intersect the source raster", req.Extent.ProjWin())
	}

	out := NewGrid(c1-c0, r1-r0, src.XLL+float64(c0)*cs, top-float64(r1)*cs, cs)
	out.NoData, out.HasNoData = src.NoData, src.HasNoData
	if req.NoData != nil {
		out.NoData, out.HasNoData = *req.NoData, true
	}
	for r := r0; r < r1; r++ {
		for c := c0; c < c1; c++ {
			v := src.At(c, r)
			if src.IsNoData(v) {
				v = out.NoData
			}
			out.Set(c-c0, r-r0, v)
		}
	}

	dataType := req.DataType
	if dataType == "" {
		dataType = "Float64"
	}
	if err := WriteGridFile(req.Output, out, dataType); err != nil {
		return "", errs.Wrap(errs.KindExternalTool, toolkit.ToolClip, req.Output, err)
	}
	return req.Output, nil
}

// Calc evaluates the expression per cell. Input no-data cells stay no-data.
func (s *Service) Calc(ctx context.Context, req toolkit.CalcRequest) (string, error) {
	if err := checkExt(toolkit.ToolCalc, req.Output); err != nil {
		return "", err
	}
	if req.Band > 1 {
		return "", errs.Newf(errs.KindExternalTool, toolkit.ToolCalc, req.Input, "ascii grids have one band (asked for %d)", req.Band)
	}
	if req.Expression.Empty() {
		return "", errs.New(errs.KindExternalTool, toolkit.ToolCalc, req.Input, "empty expression")
	}
	in, err := ReadGridFile(req.Input)
	if err != nil {
		return "", errs.Wrap(errs.KindExternalTool, toolkit.ToolCalc, req.Input, err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	out := NewGrid(in.Cols, in.Rows, in.XLL, in.YLL, in.CellSize)
	out.NoData, out.HasNoData = req.NoData, true
	for i, v := range in.Data {
		if in.IsNoData(v) {
			out.Data[i] = req.NoData
			continue
		}
		out.Data[i] = req.Expression.Eval(int(math.Round(v)))
	}

	if err := WriteGridFile(req.Output, out, req.OutputType); err != nil {
		return "", errs.Wrap(errs.KindExternalTool, toolkit.ToolCalc, req.Output, fmt.Errorf("write roughness grid: %w", err))
	}
	return req.Output, nil
}

func clampInt(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
