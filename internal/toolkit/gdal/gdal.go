// Package gdal binds the pipeline operations to the GDAL/OGR command-line
// utilities.
package gdal

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mohammed-shakir/manning-roughness/internal/aoi"
	"github.com/mohammed-shakir/manning-roughness/internal/core/errs"
	"github.com/mohammed-shakir/manning-roughness/internal/core/model"
	"github.com/mohammed-shakir/manning-roughness/internal/toolkit"
)

const (
	cmdTranslate  = "gdal_translate"
	cmdCalc       = "gdal_calc.py"
	cmdPolygonize = "gdal_polygonize.py"
	cmdOgr2Ogr    = "ogr2ogr"
)

type Service struct {
	run     Runner
	workDir string
	log     *slog.Logger
}

func New(run Runner, workDir string, log *slog.Logger) *Service {
	if run == nil {
		run = ExecRunner{}
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Service{run: run, workDir: workDir, log: log}
}

func (s *Service) Name() string { return "gdal" }

func num(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

func (s *Service) exec(ctx context.Context, stage, path, name string, args ...string) error {
	s.log.DebugContext(ctx, "running tool", "tool", name, "args", strings.Join(args, " "))
	if _, err := s.run.Run(ctx, name, args...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errs.Wrap(errs.KindExternalTool, stage, path, err)
	}
	return nil
}

// Clip runs gdal_translate with the extent as a projection window.
func (s *Service) Clip(ctx context.Context, req toolkit.ClipRequest) (string, error) {
	e := req.Extent
	args := []string{}
	if drv := rasterDriver(req.Output); drv != "" {
		args = append(args, "-of", drv)
	}
	if req.DataType != "" {
		args = append(args, "-ot", req.DataType)
	}
	if req.NoData != nil {
		args = append(args, "-a_nodata", num(*req.NoData))
	}
	args = append(args,
		"-projwin", num(e.XMin), num(e.YMax), num(e.XMax), num(e.YMin),
		"-projwin_srs", e.CRS,
		req.Source, req.Output,
	)
	if err := s.exec(ctx, toolkit.ToolClip, req.Source, cmdTranslate, args...); err != nil {
		return "", err
	}
	return req.Output, nil
}

// Calc runs gdal_calc.py with the formula over band A.
func (s *Service) Calc(ctx context.Context, req toolkit.CalcRequest) (string, error) {
	band := req.Band
	if band <= 0 {
		band = 1
	}
	args := []string{
		"-A", req.Input,
		"--A_band=" + strconv.Itoa(band),
		"--calc=" + req.Expression.Formula(),
		"--NoDataValue=" + num(req.NoData),
		"--type=" + req.OutputType,
		"--outfile=" + req.Output,
		"--overwrite",
		"--quiet",
	}
	if drv := rasterDriver(req.Output); drv != "" {
		args = append(args, "--format="+drv)
	}
	if err := s.exec(ctx, toolkit.ToolCalc, req.Input, cmdCalc, args...); err != nil {
		return "", err
	}
	return req.Output, nil
}

// Polygonize runs gdal_polygonize.py on band 1.
func (s *Service) Polygonize(ctx context.Context, req toolkit.PolygonizeRequest) (string, error) {
	drv := vectorDriver(req.Output)
	if drv == "" {
		return "", errs.Newf(errs.KindExternalTool, toolkit.ToolPolygonize, req.Output, "no vector driver for %q", filepath.Ext(req.Output))
	}
	layer := strings.TrimSuffix(filepath.Base(req.Output), filepath.Ext(req.Output))
	args := []string{req.Input, "-b", "1", "-f", drv, req.Output, layer, req.Field}
	if err := s.exec(ctx, toolkit.ToolPolygonize, req.Input, cmdPolygonize, args...); err != nil {
		return "", err
	}
	return req.Output, nil
}

// Reproject hands the AOI to ogr2ogr through a scratch GeoJSON file.
func (s *Service) Reproject(ctx context.Context, a model.AOI, target string) (model.AOI, error) {
	data, err := aoi.Encode(a)
	if err != nil {
		return model.AOI{}, err
	}
	dir, err := os.MkdirTemp(s.workDir, "reproject-")
	if err != nil {
		return model.AOI{}, errs.Wrap(errs.KindReprojection, toolkit.ToolReproject, s.workDir, err)
	}
	defer os.RemoveAll(dir)

	in := filepath.Join(dir, "in.geojson")
	out := filepath.Join(dir, "out.geojson")
	if err := os.WriteFile(in, data, 0o600); err != nil {
		return model.AOI{}, errs.Wrap(errs.KindReprojection, toolkit.ToolReproject, in, err)
	}
	src := model.NormalizeCRS(a.CRS)
	dst := model.NormalizeCRS(target)
	if _, err := s.run.Run(ctx, cmdOgr2Ogr, "-f", "GeoJSON", "-s_srs", src, "-t_srs", dst, out, in); err != nil {
		if ctx.Err() != nil {
			return model.AOI{}, ctx.Err()
		}
		return model.AOI{}, errs.Wrap(errs.KindReprojection, toolkit.ToolReproject, a.Source, err)
	}
	res, err := aoi.Load(out, dst)
	if err != nil {
		return model.AOI{}, errs.Wrap(errs.KindReprojection, toolkit.ToolReproject, a.Source, fmt.Errorf("read reprojected aoi: %w", err))
	}
	res.Source = a.Source
	return res, nil
}

func rasterDriver(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tif", ".tiff":
		return "GTiff"
	case ".asc":
		return "AAIGrid"
	case ".img":
		return "HFA"
	case ".vrt":
		return "VRT"
	}
	return ""
}

func vectorDriver(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gpkg":
		return "GPKG"
	case ".shp":
		return "ESRI Shapefile"
	case ".geojson", ".json":
		return "GeoJSON"
	case ".fgb":
		return "FlatGeobuf"
	}
	return ""
}
