package server

import (
	"log/slog"

	"github.com/mohammed-shakir/manning-roughness/internal/core/config"
	"github.com/mohammed-shakir/manning-roughness/internal/core/errs"
	"github.com/mohammed-shakir/manning-roughness/internal/expression"
	"github.com/mohammed-shakir/manning-roughness/internal/lookup"
	"github.com/mohammed-shakir/manning-roughness/internal/pipeline"
	"github.com/mohammed-shakir/manning-roughness/internal/toolkit"
	"github.com/mohammed-shakir/manning-roughness/internal/toolkit/gdal"
	"github.com/mohammed-shakir/manning-roughness/internal/toolkit/native"
	"github.com/mohammed-shakir/manning-roughness/internal/toolkit/reproject"
)

// Toolkit builds the configured backend behind the timeout guard. The GDAL
// backend reprojects natively first and falls back to ogr2ogr.
func Toolkit(cfg config.Config, log *slog.Logger) (svc toolkit.Service, rasterExt, vectorExt string, err error) {
	switch cfg.Backend {
	case config.BackendGDAL:
		g := gdal.New(gdal.ExecRunner{BinDir: cfg.GDALBinDir}, cfg.WorkDir, log)
		svc = toolkit.WithReprojector(g, reproject.Chain(reproject.Native{}, g))
		rasterExt, vectorExt = ".tif", ".gpkg"
	case config.BackendNative:
		svc = native.New(reproject.Native{})
		rasterExt, vectorExt = native.GridExt, ".geojson"
	default:
		return nil, "", "", errs.Newf(errs.KindConfiguration, "", "", "unknown backend %q", cfg.Backend)
	}
	return toolkit.Guard(svc, cfg.ExternalTimeout), rasterExt, vectorExt, nil
}

// Pipeline assembles the orchestrator from cfg.
func Pipeline(cfg config.Config, log *slog.Logger) (*pipeline.Pipeline, error) {
	tools, rasterExt, vectorExt, err := Toolkit(cfg, log)
	if err != nil {
		return nil, err
	}
	lookups, err := lookup.NewLoader(cfg.LookupDir, log, cfg.LookupCacheSize)
	if err != nil {
		return nil, err
	}
	return pipeline.New(tools, lookups, pipeline.Options{
		LandCoverPath: cfg.LandCoverPath,
		OutputDir:     cfg.OutputDir,
		WorkDir:       cfg.WorkDir,
		RasterExt:     rasterExt,
		VectorExt:     vectorExt,
		PixelSize:     cfg.PixelSize,
		BufferPixels:  cfg.BufferPixels,
		NoData:        cfg.NoData,
		OutputType:    cfg.OutputType,
		VectorField:   cfg.VectorField,
		Expression: expression.Options{
			Duplicates: cfg.Duplicates,
			Unmatched:  cfg.Unmatched,
		},
	}, log)
}
