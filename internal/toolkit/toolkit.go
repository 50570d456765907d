// Package toolkit defines the geospatial operations the pipeline delegates
// to: reprojection, raster clip, raster arithmetic and polygonization.
package toolkit

import (
	"context"
	"errors"
	"io/fs"
	"os"

	"github.com/mohammed-shakir/manning-roughness/internal/core/errs"
	"github.com/mohammed-shakir/manning-roughness/internal/core/model"
	"github.com/mohammed-shakir/manning-roughness/internal/expression"
)

const (
	ToolReproject  = "reproject"
	ToolClip       = "clip"
	ToolCalc       = "calc"
	ToolPolygonize = "polygonize"
)

type Reprojector interface {
	// Reproject returns a copy of aoi in target; aoi is not modified.
	Reproject(ctx context.Context, aoi model.AOI, target string) (model.AOI, error)
}

type ClipRequest struct {
	Source string
	Extent model.Extent
	// DataType overrides the output band type; empty keeps the source type.
	DataType string
	// NoData overrides the output no-data value when set.
	NoData *float64
	Output string
}

type Clipper interface {
	Clip(ctx context.Context, req ClipRequest) (string, error)
}

type CalcRequest struct {
	Expression expression.Expression
	Input      string
	Band       int
	NoData     float64
	OutputType string
	Output     string
}

type Calculator interface {
	Calc(ctx context.Context, req CalcRequest) (string, error)
}

type PolygonizeRequest struct {
	Input  string
	Field  string
	Output string
}

type Polygonizer interface {
	Polygonize(ctx context.Context, req PolygonizeRequest) (string, error)
}

// Service is a complete backend.
type Service interface {
	Reprojector
	Clipper
	Calculator
	Polygonizer
	Name() string
}

// VerifyOutput fails with ExternalTool unless path names an existing file.
func VerifyOutput(stage, path string) error {
	if path == "" {
		return errs.New(errs.KindExternalTool, stage, "", "tool returned no output path")
	}
	st, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return errs.New(errs.KindExternalTool, stage, path, "tool output was not created")
		}
		return errs.Wrap(errs.KindExternalTool, stage, path, err)
	}
	if st.IsDir() {
		return errs.New(errs.KindExternalTool, stage, path, "tool output is a directory")
	}
	return nil
}

type withReprojector struct {
	Service
	r Reprojector
}

func (w withReprojector) Reproject(ctx context.Context, a model.AOI, target string) (model.AOI, error) {
	return w.r.Reproject(ctx, a, target)
}

// WithReprojector replaces the reprojection of svc with r.
func WithReprojector(svc Service, r Reprojector) Service {
	if r == nil {
		return svc
	}
	return withReprojector{Service: svc, r: r}
}
