// Package extent derives the buffered clip window from an area of interest.
package extent

import (
	"context"
	"log/slog"
	"math"

	"github.com/mohammed-shakir/manning-roughness/internal/core/errs"
	"github.com/mohammed-shakir/manning-roughness/internal/core/model"
	"github.com/mohammed-shakir/manning-roughness/internal/toolkit"
)

const stage = "extent"

type Resolver struct {
	reproj toolkit.Reprojector
	margin float64
	log    *slog.Logger
}

// NewResolver buffers by bufferPixels land-cover pixels of pixelSize degrees.
func NewResolver(r toolkit.Reprojector, pixelSize float64, bufferPixels int, log *slog.Logger) *Resolver {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Resolver{reproj: r, margin: float64(bufferPixels) * pixelSize, log: log}
}

func (r *Resolver) Margin() float64 { return r.margin }

// Resolve returns the AOI bounding box in EPSG:4326 grown by the margin on
// every side. The AOI is validated before any reprojection call.
func (r *Resolver) Resolve(ctx context.Context, a model.AOI) (model.Extent, error) {
	if a.Geometry == nil {
		return model.Extent{}, errs.New(errs.KindInvalidInput, stage, a.Source, "aoi has no geometry")
	}
	polys, ok := a.Polygons()
	if !ok || len(polys) == 0 {
		return model.Extent{}, errs.Newf(errs.KindInvalidInput, stage, a.Source, "aoi must be polygonal (got %s)", a.Geometry.GeoJSONType())
	}
	crs := model.NormalizeCRS(a.CRS)
	if crs == "" {
		return model.Extent{}, errs.New(errs.KindInvalidInput, stage, a.Source, "aoi crs is not resolvable")
	}
	if math.IsNaN(r.margin) || math.IsInf(r.margin, 0) || r.margin <= 0 {
		return model.Extent{}, errs.Newf(errs.KindConfiguration, stage, "", "buffer margin is undefined (%v)", r.margin)
	}

	geo := a
	if crs != model.CRSWGS84 {
		if r.reproj == nil {
			return model.Extent{}, errs.Newf(errs.KindConfiguration, stage, a.Source, "no reprojector for %s", crs)
		}
		out, err := r.reproj.Reproject(ctx, a, model.CRSWGS84)
		if err != nil {
			if errs.KindOf(err) == errs.KindUnknown {
				return model.Extent{}, errs.Wrap(errs.KindReprojection, stage, a.Source, err)
			}
			return model.Extent{}, err
		}
		if out.Geometry == nil {
			return model.Extent{}, errs.Newf(errs.KindReprojection, stage, a.Source, "reprojection from %s returned no result", crs)
		}
		geo = out
		r.log.DebugContext(ctx, "aoi reprojected", "from", crs, "to", model.CRSWGS84)
	}

	bbox := model.ExtentFromBound(geo.Geometry.Bound(), model.CRSWGS84)
	if err := bbox.Validate(); err != nil {
		return model.Extent{}, errs.Wrap(errs.KindInvalidInput, stage, a.Source, err)
	}
	buffered := bbox.Buffer(r.margin)
	r.log.InfoContext(ctx, "extent resolved", "bbox", bbox.String(), "buffered", buffered.ProjWin())
	return buffered, nil
}
