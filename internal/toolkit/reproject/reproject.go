// Package reproject moves AOI geometries to EPSG:4326 without external
// tools for the common projected systems and chains to a fallback otherwise.
package reproject

import (
	"context"
	"errors"
	"fmt"

	"github.com/im7mortal/UTM"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"

	"github.com/mohammed-shakir/manning-roughness/internal/core/errs"
	"github.com/mohammed-shakir/manning-roughness/internal/core/model"
	"github.com/mohammed-shakir/manning-roughness/internal/toolkit"
)

// ErrUnsupported reports a CRS pair that Native cannot handle; Chain moves
// on to the next reprojector.
var ErrUnsupported = errors.New("reprojection not supported")

const (
	epsgWebMercator = 3857
	epsgUTMNorthMin = 32601
	epsgUTMNorthMax = 32660
	epsgUTMSouthMin = 32701
	epsgUTMSouthMax = 32760
)

// Native handles EPSG:4326, EPSG:3857 and the WGS84 UTM zones.
type Native struct{}

func (Native) Reproject(ctx context.Context, a model.AOI, target string) (model.AOI, error) {
	if err := ctx.Err(); err != nil {
		return model.AOI{}, err
	}
	from := model.NormalizeCRS(a.CRS)
	to := model.NormalizeCRS(target)
	if to != model.CRSWGS84 {
		return model.AOI{}, fmt.Errorf("%w: target %s", ErrUnsupported, to)
	}
	if a.Geometry == nil {
		return model.AOI{}, errs.New(errs.KindReprojection, toolkit.ToolReproject, a.Source, "aoi has no geometry")
	}
	out := model.AOI{CRS: to, Source: a.Source}
	if from == to {
		out.Geometry = orb.Clone(a.Geometry)
		return out, nil
	}

	code, ok := model.EPSGCode(from)
	if !ok {
		return model.AOI{}, fmt.Errorf("%w: source %s", ErrUnsupported, from)
	}
	switch {
	case code == epsgWebMercator:
		out.Geometry = project.Geometry(orb.Clone(a.Geometry), project.Mercator.ToWGS84)
		return out, nil
	case code >= epsgUTMNorthMin && code <= epsgUTMNorthMax:
		g, err := utmToWGS84(a.Geometry, code-32600, true)
		if err != nil {
			return model.AOI{}, errs.Wrap(errs.KindReprojection, toolkit.ToolReproject, a.Source, err)
		}
		out.Geometry = g
		return out, nil
	case code >= epsgUTMSouthMin && code <= epsgUTMSouthMax:
		g, err := utmToWGS84(a.Geometry, code-32700, false)
		if err != nil {
			return model.AOI{}, errs.Wrap(errs.KindReprojection, toolkit.ToolReproject, a.Source, err)
		}
		out.Geometry = g
		return out, nil
	}
	return model.AOI{}, fmt.Errorf("%w: source %s", ErrUnsupported, from)
}

func utmToWGS84(g orb.Geometry, zone int, northern bool) (orb.Geometry, error) {
	var firstErr error
	proj := func(p orb.Point) orb.Point {
		lat, lon, err := UTM.ToLatLon(p[0], p[1], zone, "", northern)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("utm zone %d point %v: %w", zone, p, err)
			}
			return p
		}
		return orb.Point{lon, lat}
	}
	out := project.Geometry(orb.Clone(g), proj)
	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}

type chain []toolkit.Reprojector

// Chain tries each reprojector in order until one supports the CRS pair.
func Chain(rs ...toolkit.Reprojector) toolkit.Reprojector {
	var c chain
	for _, r := range rs {
		if r != nil {
			c = append(c, r)
		}
	}
	return c
}

func (c chain) Reproject(ctx context.Context, a model.AOI, target string) (model.AOI, error) {
	for _, r := range c {
		out, err := r.Reproject(ctx, a, target)
		if errors.Is(err, ErrUnsupported) {
			continue
		}
		return out, err
	}
	return model.AOI{}, errs.Newf(errs.KindReprojection, toolkit.ToolReproject, a.Source, "no reprojection from %s to %s", a.CRS, target)
}
