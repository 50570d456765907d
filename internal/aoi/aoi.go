// Package aoi reads and writes areas of interest as GeoJSON.
package aoi

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/manning-roughness/internal/core/errs"
	"github.com/mohammed-shakir/manning-roughness/internal/core/model"
)

const stage = "aoi"

type header struct {
	Type string          `json:"type"`
	CRS  json.RawMessage `json:"crs"`
}

type legacyCRS struct {
	Type       string `json:"type"`
	Properties struct {
		Name string `json:"name"`
	} `json:"properties"`
}

// Decode parses a FeatureCollection, Feature or bare geometry. crs overrides
// the document's legacy "crs" member; without either the AOI is EPSG:4326.
func Decode(data []byte, crs string) (model.AOI, error) {
	return decode(data, crs, "")
}

// Load reads a GeoJSON file. A missing or unreadable file is invalid input.
func Load(path, crs string) (model.AOI, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.AOI{}, errs.Wrap(errs.KindInvalidInput, stage, path, fmt.Errorf("read aoi: %w", err))
	}
	return decode(data, crs, path)
}

func decode(data []byte, crs, source string) (model.AOI, error) {
	var p header
	if err := json.Unmarshal(data, &p); err != nil {
		return model.AOI{}, errs.Wrap(errs.KindInvalidInput, stage, source, fmt.Errorf("decode geojson: %w", err))
	}

	var geoms []orb.Geometry
	switch p.Type {
	case "FeatureCollection":
		fc, err := geojson.UnmarshalFeatureCollection(data)
		if err != nil {
			return model.AOI{}, errs.Wrap(errs.KindInvalidInput, stage, source, err)
		}
		for _, f := range fc.Features {
			if f.Geometry != nil {
				geoms = append(geoms, f.Geometry)
			}
		}
	case "Feature":
		f, err := geojson.UnmarshalFeature(data)
		if err != nil {
			return model.AOI{}, errs.Wrap(errs.KindInvalidInput, stage, source, err)
		}
		if f.Geometry != nil {
			geoms = append(geoms, f.Geometry)
		}
	case "":
		return model.AOI{}, errs.New(errs.KindInvalidInput, stage, source, "geojson has no type")
	default:
		g, err := geojson.UnmarshalGeometry(data)
		if err != nil {
			return model.AOI{}, errs.Wrap(errs.KindInvalidInput, stage, source, err)
		}
		geoms = append(geoms, g.Geometry())
	}
	if len(geoms) == 0 {
		return model.AOI{}, errs.New(errs.KindInvalidInput, stage, source, "aoi has no features")
	}

	var polys []orb.Polygon
	for _, g := range geoms {
		ps, ok := model.AOI{Geometry: g}.Polygons()
		if !ok {
			return model.AOI{}, errs.Newf(errs.KindInvalidInput, stage, source, "aoi must be polygonal (got %s)", g.GeoJSONType())
		}
		polys = append(polys, ps...)
	}
	if len(polys) == 0 {
		return model.AOI{}, errs.New(errs.KindInvalidInput, stage, source, "aoi has no polygons")
	}
	for i, p := range polys {
		if len(p) == 0 || len(p[0]) < 4 {
			return model.AOI{}, errs.Newf(errs.KindInvalidInput, stage, source, "polygon %d has no closed exterior ring", i)
		}
	}

	resolved := model.NormalizeCRS(crs)
	if resolved == "" {
		var err error
		resolved, err = crsMember(p.CRS)
		if err != nil {
			return model.AOI{}, errs.Wrap(errs.KindInvalidInput, stage, source, err)
		}
	}
	if resolved == "" {
		resolved = model.CRSWGS84
	}

	out := model.AOI{CRS: resolved, Source: source}
	if len(polys) == 1 {
		out.Geometry = polys[0]
	} else {
		out.Geometry = orb.MultiPolygon(polys)
	}
	return out, nil
}

func crsMember(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var c legacyCRS
	if err := json.Unmarshal(raw, &c); err != nil {
		return "", fmt.Errorf("decode crs member: %w", err)
	}
	name := strings.TrimSpace(c.Properties.Name)
	if name == "" {
		return "", errors.New("crs member has no name")
	}
	return model.NormalizeCRS(name), nil
}

// Encode writes the AOI as a FeatureCollection carrying a legacy "crs"
// member so command-line tools pick up the source CRS.
func Encode(a model.AOI) ([]byte, error) {
	polys, ok := a.Polygons()
	if !ok || len(polys) == 0 {
		return nil, errs.New(errs.KindInvalidInput, stage, a.Source, "aoi must be polygonal")
	}
	fc := geojson.NewFeatureCollection()
	for _, p := range polys {
		fc.Append(geojson.NewFeature(p))
	}
	if a.CRS != "" {
		fc.ExtraMembers = geojson.Properties{
			"crs": map[string]any{
				"type":       "name",
				"properties": map[string]any{"name": model.NormalizeCRS(a.CRS)},
			},
		}
	}
	return fc.MarshalJSON()
}
