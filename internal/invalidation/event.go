// Package invalidation defines the land-cover update events that drop cached runs.
package invalidation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/manning-roughness/internal/core/model"
)

const (
	OpInsert = "insert"
	OpUpdate = "update"
	OpDelete = "delete"
)

// Event announces that the land cover of Source changed inside an area given
// by exactly one of BBox, Geometry or Cells. Revision orders events per
// source; zero means unversioned.
type Event struct {
	Version  int             `json:"version"`
	Op       string          `json:"op"`
	Source   string          `json:"source"`
	Revision uint64          `json:"revision,omitempty"`
	TS       time.Time       `json:"ts"`
	BBox     *BBox           `json:"bbox,omitempty"`
	Geometry json.RawMessage `json:"geometry,omitempty"`
	Cells    []string        `json:"cells,omitempty"`
}

type BBox struct {
	X1   float64 `json:"x1"`
	Y1   float64 `json:"y1"`
	X2   float64 `json:"x2"`
	Y2   float64 `json:"y2"`
	SRID string  `json:"srid"`
}

func (b BBox) Extent() model.Extent {
	return model.Extent{XMin: b.X1, YMin: b.Y1, XMax: b.X2, YMax: b.Y2, CRS: model.NormalizeCRS(b.SRID)}
}

func (e Event) Validate() error {
	if e.Version != 1 {
		return errors.New("version must be 1")
	}
	switch e.Op {
	case OpInsert, OpUpdate, OpDelete:
	default:
		return errors.New("op must be insert|update|delete")
	}
	if strings.TrimSpace(e.Source) == "" {
		return errors.New("source is required")
	}
	if e.TS.IsZero() {
		return errors.New("ts is required")
	}
	n := 0
	if e.BBox != nil {
		n++
	}
	if len(e.Geometry) > 0 {
		n++
	}
	if len(e.Cells) > 0 {
		n++
	}
	if n != 1 {
		return errors.New("exactly one of bbox, geometry or cells is required")
	}
	switch {
	case e.BBox != nil:
		bb := *e.BBox
		if model.NormalizeCRS(bb.SRID) != model.CRSWGS84 {
			return fmt.Errorf("bbox.srid must be %s", model.CRSWGS84)
		}
		if !(bb.X1 >= -180 && bb.X1 <= 180 && bb.X2 >= -180 && bb.X2 <= 180) {
			return errors.New("bbox longitude out of range")
		}
		if !(bb.Y1 >= -90 && bb.Y1 <= 90 && bb.Y2 >= -90 && bb.Y2 <= 90) {
			return errors.New("bbox latitude out of range")
		}
		if !(bb.X2 > bb.X1 && bb.Y2 > bb.Y1) {
			return errors.New("bbox must satisfy x2>x1 and y2>y1")
		}
	case len(e.Geometry) > 0:
		if _, err := e.Area(); err != nil {
			return err
		}
	}
	return nil
}

// Area decodes Geometry, which must be a WGS84 Polygon or MultiPolygon.
func (e Event) Area() (orb.Geometry, error) {
	g, err := geojson.UnmarshalGeometry(e.Geometry)
	if err != nil {
		return nil, fmt.Errorf("geometry parse: %w", err)
	}
	switch t := g.Geometry().(type) {
	case orb.Polygon, orb.MultiPolygon:
		return t, nil
	default:
		return nil, errors.New("geometry.type must be Polygon or MultiPolygon")
	}
}
