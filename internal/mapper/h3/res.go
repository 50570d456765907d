package h3mapper

import (
	"fmt"
	"slices"

	h3 "github.com/uber/h3-go/v4"
)

func parseCell(s string) (h3.Cell, error) {
	var c h3.Cell
	if err := c.UnmarshalText([]byte(s)); err != nil || !c.IsValid() {
		return 0, fmt.Errorf("invalid h3 cell %q", s)
	}
	return c, nil
}

// atRes returns the cells at res covering c: its ancestor when c is finer,
// its descendants when c is coarser.
func atRes(c h3.Cell, res int) ([]h3.Cell, error) {
	switch cur := c.Resolution(); {
	case cur == res:
		return []h3.Cell{c}, nil
	case cur > res:
		p, err := c.Parent(res)
		if err != nil {
			return nil, fmt.Errorf("h3 parent of %s at res %d: %w", c, res, err)
		}
		return []h3.Cell{p}, nil
	default:
		kids, err := c.Children(res)
		if err != nil {
			return nil, fmt.Errorf("h3 children of %s at res %d: %w", c, res, err)
		}
		return kids, nil
	}
}

// Normalize brings the cells of an invalidation event to the index
// resolution res: finer cells map to their parent, coarser cells expand to
// their children. Output is sorted and unique.
func (m *Mapper) Normalize(cells []string, res int) ([]string, error) {
	if err := validateRes(res); err != nil {
		return nil, err
	}
	seen := make(map[h3.Cell]struct{}, len(cells))
	for _, s := range cells {
		c, err := parseCell(s)
		if err != nil {
			return nil, err
		}
		covering, err := atRes(c, res)
		if err != nil {
			return nil, err
		}
		for _, k := range covering {
			seen[k] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c.String())
	}
	slices.Sort(out)
	return out, nil
}
