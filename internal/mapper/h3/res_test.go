package h3mapper

import (
	"slices"
	"testing"

	h3 "github.com/uber/h3-go/v4"
)

func cellAt(t *testing.T, lat, lng float64, res int) h3.Cell {
	t.Helper()
	c, err := h3.LatLngToCell(h3.LatLng{Lat: lat, Lng: lng}, res)
	if err != nil {
		t.Fatalf("LatLngToCell: %v", err)
	}
	return c
}

func TestNormalize_EventCellsToIndexResolution(t *testing.T) {
	m := New()
	const res = 7
	malmo9 := cellAt(t, 55.6050, 13.0038, 9)
	malmo7, _ := malmo9.Parent(res)
	gbg6 := cellAt(t, 57.7089, 11.9746, 6)
	gbgKids, _ := gbg6.Children(res)

	cases := []struct {
		name  string
		in    []string
		count int
		must  []string
	}{
		{"same resolution", []string{malmo7.String()}, 1, []string{malmo7.String()}},
		{"finer collapses to parent", []string{malmo9.String()}, 1, []string{malmo7.String()}},
		{"siblings share a parent", siblings(t, malmo9), 1, []string{malmo7.String()}},
		{"coarser expands", []string{gbg6.String()}, 7, []string{gbgKids[0].String(), gbgKids[6].String()}},
		{"mixed and repeated", []string{malmo9.String(), gbg6.String(), malmo7.String(), gbg6.String()}, 8, []string{malmo7.String()}},
		{"empty", nil, 0, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := m.Normalize(tc.in, res)
			if err != nil {
				t.Fatalf("Normalize: %v", err)
			}
			if len(got) != tc.count {
				t.Fatalf("len=%d want %d: %v", len(got), tc.count, got)
			}
			if !slices.IsSorted(got) {
				t.Fatalf("unsorted: %v", got)
			}
			for _, w := range tc.must {
				if !contains(got, w) {
					t.Fatalf("missing %s in %v", w, got)
				}
			}
		})
	}
}

func siblings(t *testing.T, c h3.Cell) []string {
	t.Helper()
	p, err := c.Parent(c.Resolution() - 1)
	if err != nil {
		t.Fatal(err)
	}
	kids, err := p.Children(c.Resolution())
	if err != nil {
		t.Fatal(err)
	}
	out := make([]string, len(kids))
	for i, k := range kids {
		out[i] = k.String()
	}
	return out
}

func TestNormalize_Rejects(t *testing.T) {
	m := New()
	ok := cellAt(t, 59.3293, 18.0686, 8).String()
	for name, tc := range map[string]struct {
		cells []string
		res   int
	}{
		"garbage cell":  {[]string{ok, "not-a-cell"}, 7},
		"zero cell":     {[]string{"0"}, 7},
		"resolution 16": {[]string{ok}, 16},
		"negative res":  {[]string{ok}, -1},
	} {
		if _, err := m.Normalize(tc.cells, tc.res); err == nil {
			t.Fatalf("%s: accepted", name)
		}
	}
}

func contains(xs []string, v string) bool {
	return slices.Contains(xs, v)
}
