package projection

import (
	"cmp"
	"math"
	"slices"

	"github.com/golang/geo/s2"

	"civicwatch/internal/cases/models"
	dErrors "civicwatch/pkg/domain-errors"
)

// DefaultCellLevel is roughly one square kilometre per cell.
const DefaultCellLevel = 13

const maxCellLevel = 30

// ValidateLevel rejects cell levels outside what s2 supports.
func ValidateLevel(level int) error {
	if level < 0 || level > maxCellLevel {
		return dErrors.New(dErrors.CodeValidation, "cell level must be between 0 and 30")
	}
	return nil
}

// MapPoints returns a point for every case with a location. Coordinates are
// replaced by the centre of their cell at level; text-only locations pass
// through without coordinates.
func MapPoints(cases []*models.Case, level int) []MapPoint {
	out := []MapPoint{}
	for _, c := range cases {
		if c.Location == nil {
			continue
		}
		p := MapPoint{
			ID:            c.ID.String(),
			SeverityScore: c.Severity(),
			ComplaintType: string(c.Type),
			Location:      ApproxLocation{Text: c.Location.Text},
		}
		if c.Location.HasCoordinates() {
			cell := cellAt(*c.Location.Latitude, *c.Location.Longitude, level)
			centre := cell.LatLng()
			lat, lng := round6(centre.Lat.Degrees()), round6(centre.Lng.Degrees())
			p.Location.Latitude = &lat
			p.Location.Longitude = &lng
			p.Location.Cell = cell.ToToken()
		}
		out = append(out, p)
	}
	return out
}

// Hotspots groups cases with coordinates by their cell at level, largest
// group first. The average ignores unscored cases.
func Hotspots(cases []*models.Case, level int) []Cluster {
	type acc struct {
		cell   s2.CellID
		ids    []string
		sum    float64
		scored int
	}
	groups := map[s2.CellID]*acc{}
	for _, c := range cases {
		if !c.Location.HasCoordinates() {
			continue
		}
		cell := cellAt(*c.Location.Latitude, *c.Location.Longitude, level)
		g, ok := groups[cell]
		if !ok {
			g = &acc{cell: cell}
			groups[cell] = g
		}
		g.ids = append(g.ids, c.ID.String())
		if s := c.Severity(); s != nil {
			g.sum += *s
			g.scored++
		}
	}

	out := make([]Cluster, 0, len(groups))
	for _, g := range groups {
		centre := g.cell.LatLng()
		c := Cluster{
			Cell:      g.cell.ToToken(),
			Latitude:  round6(centre.Lat.Degrees()),
			Longitude: round6(centre.Lng.Degrees()),
			Count:     len(g.ids),
			CaseIDs:   g.ids,
		}
		if g.scored > 0 {
			avg := math.Round(g.sum/float64(g.scored)*10) / 10
			c.AvgSeverity = &avg
		}
		slices.Sort(c.CaseIDs)
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b Cluster) int {
		if a.Count != b.Count {
			return cmp.Compare(b.Count, a.Count)
		}
		return cmp.Compare(a.Cell, b.Cell)
	})
	return out
}

func cellAt(lat, lng float64, level int) s2.CellID {
	return s2.CellIDFromLatLng(s2.LatLngFromDegrees(lat, lng)).Parent(level)
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
