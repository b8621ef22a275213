package projection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"civicwatch/internal/cases/models"
	id "civicwatch/pkg/domain"
)

func located(lat, lng float64) *models.Case {
	c := newCase(id.NewUserID(), t0, nil)
	c.Location = &models.Location{Latitude: &lat, Longitude: &lng}
	return c
}

func withSeverity(c *models.Case, v float64) *models.Case {
	c.Analysis = &models.Analysis{SeverityScore: v, Summary: "s"}
	return c
}

func TestMapPoints(t *testing.T) {
	exact := withSeverity(located(12.971599, 77.594566), 6)
	textOnly := newCase(id.NewUserID(), t0, nil)
	textOnly.Location = &models.Location{Text: "Near the old bus stand"}
	nowhere := newCase(id.NewUserID(), t0, nil)

	points := MapPoints([]*models.Case{exact, textOnly, nowhere}, DefaultCellLevel)
	require.Len(t, points, 2)

	p := points[0]
	assert.Equal(t, exact.ID.String(), p.ID)
	require.NotNil(t, p.Location.Latitude)
	assert.NotEqual(t, 12.971599, *p.Location.Latitude, "coordinates are blurred")
	assert.InDelta(t, 12.971599, *p.Location.Latitude, 0.02)
	assert.InDelta(t, 77.594566, *p.Location.Longitude, 0.02)
	assert.NotEmpty(t, p.Location.Cell)

	assert.Equal(t, "Near the old bus stand", points[1].Location.Text)
	assert.Nil(t, points[1].Location.Latitude)
}

// nearCentre returns coordinates a few metres from the centre of the level-13
// cell holding lat/lng, so they cannot fall into a neighbouring cell.
func nearCentre(lat, lng, dLat, dLng float64) (float64, float64) {
	centre := cellAt(lat, lng, DefaultCellLevel).LatLng()
	return centre.Lat.Degrees() + dLat, centre.Lng.Degrees() + dLng
}

func TestMapPointsNearbyCasesShareCell(t *testing.T) {
	a := located(nearCentre(12.971599, 77.594566, 0.0001, 0))
	b := located(nearCentre(12.971599, 77.594566, 0, -0.0001))
	points := MapPoints([]*models.Case{a, b}, DefaultCellLevel)
	assert.Equal(t, points[0].Location.Cell, points[1].Location.Cell)
	assert.Equal(t, *points[0].Location.Latitude, *points[1].Location.Latitude)
}

func TestHotspots(t *testing.T) {
	a := withSeverity(located(nearCentre(12.971599, 77.594566, 0.0001, 0.0001)), 4)
	b := withSeverity(located(nearCentre(12.971599, 77.594566, -0.0001, 0)), 8)
	c := located(nearCentre(12.971599, 77.594566, 0, 0.0002))
	far := withSeverity(located(28.613939, 77.209023), 2)

	clusters := Hotspots([]*models.Case{far, a, b, c}, DefaultCellLevel)
	require.Len(t, clusters, 2)
	assert.Equal(t, 3, clusters[0].Count)
	require.NotNil(t, clusters[0].AvgSeverity)
	assert.Equal(t, 6.0, *clusters[0].AvgSeverity)
	assert.ElementsMatch(t, []string{a.ID.String(), b.ID.String(), c.ID.String()}, clusters[0].CaseIDs)
	assert.Equal(t, 1, clusters[1].Count)
}

func TestValidateLevel(t *testing.T) {
	assert.NoError(t, ValidateLevel(0))
	assert.NoError(t, ValidateLevel(30))
	assert.Error(t, ValidateLevel(31))
	assert.Error(t, ValidateLevel(-1))
}
