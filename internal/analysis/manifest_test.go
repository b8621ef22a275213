package analysis

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"civicwatch/internal/cases/models"
	id "civicwatch/pkg/domain"
)

func TestManifestHash(t *testing.T) {
	base := func(evidence ...string) *models.Case {
		c := &models.Case{
			ID:          id.NewCaseID(),
			Description: "funds diverted",
			FiledAt:     time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
			Analysis:    &models.Analysis{SeverityScore: 7.5, Summary: "s"},
		}
		for _, h := range evidence {
			c.Evidence = append(c.Evidence, models.Evidence{SHA256: h})
		}
		return c
	}

	a := base("bb", "aa")
	h1, err := ManifestHash(a)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(h1, "0x"))
	assert.Len(t, h1, 66)

	t.Run("evidence order does not matter", func(t *testing.T) {
		b := base("aa", "bb")
		b.ID = a.ID
		h2, err := ManifestHash(b)
		require.NoError(t, err)
		assert.Equal(t, h1, h2)
	})

	t.Run("severity is part of the manifest", func(t *testing.T) {
		b := base("aa", "bb")
		b.ID = a.ID
		b.Analysis.SeverityScore = 7.6
		h2, err := ManifestHash(b)
		require.NoError(t, err)
		assert.NotEqual(t, h1, h2)
	})
}
