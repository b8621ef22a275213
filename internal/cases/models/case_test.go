package models

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "civicwatch/pkg/domain"
	dErrors "civicwatch/pkg/domain-errors"
)

var now = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func ptr(f float64) *float64 { return &f }

func TestStatusCanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to Status
		allowed  bool
	}{
		{StatusFiled, StatusInvestigating, true},
		{StatusFiled, StatusResolved, true},
		{StatusInvestigating, StatusResolved, true},
		{StatusFiled, StatusFiled, false},
		{StatusInvestigating, StatusInvestigating, false},
		{StatusResolved, StatusResolved, false},
		{StatusInvestigating, StatusFiled, false},
		{StatusResolved, StatusInvestigating, false},
		{StatusResolved, StatusFiled, false},
		{StatusFiled, Status("closed"), false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to))
		})
	}
}

// Any sequence of accepted transitions yields a strictly increasing rank.
func TestStatusMonotonicOverAllSequences(t *testing.T) {
	var walk func(current Status, depth int)
	walk = func(current Status, depth int) {
		if depth > 4 {
			return
		}
		for _, next := range AllStatuses {
			if current.CanTransitionTo(next) {
				require.Greater(t, statusRank[next], statusRank[current])
				walk(next, depth+1)
			}
		}
	}
	walk(StatusFiled, 0)
	assert.True(t, StatusResolved.IsTerminal())
}

func TestParseComplaintType(t *testing.T) {
	typ, err := ParseComplaintType("")
	require.NoError(t, err)
	assert.Equal(t, TypeOthers, typ)

	typ, err = ParseComplaintType("bribery")
	require.NoError(t, err)
	assert.Equal(t, TypeBribery, typ)

	_, err = ParseComplaintType("littering")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
}

func TestNewCase(t *testing.T) {
	filer := id.NewUserID()

	t.Run("defaults", func(t *testing.T) {
		c, err := NewCase(id.NewCaseID(), filer, "  Pothole bribe ", "asked for cash", "", nil, false, now)
		require.NoError(t, err)
		assert.Equal(t, "Pothole bribe", c.Title)
		assert.Equal(t, TypeOthers, c.Type)
		assert.Equal(t, StatusFiled, c.Status)
		assert.Equal(t, AnalysisPending, c.AnalysisState)
		assert.Nil(t, c.Analysis)
		assert.NotNil(t, c.Evidence)
		assert.Equal(t, now, c.FiledAt)
	})

	t.Run("validation", func(t *testing.T) {
		cases := map[string]struct {
			title, desc string
			loc         *Location
		}{
			"empty title":      {"", "d", nil},
			"long title":       {strings.Repeat("x", 256), "d", nil},
			"empty desc":       {"t", "  ", nil},
			"half coordinates": {"t", "d", &Location{Latitude: ptr(1)}},
			"bad latitude":     {"t", "d", &Location{Latitude: ptr(91), Longitude: ptr(0)}},
		}
		for name, tc := range cases {
			t.Run(name, func(t *testing.T) {
				_, err := NewCase(id.NewCaseID(), filer, tc.title, tc.desc, TypeFraud, tc.loc, false, now)
				assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation), "got %v", err)
			})
		}
	})

	t.Run("blank location dropped", func(t *testing.T) {
		c, err := NewCase(id.NewCaseID(), filer, "t", "d", TypeFraud, &Location{Text: "  "}, false, now)
		require.NoError(t, err)
		assert.Nil(t, c.Location)
	})
}

func TestVisibleTo(t *testing.T) {
	filer := id.Actor{ID: id.NewUserID(), Role: id.RoleCitizen}
	c, err := NewCase(id.NewCaseID(), filer.ID, "t", "d", TypeFraud, nil, false, now)
	require.NoError(t, err)

	assert.True(t, c.VisibleTo(filer))
	assert.False(t, c.VisibleTo(id.Actor{ID: id.NewUserID(), Role: id.RoleCitizen}))
	assert.True(t, c.VisibleTo(id.Actor{ID: id.NewUserID(), Role: id.RoleOfficial}))
	assert.True(t, c.VisibleTo(id.Actor{ID: id.NewUserID(), Role: id.RoleSuperAdmin}))
}

func TestCaseCanTransition(t *testing.T) {
	c := &Case{Status: StatusResolved}
	err := c.CanTransition(StatusInvestigating)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidTransition))

	c.Status = StatusFiled
	assert.NoError(t, c.CanTransition(StatusInvestigating))
}

func TestAnalysisResultNormalize(t *testing.T) {
	tests := []struct {
		name  string
		score float64
		want  float64
	}{
		{"in range", 7.25, 7.3},
		{"above max", 42, 10},
		{"below zero", -3, 0},
		{"already rounded", 4, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := AnalysisResult{SeverityScore: tt.score, Summary: "s", Category: " Water "}.Normalize(now)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, a.SeverityScore, 1e-9)
			assert.Equal(t, "water", a.Department)
			assert.Equal(t, now, a.CompletedAt)
		})
	}

	t.Run("empty summary", func(t *testing.T) {
		_, err := AnalysisResult{SeverityScore: 5, Summary: " "}.Normalize(now)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeAnalysisUnavailable))
	})

	t.Run("nan score", func(t *testing.T) {
		_, err := AnalysisResult{SeverityScore: math.NaN(), Summary: "s"}.Normalize(now)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeAnalysisUnavailable))
	})
}

func TestNewNote(t *testing.T) {
	author := id.NewUserID()
	n, err := NewNote(author, " checked ledger ", now)
	require.NoError(t, err)
	assert.Equal(t, "checked ledger", n.Content)
	assert.False(t, n.System)

	_, err = NewNote(author, "", now)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	_, err = NewNote(author, strings.Repeat("n", MaxNoteLength+1), now)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
}

func TestStatusChangeNote(t *testing.T) {
	actor := id.Actor{ID: id.NewUserID(), Role: id.RoleOfficial}
	n := StatusChangeNote(actor, StatusFiled, StatusInvestigating, now)
	assert.True(t, n.System)
	assert.Equal(t, "status changed from filed to investigating by "+actor.ID.String(), n.Content)
}
