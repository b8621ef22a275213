//go:build integration

package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"civicwatch/pkg/testutil/containers"
)

func TestPostgresCaseStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	pg := containers.NewPostgresContainer(t)
	suite.Run(t, &CaseStoreSuite{newStore: func() caseRepository {
		require.NoError(t, pg.Truncate(context.Background()))
		return NewPostgres(pg.DB)
	}})
}
