package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "civicwatch/pkg/domain"
	dErrors "civicwatch/pkg/domain-errors"
)

func TestActorFromFlags(t *testing.T) {
	t.Run("random user when empty", func(t *testing.T) {
		actor, err := actorFromFlags("", "official")
		require.NoError(t, err)
		assert.Equal(t, id.RoleOfficial, actor.Role)
		assert.False(t, actor.ID.IsNil())
	})

	t.Run("explicit user", func(t *testing.T) {
		want := id.NewUserID()
		actor, err := actorFromFlags(want.String(), "SUPER_ADMIN")
		require.NoError(t, err)
		assert.Equal(t, want, actor.ID)
	})

	t.Run("unknown role", func(t *testing.T) {
		_, err := actorFromFlags("", "mayor")
		assert.Error(t, err)
	})

	t.Run("bad user id", func(t *testing.T) {
		_, err := actorFromFlags("not-a-uuid", "CITIZEN")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}
