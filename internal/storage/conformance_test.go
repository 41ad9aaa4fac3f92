package storage

import (
	"context"
	"testing"
	"time"

	"rentgate/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testStorageConformance exercises the behaviour every backend must share.
func testStorageConformance(t *testing.T, s Storage) {
	t.Helper()
	ctx := context.Background()

	t.Run("Policy Operations", func(t *testing.T) {
		policies, err := s.Policies(ctx)
		require.NoError(t, err)
		assert.Empty(t, policies)

		_, err = s.GetPolicy(ctx, "auth")
		assert.ErrorIs(t, err, ErrNotFound)

		updated := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		auth := &models.Policy{
			Name:        "auth",
			Algorithm:   models.AlgorithmFixedWindow,
			Window:      10 * time.Minute,
			MaxRequests: 3,
			Message:     "Too many login attempts",
			StatusCode:  429,
			KeyStrategy: models.KeyStrategyIP,
			UpdatedAt:   updated,
		}
		require.NoError(t, s.SavePolicy(ctx, auth))

		got, err := s.GetPolicy(ctx, "auth")
		require.NoError(t, err)
		assert.Equal(t, auth.Window, got.Window)
		assert.Equal(t, 3, got.MaxRequests)
		assert.Equal(t, "Too many login attempts", got.Message)
		assert.Equal(t, models.KeyStrategyIP, got.KeyStrategy)
		assert.True(t, updated.Equal(got.UpdatedAt), "updated_at round trips")

		// Upsert replaces the stored override.
		auth.MaxRequests = 7
		auth.Algorithm = models.AlgorithmTokenBucket
		require.NoError(t, s.SavePolicy(ctx, auth))
		got, err = s.GetPolicy(ctx, "auth")
		require.NoError(t, err)
		assert.Equal(t, 7, got.MaxRequests)
		assert.Equal(t, models.AlgorithmTokenBucket, got.Algorithm)

		require.NoError(t, s.SavePolicy(ctx, &models.Policy{
			Name: "api", Algorithm: models.AlgorithmFixedWindow, Window: time.Minute, MaxRequests: 50,
		}))

		policies, err = s.Policies(ctx)
		require.NoError(t, err)
		require.Len(t, policies, 2)
		assert.Equal(t, "api", policies[0].Name)
		assert.Equal(t, "auth", policies[1].Name)

		require.NoError(t, s.DeletePolicy(ctx, "auth"))
		assert.ErrorIs(t, s.DeletePolicy(ctx, "auth"), ErrNotFound)
		_, err = s.GetPolicy(ctx, "auth")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("API Key Operations", func(t *testing.T) {
		first := models.NewAPIKey(models.NewKeyID(), "ops", "rg_first-raw-key-value", []string{"read"})
		first.CreatedAt = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		first.UpdatedAt = first.CreatedAt
		second := models.NewAPIKey(models.NewKeyID(), "admin", "rg_second-raw-key-value", []string{"admin"})
		second.CreatedAt = time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
		second.UpdatedAt = second.CreatedAt

		require.NoError(t, s.CreateAPIKey(ctx, second))
		require.NoError(t, s.CreateAPIKey(ctx, first))

		got, err := s.GetAPIKeyByHash(ctx, models.HashAPIKey("rg_first-raw-key-value"))
		require.NoError(t, err)
		assert.Equal(t, first.ID, got.ID)
		assert.Equal(t, "ops", got.Name)
		assert.Equal(t, []string{"read"}, got.Permissions)
		assert.True(t, got.Enabled)

		_, err = s.GetAPIKeyByHash(ctx, models.HashAPIKey("unknown"))
		assert.ErrorIs(t, err, ErrNotFound)

		keys, err := s.ListAPIKeys(ctx)
		require.NoError(t, err)
		require.Len(t, keys, 2)
		assert.Equal(t, first.ID, keys[0].ID, "oldest first")

		got.Enabled = false
		got.Permissions = []string{"read", "write"}
		got.UpdatedAt = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
		require.NoError(t, s.UpdateAPIKey(ctx, got))

		again, err := s.GetAPIKeyByHash(ctx, first.KeyHash)
		require.NoError(t, err)
		assert.False(t, again.Enabled)
		assert.Equal(t, []string{"read", "write"}, again.Permissions)

		missing := *got
		missing.ID = "does-not-exist"
		assert.ErrorIs(t, s.UpdateAPIKey(ctx, &missing), ErrNotFound)

		require.NoError(t, s.DeleteAPIKey(ctx, first.ID))
		assert.ErrorIs(t, s.DeleteAPIKey(ctx, first.ID), ErrNotFound)
		_, err = s.GetAPIKeyByHash(ctx, first.KeyHash)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Ping", func(t *testing.T) {
		assert.NoError(t, s.Ping(ctx))
	})
}
