package storage

import (
	"testing"
	"time"

	"rentgate/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPermissionsRoundTrip(t *testing.T) {
	s, err := marshalPermissions(nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", s)

	perms, err := unmarshalPermissions(`["read","admin"]`)
	require.NoError(t, err)
	assert.Equal(t, []string{"read", "admin"}, perms)

	perms, err = unmarshalPermissions("")
	require.NoError(t, err)
	assert.Empty(t, perms)

	_, err = unmarshalPermissions("{not json")
	assert.Error(t, err)
}

func TestPolicyRow(t *testing.T) {
	updated := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p := &models.Policy{
		Name:        "sensitive",
		Algorithm:   models.AlgorithmFixedWindow,
		Window:      90 * time.Minute,
		MaxRequests: 3,
		Message:     "slow down",
		StatusCode:  429,
		KeyStrategy: models.KeyStrategyIP,
		UpdatedAt:   updated,
	}

	row := policyToRow(p)
	assert.Equal(t, int64(90*60*1000), row.WindowMs)
	assert.Equal(t, p, row.toModel())
}

func TestPolicyRow_StampsMissingUpdatedAt(t *testing.T) {
	row := policyToRow(&models.Policy{Name: "api", Window: time.Minute, MaxRequests: 1})
	assert.False(t, row.UpdatedAt.IsZero())
	assert.Equal(t, time.UTC, row.UpdatedAt.Location())
}

func TestSQLiteTime(t *testing.T) {
	ts := time.Date(2026, 10, 17, 8, 30, 0, 123456789, time.FixedZone("EAT", 3*60*60))

	parsed, err := parseSQLiteTime(formatSQLiteTime(ts))
	require.NoError(t, err)
	assert.True(t, ts.Equal(parsed))
	assert.Equal(t, time.UTC, parsed.Location())

	_, err = parseSQLiteTime("yesterday")
	assert.Error(t, err)
}

func TestSortAPIKeys(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	keys := []*models.APIKey{
		{ID: "c", CreatedAt: t0.Add(time.Hour)},
		{ID: "b", CreatedAt: t0},
		{ID: "a", CreatedAt: t0},
	}
	sortAPIKeys(keys)
	assert.Equal(t, "a", keys[0].ID)
	assert.Equal(t, "b", keys[1].ID)
	assert.Equal(t, "c", keys[2].ID)
}
