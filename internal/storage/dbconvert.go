package storage

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"rentgate/internal/models"
)

// marshalPermissions serialises a permissions slice to a JSON string.
func marshalPermissions(perms []string) (string, error) {
	if perms == nil {
		perms = []string{}
	}
	data, err := json.Marshal(perms)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// unmarshalPermissions parses a JSON string into a permissions slice.
func unmarshalPermissions(data string) ([]string, error) {
	if data == "" {
		return []string{}, nil
	}
	var perms []string
	if err := json.Unmarshal([]byte(data), &perms); err != nil {
		return nil, fmt.Errorf("failed to unmarshal permissions: %w", err)
	}
	return perms, nil
}

// policyRow is the column layout shared by the SQL backends. Windows are
// stored in milliseconds.
type policyRow struct {
	Name        string
	Algorithm   string
	WindowMs    int64
	MaxRequests int64
	Message     string
	StatusCode  int64
	KeyStrategy string
	UpdatedAt   time.Time
}

func policyToRow(p *models.Policy) policyRow {
	updated := p.UpdatedAt
	if updated.IsZero() {
		updated = time.Now().UTC()
	}
	return policyRow{
		Name:        p.Name,
		Algorithm:   p.Algorithm,
		WindowMs:    p.Window.Milliseconds(),
		MaxRequests: int64(p.MaxRequests),
		Message:     p.Message,
		StatusCode:  int64(p.StatusCode),
		KeyStrategy: p.KeyStrategy,
		UpdatedAt:   updated.UTC(),
	}
}

func (r policyRow) toModel() *models.Policy {
	return &models.Policy{
		Name:        r.Name,
		Algorithm:   r.Algorithm,
		Window:      time.Duration(r.WindowMs) * time.Millisecond,
		MaxRequests: int(r.MaxRequests),
		Message:     r.Message,
		StatusCode:  int(r.StatusCode),
		KeyStrategy: r.KeyStrategy,
		UpdatedAt:   r.UpdatedAt.UTC(),
	}
}

// sqliteTimeLayout is how timestamps are written to SQLite TEXT columns.
const sqliteTimeLayout = time.RFC3339Nano

func formatSQLiteTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(sqliteTimeLayout)
}

func parseSQLiteTime(s string) (time.Time, error) {
	t, err := time.Parse(sqliteTimeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

// sortAPIKeys orders keys oldest first, breaking ties by ID.
func sortAPIKeys(keys []*models.APIKey) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].CreatedAt.Equal(keys[j].CreatedAt) {
			return keys[i].ID < keys[j].ID
		}
		return keys[i].CreatedAt.Before(keys[j].CreatedAt)
	})
}
