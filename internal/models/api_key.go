package models

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// KeyPrefix starts every key minted by the gateway. Bearer tokens without it
// belong to the upstream application.
const KeyPrefix = "rg_"

// displayPrefixLen is how much of a raw key is kept for identification.
const displayPrefixLen = 8

// Permission names an API key may carry. PermissionAll is accepted as a
// synonym for admin.
const (
	PermissionRead  = "read"
	PermissionWrite = "write"
	PermissionAdmin = "admin"
	PermissionAll   = "*"
)

// permissionRank orders permissions; a key satisfies any permission ranked at
// or below one it holds.
var permissionRank = map[string]int{
	PermissionRead:  1,
	PermissionWrite: 2,
	PermissionAdmin: 3,
	PermissionAll:   3,
}

// APIKey is a stored admin credential. Only the SHA-256 of the raw key and a
// short display prefix are persisted. Keys also identify callers for the
// api_key rate limit strategy.
type APIKey struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	KeyHash     string    `json:"key_hash"`
	Prefix      string    `json:"prefix"`
	Permissions []string  `json:"permissions"`
	Enabled     bool      `json:"enabled"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NewAPIKey builds an enabled key record for rawKey.
func NewAPIKey(id, name, rawKey string, permissions []string) *APIKey {
	now := time.Now().UTC()
	prefix := rawKey
	if len(prefix) > displayPrefixLen {
		prefix = prefix[:displayPrefixLen]
	}
	return &APIKey{
		ID:          id,
		Name:        name,
		KeyHash:     HashAPIKey(rawKey),
		Prefix:      prefix,
		Permissions: permissions,
		Enabled:     true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// GenerateAPIKey returns KeyPrefix followed by 44 url-safe base64 characters
// (33 random bytes).
func GenerateAPIKey() (string, error) {
	b := make([]byte, 33)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	return KeyPrefix + base64.RawURLEncoding.EncodeToString(b), nil
}

// IsGatewayKey reports whether token has the shape of a gateway-minted key.
func IsGatewayKey(token string) bool {
	return strings.HasPrefix(token, KeyPrefix) && len(token) > len(KeyPrefix)
}

// HashAPIKey returns the hex SHA-256 of rawKey.
func HashAPIKey(rawKey string) string {
	sum := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(sum[:])
}

func NewKeyID() string {
	return uuid.New().String()
}

// ValidPermission reports whether p is a known permission name.
func ValidPermission(p string) bool {
	_, ok := permissionRank[p]
	return ok
}

// HasPermission reports whether an enabled key holds required or a higher
// permission.
func (ak *APIKey) HasPermission(required string) bool {
	if !ak.Enabled {
		return false
	}
	need, ok := permissionRank[required]
	if !ok {
		return false
	}
	for _, p := range ak.Permissions {
		if permissionRank[p] >= need {
			return true
		}
	}
	return false
}

type apiKeyContextKey struct{}

// ContextWithAPIKey returns a copy of ctx carrying the authenticated key.
func ContextWithAPIKey(ctx context.Context, key *APIKey) context.Context {
	return context.WithValue(ctx, apiKeyContextKey{}, key)
}

// APIKeyFromContext returns the key stored by ContextWithAPIKey, if any.
func APIKeyFromContext(ctx context.Context) (*APIKey, bool) {
	key, ok := ctx.Value(apiKeyContextKey{}).(*APIKey)
	return key, ok && key != nil
}
