// Package auth resolves provisioning bearer tokens into the tenant and
// scope a SCIM request is allowed to touch.
package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrInvalidToken is returned for unknown, revoked, or expired tokens.
var ErrInvalidToken = errors.New("auth: invalid provisioning token")

// Context is the resolved identity of a provisioning request. Every
// downstream query is bound to TenantID and ScopeID; AuditUserID attributes
// audit records to the integration that made the change.
type Context struct {
	TenantID    string
	ScopeID     string
	AuditUserID string
}

// Resolver turns a bearer token into a provisioning context.
type Resolver interface {
	Resolve(ctx context.Context, token string) (*Context, error)
}

// PostgresResolver looks tokens up by SHA-256 digest. Plaintext tokens are
// never stored; the digest column is what gets indexed and compared.
type PostgresResolver struct {
	pool *pgxpool.Pool
}

// NewPostgresResolver creates a resolver backed by the given pool.
func NewPostgresResolver(pool *pgxpool.Pool) *PostgresResolver {
	return &PostgresResolver{pool: pool}
}

// HashToken returns the hex SHA-256 digest used as the lookup key.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Resolve validates the token and returns its provisioning context.
func (r *PostgresResolver) Resolve(ctx context.Context, token string) (*Context, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}
	digest := HashToken(token)

	var (
		storedDigest string
		ac           Context
		expiresAt    *time.Time
		revokedAt    *time.Time
	)
	err := r.pool.QueryRow(ctx, `
		SELECT token_digest, tenant_id, scope_id, audit_user_id, expires_at, revoked_at
		FROM provisioning_tokens
		WHERE token_digest = $1`,
		digest,
	).Scan(&storedDigest, &ac.TenantID, &ac.ScopeID, &ac.AuditUserID, &expiresAt, &revokedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("look up provisioning token: %w", err)
	}

	if subtle.ConstantTimeCompare([]byte(storedDigest), []byte(digest)) != 1 {
		return nil, ErrInvalidToken
	}
	if revokedAt != nil {
		return nil, ErrInvalidToken
	}
	if expiresAt != nil && time.Now().After(*expiresAt) {
		return nil, ErrInvalidToken
	}
	return &ac, nil
}

// StaticResolver maps fixed tokens to contexts. Used in tests and local
// development.
type StaticResolver struct {
	tokens map[string]Context
}

// NewStaticResolver creates a resolver over a fixed token table.
func NewStaticResolver(tokens map[string]Context) *StaticResolver {
	return &StaticResolver{tokens: tokens}
}

// Resolve returns the context registered for token, if any.
func (r *StaticResolver) Resolve(_ context.Context, token string) (*Context, error) {
	ac, ok := r.tokens[token]
	if !ok {
		return nil, ErrInvalidToken
	}
	cp := ac
	return &cp, nil
}
