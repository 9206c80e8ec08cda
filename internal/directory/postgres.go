package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store on a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a Postgres-backed directory store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const memberColumns = `id, scope_id, user_id, role, email, display_name, deactivated_at, created_at, updated_at`

func scanMember(row pgx.Row) (*Member, error) {
	var m Member
	err := row.Scan(&m.ID, &m.ScopeID, &m.UserID, &m.Role, &m.Email,
		&m.DisplayName, &m.DeactivatedAt, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan member: %w", err)
	}
	return &m, nil
}

// Scope returns the scope row.
func (s *PostgresStore) Scope(ctx context.Context, scopeID string) (*Scope, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var sc Scope
	err := s.pool.QueryRow(ctx,
		`SELECT id, tenant_id, slug FROM scopes WHERE id = $1`,
		scopeID).Scan(&sc.ID, &sc.TenantID, &sc.Slug)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query scope: %w", err)
	}
	return &sc, nil
}

// Member returns the membership row for (scopeID, userID).
func (s *PostgresStore) Member(ctx context.Context, scopeID, userID string) (*Member, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	row := s.pool.QueryRow(ctx,
		`SELECT `+memberColumns+` FROM scope_members WHERE scope_id = $1 AND user_id = $2`,
		scopeID, userID)
	return scanMember(row)
}

// predicateSQL translates a MemberPredicate into a WHERE fragment with
// positional parameters starting at argOffset+1. FieldNone conditions are
// placeholders the caller should already have resolved away; if one survives
// it matches nothing, which keeps the translation total.
func predicateSQL(p *MemberPredicate, argOffset int) (string, []any) {
	if p == nil || len(p.Conditions) == 0 {
		return "", nil
	}

	var (
		parts []string
		args  []any
	)
	idx := argOffset
	for _, c := range p.Conditions {
		switch c.Field {
		case FieldEmail:
			idx++
			switch c.Match {
			case MatchContains:
				parts = append(parts, fmt.Sprintf("email ILIKE $%d", idx))
				args = append(args, "%"+escapeLike(c.Value)+"%")
			case MatchPrefix:
				parts = append(parts, fmt.Sprintf("email ILIKE $%d", idx))
				args = append(args, escapeLike(c.Value)+"%")
			default:
				parts = append(parts, fmt.Sprintf("LOWER(email) = $%d", idx))
				args = append(args, strings.ToLower(c.Value))
			}
		case FieldUserID:
			idx++
			parts = append(parts, fmt.Sprintf("user_id = $%d", idx))
			args = append(args, c.Value)
		case FieldActive:
			if c.Active {
				parts = append(parts, "deactivated_at IS NULL")
			} else {
				parts = append(parts, "deactivated_at IS NOT NULL")
			}
		case FieldNone:
			parts = append(parts, "FALSE")
		}
	}

	joiner := " AND "
	if p.Disjunction {
		joiner = " OR "
	}
	return "(" + strings.Join(parts, joiner) + ")", args
}

// escapeLike escapes LIKE metacharacters in user-supplied match values.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}

// ListMembers returns a page of members matching the query plus the total count.
func (s *PostgresStore) ListMembers(ctx context.Context, scopeID string, q MemberQuery) ([]Member, int, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	where := "scope_id = $1"
	args := []any{scopeID}
	if frag, fragArgs := predicateSQL(q.Predicate, len(args)); frag != "" {
		where += " AND " + frag
		args = append(args, fragArgs...)
	}

	var total int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM scope_members WHERE `+where, args...).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count members: %w", err)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`SELECT `+memberColumns+` FROM scope_members WHERE %s ORDER BY user_id LIMIT $%d OFFSET $%d`,
		where, len(args)+1, len(args)+2)
	args = append(args, limit, q.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query members: %w", err)
	}
	defer rows.Close()

	var members []Member
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.ID, &m.ScopeID, &m.UserID, &m.Role, &m.Email,
			&m.DisplayName, &m.DeactivatedAt, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate members: %w", err)
	}
	return members, total, nil
}

// MembersByRole returns the active membership of one role-group.
func (s *PostgresStore) MembersByRole(ctx context.Context, scopeID string, role Role) ([]Member, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	rows, err := s.pool.Query(ctx,
		`SELECT `+memberColumns+` FROM scope_members
		 WHERE scope_id = $1 AND role = $2 AND deactivated_at IS NULL
		 ORDER BY user_id`,
		scopeID, role)
	if err != nil {
		return nil, fmt.Errorf("query role members: %w", err)
	}
	defer rows.Close()

	var members []Member
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.ID, &m.ScopeID, &m.UserID, &m.Role, &m.Email,
			&m.DisplayName, &m.DeactivatedAt, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate role members: %w", err)
	}
	return members, nil
}

// ResolveExternalID maps an IdP external id to an internal resource id.
func (s *PostgresStore) ResolveExternalID(ctx context.Context, tenantID, externalID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var internalID string
	err := s.pool.QueryRow(ctx,
		`SELECT internal_id FROM external_mappings WHERE tenant_id = $1 AND external_id = $2`,
		tenantID, externalID).Scan(&internalID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("query external mapping: %w", err)
	}
	return internalID, nil
}

// ExternalIDFor returns the external id registered for an internal id.
func (s *PostgresStore) ExternalIDFor(ctx context.Context, tenantID, internalID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var externalID string
	err := s.pool.QueryRow(ctx,
		`SELECT external_id FROM external_mappings WHERE tenant_id = $1 AND internal_id = $2`,
		tenantID, internalID).Scan(&externalID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("query external mapping: %w", err)
	}
	return externalID, nil
}

// WithTx runs fn inside a single database transaction.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&postgresTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type postgresTx struct {
	tx pgx.Tx
}

// MemberForUpdate re-reads and row-locks the membership row. The lock is what
// serializes two concurrent provisioning syncs touching the same member.
func (t *postgresTx) MemberForUpdate(ctx context.Context, scopeID, userID string) (*Member, error) {
	row := t.tx.QueryRow(ctx,
		`SELECT `+memberColumns+` FROM scope_members
		 WHERE scope_id = $1 AND user_id = $2 FOR UPDATE`,
		scopeID, userID)
	return scanMember(row)
}

// SetRole rewrites the member's role.
func (t *postgresTx) SetRole(ctx context.Context, memberID string, role Role) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE scope_members SET role = $1, updated_at = NOW() WHERE id = $2`,
		role, memberID)
	if err != nil {
		return fmt.Errorf("update role: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateMember inserts a new scoped membership row.
func (t *postgresTx) CreateMember(ctx context.Context, m *Member) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	m.CreatedAt = now
	m.UpdatedAt = now
	_, err := t.tx.Exec(ctx,
		`INSERT INTO scope_members (id, scope_id, user_id, role, email, display_name, deactivated_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		m.ID, m.ScopeID, m.UserID, m.Role, m.Email, m.DisplayName, m.DeactivatedAt, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert member: %w", err)
	}
	return nil
}

// SetDeactivated sets or clears the deactivation timestamp.
func (t *postgresTx) SetDeactivated(ctx context.Context, memberID string, active bool) error {
	var err error
	if active {
		_, err = t.tx.Exec(ctx,
			`UPDATE scope_members SET deactivated_at = NULL, updated_at = NOW() WHERE id = $1`,
			memberID)
	} else {
		_, err = t.tx.Exec(ctx,
			`UPDATE scope_members SET deactivated_at = NOW(), updated_at = NOW() WHERE id = $1 AND deactivated_at IS NULL`,
			memberID)
	}
	if err != nil {
		return fmt.Errorf("update deactivation: %w", err)
	}
	return nil
}

// SetDisplayName rewrites the member's formatted display name.
func (t *postgresTx) SetDisplayName(ctx context.Context, memberID, name string) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE scope_members SET display_name = $1, updated_at = NOW() WHERE id = $2`,
		name, memberID)
	if err != nil {
		return fmt.Errorf("update display name: %w", err)
	}
	return nil
}

// TenantIdentity returns the tenant-level identity for a user.
func (t *postgresTx) TenantIdentity(ctx context.Context, tenantID, userID string) (*TenantIdentity, error) {
	var ti TenantIdentity
	err := t.tx.QueryRow(ctx,
		`SELECT id, tenant_id, email, display_name, deactivated_at
		 FROM tenant_users WHERE tenant_id = $1 AND id = $2`,
		tenantID, userID).Scan(&ti.UserID, &ti.TenantID, &ti.Email, &ti.DisplayName, &ti.DeactivatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query tenant identity: %w", err)
	}
	return &ti, nil
}
