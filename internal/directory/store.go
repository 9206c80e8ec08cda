package directory

import "context"

// Store is the directory access boundary for the provisioning engine. All
// reads used for serialization go through Store; all reconciliation writes go
// through a single transaction obtained from WithTx.
type Store interface {
	// Scope returns the scope row, or ErrNotFound.
	Scope(ctx context.Context, scopeID string) (*Scope, error)

	// Member returns the membership row for (scopeID, userID), or ErrNotFound.
	Member(ctx context.Context, scopeID, userID string) (*Member, error)

	// ListMembers returns a page of members matching the query plus the total
	// match count.
	ListMembers(ctx context.Context, scopeID string, q MemberQuery) ([]Member, int, error)

	// MembersByRole returns the active membership of one role-group, ordered
	// by user id for deterministic serialization.
	MembersByRole(ctx context.Context, scopeID string, role Role) ([]Member, error)

	// ResolveExternalID maps an IdP-supplied external id to an internal
	// resource id, or ErrNotFound.
	ResolveExternalID(ctx context.Context, tenantID, externalID string) (string, error)

	// ExternalIDFor returns the external id mapped to an internal id, or
	// ErrNotFound when the IdP never registered one.
	ExternalIDFor(ctx context.Context, tenantID, internalID string) (string, error)

	// WithTx runs fn inside one store-level transaction. A non-nil error from
	// fn rolls the transaction back; otherwise it commits.
	WithTx(ctx context.Context, fn func(Tx) error) error
}

// Tx is the transactional view used by the reconciler. Reads lock the rows
// they return so concurrent provisioning syncs serialize per member.
type Tx interface {
	// MemberForUpdate re-reads and locks the membership row, or ErrNotFound.
	MemberForUpdate(ctx context.Context, scopeID, userID string) (*Member, error)

	// SetRole rewrites the member's role.
	SetRole(ctx context.Context, memberID string, role Role) error

	// CreateMember inserts a new scoped membership row.
	CreateMember(ctx context.Context, m *Member) error

	// SetDeactivated sets or clears the member's deactivation timestamp.
	SetDeactivated(ctx context.Context, memberID string, active bool) error

	// SetDisplayName rewrites the member's formatted display name.
	SetDisplayName(ctx context.Context, memberID, name string) error

	// TenantIdentity returns the tenant-level identity for a user, or
	// ErrNotFound when the directory has never seen them.
	TenantIdentity(ctx context.Context, tenantID, userID string) (*TenantIdentity, error)
}
