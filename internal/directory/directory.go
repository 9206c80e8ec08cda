// Package directory defines the multi-tenant directory store consumed by the
// SCIM provisioning engine: scoped membership rows, tenant identities, and
// identity-provider external-id mappings.
package directory

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("directory: not found")

// Role is a scoped membership role. A member holds exactly one role per scope.
type Role string

const (
	RoleOwner  Role = "OWNER"
	RoleAdmin  Role = "ADMIN"
	RoleMember Role = "MEMBER"
	RoleViewer Role = "VIEWER"
)

// DefaultRole is the role a member is demoted to when removed from a
// role-group. Removal never deletes the membership row.
const DefaultRole = RoleMember

// Roles lists every role that surfaces as a SCIM role-group, in the order
// group listings are rendered.
var Roles = []Role{RoleOwner, RoleAdmin, RoleMember, RoleViewer}

// ParseRole validates a role name. The empty string is never valid.
func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleOwner, RoleAdmin, RoleMember, RoleViewer:
		return Role(s), true
	}
	return "", false
}

// Scope is a tenant-bound role container (a team or organization).
type Scope struct {
	ID       string
	TenantID string
	Slug     string
}

// Member is a scoped membership row. The provisioning engine only reads
// members and conditionally rewrites Role and DeactivatedAt; row ownership
// stays with the directory store.
type Member struct {
	ID            string
	ScopeID       string
	UserID        string
	Role          Role
	Email         string
	DisplayName   string
	DeactivatedAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Active reports whether the member has no deactivation timestamp.
func (m *Member) Active() bool {
	return m.DeactivatedAt == nil
}

// TenantIdentity is a user's tenant-level directory identity, checked before
// any scoped membership row is created for them.
type TenantIdentity struct {
	UserID        string
	TenantID      string
	Email         string
	DisplayName   string
	DeactivatedAt *time.Time
}

// Active reports whether the tenant identity is not deactivated.
func (t *TenantIdentity) Active() bool {
	return t.DeactivatedAt == nil
}

// ExternalMapping binds an identity-provider-supplied opaque id to an
// internal resource id. Written by account-provisioning flows; read-only here.
type ExternalMapping struct {
	TenantID   string
	ExternalID string
	InternalID string
}
