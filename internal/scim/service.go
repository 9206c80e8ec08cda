package scim

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/ngc-shj/passwd-sso-sub002/internal/audit"
	"github.com/ngc-shj/passwd-sso-sub002/internal/auth"
	"github.com/ngc-shj/passwd-sso-sub002/internal/directory"
)

// defaultPageSize bounds list responses when the client sends no count.
const defaultPageSize = 100

// Service implements the provisioning operations behind the SCIM endpoints.
// Handlers translate HTTP to these calls; all tenant scoping comes from the
// resolved auth context, never from the request body.
type Service struct {
	store   directory.Store
	audit   audit.Recorder
	logger  *zap.Logger
	baseURL string
}

// NewService wires the provisioning engine.
func NewService(store directory.Store, recorder audit.Recorder, logger *zap.Logger, baseURL string) *Service {
	return &Service{
		store:   store,
		audit:   recorder,
		logger:  logger.With(zap.String("component", "scim")),
		baseURL: baseURL,
	}
}

// ============================================================
// Users
// ============================================================

// ListUsers returns a page of the scope's members, optionally filtered.
// startIndex is 1-based per the protocol; count <= 0 selects the default
// page size.
func (s *Service) ListUsers(ctx context.Context, ac *auth.Context, filter string, startIndex, count int) (*ListResponse, error) {
	if startIndex < 1 {
		startIndex = 1
	}
	if count <= 0 || count > defaultPageSize {
		count = defaultPageSize
	}

	query := directory.MemberQuery{Offset: startIndex - 1, Limit: count}
	if filter != "" {
		predicate, empty, err := s.resolveUserFilter(ctx, ac, filter)
		if err != nil {
			return nil, err
		}
		if empty {
			resp := NewListResponse(nil, 0, startIndex, count)
			return &resp, nil
		}
		query.Predicate = predicate
	}

	members, total, err := s.store.ListMembers(ctx, ac.ScopeID, query)
	if err != nil {
		return nil, err
	}

	resources := make([]any, 0, len(members))
	for i := range members {
		resources = append(resources, s.serializeUser(ctx, ac, &members[i]))
	}
	resp := NewListResponse(resources, total, startIndex, count)
	return &resp, nil
}

// resolveUserFilter parses the filter and pre-resolves any externalId
// comparison through the mapping table. empty=true means the filter can
// match nothing (unknown external id) and storage should not be queried.
func (s *Service) resolveUserFilter(ctx context.Context, ac *auth.Context, filter string) (*directory.MemberPredicate, bool, error) {
	expr, err := ParseFilter(filter)
	if err != nil {
		return nil, false, err
	}
	predicate, err := Predicate(expr)
	if err != nil {
		return nil, false, err
	}

	if !HasAttribute(expr, AttrExternalID) {
		return predicate, false, nil
	}

	externalID, ok := ExternalIDEquals(expr)
	if !ok {
		return nil, false, E(KindInvalidFilter, "externalId only supports 'eq'")
	}
	internalID, err := s.store.ResolveExternalID(ctx, ac.TenantID, externalID)
	if errors.Is(err, directory.ErrNotFound) {
		if predicate.Disjunction {
			// Other branches of the or may still match.
			return predicate, false, nil
		}
		return nil, true, nil
	}
	if err != nil {
		return nil, false, err
	}

	resolved := directory.Condition{
		Field: directory.FieldUserID,
		Match: directory.MatchEquals,
		Value: internalID,
	}
	for i, c := range predicate.Conditions {
		if c.Field == directory.FieldNone {
			predicate.Conditions[i] = resolved
		}
	}
	return predicate, false, nil
}

// GetUser returns one member, trying the direct id first and the external
// mapping as a fallback.
func (s *Service) GetUser(ctx context.Context, ac *auth.Context, userID string) (*User, error) {
	m, err := s.memberByAnyID(ctx, ac, userID)
	if err != nil {
		return nil, err
	}
	user := s.serializeUser(ctx, ac, m)
	return &user, nil
}

// UpdateUser applies a parsed patch to a member and returns the updated
// resource. Shared by PUT and PATCH; PUT bodies are reduced to the same
// typed delta before this is called.
func (s *Service) UpdateUser(ctx context.Context, ac *auth.Context, userID string, patch UserPatch) (*User, error) {
	m, err := s.memberByAnyID(ctx, ac, userID)
	if err != nil {
		return nil, err
	}

	err = s.store.WithTx(ctx, func(tx directory.Tx) error {
		row, err := tx.MemberForUpdate(ctx, ac.ScopeID, m.UserID)
		if errors.Is(err, directory.ErrNotFound) {
			return E(KindNotFound, "User %s not found", userID)
		}
		if err != nil {
			return err
		}
		if patch.Active != nil {
			if row.Role == directory.RoleOwner && !*patch.Active {
				return E(KindOwnerProtected, "Owner membership cannot be modified through provisioning")
			}
			if err := tx.SetDeactivated(ctx, row.ID, *patch.Active); err != nil {
				return err
			}
		}
		if patch.Name != nil {
			if err := tx.SetDisplayName(ctx, row.ID, *patch.Name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	updated, err := s.store.Member(ctx, ac.ScopeID, m.UserID)
	if err != nil {
		return nil, err
	}
	s.audit.Record(ctx, audit.Event{
		TenantID:   ac.TenantID,
		ScopeID:    ac.ScopeID,
		ActorID:    ac.AuditUserID,
		Action:     "scim.user.update",
		TargetType: "user",
		TargetID:   updated.UserID,
		Metadata:   userPatchMetadata(patch),
	})
	user := s.serializeUser(ctx, ac, updated)
	return &user, nil
}

// DeactivateUser handles DELETE /Users/{id}: the row is kept and stamped
// with a deactivation time, never deleted.
func (s *Service) DeactivateUser(ctx context.Context, ac *auth.Context, userID string) error {
	active := false
	_, err := s.UpdateUser(ctx, ac, userID, UserPatch{Active: &active})
	return err
}

func userPatchMetadata(patch UserPatch) map[string]any {
	md := make(map[string]any, 2)
	if patch.Active != nil {
		md["active"] = *patch.Active
	}
	if patch.Name != nil {
		md["name"] = *patch.Name
	}
	return md
}

// memberByAnyID resolves a member by user id, falling back to the external
// mapping for IdPs that address users by their own identifier.
func (s *Service) memberByAnyID(ctx context.Context, ac *auth.Context, id string) (*directory.Member, error) {
	m, err := s.store.Member(ctx, ac.ScopeID, id)
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, directory.ErrNotFound) {
		return nil, err
	}

	internalID, mapErr := s.store.ResolveExternalID(ctx, ac.TenantID, id)
	if errors.Is(mapErr, directory.ErrNotFound) {
		return nil, E(KindNotFound, "User %s not found", id)
	}
	if mapErr != nil {
		return nil, mapErr
	}
	m, err = s.store.Member(ctx, ac.ScopeID, internalID)
	if errors.Is(err, directory.ErrNotFound) {
		return nil, E(KindNotFound, "User %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (s *Service) serializeUser(ctx context.Context, ac *auth.Context, m *directory.Member) User {
	externalID, err := s.store.ExternalIDFor(ctx, ac.TenantID, m.UserID)
	if err != nil && !errors.Is(err, directory.ErrNotFound) {
		s.logger.Warn("external id lookup failed",
			zap.String("user_id", m.UserID), zap.Error(err))
	}
	return UserResource(m, externalID, s.baseURL)
}

// ============================================================
// Groups (read side; mutations live in reconcile.go)
// ============================================================

// ListGroups enumerates the scope's role-groups with their live membership.
func (s *Service) ListGroups(ctx context.Context, ac *auth.Context) (*ListResponse, error) {
	scope, err := s.scope(ctx, ac)
	if err != nil {
		return nil, err
	}

	resources := make([]any, 0, len(directory.Roles))
	for _, role := range directory.Roles {
		members, err := s.store.MembersByRole(ctx, ac.ScopeID, role)
		if err != nil {
			return nil, err
		}
		resources = append(resources, GroupResource(scope, role, members, s.baseURL))
	}
	resp := NewListResponse(resources, len(resources), 1, len(resources))
	return &resp, nil
}

// GetGroup returns one role-group by id, with an external-mapping fallback
// for IdPs that address groups by their own identifier.
func (s *Service) GetGroup(ctx context.Context, ac *auth.Context, groupID string) (*Group, error) {
	scope, role, err := s.resolveGroup(ctx, ac, groupID)
	if err != nil {
		return nil, err
	}
	members, err := s.store.MembersByRole(ctx, ac.ScopeID, role)
	if err != nil {
		return nil, err
	}
	group := GroupResource(scope, role, members, s.baseURL)
	return &group, nil
}

func (s *Service) scope(ctx context.Context, ac *auth.Context) (*directory.Scope, error) {
	scope, err := s.store.Scope(ctx, ac.ScopeID)
	if errors.Is(err, directory.ErrNotFound) {
		return nil, E(KindNotFound, "scope not found")
	}
	if err != nil {
		return nil, err
	}
	return scope, nil
}

// resolveGroup maps a group id to (scope, role). Group ids are derived, so
// resolution derives each role's id and compares; unknown ids are retried
// through the external mapping before giving up.
func (s *Service) resolveGroup(ctx context.Context, ac *auth.Context, groupID string) (*directory.Scope, directory.Role, error) {
	scope, err := s.scope(ctx, ac)
	if err != nil {
		return nil, "", err
	}
	if role, ok := ResolveGroupID(ac.ScopeID, groupID); ok {
		return scope, role, nil
	}

	internalID, err := s.store.ResolveExternalID(ctx, ac.TenantID, groupID)
	if errors.Is(err, directory.ErrNotFound) {
		return nil, "", E(KindNotFound, "Group %s not found", groupID)
	}
	if err != nil {
		return nil, "", err
	}
	if role, ok := ResolveGroupID(ac.ScopeID, internalID); ok {
		return scope, role, nil
	}
	return nil, "", E(KindNotFound, "Group %s not found", groupID)
}

// ValidateGroupDisplayName checks a PUT body's displayName against the
// "{slug}:{role}" form the serializer produces. The bare role name is also
// accepted for scopes without a slug.
func ValidateGroupDisplayName(scope *directory.Scope, role directory.Role, displayName string) error {
	if displayName == "" {
		return nil
	}
	want := string(role)
	if scope.Slug != "" {
		want = scope.Slug + ":" + string(role)
	}
	if displayName == want || strings.EqualFold(displayName, string(role)) {
		return nil
	}
	return E(KindInvalidRequest, "displayName %q does not match group %q", displayName, want)
}
