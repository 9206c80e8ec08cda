package scim

import (
	"context"
	"errors"
	"slices"

	"go.uber.org/zap"

	"github.com/ngc-shj/passwd-sso-sub002/internal/audit"
	"github.com/ngc-shj/passwd-sso-sub002/internal/auth"
	"github.com/ngc-shj/passwd-sso-sub002/internal/directory"
	"github.com/ngc-shj/passwd-sso-sub002/internal/metrics"
)

// ownerProtectedDetail is the fixed message for every owner-protection
// refusal. Owner membership is managed in the dashboard, never via sync.
const ownerProtectedDetail = "Owner membership cannot be modified through provisioning"

// noSuchMemberDetail names the invariant that provisioning never creates
// identities: a user must already exist and be active in the tenant.
const noSuchMemberDetail = "Referenced member does not exist"

// ReplaceGroupMembers handles PUT /Groups/{id}: the requested member-id set
// becomes the group's membership. The diff against current membership is
// computed up front; every resulting write happens in one transaction with
// rows re-read under lock, so concurrent syncs cannot interleave partial
// states. A request matching current membership issues zero writes.
func (s *Service) ReplaceGroupMembers(ctx context.Context, ac *auth.Context, groupID, displayName string, requested []string) (*Group, error) {
	scope, role, err := s.resolveGroup(ctx, ac, groupID)
	if err != nil {
		return nil, err
	}
	if role == directory.RoleOwner {
		return nil, E(KindOwnerProtected, ownerProtectedDetail)
	}
	if err := ValidateGroupDisplayName(scope, role, displayName); err != nil {
		return nil, err
	}

	current, err := s.store.MembersByRole(ctx, ac.ScopeID, role)
	if err != nil {
		return nil, err
	}
	currentIDs := make(map[string]bool, len(current))
	for i := range current {
		currentIDs[current[i].UserID] = true
	}
	requestedIDs := make(map[string]bool, len(requested))
	for _, id := range requested {
		requestedIDs[id] = true
	}

	var toAdd, toRemove []string
	for _, id := range requested {
		if !currentIDs[id] && !slices.Contains(toAdd, id) {
			toAdd = append(toAdd, id)
		}
	}
	for i := range current {
		if !requestedIDs[current[i].UserID] {
			toRemove = append(toRemove, current[i].UserID)
		}
	}

	if len(toAdd) > 0 || len(toRemove) > 0 {
		err = s.store.WithTx(ctx, func(tx directory.Tx) error {
			for _, userID := range toAdd {
				if err := s.applyAdd(ctx, tx, ac, role, userID); err != nil {
					return err
				}
			}
			for _, userID := range toRemove {
				if err := s.applyRemove(ctx, tx, ac, role, userID); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}

		s.audit.Record(ctx, audit.Event{
			TenantID:   ac.TenantID,
			ScopeID:    ac.ScopeID,
			ActorID:    ac.AuditUserID,
			Action:     "scim.group.replace",
			TargetType: "group",
			TargetID:   GroupID(ac.ScopeID, role),
			Metadata: map[string]any{
				"role":    string(role),
				"added":   len(toAdd),
				"removed": len(toRemove),
			},
		})
		s.logger.Info("group membership replaced",
			zap.String("scope_id", ac.ScopeID),
			zap.String("role", string(role)),
			zap.Int("added", len(toAdd)),
			zap.Int("removed", len(toRemove)))
	}
	metrics.RecordReconcileWrites("replace", len(toAdd)+len(toRemove))

	return s.currentGroup(ctx, ac, scope, role)
}

// ApplyGroupActions handles PATCH /Groups/{id}: parsed actions apply in
// submission order inside one transaction. Each action re-reads its row, so
// later actions on the same user see earlier actions' effects.
func (s *Service) ApplyGroupActions(ctx context.Context, ac *auth.Context, groupID string, actions []MemberAction) (*Group, error) {
	scope, role, err := s.resolveGroup(ctx, ac, groupID)
	if err != nil {
		return nil, err
	}
	if role == directory.RoleOwner {
		return nil, E(KindOwnerProtected, ownerProtectedDetail)
	}

	if len(actions) > 0 {
		err = s.store.WithTx(ctx, func(tx directory.Tx) error {
			for _, action := range actions {
				switch action.Op {
				case ActionAdd:
					if err := s.applyAdd(ctx, tx, ac, role, action.UserID); err != nil {
						return err
					}
				case ActionRemove:
					if err := s.applyRemove(ctx, tx, ac, role, action.UserID); err != nil {
						return err
					}
				}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}

		ops := make([]map[string]string, 0, len(actions))
		for _, action := range actions {
			ops = append(ops, map[string]string{
				"op":     string(action.Op),
				"userId": action.UserID,
			})
		}
		s.audit.Record(ctx, audit.Event{
			TenantID:   ac.TenantID,
			ScopeID:    ac.ScopeID,
			ActorID:    ac.AuditUserID,
			Action:     "scim.group.patch",
			TargetType: "group",
			TargetID:   GroupID(ac.ScopeID, role),
			Metadata: map[string]any{
				"role":       string(role),
				"operations": ops,
			},
		})
	}
	metrics.RecordReconcileWrites("patch", len(actions))

	return s.currentGroup(ctx, ac, scope, role)
}

// applyAdd sets a user's role to the target role. The row is re-read under
// lock: a current OWNER row aborts the whole transaction, an existing row is
// overwritten (one role per scope), and a missing row requires an active
// tenant identity before anything is created.
func (s *Service) applyAdd(ctx context.Context, tx directory.Tx, ac *auth.Context, role directory.Role, userID string) error {
	row, err := tx.MemberForUpdate(ctx, ac.ScopeID, userID)
	if err == nil {
		if row.Role == directory.RoleOwner {
			return E(KindOwnerProtected, ownerProtectedDetail)
		}
		if row.Role == role {
			return nil
		}
		return tx.SetRole(ctx, row.ID, role)
	}
	if !errors.Is(err, directory.ErrNotFound) {
		return err
	}

	identity, err := tx.TenantIdentity(ctx, ac.TenantID, userID)
	if errors.Is(err, directory.ErrNotFound) {
		return E(KindNoSuchMember, noSuchMemberDetail)
	}
	if err != nil {
		return err
	}
	if !identity.Active() {
		return E(KindNoSuchMember, noSuchMemberDetail)
	}

	return tx.CreateMember(ctx, &directory.Member{
		ScopeID:     ac.ScopeID,
		UserID:      userID,
		Role:        role,
		Email:       identity.Email,
		DisplayName: identity.DisplayName,
	})
}

// applyRemove demotes a user out of the target role. The re-read makes the
// operation idempotent under races: if the role was concurrently changed to
// something else, the desired end state already holds and nothing is written.
// Demotion goes to the default role; membership rows are never deleted here.
func (s *Service) applyRemove(ctx context.Context, tx directory.Tx, ac *auth.Context, role directory.Role, userID string) error {
	row, err := tx.MemberForUpdate(ctx, ac.ScopeID, userID)
	if errors.Is(err, directory.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if row.Role == directory.RoleOwner {
		return E(KindOwnerProtected, ownerProtectedDetail)
	}
	if row.Role != role {
		return nil
	}
	return tx.SetRole(ctx, row.ID, directory.DefaultRole)
}

func (s *Service) currentGroup(ctx context.Context, ac *auth.Context, scope *directory.Scope, role directory.Role) (*Group, error) {
	members, err := s.store.MembersByRole(ctx, ac.ScopeID, role)
	if err != nil {
		return nil, err
	}
	group := GroupResource(scope, role, members, s.baseURL)
	return &group, nil
}
