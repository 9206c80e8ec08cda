package directory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedStore() *MemoryStore {
	s := NewMemoryStore()
	s.AddScope(Scope{ID: "team-1", TenantID: "tenant-1", Slug: "platform"})
	s.AddMember(Member{ScopeID: "team-1", UserID: "u1", Role: RoleAdmin, Email: "alice@corp.io"})
	s.AddMember(Member{ScopeID: "team-1", UserID: "u2", Role: RoleMember, Email: "bob@corp.io"})
	s.AddMember(Member{ScopeID: "team-1", UserID: "u3", Role: RoleMember, Email: "carol@other.io"})
	return s
}

func TestListMembersPredicates(t *testing.T) {
	s := seedStore()
	ctx := context.Background()

	tests := []struct {
		name      string
		predicate *MemberPredicate
		wantIDs   []string
	}{
		{
			name:    "no predicate returns everyone",
			wantIDs: []string{"u1", "u2", "u3"},
		},
		{
			name: "email equals is case-insensitive",
			predicate: &MemberPredicate{Conditions: []Condition{
				{Field: FieldEmail, Match: MatchEquals, Value: "Alice@Corp.IO"},
			}},
			wantIDs: []string{"u1"},
		},
		{
			name: "email contains",
			predicate: &MemberPredicate{Conditions: []Condition{
				{Field: FieldEmail, Match: MatchContains, Value: "corp"},
			}},
			wantIDs: []string{"u1", "u2"},
		},
		{
			name: "email prefix",
			predicate: &MemberPredicate{Conditions: []Condition{
				{Field: FieldEmail, Match: MatchPrefix, Value: "car"},
			}},
			wantIDs: []string{"u3"},
		},
		{
			name: "conjunction",
			predicate: &MemberPredicate{Conditions: []Condition{
				{Field: FieldEmail, Match: MatchContains, Value: "corp"},
				{Field: FieldActive, Active: true},
			}},
			wantIDs: []string{"u1", "u2"},
		},
		{
			name: "disjunction",
			predicate: &MemberPredicate{Disjunction: true, Conditions: []Condition{
				{Field: FieldEmail, Match: MatchEquals, Value: "alice@corp.io"},
				{Field: FieldEmail, Match: MatchEquals, Value: "carol@other.io"},
			}},
			wantIDs: []string{"u1", "u3"},
		},
		{
			name: "placeholder condition matches nothing",
			predicate: &MemberPredicate{Conditions: []Condition{
				{Field: FieldNone},
			}},
			wantIDs: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			members, total, err := s.ListMembers(ctx, "team-1", MemberQuery{Predicate: tt.predicate, Limit: 10})
			require.NoError(t, err)
			assert.Equal(t, len(tt.wantIDs), total)

			ids := make([]string, 0, len(members))
			for _, m := range members {
				ids = append(ids, m.UserID)
			}
			assert.ElementsMatch(t, tt.wantIDs, ids)
		})
	}
}

func TestWithTxRollsBackOnError(t *testing.T) {
	s := seedStore()
	ctx := context.Background()

	sentinel := errors.New("boom")
	err := s.WithTx(ctx, func(tx Tx) error {
		row, err := tx.MemberForUpdate(ctx, "team-1", "u2")
		if err != nil {
			return err
		}
		if err := tx.SetRole(ctx, row.ID, RoleAdmin); err != nil {
			return err
		}
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)

	m, err := s.Member(ctx, "team-1", "u2")
	require.NoError(t, err)
	assert.Equal(t, RoleMember, m.Role)
}

func TestWithTxPromotesOnSuccess(t *testing.T) {
	s := seedStore()
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx Tx) error {
		row, err := tx.MemberForUpdate(ctx, "team-1", "u2")
		if err != nil {
			return err
		}
		return tx.SetRole(ctx, row.ID, RoleViewer)
	})
	require.NoError(t, err)

	m, err := s.Member(ctx, "team-1", "u2")
	require.NoError(t, err)
	assert.Equal(t, RoleViewer, m.Role)
}

func TestSetDeactivatedIsIdempotent(t *testing.T) {
	s := seedStore()
	ctx := context.Background()

	deactivate := func() {
		err := s.WithTx(ctx, func(tx Tx) error {
			row, err := tx.MemberForUpdate(ctx, "team-1", "u1")
			if err != nil {
				return err
			}
			return tx.SetDeactivated(ctx, row.ID, false)
		})
		require.NoError(t, err)
	}

	deactivate()
	m, err := s.Member(ctx, "team-1", "u1")
	require.NoError(t, err)
	require.NotNil(t, m.DeactivatedAt)
	first := *m.DeactivatedAt

	// A second deactivation keeps the original timestamp.
	deactivate()
	m, err = s.Member(ctx, "team-1", "u1")
	require.NoError(t, err)
	assert.Equal(t, first, *m.DeactivatedAt)
}

func TestExternalMappingLookups(t *testing.T) {
	s := seedStore()
	s.AddExternalMapping(ExternalMapping{TenantID: "tenant-1", ExternalID: "ext-1", InternalID: "u1"})
	ctx := context.Background()

	internal, err := s.ResolveExternalID(ctx, "tenant-1", "ext-1")
	require.NoError(t, err)
	assert.Equal(t, "u1", internal)

	external, err := s.ExternalIDFor(ctx, "tenant-1", "u1")
	require.NoError(t, err)
	assert.Equal(t, "ext-1", external)

	// Mappings never cross tenants.
	_, err = s.ResolveExternalID(ctx, "tenant-2", "ext-1")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.ExternalIDFor(ctx, "tenant-1", "u2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestParseRole(t *testing.T) {
	for _, role := range Roles {
		parsed, ok := ParseRole(string(role))
		require.True(t, ok)
		assert.Equal(t, role, parsed)
	}

	_, ok := ParseRole("SUPERUSER")
	assert.False(t, ok)
	_, ok = ParseRole("")
	assert.False(t, ok)
}
