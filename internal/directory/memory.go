package directory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store used by unit tests. WithTx holds the
// store lock for the duration of the callback, which gives the same
// serialization guarantee the Postgres row locks provide.
type MemoryStore struct {
	mu        sync.Mutex
	scopes    map[string]Scope
	members   map[string]*Member // key scopeID + "/" + userID
	tenants   map[string]*TenantIdentity
	externals map[string]string // tenantID + "/" + externalID -> internalID
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		scopes:    make(map[string]Scope),
		members:   make(map[string]*Member),
		tenants:   make(map[string]*TenantIdentity),
		externals: make(map[string]string),
	}
}

// AddScope seeds a scope row.
func (s *MemoryStore) AddScope(sc Scope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scopes[sc.ID] = sc
}

// AddTenantIdentity seeds a tenant-level identity.
func (s *MemoryStore) AddTenantIdentity(ti TenantIdentity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenants[ti.TenantID+"/"+ti.UserID] = &ti
}

// AddMember seeds a scoped membership row.
func (s *MemoryStore) AddMember(m Member) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	s.members[m.ScopeID+"/"+m.UserID] = &m
}

// AddExternalMapping seeds an IdP external-id mapping.
func (s *MemoryStore) AddExternalMapping(em ExternalMapping) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.externals[em.TenantID+"/"+em.ExternalID] = em.InternalID
}

// Scope returns the scope row.
func (s *MemoryStore) Scope(_ context.Context, scopeID string) (*Scope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.scopes[scopeID]
	if !ok {
		return nil, ErrNotFound
	}
	return &sc, nil
}

// Member returns the membership row for (scopeID, userID).
func (s *MemoryStore) Member(_ context.Context, scopeID, userID string) (*Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[scopeID+"/"+userID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func matches(m *Member, p *MemberPredicate) bool {
	if p == nil || len(p.Conditions) == 0 {
		return true
	}
	for _, c := range p.Conditions {
		ok := false
		switch c.Field {
		case FieldEmail:
			email := strings.ToLower(m.Email)
			val := strings.ToLower(c.Value)
			switch c.Match {
			case MatchContains:
				ok = strings.Contains(email, val)
			case MatchPrefix:
				ok = strings.HasPrefix(email, val)
			default:
				ok = email == val
			}
		case FieldUserID:
			ok = m.UserID == c.Value
		case FieldActive:
			ok = m.Active() == c.Active
		case FieldNone:
			ok = false
		}
		if p.Disjunction && ok {
			return true
		}
		if !p.Disjunction && !ok {
			return false
		}
	}
	return !p.Disjunction
}

// ListMembers returns a page of members matching the query plus the total count.
func (s *MemoryStore) ListMembers(_ context.Context, scopeID string, q MemberQuery) ([]Member, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []Member
	for _, m := range s.members {
		if m.ScopeID == scopeID && matches(m, q.Predicate) {
			all = append(all, *m)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].UserID < all[j].UserID })

	total := len(all)
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	if q.Offset >= len(all) {
		return nil, total, nil
	}
	all = all[q.Offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all, total, nil
}

// MembersByRole returns the active membership of one role-group.
func (s *MemoryStore) MembersByRole(_ context.Context, scopeID string, role Role) ([]Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Member
	for _, m := range s.members {
		if m.ScopeID == scopeID && m.Role == role && m.Active() {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

// ResolveExternalID maps an IdP external id to an internal resource id.
func (s *MemoryStore) ResolveExternalID(_ context.Context, tenantID, externalID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.externals[tenantID+"/"+externalID]
	if !ok {
		return "", ErrNotFound
	}
	return id, nil
}

// ExternalIDFor returns the external id registered for an internal id.
func (s *MemoryStore) ExternalIDFor(_ context.Context, tenantID, internalID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, internal := range s.externals {
		if internal == internalID && strings.HasPrefix(key, tenantID+"/") {
			return strings.TrimPrefix(key, tenantID+"/"), nil
		}
	}
	return "", ErrNotFound
}

// WithTx runs fn against a snapshot of the store; writes apply to the
// snapshot and are promoted only when fn returns nil.
func (s *MemoryStore) WithTx(_ context.Context, fn func(Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTx{
		store:   s,
		members: make(map[string]*Member, len(s.members)),
	}
	for k, m := range s.members {
		cp := *m
		tx.members[k] = &cp
	}

	if err := fn(tx); err != nil {
		return err
	}
	s.members = tx.members
	return nil
}

type memoryTx struct {
	store   *MemoryStore
	members map[string]*Member
}

func (t *memoryTx) MemberForUpdate(_ context.Context, scopeID, userID string) (*Member, error) {
	m, ok := t.members[scopeID+"/"+userID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (t *memoryTx) byID(memberID string) (*Member, bool) {
	for _, m := range t.members {
		if m.ID == memberID {
			return m, true
		}
	}
	return nil, false
}

func (t *memoryTx) SetRole(_ context.Context, memberID string, role Role) error {
	m, ok := t.byID(memberID)
	if !ok {
		return ErrNotFound
	}
	m.Role = role
	m.UpdatedAt = time.Now().UTC()
	return nil
}

func (t *memoryTx) CreateMember(_ context.Context, m *Member) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	m.CreatedAt = now
	m.UpdatedAt = now
	cp := *m
	t.members[m.ScopeID+"/"+m.UserID] = &cp
	return nil
}

func (t *memoryTx) SetDeactivated(_ context.Context, memberID string, active bool) error {
	m, ok := t.byID(memberID)
	if !ok {
		return ErrNotFound
	}
	if active {
		m.DeactivatedAt = nil
	} else if m.DeactivatedAt == nil {
		now := time.Now().UTC()
		m.DeactivatedAt = &now
	}
	m.UpdatedAt = time.Now().UTC()
	return nil
}

func (t *memoryTx) SetDisplayName(_ context.Context, memberID, name string) error {
	m, ok := t.byID(memberID)
	if !ok {
		return ErrNotFound
	}
	m.DisplayName = name
	m.UpdatedAt = time.Now().UTC()
	return nil
}

func (t *memoryTx) TenantIdentity(_ context.Context, tenantID, userID string) (*TenantIdentity, error) {
	ti, ok := t.store.tenants[tenantID+"/"+userID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *ti
	return &cp, nil
}
