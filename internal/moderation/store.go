package moderation

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// Store is the capability interface over platforms, cases, actions and the
// records backing the access gate. The coordinator and the HTTP layer talk to
// it exclusively, so they are testable against the in-memory implementation.
type Store interface {
	CreateOrganization(ctx context.Context, org Organization) error
	OrganizationByID(ctx context.Context, id string) (Organization, error)

	CreatePlatform(ctx context.Context, p Platform) error
	PlatformByID(ctx context.Context, id string) (Platform, error)
	UpdatePlatformSecret(ctx context.Context, id, secret string) error

	CreateRule(ctx context.Context, rule Rule) error
	RulesForPlatform(ctx context.Context, platformID string) ([]Rule, error)

	CreateCase(ctx context.Context, c Case) error
	CaseByRef(ctx context.Context, ref CaseRef) (Case, error)
	UnresolvedCases(ctx context.Context, platformID string, limit int) ([]Case, error)
	ResolveCase(ctx context.Context, ref CaseRef) error

	AppendAction(ctx context.Context, a Action) error
	ActionsForCase(ctx context.Context, ref CaseRef) ([]Action, error)

	CreateModerator(ctx context.Context, m Moderator) error
	ModeratorByEmail(ctx context.Context, email string) (Moderator, error)
	AddPlatformModerator(ctx context.Context, platformID, userID string) error
	IsPlatformModerator(ctx context.Context, platformID, userID string) (bool, error)
}

// InMemory implements Store with in-process concurrency safety. It backs
// tests and single-process runs; production uses the postgres store.
type InMemory struct {
	mu         sync.RWMutex
	orgs       map[string]Organization
	platforms  map[string]Platform
	rules      map[string][]Rule
	cases      map[CaseRef]*Case
	actions    []Action
	moderators map[string]Moderator
	members    map[string]map[string]struct{} // platformID -> userID set
}

var _ Store = (*InMemory)(nil)

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{
		orgs:       make(map[string]Organization),
		platforms:  make(map[string]Platform),
		rules:      make(map[string][]Rule),
		cases:      make(map[CaseRef]*Case),
		moderators: make(map[string]Moderator),
		members:    make(map[string]map[string]struct{}),
	}
}

func (s *InMemory) CreateOrganization(ctx context.Context, org Organization) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orgs[org.ID]; ok {
		return ErrAlreadyExists
	}
	if org.CreatedAt.IsZero() {
		org.CreatedAt = time.Now().UTC()
	}
	org.UpdatedAt = org.CreatedAt
	s.orgs[org.ID] = org
	return nil
}

func (s *InMemory) OrganizationByID(ctx context.Context, id string) (Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	org, ok := s.orgs[id]
	if !ok {
		return Organization{}, ErrNotFound
	}
	return org, nil
}

func (s *InMemory) CreatePlatform(ctx context.Context, p Platform) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.platforms[p.ID]; ok {
		return ErrAlreadyExists
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	s.platforms[p.ID] = p
	return nil
}

func (s *InMemory) PlatformByID(ctx context.Context, id string) (Platform, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.platforms[id]
	if !ok {
		return Platform{}, ErrNotFound
	}
	return p, nil
}

func (s *InMemory) UpdatePlatformSecret(ctx context.Context, id, secret string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.platforms[id]
	if !ok {
		return ErrNotFound
	}
	p.Secret = secret
	s.platforms[id] = p
	return nil
}

func (s *InMemory) CreateRule(ctx context.Context, rule Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = rule.CreatedAt
	s.rules[rule.PlatformID] = append(s.rules[rule.PlatformID], rule)
	return nil
}

func (s *InMemory) RulesForPlatform(ctx context.Context, platformID string) ([]Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Rule, len(s.rules[platformID]))
	copy(out, s.rules[platformID])
	return out, nil
}

func (s *InMemory) CreateCase(ctx context.Context, c Case) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ref := c.Ref()
	if _, ok := s.cases[ref]; ok {
		return ErrAlreadyExists
	}
	if c.Status == "" {
		c.Status = StatusUnresolved
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	c.UpdatedAt = c.CreatedAt
	s.cases[ref] = &c
	return nil
}

func (s *InMemory) CaseByRef(ctx context.Context, ref CaseRef) (Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cases[ref]
	if !ok {
		return Case{}, ErrNotFound
	}
	return *c, nil
}

func (s *InMemory) UnresolvedCases(ctx context.Context, platformID string, limit int) ([]Case, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Case
	for _, c := range s.cases {
		if c.PlatformID == platformID && c.Status == StatusUnresolved {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].RelevantID < out[j].RelevantID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemory) ResolveCase(ctx context.Context, ref CaseRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cases[ref]
	if !ok {
		return ErrNotFound
	}
	c.Status = StatusResolved
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *InMemory) AppendAction(ctx context.Context, a Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	s.actions = append(s.actions, a)
	return nil
}

func (s *InMemory) ActionsForCase(ctx context.Context, ref CaseRef) ([]Action, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Action
	for _, a := range s.actions {
		if a.PlatformID == ref.PlatformID && a.RelevantID == ref.RelevantID && a.Kind == ref.Kind {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemory) CreateModerator(ctx context.Context, m Moderator) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.moderators {
		if strings.EqualFold(existing.Email, m.Email) {
			return ErrAlreadyExists
		}
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	s.moderators[m.ID] = m
	return nil
}

func (s *InMemory) ModeratorByEmail(ctx context.Context, email string) (Moderator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.moderators {
		if strings.EqualFold(m.Email, email) {
			return m, nil
		}
	}
	return Moderator{}, ErrNotFound
}

func (s *InMemory) AddPlatformModerator(ctx context.Context, platformID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.members[platformID]
	if !ok {
		set = make(map[string]struct{})
		s.members[platformID] = set
	}
	set[userID] = struct{}{}
	return nil
}

func (s *InMemory) IsPlatformModerator(ctx context.Context, platformID, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.members[platformID][userID]
	return ok, nil
}
