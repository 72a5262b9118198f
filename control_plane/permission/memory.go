package permission

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryPolicyStore is the in-memory policy backend for tests and
// single-node development.
type MemoryPolicyStore struct {
	mu     sync.RWMutex
	grants []Grant
	roles  map[string]string // userID -> role
	seq    int
}

// NewMemoryPolicyStore initializes an empty policy store.
func NewMemoryPolicyStore() *MemoryPolicyStore {
	return &MemoryPolicyStore{roles: make(map[string]string)}
}

// AddGrant stores a grant and returns its id.
func (s *MemoryPolicyStore) AddGrant(g Grant) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	if g.GrantID == "" {
		g.GrantID = formatGrantID(s.seq)
	}
	if g.GrantedAt.IsZero() {
		g.GrantedAt = time.Now().UTC()
	}
	s.grants = append(s.grants, g)
	return g.GrantID
}

// SetUserRole records the role a user inherits grants from.
func (s *MemoryPolicyStore) SetUserRole(userID, role string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roles[userID] = role
}

func (s *MemoryPolicyStore) FindGrant(ctx context.Context, subjectType SubjectType, subjectID string, resourceType ResourceType, resourceID string, action Action) (*Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	var best *Grant
	for i := range s.grants {
		g := &s.grants[i]
		if g.SubjectType != subjectType || g.SubjectID != subjectID {
			continue
		}
		if g.ResourceType != resourceType || g.Action != action {
			continue
		}
		// A grant with no resource id covers every resource of the type.
		if g.ResourceID != "" && resourceID != "" && g.ResourceID != resourceID {
			continue
		}
		if g.ExpiresAt != nil && g.ExpiresAt.Before(now) {
			continue
		}
		if best == nil || g.GrantedAt.After(best.GrantedAt) {
			best = g
		}
	}
	if best == nil {
		return nil, nil
	}
	grantCopy := *best
	return &grantCopy, nil
}

func (s *MemoryPolicyStore) UserRole(ctx context.Context, userID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.roles[userID], nil
}

func formatGrantID(seq int) string {
	return fmt.Sprintf("grant-%d", seq)
}
