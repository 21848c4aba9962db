package capability

import (
	"fmt"
	"sync"

	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/errs"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/id"
)

type grantKey struct {
	category Category
	action   Action
}

// grantSet is one session's grants. Its lock makes register/revoke
// exclusive with checks on the same session only.
type grantSet struct {
	mu     sync.RWMutex
	grants map[grantKey][]Grant
}

func newGrantSet(grants []Grant) *grantSet {
	set := &grantSet{grants: make(map[grantKey][]Grant, len(grants))}
	for _, g := range grants {
		k := grantKey{g.Category, g.Action}
		set.grants[k] = append(set.grants[k], g)
	}
	return set
}

// Store holds the resolved grant set of every registered session
type Store struct {
	mu   sync.RWMutex
	sets map[id.SessionID]*grantSet // Protected by mu
}

// NewStore creates an empty capability store
func NewStore() *Store {
	return &Store{
		sets: make(map[id.SessionID]*grantSet),
	}
}

func (s *Store) set(sessionID id.SessionID) (*grantSet, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	set, ok := s.sets[sessionID]
	return set, ok
}

// Register installs the grant set for a session, replacing any previous one
func (s *Store) Register(sessionID id.SessionID, grants []Grant) {
	set := newGrantSet(grants)

	s.mu.Lock()
	s.sets[sessionID] = set
	s.mu.Unlock()
}

// Unregister drops every grant held by a session
func (s *Store) Unregister(sessionID id.SessionID) {
	s.mu.Lock()
	delete(s.sets, sessionID)
	s.mu.Unlock()
}

// Grant adds one grant to a registered session
func (s *Store) Grant(sessionID id.SessionID, g Grant) error {
	set, ok := s.set(sessionID)
	if !ok {
		return fmt.Errorf("grant %s to %s: %w", g, sessionID, errs.ErrSessionNotFound)
	}

	set.mu.Lock()
	k := grantKey{g.Category, g.Action}
	set.grants[k] = append(set.grants[k], g)
	set.mu.Unlock()
	return nil
}

// Revoke removes every grant for category:action from a session. It returns
// whether anything was removed. Checks issued after Revoke returns see the
// removal.
func (s *Store) Revoke(sessionID id.SessionID, category Category, action Action) (bool, error) {
	set, ok := s.set(sessionID)
	if !ok {
		return false, fmt.Errorf("revoke %s:%s from %s: %w", category, action, sessionID, errs.ErrSessionNotFound)
	}

	set.mu.Lock()
	defer set.mu.Unlock()

	k := grantKey{category, action}
	_, had := set.grants[k]
	delete(set.grants, k)
	return had, nil
}

// Grants returns a copy of a session's grants
func (s *Store) Grants(sessionID id.SessionID) ([]Grant, bool) {
	set, ok := s.set(sessionID)
	if !ok {
		return nil, false
	}

	set.mu.RLock()
	defer set.mu.RUnlock()

	var out []Grant
	for _, list := range set.grants {
		for _, g := range list {
			g.Scopes = append([]string(nil), g.Scopes...)
			out = append(out, g)
		}
	}
	sortGrants(out)
	return out, true
}

// lookup returns the grants for one category:action
func (s *Store) lookup(sessionID id.SessionID, category Category, action Action) ([]Grant, bool) {
	set, ok := s.set(sessionID)
	if !ok {
		return nil, false
	}

	set.mu.RLock()
	defer set.mu.RUnlock()

	list := set.grants[grantKey{category, action}]
	return append([]Grant(nil), list...), true
}

// Len returns the number of registered sessions
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sets)
}
