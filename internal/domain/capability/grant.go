package capability

import (
	"fmt"
	"sort"
	"strings"

	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/errs"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/types"
)

// Grant is one permission: an action in a category, optionally limited to
// a set of scopes. An empty Scopes list means the grant is unscoped.
type Grant struct {
	Category Category `json:"category"`
	Action   Action   `json:"action"`
	Scopes   []string `json:"scopes,omitempty"`
}

// NewGrant validates and builds a grant
func NewGrant(category, action string, scopes ...string) (Grant, error) {
	c, err := ParseCategory(category)
	if err != nil {
		return Grant{}, err
	}
	a, err := ParseAction(c, action)
	if err != nil {
		return Grant{}, err
	}

	spec := registry[c]
	if len(scopes) > 0 && !spec.scoped {
		return Grant{}, fmt.Errorf("%w: %s:%s does not take scopes", errs.ErrInvalidManifest, c, a)
	}
	for _, s := range scopes {
		if err := spec.validScope(s); err != nil {
			return Grant{}, fmt.Errorf("%w: %s:%s scope %q: %v", errs.ErrInvalidManifest, c, a, s, err)
		}
	}

	g := Grant{Category: c, Action: a}
	if len(scopes) > 0 {
		g.Scopes = append([]string(nil), scopes...)
	}
	return g, nil
}

// MustGrant is NewGrant for static declarations; it panics on invalid input
func MustGrant(category, action string, scopes ...string) Grant {
	g, err := NewGrant(category, action, scopes...)
	if err != nil {
		panic(err)
	}
	return g
}

// String renders the grant as category:action[scopes]
func (g Grant) String() string {
	if len(g.Scopes) == 0 {
		return fmt.Sprintf("%s:%s", g.Category, g.Action)
	}
	return fmt.Sprintf("%s:%s[%s]", g.Category, g.Action, strings.Join(g.Scopes, ","))
}

// covers reports whether g allows resource. An empty resource asks only
// whether the action is granted at all.
func (g Grant) covers(env Env, resource string) bool {
	spec := registry[g.Category]
	if !spec.scoped || resource == "" {
		return true
	}
	if len(g.Scopes) == 0 {
		return spec.any(env, resource)
	}
	for _, scope := range g.Scopes {
		if spec.match(env, scope, resource) {
			return true
		}
	}
	return false
}

func validKey(category, action string) error {
	c, err := ParseCategory(category)
	if err != nil {
		return err
	}
	_, err = ParseAction(c, action)
	return err
}

// ResolveGrants turns a manifest's declared capabilities into grants.
// Entries declared false are skipped; an unknown category or action, an
// empty scope list, or a malformed scope fails the whole manifest.
func ResolveGrants(m types.AppManifest) ([]Grant, error) {
	categories := make([]string, 0, len(m.Capabilities))
	for c := range m.Capabilities {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	var grants []Grant
	for _, c := range categories {
		declared := m.Capabilities[c]
		actionNames := make([]string, 0, len(declared))
		for a := range declared {
			actionNames = append(actionNames, a)
		}
		sort.Strings(actionNames)

		for _, a := range actionNames {
			value := declared[a]
			if !value.Enabled {
				// still reject typos in disabled entries
				if err := validKey(c, a); err != nil {
					return nil, fmt.Errorf("app %s: %w", m.Name, err)
				}
				continue
			}
			if value.Scopes != nil && len(value.Scopes) == 0 {
				return nil, fmt.Errorf("%w: app %s: %s:%s has an empty scope list", errs.ErrInvalidManifest, m.Name, c, a)
			}
			g, err := NewGrant(c, a, value.Scopes...)
			if err != nil {
				return nil, fmt.Errorf("app %s: %w", m.Name, err)
			}
			grants = append(grants, g)
		}
	}
	return grants, nil
}

func sortGrants(gs []Grant) {
	sort.Slice(gs, func(i, j int) bool { return gs[i].String() < gs[j].String() })
}
