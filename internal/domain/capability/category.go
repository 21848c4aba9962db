package capability

import (
	"fmt"
	"sort"

	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/errs"
)

// Category groups related privileged operations
type Category string

// Action is one operation within a category
type Action string

const (
	CategoryFilesystem    Category = "filesystem"
	CategoryNetwork       Category = "network"
	CategoryMessaging     Category = "messaging"
	CategoryClipboard     Category = "clipboard"
	CategoryNotifications Category = "notifications"
	CategorySystem        Category = "system"
)

const (
	ActionRead      Action = "read"
	ActionWrite     Action = "write"
	ActionConnect   Action = "connect"
	ActionSend      Action = "send"
	ActionBroadcast Action = "broadcast"
	ActionPost      Action = "post"
	ActionInfo      Action = "info"
)

// categorySpec describes how grants of one category are matched.
// scoped categories compare a requested resource against granted scopes;
// unscoped ones ignore the resource entirely.
type categorySpec struct {
	actions map[Action]struct{}
	scoped  bool
	// match reports whether scope covers resource
	match func(env Env, scope, resource string) bool
	// any reports whether an unscoped grant covers resource
	any func(env Env, resource string) bool
	// validScope rejects scopes that could never match anything sane
	validScope func(scope string) error
}

func actions(list ...Action) map[Action]struct{} {
	set := make(map[Action]struct{}, len(list))
	for _, a := range list {
		set[a] = struct{}{}
	}
	return set
}

// registry is the closed set of categories the host understands. Manifests
// naming anything else are rejected before a session exists.
var registry = map[Category]categorySpec{
	CategoryFilesystem: {
		actions:    actions(ActionRead, ActionWrite),
		scoped:     true,
		match:      matchPath,
		any:        anyPath,
		validScope: validPathScope,
	},
	CategoryNetwork: {
		actions:    actions(ActionConnect),
		scoped:     true,
		match:      matchHost,
		any:        anyHost,
		validScope: validHostScope,
	},
	CategoryMessaging: {
		actions:    actions(ActionSend, ActionBroadcast),
		scoped:     true,
		match:      matchTarget,
		any:        func(Env, string) bool { return true },
		validScope: validPattern,
	},
	CategoryClipboard: {
		actions: actions(ActionRead, ActionWrite),
	},
	CategoryNotifications: {
		actions: actions(ActionPost),
	},
	CategorySystem: {
		actions: actions(ActionInfo),
	},
}

// ParseCategory converts a manifest key into a known Category
func ParseCategory(s string) (Category, error) {
	c := Category(s)
	if _, ok := registry[c]; !ok {
		return "", fmt.Errorf("%w: category %q", errs.ErrUnknownCategory, s)
	}
	return c, nil
}

// ParseAction converts a manifest key into an Action valid for c
func ParseAction(c Category, s string) (Action, error) {
	spec, ok := registry[c]
	if !ok {
		return "", fmt.Errorf("%w: category %q", errs.ErrUnknownCategory, c)
	}
	a := Action(s)
	if _, ok := spec.actions[a]; !ok {
		return "", fmt.Errorf("%w: action %q in category %s", errs.ErrUnknownCategory, s, c)
	}
	return a, nil
}

// Scoped reports whether grants in c carry resource scopes
func (c Category) Scoped() bool {
	return registry[c].scoped
}

// Categories lists every known category with its actions, sorted
func Categories() map[Category][]Action {
	out := make(map[Category][]Action, len(registry))
	for c, spec := range registry {
		list := make([]Action, 0, len(spec.actions))
		for a := range spec.actions {
			list = append(list, a)
		}
		sort.Slice(list, func(i, j int) bool { return list[i] < list[j] })
		out[c] = list
	}
	return out
}
