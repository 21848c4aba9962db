package types

import (
	"fmt"
	"regexp"
	"strings"
)

// WindowType is the presentation class an app asks for
type WindowType string

const (
	WindowWidget  WindowType = "widget"
	WindowPanel   WindowType = "panel"
	WindowOverlay WindowType = "overlay"
	WindowDialog  WindowType = "dialog"
)

// Valid reports whether w is one of the known window types
func (w WindowType) Valid() bool {
	switch w {
	case WindowWidget, WindowPanel, WindowOverlay, WindowDialog:
		return true
	default:
		return false
	}
}

// AppNamePattern is the accepted shape of a manifest name
var AppNamePattern = regexp.MustCompile(`^[a-z0-9-]+$`)

// CapabilityValue is one declared manifest entry: either a plain boolean
// or a list of scopes the action is limited to.
type CapabilityValue struct {
	Enabled bool     `json:"enabled"`
	Scopes  []string `json:"scopes,omitempty"`
}

// Allowed declares an unscoped capability
func Allowed() CapabilityValue {
	return CapabilityValue{Enabled: true}
}

// Scoped declares a capability limited to the given scopes
func Scoped(scopes ...string) CapabilityValue {
	return CapabilityValue{Enabled: true, Scopes: scopes}
}

// ParseCapabilityValue converts a decoded manifest value (bool, string or
// list of strings) into a CapabilityValue.
func ParseCapabilityValue(raw interface{}) (CapabilityValue, error) {
	switch v := raw.(type) {
	case bool:
		return CapabilityValue{Enabled: v}, nil
	case string:
		return Scoped(v), nil
	case []string:
		return Scoped(v...), nil
	case []interface{}:
		scopes := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return CapabilityValue{}, fmt.Errorf("scope must be a string, got %T", item)
			}
			scopes = append(scopes, s)
		}
		return Scoped(scopes...), nil
	default:
		return CapabilityValue{}, fmt.Errorf("capability value must be a bool or list of strings, got %T", raw)
	}
}

// AppManifest is the already-validated descriptor of an app. It is
// immutable once loaded; the registry snapshots its capabilities at launch.
type AppManifest struct {
	Name         string                                `json:"name"`
	Title        string                                `json:"title,omitempty"`
	Version      string                                `json:"version,omitempty"`
	Entrypoint   string                                `json:"entrypoint"`
	WindowType   WindowType                            `json:"window_type"`
	Capabilities map[string]map[string]CapabilityValue `json:"capabilities"`
}

// Validate checks the fields the host relies on. Capability declarations are
// validated separately when grants are resolved.
func (m *AppManifest) Validate() error {
	if !AppNamePattern.MatchString(m.Name) {
		return fmt.Errorf("name %q must match %s", m.Name, AppNamePattern)
	}
	if strings.TrimSpace(m.Entrypoint) == "" {
		return fmt.Errorf("app %s: entrypoint is required", m.Name)
	}
	if !m.WindowType.Valid() {
		return fmt.Errorf("app %s: unknown window type %q", m.Name, m.WindowType)
	}
	return nil
}
