package capability

import (
	"errors"
	"net"
	"net/url"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Env carries the host facts scope matching depends on
type Env struct {
	// HomeDir replaces a leading ~ in filesystem scopes and resources
	HomeDir string
}

// ============================================================================
// Filesystem: segment-aware prefix match after home expansion
// ============================================================================

func hasTraversal(p string) bool {
	for _, seg := range strings.FieldsFunc(p, func(r rune) bool { return r == '/' || r == '\\' }) {
		if seg == ".." {
			return true
		}
	}
	return false
}

func expandHome(p, home string) string {
	switch {
	case p == "~":
		return home
	case strings.HasPrefix(p, "~/"):
		return strings.TrimSuffix(home, "/") + p[1:]
	default:
		return p
	}
}

func normalizePath(p string, env Env) (string, bool) {
	p = strings.TrimSpace(p)
	if p == "" || hasTraversal(p) {
		return "", false
	}
	p = path.Clean(expandHome(p, env.HomeDir))
	if !path.IsAbs(p) {
		return "", false
	}
	return p, true
}

func matchPath(env Env, scope, resource string) bool {
	s, ok := normalizePath(scope, env)
	if !ok {
		return false
	}
	r, ok := normalizePath(resource, env)
	if !ok {
		return false
	}
	if s == "/" {
		return true
	}
	return r == s || strings.HasPrefix(r, s+"/")
}

func anyPath(env Env, resource string) bool {
	_, ok := normalizePath(resource, env)
	return ok
}

func validPathScope(scope string) error {
	if hasTraversal(scope) {
		return errors.New("scope contains a parent-directory segment")
	}
	if !strings.HasPrefix(scope, "/") && scope != "~" && !strings.HasPrefix(scope, "~/") {
		return errors.New("scope must be absolute or home-relative")
	}
	return nil
}

// ============================================================================
// Network: exact or wildcard host match, loopback only by explicit grant
// ============================================================================

func isWildcard(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[{")
}

// hostOf extracts a lowercase hostname from a host, host:port or URL
func hostOf(resource string) (string, bool) {
	r := strings.ToLower(strings.TrimSpace(resource))
	if r == "" {
		return "", false
	}
	if strings.Contains(r, "://") {
		u, err := url.Parse(r)
		if err != nil || u.Hostname() == "" {
			return "", false
		}
		return u.Hostname(), true
	}
	if h, _, err := net.SplitHostPort(r); err == nil {
		r = h
	}
	r = strings.TrimSuffix(strings.Trim(r, "[]"), ".")
	return r, r != ""
}

func isLoopback(host string) bool {
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback() || ip.IsUnspecified()
	}
	return false
}

func matchHost(_ Env, scope, resource string) bool {
	host, ok := hostOf(resource)
	if !ok {
		return false
	}
	pattern := strings.ToLower(strings.TrimSpace(scope))
	if !isWildcard(pattern) {
		if h, ok := hostOf(pattern); ok {
			pattern = h
		}
		return pattern == host
	}
	// Wildcards never reach loopback; it needs the host spelled out.
	if isLoopback(host) {
		return false
	}
	matched, err := doublestar.Match(pattern, host)
	return err == nil && matched
}

func anyHost(_ Env, resource string) bool {
	host, ok := hostOf(resource)
	return ok && !isLoopback(host)
}

func validHostScope(scope string) error {
	if strings.TrimSpace(scope) == "" {
		return errors.New("empty host scope")
	}
	return validPattern(strings.ToLower(scope))
}

// ============================================================================
// Messaging: target app-name patterns
// ============================================================================

func matchTarget(_ Env, scope, resource string) bool {
	if resource == "" {
		return false
	}
	if !isWildcard(scope) {
		return scope == resource
	}
	matched, err := doublestar.Match(scope, resource)
	return err == nil && matched
}

func validPattern(scope string) error {
	if strings.TrimSpace(scope) == "" {
		return errors.New("empty scope")
	}
	if !doublestar.ValidatePattern(scope) {
		return errors.New("malformed pattern")
	}
	return nil
}
