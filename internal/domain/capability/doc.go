/*
Package capability holds per-session grant sets and answers every
privileged-operation check against them.

# Categories

The set of categories is closed and fixed at compile time:

	filesystem     read, write    scopes are path prefixes, ~ expands to the home dir
	network        connect        scopes are host names or globs (*.example.com)
	messaging      send, broadcast scopes are target app-name globs
	clipboard      read, write    unscoped
	notifications  post           unscoped
	system         info           unscoped

A manifest declares each action as true (unscoped) or a list of scopes.
Loopback hosts are reachable only through a scope naming them exactly.

# Usage

	grants, err := capability.ResolveGrants(manifest)
	store.Register(sessionID, grants)

	enforcer := capability.NewEnforcer(store, audit, capability.DefaultEnv(""), logger)
	if err := enforcer.Require(sessionID, capability.CategoryFilesystem, capability.ActionRead, "~/Documents/a.txt"); err != nil {
		return err // wraps errs.ErrPermissionDenied
	}

Every check appends one entry to the AuditLog without blocking.
*/
package capability
