/*
Package catalog holds the app manifests the host can launch by name.

Manifests are read from a directory tree. Each file is one app, encoded as
YAML (.yaml, .yml), TOML (.toml) or JSON (.json):

	name: calendar
	title: Calendar
	entrypoint: apps/calendar/index.html
	window_type: panel
	capabilities:
	  messaging:
	    send: [mail, "notes-*"]
	  notifications:
	    post: true

Only the name, entrypoint and window type are checked on load; capability
declarations are resolved, and rejected if malformed, at launch. A Watcher
reloads the catalog when files change. Sessions already running keep the
manifest they were launched with.
*/
package catalog
