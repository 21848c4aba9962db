// Package types provides shared data structures for the app host.
//
// This package defines the values that cross component boundaries, so the
// session registry, router, monitor and API layers agree on one shape
// without importing each other.
//
// Core Types:
//   - AppManifest: Pre-validated app descriptor handed in by the catalog
//   - SessionInfo: Read-only snapshot of one running app instance
//   - Message: Immutable routed message
//   - Usage: Coarse per-session resource estimate
//
// State Management:
//   - State: Session lifecycle state (starting, ready, active, paused,
//     closing, stopped)
//   - Stats: Registry statistics
//
// Request Types:
//   - LaunchRequest, GrantRequest: Administrative API bodies
//   - SurfaceFrame: Render surface WebSocket frames
//
// Example Usage:
//
//	manifest := types.AppManifest{
//	    Name:       "calendar",
//	    Entrypoint: "index.html",
//	    WindowType: types.WindowPanel,
//	    Capabilities: map[string]map[string]types.CapabilityValue{
//	        "filesystem": {"read": types.Scoped("~/Documents")},
//	        "messaging":  {"send": types.Allowed()},
//	    },
//	}
package types
