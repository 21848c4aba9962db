// Package session tracks every running app instance and drives its
// lifecycle state machine.
//
// States:
//
//	Starting -> Ready -> Active <-> Paused
//	    \          \        \         /
//	     +----------+--------+-> Closing -> Stopped
//
// Components:
//   - Registry: launch, readiness, focus, close and teardown
//   - Teardown: future resolved when the surface confirms teardown or the
//     grace period runs out
//   - Attachment: collaborators (router mailboxes, dispatch pumps) opened
//     and closed in step with a session
//
// At most one session is Active. A live session (Starting through Paused)
// blocks a second launch of the same app: the launch focuses it instead.
//
// Example Usage:
//
//	reg := session.NewRegistry(session.DefaultConfig(), focus.NewManager(), store, surface, bus, logger)
//	res, err := reg.Launch(ctx, manifest)
//	err = reg.MarkReady(res.Session.ID)
//	td, err := reg.Close(ctx, res.Session.ID)
//	err = td.Wait(ctx)
package session
