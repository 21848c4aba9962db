// Package ws carries the host's WebSocket surfaces.
//
// Hub is the render surface: a rendering host dials /surface/:id for each
// session it draws. The hub sends a mount frame with the session and its
// manifest, writes deliver frames for routed messages and a teardown frame
// when the session closes. Inbound frames report readiness, teardown,
// render failures and usage, and carry app-originated send, broadcast,
// request and reply operations into the router.
//
// EventStream pushes the host event feed to operator tooling.
//
// Frame flow:
//
//	host                         hub
//	 |  <- mount {session, manifest}
//	 |  ready ->                 MarkReady
//	 |  <- deliver {message}     dispatcher pump
//	 |  send {to, payload} ->    router.Send, answered by result
//	 |  <- teardown              Close
//	 |  teardown_complete ->     ConfirmTeardown
package ws
