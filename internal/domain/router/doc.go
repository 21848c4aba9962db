/*
Package router moves messages between live sessions.

Three patterns are supported:

	Send       one message to one live session
	Broadcast  one message to every live session in scope, except the sender
	Request    a Send carrying a correlation ID; the reply settles a future

Every session owns one bounded Mailbox. A full mailbox evicts its oldest
message to make room, and the outcome reports the overflow. Messages from
one sender to one recipient are dequeued in the order they were sent.

Sends are checked against the sender's messaging capability before the
target is resolved, so a denied or misaddressed send never touches a
mailbox.

# Usage

	rt := router.New(router.DefaultConfig(), registry, enforcer, bus, logger)
	registry.Attach(rt)

	reply, err := rt.Call(ctx, from, to, "calendar.lookup", payload, 2*time.Second)
*/
package router
