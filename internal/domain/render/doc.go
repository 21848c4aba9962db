/*
Package render is the boundary between the host and whatever draws app
content.

A Surface mounts a session, receives its messages and unmounts it. The
Dispatcher attaches to the session registry and runs one pump per session:
the pump waits for the session to become ready, then drains its mailbox into
Surface.Deliver. Deliveries go through a per-session circuit breaker; once
it trips the session is reported as a render failure and force-closed.
*/
package render
