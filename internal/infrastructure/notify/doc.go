// Package notify forwards warning-level host events to an operator
// webhook: teardown timeouts, repeated mailbox overflows, resource
// ceilings and render failures.
package notify
