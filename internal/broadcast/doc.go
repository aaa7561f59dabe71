// Package broadcast delivers one message to a sequence of recipients.
//
// A Sender performs a single delivery, retrying in place while the transport
// reports a throttle. The Engine walks a recipient sequence through the
// Sender, removes recipients the transport reports as permanently gone and
// aggregates the outcomes into a Report.
//
// Per-recipient failures never escape the Engine: only a failing recipient
// source or a canceled context ends a pass early, and both still return the
// partial Report.
package broadcast
