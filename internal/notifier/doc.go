// Package notifier sends operator reports (restart notice, pass summaries,
// crash reports, heartbeats) to the log chat.
//
// Report never blocks: messages are queued and a single worker delivers them
// through the transport under a rate limit, retrying with backoff. When the
// queue is full the message is dropped and counted. Identical messages inside
// the dedup window are suppressed.
package notifier
