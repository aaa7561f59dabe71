// Package scheduler runs one Loop per content stream.
//
// A Loop sleeps until the stream's schedule says to wake, runs one pass
// (fetch content, post to the channel, broadcast to the directory) and goes
// back to sleep. Failed passes are reported and backed off; too many
// consecutive failures stop the loop with ErrCrashLoopExceeded.
package scheduler
