// Package transport owns the single chat socket for a session.
//
// A Transport connects, sends and receives frames, and rebuilds the
// connection after an unexpected close using linear backoff
// (BaseDelay × attempt, MaxAttempts tries). Events reach subscribers in
// receipt order; malformed frames are logged and dropped.
package transport
