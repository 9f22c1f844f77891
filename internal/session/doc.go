// Package session owns the chat session state machine.
//
// A Machine is an actor: user intents and transport events are executed one
// at a time on the goroutine running Run, so session state has exactly one
// writer. Readers use Snapshot or subscribe to notifications.
package session
