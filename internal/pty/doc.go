// Package pty runs programs inside pseudo-terminals and streams their output.
//
// A Manager keeps one registry of live sessions keyed by a caller-supplied
// id. Spawn registers a session and starts its output pump; Write, Resize
// and Kill act on the registered session under the registry lock. The pump
// is the only path that emits a session's exit event, so every session
// produces zero or more data events followed by exactly one exit event.
package pty
