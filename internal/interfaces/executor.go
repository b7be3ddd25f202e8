// Package interfaces collects the small collaborator ports the rest of
// the module depends on, so call sites never couple to a concrete
// transport (subprocess, HTTP, ...).
package interfaces

import "context"

// Executor dispatches an actionable caller utterance to an external
// command processor and returns its natural-language reply. Callers
// decide what "actionable" means; Executor only runs the dispatch.
type Executor interface {
	Dispatch(ctx context.Context, callID, utterance string) (string, error)
}

// Notifier delivers a best-effort, fire-and-forget message to an
// operator-facing channel. Failures are swallowed by implementations;
// a notification is never load-bearing for call handling.
type Notifier interface {
	Send(ctx context.Context, text string) error
}
