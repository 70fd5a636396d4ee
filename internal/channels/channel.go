// Package channels connects chat transports to the conversation loop.
package channels

import "context"

// Channel is a chat transport. Start blocks until the context is cancelled
// or the transport fails permanently.
type Channel interface {
	Name() string
	Start(ctx context.Context) error
}

// Responder handles one inbound message and returns the reply text. It never
// fails; errors become apologetic replies.
type Responder interface {
	Process(ctx context.Context, sessionID, userMessage string) string
}
