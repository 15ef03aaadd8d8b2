package ports

import "context"

// Notifier delivers outbound messages to the chat platform.
// The client instance is shared and safe for concurrent use.
type Notifier interface {
	Send(ctx context.Context, userID int64, text string) error
}
