package health

import "context"

// CursorPinger checks cursor-store connectivity.
type CursorPinger interface {
	Ping(ctx context.Context) error
}
