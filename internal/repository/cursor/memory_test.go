package cursor

import (
	"context"
	"testing"
)

func TestMemoryCursorsAdvanceMonotonically(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	const key = "prod/api-1/app"

	if got, _ := m.Accepted(ctx, key); got != 0 {
		t.Errorf("Accepted on empty store = %d", got)
	}

	if err := m.SetAccepted(ctx, key, 5); err != nil {
		t.Fatalf("SetAccepted: %v", err)
	}
	// A stale write must not move the cursor backwards.
	if err := m.SetAccepted(ctx, key, 3); err != nil {
		t.Fatalf("SetAccepted: %v", err)
	}
	if got, _ := m.Accepted(ctx, key); got != 5 {
		t.Errorf("Accepted = %d, want 5", got)
	}

	if err := m.SetCommitted(ctx, key, 4); err != nil {
		t.Fatalf("SetCommitted: %v", err)
	}
	if got, _ := m.Committed(ctx, key); got != 4 {
		t.Errorf("Committed = %d, want 4", got)
	}

	// Cursors for different sources are independent.
	if got, _ := m.Accepted(ctx, "prod/web-1/app"); got != 0 {
		t.Errorf("unrelated source cursor = %d", got)
	}

	if err := m.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}
}
