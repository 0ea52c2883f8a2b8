package tracker

import (
	"context"
	"testing"
)

func TestMarkLastIsUniquePerSession(t *testing.T) {
	ctx := context.Background()
	tr := NewMemoryTracker()

	_ = tr.Track(ctx, "s1", 10, Outgoing, true)
	_ = tr.Track(ctx, "s1", 11, Incoming, false)
	_ = tr.Track(ctx, "s1", 12, Outgoing, true)

	msgs, err := tr.List(ctx, "s1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	lastCount := 0
	for _, m := range msgs {
		if m.IsLast {
			lastCount++
			if m.MessageID != 12 {
				t.Fatalf("is_last on %d, want 12", m.MessageID)
			}
		}
	}
	if lastCount != 1 {
		t.Fatalf("is_last count = %d, want 1", lastCount)
	}

	if err := tr.MarkLast(ctx, "s1", 11); err != nil {
		t.Fatalf("markLast: %v", err)
	}
	msgs, _ = tr.List(ctx, "s1")
	for _, m := range msgs {
		if m.IsLast != (m.MessageID == 11) {
			t.Fatalf("is_last not moved to 11: %+v", msgs)
		}
	}
}

func TestTrackKeepsSessionsSeparate(t *testing.T) {
	ctx := context.Background()
	tr := NewMemoryTracker()

	_ = tr.Track(ctx, "s1", 10, Outgoing, true)
	_ = tr.Track(ctx, "s2", 20, Outgoing, true)

	s1, _ := tr.List(ctx, "s1")
	s2, _ := tr.List(ctx, "s2")
	if len(s1) != 1 || len(s2) != 1 {
		t.Fatalf("lists = %d/%d, want 1/1", len(s1), len(s2))
	}

	if err := tr.Purge(ctx, "s1"); err != nil {
		t.Fatalf("purge: %v", err)
	}
	s1, _ = tr.List(ctx, "s1")
	s2, _ = tr.List(ctx, "s2")
	if len(s1) != 0 || len(s2) != 1 {
		t.Fatalf("purge touched wrong session: %d/%d", len(s1), len(s2))
	}
}

func TestListPreservesOrder(t *testing.T) {
	ctx := context.Background()
	tr := NewMemoryTracker()
	ids := []int{5, 3, 9, 1}
	for _, id := range ids {
		_ = tr.Track(ctx, "s1", id, Outgoing, false)
	}
	msgs, _ := tr.List(ctx, "s1")
	for i, m := range msgs {
		if m.MessageID != ids[i] {
			t.Fatalf("order broken: %+v", msgs)
		}
	}
}
