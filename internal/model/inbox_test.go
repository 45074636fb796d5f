package model

import (
	"testing"
	"time"
)

func TestNewMessageIDSortsByCreationTime(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	prev := NewMessageID(base)
	for i := 1; i <= 100; i++ {
		next := NewMessageID(base.Add(time.Duration(i) * time.Millisecond))
		if next <= prev {
			t.Fatalf("id %q not greater than earlier id %q", next, prev)
		}
		prev = next
	}
}

func TestProjectScopedPK(t *testing.T) {
	if got := ProjectScopedPK("p1", "u1"); got != "p1#u1" {
		t.Fatalf("pk = %q, want p1#u1", got)
	}
	if got := DedupePK("abc-123", "t1"); got != "abc-123#t1" {
		t.Fatalf("pk = %q, want abc-123#t1", got)
	}
}
