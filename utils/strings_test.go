package utils

import (
	"strings"
	"testing"
)

func TestStringJoin(t *testing.T) {
	if got := StringJoin(nil, ", "); got != "" {
		t.Fatalf("empty join = %q, want empty", got)
	}
	if got := StringJoin([]string{"GET"}, ", "); got != "GET" {
		t.Fatalf("single join = %q, want GET", got)
	}
	if got := StringJoin([]string{"GET", "POST"}, ", "); got != "GET, POST" {
		t.Fatalf("join = %q, want %q", got, "GET, POST")
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("hello", 120); got != "hello" {
		t.Fatalf("short input changed: %q", got)
	}

	long := strings.Repeat("a", 200)
	got := Truncate(long, 120)
	if len([]rune(got)) != 121 {
		t.Fatalf("truncated length = %d runes, want 121", len([]rune(got)))
	}
	if !strings.HasSuffix(got, "…") {
		t.Fatalf("truncated snippet missing ellipsis: %q", got)
	}

	// Rune-safe: multi-byte input must not be cut mid-character.
	if got := Truncate("żółć", 2); got != "żó…" {
		t.Fatalf("rune truncate = %q, want %q", got, "żó…")
	}

	if got := Truncate("anything", 0); got != "" {
		t.Fatalf("zero max = %q, want empty", got)
	}
}
