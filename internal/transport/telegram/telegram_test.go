package telegram

import (
	"strings"
	"testing"
)

func TestSplitTelegramTextShort(t *testing.T) {
	t.Parallel()
	got := splitTelegramText("hello", 100)
	if len(got) != 1 || got[0] != "hello" {
		t.Fatalf("got %v", got)
	}
}

func TestSplitTelegramTextPrefersNewlines(t *testing.T) {
	t.Parallel()
	lines := make([]string, 40)
	for i := range lines {
		lines[i] = strings.Repeat("x", 10)
	}
	s := strings.Join(lines, "\n")

	chunks := splitTelegramText(s, 100)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if c == "" {
			t.Fatalf("chunk %d is empty", i)
		}
		if len([]rune(c)) > 100 {
			t.Fatalf("chunk %d exceeds limit: %d", i, len(c))
		}
		// Newline splitting keeps lines intact.
		for _, ln := range strings.Split(c, "\n") {
			if len(ln) != 10 {
				t.Fatalf("chunk %d broke a line: %q", i, ln)
			}
		}
	}
}
