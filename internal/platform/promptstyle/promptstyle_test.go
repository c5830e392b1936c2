package promptstyle

import (
	"strings"
	"testing"
)

func TestApplySystemIdempotent(t *testing.T) {
	once := ApplySystem("Rewrite the paragraph.", "text")
	if !strings.HasPrefix(once, marker) || !strings.HasSuffix(once, "Rewrite the paragraph.") {
		t.Fatalf("unexpected prompt:\n%s", once)
	}
	if twice := ApplySystem(once, "text"); twice != once {
		t.Fatalf("second apply changed prompt")
	}
	if ApplySystem("  ", "json") != "" {
		t.Fatalf("empty prompt should stay empty")
	}
	if !strings.Contains(ApplySystem("x", "json"), "single JSON object") {
		t.Fatalf("json mode guidance missing")
	}
}
