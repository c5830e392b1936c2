package joberr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOfWrapped(t *testing.T) {
	base := Contract("plan", "unknown unit id %q", "p9")
	wrapped := fmt.Errorf("run pipeline: %w", base)
	if got := KindOf(wrapped); got != KindContract {
		t.Fatalf("kind: want=%q got=%q", KindContract, got)
	}
	if got := StageOf(wrapped, "run"); got != "plan" {
		t.Fatalf("stage: want=%q got=%q", "plan", got)
	}
	if got := base.Error(); got != `plan: unknown unit id "p9"` {
		t.Fatalf("message: got=%q", got)
	}
}

func TestIsFatal(t *testing.T) {
	if IsFatal(nil) {
		t.Fatalf("nil must not be fatal")
	}
	if IsFatal(New(KindBestEffort, "hyphenation", errors.New("qa failed"))) {
		t.Fatalf("best effort must not be fatal")
	}
	if !IsFatal(errors.New("plain")) {
		t.Fatalf("unclassified errors are fatal")
	}
	if KindOf(errors.New("plain")) != KindInternal {
		t.Fatalf("unclassified kind should be internal")
	}
}
