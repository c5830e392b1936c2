package logger

import "testing"

func TestSanitizeRedactsSecretKeys(t *testing.T) {
	out := sanitizeKVs([]interface{}{"api_key", "sk-123", "job_id", "abc"})
	if got := out[1]; got != "[REDACTED]" {
		t.Fatalf("api_key: want=%q got=%v", "[REDACTED]", got)
	}
	if got := out[3]; got != "abc" {
		t.Fatalf("job_id: want=%q got=%v", "abc", got)
	}
}

func TestSanitizeStripsSignedURLQuery(t *testing.T) {
	out := sanitizeKVs([]interface{}{"canonical_url", "https://storage.example.com/b/o.json?X-Goog-Signature=abc"})
	want := "https://storage.example.com/b/o.json?[signed]"
	if got := out[1]; got != want {
		t.Fatalf("url: want=%q got=%v", want, got)
	}
}

func TestSanitizeOddKV(t *testing.T) {
	out := sanitizeKVs([]interface{}{"a", 1, "dangling"})
	if len(out) != 3 || out[2] != "dangling" {
		t.Fatalf("unexpected: %#v", out)
	}
}
