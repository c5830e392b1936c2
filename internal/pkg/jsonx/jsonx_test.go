package jsonx

import (
	"errors"
	"testing"
)

func TestParseObjectRepairs(t *testing.T) {
	cases := []struct {
		name string
		in   string
		key  string
		want string
	}{
		{"plain", `{"a":"b"}`, "a", "b"},
		{"fenced", "```json\n{\"a\":\"b\"}\n```", "a", "b"},
		{"prose around", "Here you go:\n{\"a\":\"b\"}\nThanks!", "a", "b"},
		{"raw newline in string", "{\"a\":\"line one\nline two\"}", "a", "line one\nline two"},
		{"trailing comma", `{"a":"b",}`, "a", "b"},
		{"brace inside string", `noise {"a":"x}y"} more {"c":1}`, "a", "x}y"},
	}
	for _, tc := range cases {
		obj, err := ParseObject(tc.in)
		if err != nil {
			t.Fatalf("%s: ParseObject: %v", tc.name, err)
		}
		if got, _ := obj[tc.key].(string); got != tc.want {
			t.Fatalf("%s: want=%q got=%q", tc.name, tc.want, got)
		}
	}
}

func TestParseObjectRejectsGarbage(t *testing.T) {
	if _, err := ParseObject("I cannot help with that."); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := ParseObject(""); !errors.Is(err, ErrNoJSON) {
		t.Fatalf("empty: want ErrNoJSON got %v", err)
	}
}

func TestUnmarshalTyped(t *testing.T) {
	var out struct {
		IDs []string `json:"ids"`
	}
	if err := Unmarshal("```\n{\"ids\": [\"p1\", \"p2\",]}\n```", &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(out.IDs) != 2 || out.IDs[1] != "p2" {
		t.Fatalf("ids: got=%v", out.IDs)
	}
}

func TestExtractFirstUnbalanced(t *testing.T) {
	if _, ok := ExtractFirst(`{"a": [1, 2`); ok {
		t.Fatalf("expected no extraction for unbalanced input")
	}
}
