package util

import (
	"strings"
	"testing"
)

func TestTruncateLog(t *testing.T) {
	if got := TruncateLog("short", 10); got != "short" {
		t.Fatalf("short string changed: %q", got)
	}

	long := strings.Repeat("x", 50)
	got := TruncateLog(long, 10)
	if !strings.HasPrefix(got, "xxxxxxxxxx...") {
		t.Fatalf("truncated = %q", got)
	}
	if !strings.Contains(got, "50 bytes total") {
		t.Fatalf("missing size annotation: %q", got)
	}
}

func TestMaskToken(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"", "..."},
		{"shorttoken", "..."},
		{"abcdefghijklmnopqrstuvwxyz", "...opqrstuvwxyz"},
	}
	for _, tc := range cases {
		if got := MaskToken(tc.in); got != tc.want {
			t.Fatalf("MaskToken(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
