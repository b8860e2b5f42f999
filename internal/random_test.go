package internal

import (
	"strconv"
	"testing"
)

func TestNewCodeRange(t *testing.T) {
	seen := make(map[string]struct{}, 256)
	for i := 0; i < 256; i++ {
		code, err := NewCode()
		if err != nil {
			t.Fatalf("NewCode failed: %v", err)
		}
		if len(code) != 6 {
			t.Fatalf("expected 6 digits, got %q", code)
		}
		n, err := strconv.Atoi(code)
		if err != nil {
			t.Fatalf("code is not numeric: %q", code)
		}
		if n < 100000 || n > 999999 {
			t.Fatalf("code out of range: %d", n)
		}
		seen[code] = struct{}{}
	}
	if len(seen) < 200 {
		t.Fatalf("expected mostly distinct codes, got %d unique of 256", len(seen))
	}
}

func TestTokenDigestStable(t *testing.T) {
	a := TokenDigest("refresh-token")
	b := TokenDigest("refresh-token")
	if a != b {
		t.Fatal("digest must be deterministic")
	}
	if len(a) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(a))
	}
	if TokenDigest("other") == a {
		t.Fatal("distinct tokens must not share a digest")
	}
}
