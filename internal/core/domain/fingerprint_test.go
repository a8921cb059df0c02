package domain

import (
	"strings"
	"testing"
)

func TestFingerprintOf(t *testing.T) {
	a := FingerprintOf([]byte("hello"))
	b := FingerprintOf([]byte("hello"))
	c := FingerprintOf([]byte("hello!"))

	if a != b {
		t.Errorf("expected identical input to produce identical fingerprints")
	}
	if a == c {
		t.Errorf("expected different input to produce different fingerprints")
	}
	if !strings.HasPrefix(a.String(), "b2:") {
		t.Errorf("expected b2: prefix, got %s", a)
	}
	// prefix + 64 hex chars
	if len(a) != 3+64 {
		t.Errorf("expected length 67, got %d", len(a))
	}
}

func TestFingerprintString(t *testing.T) {
	if FingerprintString("abc") != FingerprintOf([]byte("abc")) {
		t.Error("expected FingerprintString to match FingerprintOf")
	}
}

func TestFingerprintParts(t *testing.T) {
	if FingerprintParts("ab", "c") == FingerprintParts("a", "bc") {
		t.Error("expected part boundaries to affect the fingerprint")
	}
	if FingerprintParts("a", "b") == FingerprintParts("b", "a") {
		t.Error("expected part order to affect the fingerprint")
	}
	if FingerprintParts("x", "y") != FingerprintParts("x", "y") {
		t.Error("expected deterministic fingerprint")
	}
}

func TestFingerprintShort(t *testing.T) {
	fp := FingerprintString("abc")
	if len(fp.Short()) != 12 {
		t.Errorf("expected 12 chars, got %q", fp.Short())
	}
	if Fingerprint("").Short() != "" {
		t.Error("expected empty short form")
	}
	if !Fingerprint("").IsZero() {
		t.Error("expected zero fingerprint")
	}
}
