package domain

import (
	"encoding/binary"
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// fingerprintPrefix tags the hash algorithm so a future change can coexist with old keys.
const fingerprintPrefix = "b2:"

// Fingerprint is a deterministic, content-derived identity used as a cache and
// consistency key. Identical bytes yield identical fingerprints on every machine.
type Fingerprint string

// FingerprintOf returns the fingerprint of data.
func FingerprintOf(data []byte) Fingerprint {
	sum := blake2b.Sum256(data)
	return Fingerprint(fingerprintPrefix + hex.EncodeToString(sum[:]))
}

// FingerprintString returns the fingerprint of s.
func FingerprintString(s string) Fingerprint {
	return FingerprintOf([]byte(s))
}

// FingerprintParts fingerprints an ordered list of parts. Each part is length
// prefixed so ("ab","c") and ("a","bc") never collide.
func FingerprintParts(parts ...string) Fingerprint {
	h, _ := blake2b.New256(nil)
	var lenBuf [8]byte
	for _, p := range parts {
		binary.BigEndian.PutUint64(lenBuf[:], uint64(len(p)))
		h.Write(lenBuf[:])
		h.Write([]byte(p))
	}
	return Fingerprint(fingerprintPrefix + hex.EncodeToString(h.Sum(nil)))
}

// String returns the fingerprint as a string.
func (f Fingerprint) String() string {
	return string(f)
}

// Short returns an abbreviated form for logs.
func (f Fingerprint) Short() string {
	s := strings.TrimPrefix(string(f), fingerprintPrefix)
	if len(s) > 12 {
		return s[:12]
	}
	return s
}

// IsZero reports whether the fingerprint is unset.
func (f Fingerprint) IsZero() bool {
	return f == ""
}
