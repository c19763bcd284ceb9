package record

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// DomainRecord prefixes every record hash.
// The version suffix allows a future change of canonical form.
const DomainRecord = "matchlog/record/v1"

// hashWithDomain computes SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Hash returns the content hash of a JSON payload.
func Hash(payload []byte) (string, error) {
	canonical, err := Canonicalize(payload)
	if err != nil {
		return "", fmt.Errorf("hash: %w", err)
	}
	return hashWithDomain(DomainRecord, canonical), nil
}

// MustHash is like Hash but panics on error. Use only in tests.
func MustHash(payload []byte) string {
	h, err := Hash(payload)
	if err != nil {
		panic(err)
	}
	return h
}
