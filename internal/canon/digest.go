package canon

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content digests. The version suffix leaves room to
// change the algorithm without colliding with stored digests.
const (
	DomainGraph = "provtrace/graph/v1"
)

// hashWithDomain computes SHA256(domain || 0x00 || data). The null byte
// keeps domain and data from running into each other.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Digest returns the domain-separated SHA-256 of v's canonical bytes.
func Digest(domain string, v Value) (string, error) {
	data, err := Marshal(v)
	if err != nil {
		return "", fmt.Errorf("digest: %w", err)
	}
	return hashWithDomain(domain, data), nil
}

// DigestBytes hashes bytes that are already canonical.
func DigestBytes(domain string, canonical []byte) string {
	return hashWithDomain(domain, canonical)
}
