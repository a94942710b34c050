package util

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/anand-gl/jsoncanonicalizer"
)

// HashFilter produces the dedup fingerprint of an export filter: the value is
// marshaled, canonicalized per RFC 8785 and digested with SHA-256. Two
// structurally equal filters always hash identically, independent of process
// or field order.
func HashFilter(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	canonical, err := jsoncanonicalizer.Transform(raw)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
