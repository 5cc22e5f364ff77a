package kato

import (
	"crypto/sha1" //nolint:gosec // content-addressing, not a security boundary
	"encoding/hex"
	"strings"

	"github.com/kato-engine/kato/internal/encoding"
)

// VectorSymbol computes the deterministic "VCTR|<sha1>" symbol for a
// vector (spec §6). Implementations MUST canonicalize to float32 before
// hashing (the []float32 input type already enforces this at compile time).
func VectorSymbol(vector []float32) (Symbol, error) {
	raw, err := encoding.EncodeVectorRaw(vector)
	if err != nil {
		return "", err
	}
	sum := sha1.Sum(raw) //nolint:gosec
	return VectorSymbolPrefix + hex.EncodeToString(sum[:]), nil
}

// PatternName computes the deterministic "PTRN|<sha1>" content address of a
// canonical event sequence (spec §3/§6): sha1(utf8(join("|", [join(",",
// sorted(event)) for event in events]))).
func PatternName(events []Event) string {
	parts := make([]string, len(events))
	for i, ev := range events {
		parts[i] = strings.Join(ev.Canonicalize(true), ",")
	}
	preimage := strings.Join(parts, "|")
	sum := sha1.Sum([]byte(preimage)) //nolint:gosec
	return PatternNamePrefix + hex.EncodeToString(sum[:])
}
