// Package encoding provides the canonical byte encodings KATO hashes and
// persists: vectors as little-endian float32 sequences, and free-form
// metadata as JSON.
package encoding

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// ErrInvalidVector is returned when a vector is invalid.
var ErrInvalidVector = errors.New("invalid vector")

// EncodeVectorRaw concatenates the little-endian float32 encoding of each
// component, with no length prefix. This is the exact preimage spec §6
// defines for the vector hash: sha1(concat_little_endian(float32(v_0) ...
// float32(v_{D-1}))).
func EncodeVectorRaw(vector []float32) ([]byte, error) {
	if vector == nil {
		return nil, ErrInvalidVector
	}
	buf := new(bytes.Buffer)
	for _, val := range vector {
		if err := binary.Write(buf, binary.LittleEndian, val); err != nil {
			return nil, fmt.Errorf("encode vector component: %w", err)
		}
	}
	return buf.Bytes(), nil
}

// EncodeMetadata converts a metadata map to a JSON string for storage.
func EncodeMetadata(metadata map[string]string) (string, error) {
	if metadata == nil {
		return "", nil
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	return string(data), nil
}

// DecodeMetadata converts a stored JSON string back to a metadata map.
func DecodeMetadata(jsonStr string) (map[string]string, error) {
	if jsonStr == "" {
		return nil, nil
	}
	var metadata map[string]string
	if err := json.Unmarshal([]byte(jsonStr), &metadata); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return metadata, nil
}

// ValidateVector rejects nil, empty, NaN, or infinite vector components.
func ValidateVector(vector []float32) error {
	if len(vector) == 0 {
		return ErrInvalidVector
	}
	for _, val := range vector {
		f := float64(val)
		if f != f || math.IsInf(f, 0) {
			return ErrInvalidVector
		}
	}
	return nil
}
