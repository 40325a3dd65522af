// Copyright 2025 Certen Protocol
//
// Package canonical implements the deterministic byte serialization that
// every signature in the core is computed over (spec.md §4.3, §9
// "Canonicalization is the silent protocol"). It is a documented total
// function over JSON-representable values: object keys are sorted
// lexicographically, arrays retain their original order, and numbers and
// strings use Go's standard encoding/json formatting. Two implementations
// that both run a structurally equal document through this algorithm MUST
// produce bit-identical output, or signatures computed by one will fail
// to verify under the other.
package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// JSON canonicalizes arbitrary JSON bytes into a deterministic encoding:
// object keys are sorted, arrays keep their order.
func JSON(raw []byte) ([]byte, error) {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return json.Marshal(sortValue(v))
}

func sortValue(v interface{}) interface{} {
	switch vv := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(vv))
		for k := range vv {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ordered := make(map[string]interface{}, len(vv))
		for _, k := range keys {
			ordered[k] = sortValue(vv[k])
		}
		return ordered
	case []interface{}:
		out := make([]interface{}, len(vv))
		for i, e := range vv {
			out[i] = sortValue(e)
		}
		return out
	default:
		return vv
	}
}

// Marshal marshals v to JSON and then canonicalizes the result. Struct
// field elision (e.g. dropping `proof` before signing) is the caller's
// responsibility — typically done by marshaling a sibling struct or map
// with the field omitted, never by string-editing the canonical bytes.
func Marshal(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return JSON(raw)
}

// Digest returns the SHA-256 digest of v's canonical encoding.
func Digest(v interface{}) ([32]byte, error) {
	canon, err := Marshal(v)
	if err != nil {
		return [32]byte{}, err
	}
	return sha256.Sum256(canon), nil
}

// DigestHex is Digest with hex-encoded output.
func DigestHex(v interface{}) (string, error) {
	d, err := Digest(v)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(d[:]), nil
}

// HashConcat returns SHA-256 over the concatenation of parts, used where
// the wire format commits to several independently-canonicalized blobs
// rather than one structure (e.g. a tagged revocation string).
func HashConcat(parts ...[]byte) [32]byte {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
