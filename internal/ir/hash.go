package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainCall     = "phosphoros/call/v1"
	DomainSnapshot = "phosphoros/snapshot/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
// The null separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// CallID computes the content-addressed id of a renderer call.
// The id is stable across runs given the same session, op, args and seq.
func CallID(sessionID string, op Op, args IRObject, seq int64) (string, error) {
	obj := IRObject{
		"session_id": IRString(sessionID),
		"op":         IRString(op),
		"args":       args,
		"seq":        IRInt(seq),
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("CallID: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainCall, canonical), nil
}

// SnapshotHash fingerprints a configuration snapshot's fields. Two syncs with
// the same settings produce the same hash, which makes config changes visible
// in the call log without diffing.
func SnapshotHash(fields IRObject) (string, error) {
	canonical, err := MarshalCanonical(fields)
	if err != nil {
		return "", fmt.Errorf("SnapshotHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainSnapshot, canonical), nil
}

// MustCallID is like CallID but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustCallID(sessionID string, op Op, args IRObject, seq int64) string {
	id, err := CallID(sessionID, op, args, seq)
	if err != nil {
		panic(err)
	}
	return id
}
