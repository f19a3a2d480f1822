// Package idem derives the idempotency keys that let the remote ledger
// deduplicate retried commands.
//
// A key is a pure function of the command type and the entity's natural id.
// Natural ids are minted exactly once when the entity is created; keys are
// never minted. No clock, no randomness, no network.
package idem

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/roach88/tillsync/internal/pos"
)

// DomainPayload prefixes payload fingerprints.
// Version suffix enables future algorithm migration.
const DomainPayload = "tillsync/payload/v1"

var prefixes = map[pos.CommandType]string{
	pos.CmdSaleFinalize:   "sale-finalize",
	pos.CmdShiftOpen:      "shift-open",
	pos.CmdShiftClose:     "shift-close",
	pos.CmdShiftCashEvent: "shift-cash-event",
}

// Derive returns the idempotency key for (commandType, naturalID),
// e.g. "sale-finalize:0192f3c4-...".
func Derive(commandType pos.CommandType, naturalID string) (string, error) {
	prefix, ok := prefixes[commandType]
	if !ok {
		return "", fmt.Errorf("derive key: unknown command type %q", commandType)
	}
	if naturalID == "" {
		return "", fmt.Errorf("derive key: empty natural id for %s", commandType)
	}
	return prefix + ":" + naturalID, nil
}

// MustDerive is like Derive but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustDerive(commandType pos.CommandType, naturalID string) string {
	key, err := Derive(commandType, naturalID)
	if err != nil {
		panic(err)
	}
	return key
}

// Fingerprint hashes canonical payload bytes with domain separation.
// Format: hex(SHA256(domain + 0x00 + payload)).
func Fingerprint(payload []byte) string {
	h := sha256.New()
	h.Write([]byte(DomainPayload))
	h.Write([]byte{0x00})
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
