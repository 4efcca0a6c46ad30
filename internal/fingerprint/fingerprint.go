// Package fingerprint computes deterministic content digests for asset
// slot inputs. Equal inputs under canonicalization produce equal digests
// regardless of process, time, or key ordering in the source data; the
// digest is what the asset cache diffs to decide whether a slot is dirty.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"storyforge/internal/domain"
)

// SchemaVersion tags every fingerprint. Bumping it invalidates all
// cached slots atomically, which is how a prompt-template or style
// overhaul forces full regeneration.
const SchemaVersion = 1

// hashDomain separates slot fingerprints from any other SHA-256 use.
// The null byte between domain and payload prevents boundary ambiguity.
const hashDomain = "storyforge/slot/v1"

// Inputs is the canonicalized input set for one slot.
type Inputs struct {
	Slot   string
	Fields map[string]any
}

// Compute returns the hex digest for the given slot inputs. It is pure:
// no clock, no randomness, no process state.
func Compute(in Inputs) (string, error) {
	if in.Slot == "" {
		return "", fmt.Errorf("%w: slot key is required", domain.ErrValidation)
	}
	if len(in.Fields) == 0 {
		return "", fmt.Errorf("%w: fingerprint inputs for slot %q are empty", domain.ErrValidation, in.Slot)
	}
	payload := map[string]any{
		"schema": SchemaVersion,
		"slot":   in.Slot,
		"fields": in.Fields,
	}
	canonical, err := marshalCanonical(payload)
	if err != nil {
		return "", fmt.Errorf("canonicalize slot %q: %w", in.Slot, err)
	}
	h := sha256.New()
	h.Write([]byte(hashDomain))
	h.Write([]byte{0x00})
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil)), nil
}
