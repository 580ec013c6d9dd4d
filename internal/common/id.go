package common

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/google/uuid"
)

// NewRunID generates a unique run ID with the "run_" prefix.
func NewRunID() string {
	return "run_" + uuid.New().String()
}

// NewItemID derives a deterministic item ID from the (source, locator) pair.
// Re-enumerating the same locator always maps back to the same ledger entry.
func NewItemID(sourceID, remoteLocator string) string {
	sum := sha256.Sum256([]byte(sourceID + "|" + remoteLocator))
	return "itm_" + hex.EncodeToString(sum[:12])
}
