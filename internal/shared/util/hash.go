package util

import (
	"crypto/sha256"
	"encoding/hex"
)

// NamespaceKey returns a filesystem-safe directory name for a device or user.
func NamespaceKey(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:16])
}
