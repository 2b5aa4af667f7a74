package temporal

import (
	"crypto/sha256"
	"encoding/hex"
)

// Checksum returns the lowercase hex SHA-256 digest of the canonical
// serialization of fields. It is the content address other components use
// to refer to a specific historical snapshot.
func Checksum(fields Fields) string {
	sum := sha256.Sum256(Canonicalize(fields))
	return hex.EncodeToString(sum[:])
}
