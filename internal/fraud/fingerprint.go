package fraud

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// Fingerprint is the BLAKE2b-256 digest of the raw proof bytes, hex encoded.
// Only content is hashed, so renaming a file or re-uploading it elsewhere
// yields the same value.
func Fingerprint(proof []byte) string {
	sum := blake2b.Sum256(proof)
	return hex.EncodeToString(sum[:])
}
