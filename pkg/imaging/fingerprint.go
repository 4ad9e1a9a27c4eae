package imaging

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// Fingerprint returns a keyed BLAKE2b-256 digest of data, hex encoded.
// Keys longer than 64 bytes are truncated; an empty key yields a plain hash.
func Fingerprint(key, data []byte) string {
	if len(key) > blake2b.Size {
		key = key[:blake2b.Size]
	}
	h, err := blake2b.New256(key)
	if err != nil {
		// Only reachable with an oversized key, which is truncated above.
		sum := blake2b.Sum256(data)
		return hex.EncodeToString(sum[:])
	}
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}
