package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Key computes the content-addressed cache key for a request. The digest
// covers the resolved provider, model, operation and the canonical request
// payload; account identity is deliberately excluded so identical requests
// share an entry across accounts.
func Key(provider, model, operation string, payload []byte) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00", provider, model, operation)
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
