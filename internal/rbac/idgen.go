package rbac

import (
	"crypto/rand"
	"encoding/base64"
)

// randomSuffix mirrors Python's secrets.token_urlsafe(12): a random,
// URL-safe identifier suffix with no padding.
func randomSuffix() string {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		panic("rbac: failed to read random bytes: " + err.Error())
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}
