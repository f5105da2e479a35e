package security

import (
	"crypto/rand"
	"encoding/base64"
)

// 16 random bytes -> 22 URL-safe characters. Collisions are negligible at
// any realistic user count, so codes are not re-checked against the store.
const verificationCodeBytes = 16

// NewVerificationCode returns an opaque one-time code suitable for embedding
// in a verification link.
func NewVerificationCode() (string, error) {
	buf := make([]byte, verificationCodeBytes)

	_, err := rand.Read(buf)

	if err != nil {
		return "", err
	}

	return base64.RawURLEncoding.EncodeToString(buf), nil
}
