package observability

import (
	"encoding/hex"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"
)

// EmailRedactor turns email addresses into stable, keyed digests so that log
// lines for the same user can be correlated without storing the address.
type EmailRedactor struct {
	key []byte
}

// NewEmailRedactor creates a redactor. An empty key yields an unkeyed digest.
// blake2b accepts keys of at most 64 bytes; longer keys are cut.
func NewEmailRedactor(key string) *EmailRedactor {
	k := []byte(key)
	if len(k) > blake2b.Size {
		k = k[:blake2b.Size]
	}
	return &EmailRedactor{key: k}
}

// Redact returns the first 16 hex chars of the keyed blake2b-256 digest of
// the normalised address.
func (r *EmailRedactor) Redact(email string) string {
	h, err := blake2b.New256(r.key)
	if err != nil {
		return "redacted"
	}
	h.Write([]byte(strings.ToLower(strings.TrimSpace(email))))
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// Field returns a zap field carrying the redacted address.
func (r *EmailRedactor) Field(email string) zap.Field {
	return zap.String("user", r.Redact(email))
}
