// Package idgen generates random identifiers for transaction log records
// and request tracing.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// Prefixes used across the service.
const (
	TransactionPrefix = "txn_"
	RequestPrefix     = "req_"
)

// New generates a UUID-shaped random ID.
// Format: xxxxxxxx-xxxx-xxxx-xxxx-xxxxxxxxxxxx
func New() string {
	b := random(16)
	return fmt.Sprintf("%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:])
}

// WithPrefix returns prefix followed by 24 hex chars.
func WithPrefix(prefix string) string {
	return prefix + hex.EncodeToString(random(12))
}

// Transaction returns an ID for a transaction log record.
func Transaction() string { return WithPrefix(TransactionPrefix) }

// Request returns an ID for an inbound HTTP request.
func Request() string { return WithPrefix(RequestPrefix) }

func random(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return b
}
