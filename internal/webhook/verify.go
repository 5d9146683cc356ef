// Package webhook verifies inbound settlement-network notifications:
// HMAC authenticity, timestamp freshness, and deterministic event ids for
// duplicate-delivery detection.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

const (
	// DefaultMaxAge is the oldest a declared notification timestamp may be.
	DefaultMaxAge = 5 * time.Minute

	// maxClockSkew tolerates senders slightly ahead of our clock.
	maxClockSkew = 1 * time.Minute
)

// Payload is the notification body pushed by the settlement network watcher.
type Payload struct {
	Address       string `json:"address"`
	TxHash        string `json:"txHash"`
	AmountBCH     string `json:"amountBCH"`
	Confirmations int    `json:"confirmations"`
	Timestamp     int64  `json:"timestamp"` // unix seconds
}

// VerifySignature checks the HMAC-SHA256 hex signature over the raw request
// body. Comparison is constant-time.
func VerifySignature(rawBody []byte, signature, secret string) error {
	if signature == "" {
		return fmt.Errorf("signature is missing")
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(rawBody)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return fmt.Errorf("invalid signature: integrity check failed")
	}
	return nil
}

// Sign computes the signature a sender would attach. Used by tests and the
// local watcher tooling.
func Sign(rawBody []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(rawBody)
	return hex.EncodeToString(mac.Sum(nil))
}

// CheckFreshness rejects timestamps older than maxAge or in the future
// beyond clock skew.
func CheckFreshness(timestamp int64, maxAge time.Duration) error {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}

	ts := time.Unix(timestamp, 0)
	if time.Since(ts) > maxAge {
		return fmt.Errorf("notification expired: timestamp is %s old (max %s)", time.Since(ts).Round(time.Second), maxAge)
	}
	if ts.After(time.Now().Add(maxClockSkew)) {
		return fmt.Errorf("notification timestamp is in the future")
	}
	return nil
}

// EventID derives the deterministic idempotency key for a notification.
// Identical deliveries always map to the same id.
func EventID(address, txHash string, timestamp int64) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d", address, txHash, timestamp)))
	return hex.EncodeToString(sum[:])
}
