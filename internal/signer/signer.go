// Package signer authenticates webhook payloads with HMAC-SHA256 over
// "{timestamp}.{payload}". The same Signer verifies inbound requests and
// signs outbound deliveries.
package signer

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

const (
	SignatureHeader = "X-Webhook-Signature"
	TimestampHeader = "X-Webhook-Timestamp"
	prefix          = "sha256="
)

type Signer struct {
	secret []byte
}

func New(secret string) *Signer {
	return &Signer{secret: []byte(secret)}
}

// Sign returns "sha256=<hex>" for the payload at the given timestamp.
func (s *Signer) Sign(payload, timestamp string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(timestamp))
	mac.Write([]byte{'.'})
	mac.Write([]byte(payload))
	return prefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify recomputes the signature and compares in constant time.
func (s *Signer) Verify(payload, timestamp, signature string) bool {
	if signature == "" {
		return false
	}
	expected := s.Sign(payload, timestamp)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// Timestamp formats t the way signed requests carry it: unix seconds.
func Timestamp(t time.Time) string {
	return strconv.FormatInt(t.Unix(), 10)
}
