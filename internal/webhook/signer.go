// Package webhook delivers outbound domain events to tenant endpoints.
//
// This file implements payload signing. Each tenant has its own signing
// secret; the receiver recomputes the HMAC over "<unix>.<payload>" and
// compares. The timestamp in the header lets receivers reject replays.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// SignatureHeader carries the delivery signature.
const SignatureHeader = "X-Payment-Signature"

// SecretResolver returns the signing secret for a tenant. An empty return
// disables signing for that tenant's deliveries.
type SecretResolver func(tenantID string) string

// Sign computes the signature header value for a payload at the given time:
// "t=<unix>,v1=<hex hmac-sha256>".
func Sign(payload []byte, secret string, at time.Time) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(payload)
	return fmt.Sprintf("t=%s,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}
