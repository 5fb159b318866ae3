// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements idempotency support for unsafe HTTP methods (e.g., POST).
// It validates an Idempotency-Key request header, replays the stored response
// when the same tenant retries the same request, and persists fresh responses
// for the retry window.
//
// Design goals:
//   - Keep transport concerns (validation, hashing, replay) in middleware.
//   - Decouple persistence via narrow lookup/save function types.
//   - Detect key reuse across different request bodies and refuse it.
package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/averix/go-payments-backend/internal/domain"
)

// HeaderIdempotencyKey is the canonical request header that clients use to
// convey an idempotency key for unsafe operations (e.g., POST).
//
// The value is expected to be stable for a given semantic operation so that
// retries (network, client, or server initiated) can be safely deduplicated.
const HeaderIdempotencyKey = "Idempotency-Key"

// Context keys used internally to stash idempotency state.
const (
	ctxKeyIdemKey    = "idem.key"
	ctxKeyIdemReplay = "idem.replay" // bool: true when a stored replay was served
	ctxKeyRateBypass = "rate.bypass" // bool: true to skip rate limiting
)

// GetIdempotencyKey returns the validated idempotency key stored in the Gin
// context by Idempotency. The second return value indicates presence.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	v, ok := c.Get(ctxKeyIdemKey)
	if !ok {
		return "", false
	}
	s, _ := v.(string)
	return s, s != ""
}

// IsReplay reports whether this request was served from a stored response.
func IsReplay(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyIdemReplay)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// IdempotencyOptions configures header validation behavior for Idempotency.
type IdempotencyOptions struct {
	// MaxLen caps the accepted key length. Values <= 0 default to 200.
	MaxLen int
	// Pattern restricts allowed characters. If nil, a conservative RFC7230-like
	// token pattern is used: ^[A-Za-z0-9._~\-:]+$
	Pattern *regexp.Regexp
}

// IdempotencyLookup fetches the stored response for (tenantID, key), or nil
// when none exists inside the retry window.
type IdempotencyLookup func(ctx context.Context, tenantID, key string, now time.Time) (*domain.Idempotency, error)

// IdempotencySave persists a completed response for (tenantID, key) so later
// retries replay it. Implementations must tolerate concurrent saves of the
// same key (first writer wins).
type IdempotencySave func(ctx context.Context, tenantID, key, requestHash string, status int, body []byte) error

// Idempotency validates the Idempotency-Key header on unsafe methods and
// makes retries safe:
//
//   - If the header is absent, or the method is safe: no-op.
//   - If the header fails validation: responds 400 with a compact error body.
//   - If a stored response exists and the request hash matches: replays the
//     stored status and body, bypassing the handler and the rate limiter.
//   - If a stored response exists under a different request hash: responds
//     422, the key was reused for a different request.
//   - Otherwise the handler runs with a capturing writer and the response is
//     persisted through save on completion.
func Idempotency(opts IdempotencyOptions, lookup IdempotencyLookup, save IdempotencySave) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = 200
	}
	pat := opts.Pattern
	if pat == nil {
		// RFC-7230-ish token + common safe chars.
		pat = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)
	}

	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" || isSafeMethod(c.Request.Method) {
			c.Next()
			return
		}
		if len(key) > maxLen || !pat.MatchString(key) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"code":    "bad_idempotency_key",
				"message": "invalid Idempotency-Key",
			})
			return
		}
		c.Set(ctxKeyIdemKey, key)

		tenantID := TenantID(c)
		hash := requestHash(c)
		now := time.Now().UTC()

		if lookup != nil {
			rec, err := lookup(c.Request.Context(), tenantID, key, now)
			if err != nil {
				log.Error().Err(err).Str("key", key).Msg("idempotency lookup failed")
			}
			if rec != nil {
				if rec.RequestHash != hash {
					c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{
						"code":    "idempotency_key_reused",
						"message": "Idempotency-Key was used for a different request",
					})
					return
				}
				c.Set(ctxKeyIdemReplay, true)
				c.Set(ctxKeyRateBypass, true)
				c.Header("Idempotency-Replayed", "true")
				c.Data(rec.Status, "application/json", rec.Body)
				c.Abort()
				return
			}
		}

		if save == nil {
			c.Next()
			return
		}

		cap := &captureWriter{ResponseWriter: c.Writer}
		c.Writer = cap
		c.Next()

		status := c.Writer.Status()
		if status >= 200 && status < 500 {
			if err := save(c.Request.Context(), tenantID, key, hash, status, cap.body.Bytes()); err != nil {
				log.Error().Err(err).Str("key", key).Msg("idempotency save failed")
			}
		}
	}
}

// requestHash fingerprints the semantic request: method, path and body. The
// body is restored so handlers can read it normally.
func requestHash(c *gin.Context) string {
	var body []byte
	if c.Request.Body != nil {
		body, _ = io.ReadAll(c.Request.Body)
		c.Request.Body = io.NopCloser(bytes.NewReader(body))
	}
	h := sha256.New()
	h.Write([]byte(c.Request.Method))
	h.Write([]byte{0})
	h.Write([]byte(c.Request.URL.Path))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

func isSafeMethod(m string) bool {
	switch m {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

// captureWriter tees the response body so it can be persisted for replay.
type captureWriter struct {
	gin.ResponseWriter
	body bytes.Buffer
}

// Write implements io.Writer.
func (w *captureWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

// WriteString keeps string writes captured as well.
func (w *captureWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}
