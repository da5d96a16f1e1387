package auth

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/stonemart/api/internal/platform/requestctx"
)

const (
	defaultWebhookSignatureHeader = "X-Payment-Signature"
	defaultWebhookTimestampHeader = "X-Payment-Timestamp"
	defaultWebhookClockSkew       = 5 * time.Minute
)

// WebhookVerifier authenticates signed callbacks from the payment provider.
// The signature covers METHOD, path, timestamp, and the SHA-256 of the body,
// joined with newlines and signed with HMAC-SHA256.
type WebhookVerifier struct {
	secret []byte
	now    func() time.Time

	signatureHeader string
	timestampHeader string
	clockSkew       time.Duration
}

// WebhookOption customises the verifier.
type WebhookOption func(*WebhookVerifier)

// WithWebhookHeaders overrides the header names carrying signature material.
func WithWebhookHeaders(signature, timestamp string) WebhookOption {
	return func(v *WebhookVerifier) {
		if strings.TrimSpace(signature) != "" {
			v.signatureHeader = signature
		}
		if strings.TrimSpace(timestamp) != "" {
			v.timestampHeader = timestamp
		}
	}
}

// WithWebhookClockSkew adjusts the accepted timestamp skew.
func WithWebhookClockSkew(d time.Duration) WebhookOption {
	return func(v *WebhookVerifier) {
		if d > 0 {
			v.clockSkew = d
		}
	}
}

// WithWebhookClock injects a custom clock, primarily for tests.
func WithWebhookClock(now func() time.Time) WebhookOption {
	return func(v *WebhookVerifier) {
		if now != nil {
			v.now = now
		}
	}
}

// NewWebhookVerifier builds a verifier around the shared secret.
func NewWebhookVerifier(secret string, opts ...WebhookOption) *WebhookVerifier {
	verifier := &WebhookVerifier{
		secret:          []byte(strings.TrimSpace(secret)),
		now:             time.Now,
		signatureHeader: defaultWebhookSignatureHeader,
		timestampHeader: defaultWebhookTimestampHeader,
		clockSkew:       defaultWebhookClockSkew,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(verifier)
		}
	}

	return verifier
}

// Require rejects requests whose signature does not verify against the shared secret.
func (v *WebhookVerifier) Require() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v == nil || len(v.secret) == 0 {
				respondAuthError(w, http.StatusServiceUnavailable, "verification_unavailable", "webhook secret not configured")
				return
			}

			signatureValue := strings.TrimSpace(r.Header.Get(v.signatureHeader))
			if signatureValue == "" {
				respondAuthError(w, http.StatusUnauthorized, "signature_missing", "signature header missing")
				return
			}

			timestampValue := strings.TrimSpace(r.Header.Get(v.timestampHeader))
			if timestampValue == "" {
				respondAuthError(w, http.StatusUnauthorized, "timestamp_missing", "signature timestamp missing")
				return
			}

			timestamp, err := parseSignatureTimestamp(timestampValue)
			if err != nil {
				respondAuthError(w, http.StatusUnauthorized, "timestamp_invalid", "signature timestamp invalid")
				return
			}

			if skew := v.now().Sub(timestamp); skew > v.clockSkew || skew < -v.clockSkew {
				respondAuthError(w, http.StatusUnauthorized, "timestamp_skew", "signature timestamp outside allowed window")
				return
			}

			bodyBytes, err := readAndRestoreBody(r)
			if err != nil {
				respondAuthError(w, http.StatusBadRequest, "invalid_body", "unable to read body for signature verification")
				return
			}

			signature, err := decodeSignature(signatureValue)
			if err != nil {
				respondAuthError(w, http.StatusUnauthorized, "signature_invalid", "signature encoding invalid")
				return
			}

			expected := computeSignature(v.secret, canonicalWebhookString(r, bodyBytes, timestampValue))
			if !hmac.Equal(signature, expected) {
				requestctx.Logger(r.Context()).Warn("webhook signature mismatch",
					zap.String("path", r.URL.Path),
				)
				respondAuthError(w, http.StatusUnauthorized, "signature_mismatch", "signature verification failed")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// Sign computes the signature a caller would attach for the given request parts.
// Exposed for tests and for documenting the contract with the payment provider.
func (v *WebhookVerifier) Sign(method, path string, body []byte, timestamp string) string {
	canonical := strings.Join([]string{
		strings.ToUpper(method),
		path,
		timestamp,
		bodyDigest(body),
	}, "\n")
	return base64.StdEncoding.EncodeToString(computeSignature(v.secret, []byte(canonical)))
}

func canonicalWebhookString(r *http.Request, body []byte, timestamp string) []byte {
	method := strings.ToUpper(r.Method)
	path := r.URL.EscapedPath()
	if path == "" {
		path = "/"
	}

	canonical := strings.Join([]string{
		method,
		path,
		timestamp,
		bodyDigest(body),
	}, "\n")
	return []byte(canonical)
}

func bodyDigest(body []byte) string {
	hash := sha256.Sum256(body)
	return hex.EncodeToString(hash[:])
}

func computeSignature(secret, message []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(message)
	return mac.Sum(nil)
}

func readAndRestoreBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()

	buf, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}

	r.Body = io.NopCloser(bytes.NewReader(buf))
	return buf, nil
}

func decodeSignature(value string) ([]byte, error) {
	if value == "" {
		return nil, errors.New("auth: empty signature")
	}
	if decoded, err := base64.StdEncoding.DecodeString(value); err == nil {
		return decoded, nil
	}
	if decoded, err := hex.DecodeString(value); err == nil {
		return decoded, nil
	}
	return nil, errors.New("auth: signature must be base64 or hex encoded")
}

func parseSignatureTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("auth: timestamp empty")
	}

	value = strings.TrimSpace(value)
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts.UTC(), nil
	}

	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts.UTC(), nil
	}

	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Unix(seconds, 0).UTC(), nil
	}

	return time.Time{}, fmt.Errorf("auth: unable to parse timestamp %q", value)
}
