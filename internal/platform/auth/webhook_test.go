package auth

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

func TestWebhookVerifierAcceptsSignedRequest(t *testing.T) {
	now := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
	verifier := NewWebhookVerifier("topsecret", WithWebhookClock(func() time.Time { return now }))

	body := []byte(`{"order_id":"ord_1","status":"succeeded"}`)
	timestamp := strconv.FormatInt(now.Unix(), 10)
	signature := verifier.Sign(http.MethodPost, "/webhooks/payment", body, timestamp)

	called := false
	handler := verifier.Require()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", bytes.NewReader(body))
	req.Header.Set("X-Payment-Signature", signature)
	req.Header.Set("X-Payment-Timestamp", timestamp)
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if !called {
		t.Fatal("expected handler to run")
	}
}

func TestWebhookVerifierRejectsTamperedBody(t *testing.T) {
	now := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
	verifier := NewWebhookVerifier("topsecret", WithWebhookClock(func() time.Time { return now }))

	timestamp := strconv.FormatInt(now.Unix(), 10)
	signature := verifier.Sign(http.MethodPost, "/webhooks/payment", []byte(`{"amount":100}`), timestamp)

	handler := verifier.Require()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run for tampered body")
	}))

	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", bytes.NewReader([]byte(`{"amount":999}`)))
	req.Header.Set("X-Payment-Signature", signature)
	req.Header.Set("X-Payment-Timestamp", timestamp)
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestWebhookVerifierRejectsStaleTimestamp(t *testing.T) {
	now := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
	verifier := NewWebhookVerifier("topsecret", WithWebhookClock(func() time.Time { return now }))

	body := []byte(`{}`)
	stale := strconv.FormatInt(now.Add(-20*time.Minute).Unix(), 10)
	signature := verifier.Sign(http.MethodPost, "/webhooks/payment", body, stale)

	handler := verifier.Require()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run for stale timestamp")
	}))

	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", bytes.NewReader(body))
	req.Header.Set("X-Payment-Signature", signature)
	req.Header.Set("X-Payment-Timestamp", stale)
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestWebhookVerifierMissingSecret(t *testing.T) {
	verifier := NewWebhookVerifier("")

	handler := verifier.Require()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run without a secret")
	}))

	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", nil)
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}
