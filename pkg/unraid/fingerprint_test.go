package unraid

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
)

func TestFetchFingerprint(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	t.Cleanup(server.Close)

	parsed, err := url.Parse(server.URL)
	if err != nil {
		t.Fatalf("parse server url: %v", err)
	}
	port, _ := strconv.Atoi(parsed.Port())

	got, err := FetchFingerprint(context.Background(), parsed.Hostname(), port)
	if err != nil {
		t.Fatalf("FetchFingerprint() error = %v", err)
	}
	sum := sha256.Sum256(server.Certificate().Raw)
	if want := hex.EncodeToString(sum[:]); got != want {
		t.Fatalf("FetchFingerprint() = %s, want %s", got, want)
	}

	// The fetched value must satisfy the client's pinning check.
	client, err := NewClient(ClientConfig{Host: "https://" + parsed.Host, Fingerprint: got})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	t.Cleanup(client.Close)
	if client.tlsConfig == nil || client.tlsConfig.VerifyConnection == nil {
		t.Fatal("expected fingerprint pinning to be configured")
	}
}

func TestFetchFingerprintRejectsPlainHTTP(t *testing.T) {
	if _, err := FetchFingerprint(context.Background(), "http://tower", 0); err == nil {
		t.Fatal("expected error for http endpoint")
	}
}
