package unraid

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"net"
	"strings"
	"time"
)

const fingerprintDialTimeout = 5 * time.Second

// FetchFingerprint connects to the agent and returns the SHA256 fingerprint
// of its leaf certificate, for trust on first use. The result can be used as
// ClientConfig.Fingerprint.
func FetchFingerprint(ctx context.Context, host string, port int) (string, error) {
	useHTTPS, hostPort, err := resolveEndpoint(strings.TrimSpace(host), true, port)
	if err != nil {
		return "", err
	}
	if !useHTTPS {
		return "", fmt.Errorf("unraid host %q is not an https endpoint", host)
	}

	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: fingerprintDialTimeout},
		Config: &tls.Config{
			InsecureSkipVerify: true, // the certificate is what we are after
			MinVersion:         tls.VersionTLS12,
		},
	}
	conn, err := dialer.DialContext(ctx, "tcp", hostPort)
	if err != nil {
		return "", fmt.Errorf("failed to connect to %s: %w", hostPort, err)
	}
	defer conn.Close()

	certs := conn.(*tls.Conn).ConnectionState().PeerCertificates
	if len(certs) == 0 {
		return "", fmt.Errorf("no certificates presented by %s", hostPort)
	}
	sum := sha256.Sum256(certs[0].Raw)
	return hex.EncodeToString(sum[:]), nil
}
