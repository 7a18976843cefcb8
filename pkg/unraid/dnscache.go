package unraid

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/rs/dnscache"
	"github.com/rs/zerolog/log"
)

const defaultDNSCacheTTL = 5 * time.Minute

// DNSCache resolves agent hostnames through a refreshing in-memory cache so
// the poll loop and websocket reconnects do not hit DNS on every dial.
type DNSCache struct {
	resolver *dnscache.Resolver
	ttl      time.Duration
	dialer   *net.Dialer

	startOnce sync.Once
}

// NewDNSCache creates a cache refreshed every ttl once Start is called.
func NewDNSCache(ttl time.Duration) *DNSCache {
	if ttl <= 0 {
		ttl = defaultDNSCacheTTL
	}
	return &DNSCache{
		resolver: &dnscache.Resolver{},
		ttl:      ttl,
		dialer: &net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		},
	}
}

// Start runs the refresh loop until ctx is cancelled.
func (c *DNSCache) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		log.Info().
			Dur("ttl", c.ttl).
			Msg("Initializing DNS resolver cache")

		go func() {
			ticker := time.NewTicker(c.ttl)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					c.resolver.Refresh(true)
					log.Debug().Dur("ttl", c.ttl).Msg("DNS cache refreshed")
				}
			}
		}()
	})
}

// DialContext resolves address through the cache and dials the first
// address that accepts a connection.
func (c *DNSCache) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return nil, err
	}
	if ip := net.ParseIP(host); ip != nil {
		return c.dialer.DialContext(ctx, network, address)
	}

	ips, err := c.resolver.LookupHost(ctx, host)
	if err != nil {
		return nil, err
	}
	if len(ips) == 0 {
		return nil, &net.DNSError{
			Err:  "no IP addresses found",
			Name: host,
		}
	}

	var lastErr error
	for _, ip := range ips {
		conn, dialErr := c.dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
		if dialErr == nil {
			return conn, nil
		}
		lastErr = dialErr
		if ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}
