// Package safety guards the gateway against being used as an SSRF pivot: it
// decides whether a computed upstream URL is allowed to be dialed before the
// forwarder sends a request to it.
package safety

import (
	"context"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Checker answers whether a URL the forwarder is about to dial is safe to
// reach. Implementations must be safe for concurrent use.
type Checker interface {
	Allowed(ctx context.Context, u *url.URL) bool
}

// Resolver resolves a hostname to IP addresses. It exists so tests can
// substitute a fake resolver instead of hitting real DNS.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

type netResolver struct{}

func (netResolver) LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error) {
	return net.DefaultResolver.LookupIPAddr(ctx, host)
}

// Mirror optionally propagates resolution results to a shared cache (e.g.
// Redis) so multiple gateway replicas agree on DNS safety decisions. A nil
// Mirror is a valid, local-only configuration.
type Mirror interface {
	Get(ctx context.Context, host string) (allowed bool, found bool)
	Set(ctx context.Context, host string, allowed bool, ttl time.Duration)
}

// Config controls DefaultChecker construction.
type Config struct {
	// AllowHosts is an explicit allow-list of hostnames (exact match,
	// case-insensitive) that bypass the private-range guard entirely.
	AllowHosts []string
	// DenyHosts is an explicit deny-list checked before any other rule.
	DenyHosts []string
	// Resolver overrides DNS lookups; defaults to net.DefaultResolver.
	Resolver Resolver
	// Mirror, when set, backs the DNS cache with a shared store.
	Mirror Mirror
	// CacheTTL bounds how long a resolution decision is trusted before a
	// fresh lookup is performed.
	CacheTTL time.Duration
}

const defaultCacheTTL = 5 * time.Minute

// DefaultChecker denies requests to loopback, link-local, and RFC1918
// private ranges unless the target host is on the explicit allow-list, and
// caches DNS resolution decisions in a write-through cache.
type DefaultChecker struct {
	allowHosts map[string]struct{}
	denyHosts  map[string]struct{}
	resolver   Resolver
	mirror     Mirror
	cacheTTL   time.Duration
	cache      dnsCache
}

// NewDefaultChecker constructs a DefaultChecker from cfg.
func NewDefaultChecker(cfg Config) *DefaultChecker {
	resolver := cfg.Resolver
	if resolver == nil {
		resolver = netResolver{}
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &DefaultChecker{
		allowHosts: toHostSet(cfg.AllowHosts),
		denyHosts:  toHostSet(cfg.DenyHosts),
		resolver:   resolver,
		mirror:     cfg.Mirror,
		cacheTTL:   ttl,
	}
}

func toHostSet(hosts []string) map[string]struct{} {
	set := make(map[string]struct{}, len(hosts))
	for _, host := range hosts {
		trimmed := strings.ToLower(strings.TrimSpace(host))
		if trimmed != "" {
			set[trimmed] = struct{}{}
		}
	}
	return set
}

// Allowed implements Checker.
func (c *DefaultChecker) Allowed(ctx context.Context, u *url.URL) bool {
	if u == nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return false
	}
	if _, denied := c.denyHosts[host]; denied {
		return false
	}
	if _, allowed := c.allowHosts[host]; allowed {
		return true
	}

	if ip := net.ParseIP(host); ip != nil {
		return publicAddress(ip)
	}

	if allowed, ok := c.lookupCache(ctx, host); ok {
		return allowed
	}

	addrs, err := c.resolver.LookupIPAddr(ctx, host)
	if err != nil || len(addrs) == 0 {
		c.storeCache(ctx, host, false)
		return false
	}
	for _, addr := range addrs {
		if !publicAddress(addr.IP) {
			c.storeCache(ctx, host, false)
			return false
		}
	}
	c.storeCache(ctx, host, true)
	return true
}

func (c *DefaultChecker) lookupCache(ctx context.Context, host string) (bool, bool) {
	if allowed, ok := c.cache.get(host); ok {
		return allowed, true
	}
	if c.mirror != nil {
		if allowed, found := c.mirror.Get(ctx, host); found {
			c.cache.set(host, allowed, c.cacheTTL)
			return allowed, true
		}
	}
	return false, false
}

func (c *DefaultChecker) storeCache(ctx context.Context, host string, allowed bool) {
	c.cache.set(host, allowed, c.cacheTTL)
	if c.mirror != nil {
		c.mirror.Set(ctx, host, allowed, c.cacheTTL)
	}
}

func publicAddress(ip net.IP) bool {
	if ip == nil {
		return false
	}
	switch {
	case ip.IsLoopback(), ip.IsLinkLocalUnicast(), ip.IsLinkLocalMulticast(),
		ip.IsUnspecified(), ip.IsPrivate(), ip.IsMulticast():
		return false
	}
	return true
}

// dnsCache is a write-through, TTL-bounded cache of host -> allowed.
type dnsCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	once    sync.Once
}

type cacheEntry struct {
	allowed bool
	expires time.Time
}

func (c *dnsCache) get(host string) (bool, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[host]
	if !ok || time.Now().After(entry.expires) {
		return false, false
	}
	return entry.allowed, true
}

func (c *dnsCache) set(host string, allowed bool, ttl time.Duration) {
	c.once.Do(func() { c.entries = make(map[string]cacheEntry) })
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries == nil {
		c.entries = make(map[string]cacheEntry)
	}
	c.entries[host] = cacheEntry{allowed: allowed, expires: time.Now().Add(ttl)}
}
