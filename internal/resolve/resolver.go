// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package resolve memoizes IP-to-name lookups so the capture loop never
// pays for the same reverse lookup twice.
package resolve

import (
	"context"
	"net"
	"strings"
	"sync"
	"time"

	"grimm.is/nautscan/internal/logging"
)

const localhostName = "localhost"

// LookupFunc performs a reverse lookup for an address. It is replaceable
// for tests.
type LookupFunc func(ctx context.Context, addr string) ([]string, error)

type entry struct {
	name       *string // nil means "unresolved", cached permanently
	insertedAt time.Time
}

// Resolver resolves IPs to device or provider names with a permanent
// cache. Entries are first-write-wins: once an IP is cached, later lookups
// never overwrite it, so behavior stays deterministic.
type Resolver struct {
	mu       sync.RWMutex
	cache    map[string]entry
	timeout  time.Duration
	lookup   LookupFunc
	logger   *logging.Logger
	patterns []providerPattern
	exact    map[string]string
}

type providerPattern struct {
	prefix   string
	provider string
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLookupFunc replaces the reverse DNS lookup, used by tests.
func WithLookupFunc(fn LookupFunc) Option {
	return func(r *Resolver) { r.lookup = fn }
}

// WithTimeout bounds each reverse lookup.
func WithTimeout(d time.Duration) Option {
	return func(r *Resolver) { r.timeout = d }
}

// New creates a resolver with the built-in provider tables.
func New(logger *logging.Logger, opts ...Option) *Resolver {
	if logger == nil {
		logger = logging.Default()
	}
	r := &Resolver{
		cache:   make(map[string]entry),
		timeout: time.Second,
		logger:  logger.WithComponent("resolve"),
		lookup: func(ctx context.Context, addr string) ([]string, error) {
			return net.DefaultResolver.LookupAddr(ctx, addr)
		},
		exact: map[string]string{
			"8.8.8.8":        "Google DNS",
			"8.8.4.4":        "Google DNS",
			"1.1.1.1":        "Cloudflare DNS",
			"1.0.0.1":        "Cloudflare DNS",
			"208.67.222.222": "OpenDNS",
			"208.67.220.220": "OpenDNS",
		},
		patterns: []providerPattern{
			{"13.", "AWS"},
			{"104.", "Akamai"},
			{"34.", "Google Cloud"},
			{"52.", "AWS"},
			{"172.217.", "Google"},
			{"31.13.", "Facebook"},
			{"192.168.", "Private Network"},
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the cached or freshly resolved name for ip. A nil result
// means the address could not be resolved; that outcome is cached so the
// same IP is never queried again.
func (r *Resolver) Resolve(ip string) *string {
	r.mu.RLock()
	e, ok := r.cache[ip]
	r.mu.RUnlock()
	if ok {
		return e.name
	}

	name := r.resolveUncached(ip)
	return r.store(ip, name)
}

func (r *Resolver) resolveUncached(ip string) *string {
	if provider, ok := r.exact[ip]; ok {
		return &provider
	}
	for _, p := range r.patterns {
		if strings.HasPrefix(ip, p.prefix) {
			provider := p.provider
			return &provider
		}
	}
	if isLoopback(ip) {
		name := localhostName
		return &name
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	names, err := r.lookup(ctx, ip)
	if err != nil || len(names) == 0 {
		r.logger.Debug("reverse lookup failed", "ip", ip)
		return nil
	}
	name := strings.TrimSuffix(names[0], ".")
	return &name
}

// store inserts the result unless another goroutine won the race, in which
// case the first write wins.
func (r *Resolver) store(ip string, name *string) *string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.cache[ip]; ok {
		return existing.name
	}
	r.cache[ip] = entry{name: name, insertedAt: time.Now()}
	return name
}

// Len returns the number of cached entries.
func (r *Resolver) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cache)
}

func isLoopback(ip string) bool {
	if strings.HasPrefix(ip, "127.") || ip == "::1" {
		return true
	}
	parsed := net.ParseIP(ip)
	return parsed != nil && parsed.IsLoopback()
}
