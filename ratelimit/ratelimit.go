// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package ratelimit limits connection attempts per source IP.
package ratelimit

import (
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// IPRateLimiter tracks a token bucket per source IP. Idle entries are
// dropped by a background cleanup loop.
type IPRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*entry
	rate     rate.Limit
	burst    int
	idle     time.Duration
	stopCh   chan struct{}
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// New creates an IP rate limiter allowing r connections per second with the
// given burst. Entries unused for idle are evicted.
func New(r float64, burst int, idle time.Duration) *IPRateLimiter {
	l := &IPRateLimiter{
		limiters: make(map[string]*entry),
		rate:     rate.Limit(r),
		burst:    burst,
		idle:     idle,
		stopCh:   make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

// Allow reports whether a connection from the address may proceed.
// Addresses without an extractable IP are allowed.
func (l *IPRateLimiter) Allow(remoteAddr string) bool {
	ip := extractIP(remoteAddr)
	if ip == "" {
		return true
	}

	l.mu.Lock()
	e, ok := l.limiters[ip]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[ip] = e
	}
	e.lastSeen = time.Now()
	l.mu.Unlock()

	return e.limiter.Allow()
}

// Close stops the cleanup loop.
func (l *IPRateLimiter) Close() {
	close(l.stopCh)
}

func (l *IPRateLimiter) cleanupLoop() {
	ticker := time.NewTicker(l.idle)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-l.idle)
			l.mu.Lock()
			for ip, e := range l.limiters {
				if e.lastSeen.Before(cutoff) {
					delete(l.limiters, ip)
				}
			}
			l.mu.Unlock()
		}
	}
}

func extractIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		// Maybe a bare IP without port.
		if ip := net.ParseIP(remoteAddr); ip != nil {
			return ip.String()
		}
		return ""
	}
	return host
}
