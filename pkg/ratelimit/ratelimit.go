package ratelimit

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Limiter is a token bucket rate limiter with per-key tracking
type Limiter struct {
	rate       rate.Limit
	burst      int
	clients    map[string]*client
	mu         sync.Mutex
	logger     *logrus.Logger
	now        func() time.Time
	cleanupTTL time.Duration
	stop       chan struct{}
	stopOnce   sync.Once
}

type client struct {
	limiter    *rate.Limiter
	lastSeen   time.Time
	blockUntil time.Time
}

// NewLimiter creates a limiter allowing rps sustained requests per key with
// the given burst
func NewLimiter(rps float64, burst int, logger *logrus.Logger) *Limiter {
	l := &Limiter{
		rate:       rate.Limit(rps),
		burst:      burst,
		clients:    make(map[string]*client),
		logger:     logger,
		now:        time.Now,
		cleanupTTL: 10 * time.Minute,
		stop:       make(chan struct{}),
	}

	go l.cleanup()

	return l
}

func (l *Limiter) get(key string, now time.Time) *client {
	c, ok := l.clients[key]
	if !ok {
		c = &client{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.clients[key] = c
	}
	c.lastSeen = now
	return c
}

// Allow reports whether a request from key may proceed, spending a token if so
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	c := l.get(key, now)
	if now.Before(c.blockUntil) {
		return false
	}
	return c.limiter.AllowN(now, 1)
}

// Block rejects every request from key for duration
func (l *Limiter) Block(key string, duration time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	c := l.get(key, now)
	c.blockUntil = now.Add(duration)

	if l.logger != nil {
		l.logger.WithFields(logrus.Fields{
			"key":         key,
			"block_until": c.blockUntil,
		}).Warn("Client blocked due to rate limit violation")
	}
}

// IsBlocked checks if a client is currently blocked
func (l *Limiter) IsBlocked(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.clients[key]
	return ok && l.now().Before(c.blockUntil)
}

// Tokens returns the tokens currently available to key
func (l *Limiter) Tokens(key string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.clients[key]
	if !ok {
		return float64(l.burst)
	}
	return c.limiter.TokensAt(l.now())
}

// ClientCount returns the number of tracked clients
func (l *Limiter) ClientCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// Close stops the cleanup goroutine
func (l *Limiter) Close() {
	l.stopOnce.Do(func() { close(l.stop) })
}

// cleanup periodically removes stale client entries
func (l *Limiter) cleanup() {
	ticker := time.NewTicker(l.cleanupTTL / 2)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.prune()
		}
	}
}

func (l *Limiter) prune() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for key, c := range l.clients {
		if now.Sub(c.lastSeen) > l.cleanupTTL && !now.Before(c.blockUntil) {
			delete(l.clients, key)
		}
	}
}
