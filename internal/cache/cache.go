// ABOUTME: In-memory cache of scanner candidates per container image.
// ABOUTME: Entries expire after a configurable TTL to limit scanner API calls.

package cache

import (
	"context"
	"sync"
	"time"

	"github.com/jfeddern/VulnLedger/internal/types"

	"github.com/sirupsen/logrus"
)

// DefaultTTL is used when no TTL is configured
const DefaultTTL = 30 * time.Minute

type CacheEntry struct {
	Candidates []types.ImportCandidate
	ExpiresAt  time.Time
}

type CandidateCache struct {
	cache  map[string]*CacheEntry
	mutex  sync.RWMutex
	ttl    time.Duration
	now    func() time.Time
	logger *logrus.Logger
}

func NewCandidateCache(ttl time.Duration, logger *logrus.Logger) *CandidateCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &CandidateCache{
		cache:  make(map[string]*CacheEntry),
		ttl:    ttl,
		now:    time.Now,
		logger: logger,
	}
}

// Get returns a copy of the cached candidates for imageURI
func (c *CandidateCache) Get(imageURI string) ([]types.ImportCandidate, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	entry, exists := c.cache[imageURI]
	if !exists {
		return nil, false
	}

	// Expired entries are left for the cleanup loop
	if c.now().After(entry.ExpiresAt) {
		return nil, false
	}

	c.logger.WithField("image", imageURI).Debug("Cache hit")
	return append([]types.ImportCandidate(nil), entry.Candidates...), true
}

func (c *CandidateCache) Set(imageURI string, candidates []types.ImportCandidate) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.cache[imageURI] = &CacheEntry{
		Candidates: append([]types.ImportCandidate(nil), candidates...),
		ExpiresAt:  c.now().Add(c.ttl),
	}

	c.logger.WithFields(logrus.Fields{
		"image":      imageURI,
		"candidates": len(candidates),
	}).Debug("Cached scanner candidates")
}

// Invalidate drops every entry
func (c *CandidateCache) Invalidate() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.cache = make(map[string]*CacheEntry)
}

// StartCleanup evicts expired entries until ctx is cancelled
func (c *CandidateCache) StartCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.cleanup()
		}
	}
}

func (c *CandidateCache) cleanup() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	now := c.now()
	expiredCount := 0

	for imageURI, entry := range c.cache {
		if now.After(entry.ExpiresAt) {
			delete(c.cache, imageURI)
			expiredCount++
		}
	}

	if expiredCount > 0 {
		c.logger.WithFields(logrus.Fields{
			"expired_entries":   expiredCount,
			"remaining_entries": len(c.cache),
		}).Debug("Cache cleanup completed")
	}
}

func (c *CandidateCache) Stats() (total int, expired int) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	now := c.now()
	total = len(c.cache)

	for _, entry := range c.cache {
		if now.After(entry.ExpiresAt) {
			expired++
		}
	}

	return total, expired
}
