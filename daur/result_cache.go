package daur

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// ResultCache provides TTL-bounded caching of retrieval results so repeated
// identical requests skip the two-round-trip sequence. Disabled unless
// Config.CacheTTL is set.
type ResultCache struct {
	mu      sync.RWMutex
	cache   map[string]*cachedResult
	ttl     time.Duration
	maxSize int
	hits    int64
	misses  int64
}

type cachedResult struct {
	response  TextResponse
	timestamp time.Time
}

// NewResultCache creates a result cache with the specified TTL and max size.
func NewResultCache(ttl time.Duration, maxSize int) *ResultCache {
	return &ResultCache{
		cache:   make(map[string]*cachedResult),
		ttl:     ttl,
		maxSize: maxSize,
	}
}

// cacheKey generates a deterministic key from the full request identity:
// everything that can change the answer participates in the hash, including
// the system instruction and response-shaping options.
func (rc *ResultCache) cacheKey(provider Provider, model string, req TextRequest) (string, error) {
	schemaJSON, err := json.Marshal(req.ResponseSchema)
	if err != nil {
		return "", fmt.Errorf("failed to marshal schema for cache key: %w", err)
	}

	h := sha256.New()
	h.Write([]byte(provider))
	h.Write([]byte{0})
	h.Write([]byte(model))
	h.Write([]byte{0})
	fmt.Fprintf(h, "%d", req.Mode)
	h.Write([]byte{0})
	h.Write([]byte(req.Input))
	h.Write([]byte{0})
	h.Write([]byte(req.System))
	h.Write([]byte{0})
	if req.Temperature != nil {
		fmt.Fprintf(h, "%g", *req.Temperature)
	}
	h.Write([]byte{0})
	if req.MaxOutputTokens != nil {
		fmt.Fprintf(h, "%d", *req.MaxOutputTokens)
	}
	h.Write([]byte{0})
	h.Write(schemaJSON)
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// Get retrieves a cached response if available and not expired.
func (rc *ResultCache) Get(provider Provider, model string, req TextRequest) (TextResponse, bool) {
	key, err := rc.cacheKey(provider, model, req)
	if err != nil {
		return TextResponse{}, false
	}

	rc.mu.Lock()
	defer rc.mu.Unlock()

	cached, exists := rc.cache[key]
	if !exists {
		rc.misses++
		return TextResponse{}, false
	}

	if time.Since(cached.timestamp) > rc.ttl {
		rc.misses++
		return TextResponse{}, false
	}

	rc.hits++
	return cached.response, true
}

// Set stores a retrieval response in the cache.
func (rc *ResultCache) Set(provider Provider, model string, req TextRequest, resp TextResponse) {
	key, keyErr := rc.cacheKey(provider, model, req)
	if keyErr != nil {
		return // Skip caching if we can't generate a key
	}

	rc.mu.Lock()
	defer rc.mu.Unlock()

	// Evict the oldest entry only when inserting a new key into a full
	// cache; overwriting an existing key must not drop an unrelated entry.
	if _, exists := rc.cache[key]; !exists && len(rc.cache) >= rc.maxSize {
		var oldestKey string
		var oldestTime time.Time
		for k, v := range rc.cache {
			if oldestTime.IsZero() || v.timestamp.Before(oldestTime) {
				oldestKey = k
				oldestTime = v.timestamp
			}
		}
		if oldestKey != "" {
			delete(rc.cache, oldestKey)
		}
	}

	rc.cache[key] = &cachedResult{
		response:  resp,
		timestamp: time.Now(),
	}
}

// Stats returns cache hit/miss statistics.
func (rc *ResultCache) Stats() (hits, misses int64) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return rc.hits, rc.misses
}

// Clear removes all cached entries.
func (rc *ResultCache) Clear() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.cache = make(map[string]*cachedResult)
	rc.hits = 0
	rc.misses = 0
}
