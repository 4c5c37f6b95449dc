package captcha

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/JakeFAU/landrecord-scraper/internal/hash/sha256"
	"github.com/JakeFAU/landrecord-scraper/internal/metrics"
	"github.com/JakeFAU/landrecord-scraper/internal/scraper"
)

const defaultCacheSize = 1024

// CachingSolver memoizes answers by image digest. The form reissues the
// same challenge image after a failed postback, so a hit saves a model call.
// The caller has already spent its limiter slot by then. Empty answers are
// never cached.
type CachingSolver struct {
	next  scraper.CaptchaSolver
	cache *lru.Cache[string, string]
}

// NewCachingSolver wraps next with an LRU of size entries.
func NewCachingSolver(next scraper.CaptchaSolver, size int) (*CachingSolver, error) {
	if next == nil {
		return nil, fmt.Errorf("solver is required")
	}
	if size <= 0 {
		size = defaultCacheSize
	}
	cache, err := lru.New[string, string](size)
	if err != nil {
		return nil, fmt.Errorf("create captcha cache: %w", err)
	}
	return &CachingSolver{next: next, cache: cache}, nil
}

// Solve returns a cached answer or asks the wrapped solver.
func (c *CachingSolver) Solve(ctx context.Context, image []byte) (string, error) {
	key := sha256.Sum(image)
	if text, ok := c.cache.Get(key); ok {
		metrics.ObserveCaptchaCache(true)
		return text, nil
	}
	metrics.ObserveCaptchaCache(false)
	text, err := c.next.Solve(ctx, image)
	if err != nil {
		return "", err
	}
	if text != "" {
		c.cache.Add(key, text)
	}
	return text, nil
}

// Forget drops the answer cached for image, used when the form rejected it.
func (c *CachingSolver) Forget(image []byte) {
	c.cache.Remove(sha256.Sum(image))
}

// Len is the number of cached answers.
func (c *CachingSolver) Len() int {
	return c.cache.Len()
}
