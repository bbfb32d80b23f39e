// internal/posts/cache.go
package posts

import "sync"

// Cache is the explicit process-wide cache for the post list. It is
// invalidated after every successful mutation and on identity changes, then
// lazily refilled by the next list call.
//
// Overlapping in-flight operations are not deduplicated; the last completing
// response wins.
type Cache struct {
	mu    sync.Mutex
	posts []Post
	valid bool
}

// NewCache creates an empty, invalid cache.
func NewCache() *Cache {
	return &Cache{}
}

// Get returns the cached list and whether it is valid.
func (c *Cache) Get() ([]Post, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.valid {
		return nil, false
	}
	return c.posts, true
}

// Put replaces the cached list and marks it valid.
func (c *Cache) Put(posts []Post) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.posts = posts
	c.valid = true
}

// Invalidate drops the cached list.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.posts = nil
	c.valid = false
}
