package sessions

import (
	"container/list"
	"sync"

	"github.com/nanobot-run/nanobot/pkg/models"
)

// DefaultCacheSize is the spec §4.2 "at most 500 sessions" LRU cache size.
const DefaultCacheSize = 500

// lruCache is a bounded least-recently-used cache of *models.Session,
// grounded on the Python original's OrderedDict-based session cache
// (ported to Go's container/list + map idiom).
type lruCache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	items    map[string]*list.Element
}

type cacheEntry struct {
	key     string
	session *models.Session
}

func newLRUCache(capacity int) *lruCache {
	if capacity <= 0 {
		capacity = DefaultCacheSize
	}
	return &lruCache{
		capacity: capacity,
		order:    list.New(),
		items:    make(map[string]*list.Element),
	}
}

func (c *lruCache) get(key string) (*models.Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*cacheEntry).session, true
}

// put inserts or refreshes key, evicting the least-recently-used entry if
// the cache is over capacity. The evicted entry carries no lock handle of
// its own (locks are refcounted independently in locker), so eviction here
// is simply dropping the cached copy.
func (c *lruCache) put(key string, session *models.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		el.Value.(*cacheEntry).session = session
		c.order.MoveToFront(el)
		return
	}
	el := c.order.PushFront(&cacheEntry{key: key, session: session})
	c.items[key] = el
	if c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.items, oldest.Value.(*cacheEntry).key)
		}
	}
}

func (c *lruCache) remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.order.Remove(el)
		delete(c.items, key)
	}
}
