package memory

import "sync"

// Cache is the process-local, per-project bounded memory cache. It is
// insertion-ordered, not an LRU: writes go to the front, overflow is
// trimmed from the tail, and reads never promote an entry. Writes go
// through to durable storage regardless, so a stale cache in another
// process only loses freshness, never data.
type Cache struct {
	mu       sync.RWMutex
	capacity int
	projects map[string]*projectCache
}

type cacheElement struct {
	memory *Memory
	prev   *cacheElement
	next   *cacheElement
}

// projectCache is a doubly-linked list with an id index. Head is the
// most recent insertion.
type projectCache struct {
	head  *cacheElement
	tail  *cacheElement
	index map[string]*cacheElement
}

func newProjectCache() *projectCache {
	head := &cacheElement{}
	tail := &cacheElement{}
	head.next = tail
	tail.prev = head
	return &projectCache{head: head, tail: tail, index: make(map[string]*cacheElement)}
}

func (p *projectCache) pushFront(m *Memory) {
	elem := &cacheElement{memory: m}
	elem.prev = p.head
	elem.next = p.head.next
	p.head.next.prev = elem
	p.head.next = elem
	p.index[m.ID] = elem
}

func (p *projectCache) remove(elem *cacheElement) {
	elem.prev.next = elem.next
	elem.next.prev = elem.prev
	delete(p.index, elem.memory.ID)
}

func (p *projectCache) evictTail() *Memory {
	elem := p.tail.prev
	if elem == p.head {
		return nil
	}
	p.remove(elem)
	return elem.memory
}

func (p *projectCache) len() int { return len(p.index) }

// NewCache creates a cache holding at most capacity entries per project.
func NewCache(capacity int) *Cache {
	if capacity < 1 {
		capacity = 1
	}
	return &Cache{
		capacity: capacity,
		projects: make(map[string]*projectCache),
	}
}

// Capacity returns the per-project entry bound.
func (c *Cache) Capacity() int { return c.capacity }

// Put inserts a memory at the front of its project's list, evicting the
// oldest insertion on overflow. Re-inserting an existing id refreshes
// the stored value without changing its position.
func (c *Cache) Put(m *Memory) {
	c.mu.Lock()
	defer c.mu.Unlock()

	proj := c.projects[m.ProjectID]
	if proj == nil {
		proj = newProjectCache()
		c.projects[m.ProjectID] = proj
	}

	if elem, ok := proj.index[m.ID]; ok {
		elem.memory = m
		return
	}

	proj.pushFront(m)
	for proj.len() > c.capacity {
		proj.evictTail()
	}
}

// Update refreshes a cached entry in place if present. Position is
// deliberately untouched: access bookkeeping must not reorder the list.
func (c *Cache) Update(m *Memory) {
	c.mu.Lock()
	defer c.mu.Unlock()

	proj := c.projects[m.ProjectID]
	if proj == nil {
		return
	}
	if elem, ok := proj.index[m.ID]; ok {
		elem.memory = m
	}
}

// Remove drops a single entry.
func (c *Cache) Remove(projectID, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	proj := c.projects[projectID]
	if proj == nil {
		return
	}
	if elem, ok := proj.index[id]; ok {
		proj.remove(elem)
	}
}

// Populated reports whether the project has any cached entries.
func (c *Cache) Populated(projectID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	proj := c.projects[projectID]
	return proj != nil && proj.len() > 0
}

// Len returns the number of cached entries for a project.
func (c *Cache) Len(projectID string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	proj := c.projects[projectID]
	if proj == nil {
		return 0
	}
	return proj.len()
}

// Snapshot returns the project's entries in insertion order, newest
// first. The returned memories are the cached instances; callers clone
// before mutating.
func (c *Cache) Snapshot(projectID string) []*Memory {
	c.mu.RLock()
	defer c.mu.RUnlock()

	proj := c.projects[projectID]
	if proj == nil {
		return nil
	}
	out := make([]*Memory, 0, proj.len())
	for elem := proj.head.next; elem != proj.tail; elem = elem.next {
		out = append(out, elem.memory)
	}
	return out
}

// Invalidate drops the whole project list, forcing the next retrieval
// to repopulate from durable storage.
func (c *Cache) Invalidate(projectID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.projects, projectID)
}
