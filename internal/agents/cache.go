package agents

import (
	"sync"

	"github.com/hivehq/hive/internal/model"
)

// cache holds active agent records by id for the lifetime of the
// process. Entries are evicted only on deactivation or update through
// the manager; there is no TTL and no cross-process coherency, which is
// acceptable for a single-process deployment.
type cache struct {
	mu     sync.RWMutex
	agents map[string]*model.Agent
}

func newCache() *cache {
	return &cache{agents: make(map[string]*model.Agent)}
}

func (c *cache) get(id string) (*model.Agent, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.agents[id]
	return a, ok
}

func (c *cache) put(a *model.Agent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.agents[a.ID] = a
}

func (c *cache) evict(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.agents, id)
}
