// Package tenant implements the host-process LRU cache of active tenants
// (spec §5, "Tenant eviction"). It tracks nothing about a tenant's data
// itself — that lives in pkg/patternstore/pkg/vectorindexer — only which
// node_ids are "active", evicting the least-recently-touched one past
// capacity and cleaning up its vector collection (and, for test tenants,
// its pattern data) on eviction.
package tenant

import (
	"context"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/kato-engine/kato"
)

// DefaultCapacity is the default number of simultaneously active tenants
// (spec §5, "LRU cache of active tenants (default 100)").
const DefaultCapacity = 100

// testTenantPrefix marks a tenant whose pattern data does not outlive
// eviction (spec §5, "if node_id begins with test_, drop T's pattern data").
const testTenantPrefix = "test_"

// Cache tracks active tenants and evicts the least-recently-touched one once
// capacity is exceeded.
type Cache struct {
	lru      *lru.Cache[string, struct{}]
	vectors  kato.VectorIndexer
	patterns kato.PatternStore
	logger   kato.Logger
}

// New constructs a Cache of the given capacity (DefaultCapacity if <= 0),
// wired to evict tenant resources from vectors and patterns.
func New(capacity int, vectors kato.VectorIndexer, patterns kato.PatternStore, logger kato.Logger) (*Cache, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if logger == nil {
		logger = kato.NopLogger()
	}

	c := &Cache{vectors: vectors, patterns: patterns, logger: logger}

	evictCache, err := lru.NewWithEvict[string, struct{}](capacity, func(nodeID string, _ struct{}) {
		c.evict(nodeID)
	})
	if err != nil {
		return nil, err
	}
	c.lru = evictCache
	return c, nil
}

// Touch marks nodeID as recently active, evicting the least-recently-touched
// tenant if this pushes the cache past capacity.
func (c *Cache) Touch(nodeID string) {
	c.lru.Add(nodeID, struct{}{})
}

// Active reports whether nodeID is currently tracked as an active tenant,
// without affecting its recency.
func (c *Cache) Active(nodeID string) bool {
	return c.lru.Contains(nodeID)
}

// Len returns the number of currently active tenants.
func (c *Cache) Len() int {
	return c.lru.Len()
}

// Evict forcibly evicts nodeID (e.g. in response to an explicit clear_all),
// running the same cleanup as an LRU-triggered eviction.
func (c *Cache) Evict(nodeID string) {
	c.lru.Remove(nodeID)
}

// evict drops nodeID's vector collection always, and its pattern data only
// for test tenants — production tenants retain pattern data across
// eviction (spec §5).
func (c *Cache) evict(nodeID string) {
	ctx := context.Background()
	if c.vectors != nil {
		if err := c.vectors.DeleteCollection(ctx, nodeID); err != nil {
			c.logger.Warn("tenant eviction: failed to delete vector collection", "node_id", nodeID, "error", err)
		}
	}
	if strings.HasPrefix(nodeID, testTenantPrefix) && c.patterns != nil {
		if err := c.patterns.DeleteTenant(ctx, nodeID); err != nil {
			c.logger.Warn("tenant eviction: failed to delete pattern data", "node_id", nodeID, "error", err)
		}
	}
}
