package middleman

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru"

	"github.com/middleman-protocol/mmp-core/crypto"
)

// SpecialtyCache memoizes SelectBest's winner for a (specialty, job_amount)
// lookup key, the way the teacher wraps hashicorp/golang-lru behind a
// typed cache in common/cache.go. Unlike the teacher's byte-key cache,
// entries here are invalidated implicitly by the eligibility recheck the
// caller performs on every hit (heartbeat/active/bond state can change
// between writes), so no explicit Purge is wired to registry mutation.
type SpecialtyCache struct {
	lru *lru.Cache
}

// NewSpecialtyCache builds a bounded cache sized per config.Params.SpecialtyCacheSize
// (spec §4.6).
func NewSpecialtyCache(size int) (*SpecialtyCache, error) {
	if size <= 0 {
		return nil, fmt.Errorf("specialty cache size must be positive, got %d", size)
	}
	c, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &SpecialtyCache{lru: c}, nil
}

type specialtyKey struct {
	specialty string
	jobAmount uint64
}

// Add records the winning candidate for a lookup key.
func (c *SpecialtyCache) Add(specialty string, jobAmount uint64, winner crypto.PubKey) {
	c.lru.Add(specialtyKey{specialty, jobAmount}, winner)
}

// Get retrieves a cached winner, if present.
func (c *SpecialtyCache) Get(specialty string, jobAmount uint64) (crypto.PubKey, bool) {
	v, ok := c.lru.Get(specialtyKey{specialty, jobAmount})
	if !ok {
		return crypto.PubKey{}, false
	}
	return v.(crypto.PubKey), true
}

// Purge empties the cache, used when registry membership changes broadly
// (mass deactivation, bulk re-registration).
func (c *SpecialtyCache) Purge() {
	c.lru.Purge()
}
