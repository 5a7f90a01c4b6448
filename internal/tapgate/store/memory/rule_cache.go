package memory

import (
	"context"
	"sync"

	"github.com/tapgate/tapgate/internal/tapgate/types"
)

// RuleCache is an in-memory rule cache for tests and dev environments.
type RuleCache struct {
	mu    sync.RWMutex
	rules []types.CachedRule
}

func NewRuleCache() *RuleCache {
	return &RuleCache{}
}

func (c *RuleCache) ReplaceAll(_ context.Context, rules []types.CachedRule) error {
	next := make([]types.CachedRule, len(rules))
	copy(next, rules)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.rules = next
	return nil
}

func (c *RuleCache) Lookup(_ context.Context, holderID, controlPointID int64) ([]types.CachedRule, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []types.CachedRule
	for _, r := range c.rules {
		if r.HolderID == holderID && r.ControlPointID == controlPointID {
			out = append(out, r)
		}
	}
	return out, nil
}
