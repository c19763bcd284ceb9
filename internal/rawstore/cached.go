package rawstore

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru"

	"github.com/roach88/matchlog/internal/record"
)

// Cached remembers IDs known to be stored so repeated existence checks
// skip the backend. Only positive answers are cached: records are never
// deleted, so a stored ID stays stored.
type Cached struct {
	Store
	known *lru.Cache
}

// NewCached wraps s with an LRU of size entries.
func NewCached(s Store, size int) (*Cached, error) {
	known, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("existence cache: %w", err)
	}
	return &Cached{Store: s, known: known}, nil
}

func (c *Cached) Exists(ctx context.Context, id record.ID) (bool, error) {
	if c.known.Contains(id) {
		return true, nil
	}
	ok, err := c.Store.Exists(ctx, id)
	if err != nil {
		return false, err
	}
	if ok {
		c.known.Add(id, struct{}{})
	}
	return ok, nil
}

func (c *Cached) Write(ctx context.Context, rec record.Record) (bool, error) {
	if c.known.Contains(rec.ID) {
		return false, nil
	}
	written, err := c.Store.Write(ctx, rec)
	if err != nil {
		return false, err
	}
	c.known.Add(rec.ID, struct{}{})
	return written, nil
}
