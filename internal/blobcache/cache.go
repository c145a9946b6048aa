// Package blobcache owns the locally materialized bodies of attachments.
package blobcache

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/singleflight"

	"ledger/internal/api"
	"ledger/internal/log"
)

// Options configures a Cache.
type Options struct {
	Materializer Materializer // defaults to Memory()
	Logger       *log.Logger
}

// token identifies the validity window of an id. Release bumps the per-id
// generation; ClearAll bumps the epoch.
type token struct {
	epoch uint64
	gen   uint64
}

// Cache maps attachment ids to at most one live Resource each. A Resource is
// always released before its mapping is dropped.
type Cache struct {
	fetcher api.BlobFetcher
	mat     Materializer
	logger  *log.Logger
	group   singleflight.Group

	mu      sync.Mutex
	entries map[int64]Resource
	gens    map[int64]uint64
	epoch   uint64
}

func New(fetcher api.BlobFetcher, opts Options) *Cache {
	mat := opts.Materializer
	if mat == nil {
		mat = Memory()
	}
	return &Cache{
		fetcher: fetcher,
		mat:     mat,
		logger:  log.OrDiscard(opts.Logger).WithComponent(log.ComponentBlobCache),
		entries: make(map[int64]Resource),
		gens:    make(map[int64]uint64),
	}
}

// Acquire returns the live handle for id, fetching it when absent.
// Concurrent calls for the same id share one fetch. If the id is released
// while the fetch is in flight, the result is discarded and Acquire fails
// with ErrHandleReleased.
//
// ctx only bounds the wait of this caller; a fetch that has started runs to
// completion so the other waiters still get the handle.
func (c *Cache) Acquire(ctx context.Context, id int64) (Handle, error) {
	c.mu.Lock()
	if r, ok := c.entries[id]; ok {
		c.mu.Unlock()
		return r, nil
	}
	start := c.tokenLocked(id)
	c.mu.Unlock()

	// A release starts a new window; callers arriving after it must not join
	// the fetch it invalidated.
	key := fmt.Sprintf("%d/%d/%d", id, start.epoch, start.gen)
	ch := c.group.DoChan(key, func() (any, error) {
		return c.load(context.WithoutCancel(ctx), id, start)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(Resource), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Cache) load(ctx context.Context, id int64, start token) (Resource, error) {
	c.mu.Lock()
	if r, ok := c.entries[id]; ok {
		c.mu.Unlock()
		return r, nil
	}
	c.mu.Unlock()

	content, err := c.fetcher.FetchAttachment(ctx, id)
	if err != nil {
		c.logger.WarnContext(ctx, "fetch attachment failed",
			log.FieldAttachmentID, id,
			log.FieldError, err.Error())
		return nil, err
	}
	defer content.Body.Close()

	res, err := c.mat.Materialize(id, content)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.tokenLocked(id) != start {
		c.mu.Unlock()
		_ = res.Release()
		c.logger.DebugContext(ctx, "discarded blob released during fetch", log.FieldAttachmentID, id)
		return nil, fmt.Errorf("attachment %d: %w", id, ErrHandleReleased)
	}
	c.entries[id] = res
	c.mu.Unlock()

	c.logger.DebugContext(ctx, "blob materialized",
		log.FieldAttachmentID, id,
		log.FieldSizeBytes, res.Size())
	return res, nil
}

func (c *Cache) tokenLocked(id int64) token {
	return token{epoch: c.epoch, gen: c.gens[id]}
}

// Release frees the handle of id and drops it. Absent ids are a no-op, but
// still invalidate an in-flight fetch.
func (c *Cache) Release(id int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gens[id]++
	r, ok := c.entries[id]
	if !ok {
		return nil
	}
	err := r.Release()
	delete(c.entries, id)
	if err != nil {
		c.logger.Warn("release blob failed",
			log.FieldAttachmentID, id,
			log.FieldError, err.Error())
		return err
	}
	c.logger.Debug("blob released", log.FieldAttachmentID, id)
	return nil
}

// ClearAll releases every handle. Every mapping is dropped even when some
// releases fail; the failures are returned together.
func (c *Cache) ClearAll() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	c.gens = make(map[int64]uint64)

	var result *multierror.Error
	for id, r := range c.entries {
		if err := r.Release(); err != nil {
			result = multierror.Append(result, fmt.Errorf("attachment %d: %w", id, err))
		}
		delete(c.entries, id)
	}
	if result != nil {
		c.logger.Warn("clear blobs had failures", log.FieldCount, len(result.Errors))
	}
	return result.ErrorOrNil()
}

// Len returns the number of live handles.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
