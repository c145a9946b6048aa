package session

import (
	"context"
	"errors"
	"sync"

	"ledger/internal/blobcache"
	"ledger/internal/core"
)

// ErrViewerClosed is returned by Render when nothing is open.
var ErrViewerClosed = errors.New("viewer is closed")

// Viewer shows one attachment at a time. It keeps the attachment record,
// never the handle: every render acquires through the blob cache.
type Viewer struct {
	blobs *blobcache.Cache

	mu      sync.Mutex
	current *core.Attachment
}

func newViewer(blobs *blobcache.Cache) *Viewer {
	return &Viewer{blobs: blobs}
}

// Open makes att the current attachment and returns its handle.
func (v *Viewer) Open(ctx context.Context, att core.Attachment) (blobcache.Handle, error) {
	h, err := v.blobs.Acquire(ctx, att.ID)
	if err != nil {
		return nil, err
	}
	v.mu.Lock()
	v.current = &att
	v.mu.Unlock()
	return h, nil
}

// Render acquires the handle of the current attachment.
func (v *Viewer) Render(ctx context.Context) (blobcache.Handle, error) {
	cur, ok := v.Current()
	if !ok {
		return nil, ErrViewerClosed
	}
	return v.blobs.Acquire(ctx, cur.ID)
}

// Current returns the attachment on display.
func (v *Viewer) Current() (core.Attachment, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.current == nil {
		return core.Attachment{}, false
	}
	return *v.current, true
}

func (v *Viewer) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.current = nil
}
