package blobcache

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"ledger/internal/api"
)

// ErrHandleReleased is returned by Open on a released handle.
var ErrHandleReleased = errors.New("blob handle released")

// Handle is a locally materialized attachment body. It stays valid until the
// cache releases it; consumers re-acquire on every render instead of keeping
// it.
type Handle interface {
	ID() int64
	Mime() string
	Size() int64
	Open() (io.ReadCloser, error)
	Released() bool
}

// Resource is a Handle together with the means to free it. Only the cache
// holds Resources.
type Resource interface {
	Handle
	Release() error
}

// Materializer turns a fetched body into a local Resource.
type Materializer interface {
	Materialize(id int64, content *api.Content) (Resource, error)
}

// Memory keeps bodies in reference-counted byte buffers.
func Memory() Materializer { return memoryMaterializer{} }

// TempDir writes bodies to temporary files under dir (os.TempDir when
// empty). Files are removed on release.
func TempDir(dir string) Materializer { return fileMaterializer{dir: dir} }

type memoryMaterializer struct{}

func (memoryMaterializer) Materialize(id int64, content *api.Content) (Resource, error) {
	data, err := io.ReadAll(content.Body)
	if err != nil {
		return nil, fmt.Errorf("read attachment %d: %w", id, err)
	}
	mt := mediaType(content.Mime)
	if mt == "" {
		mt = mediaType(mimetype.Detect(data).String())
	}
	return &memoryHandle{id: id, mime: mt, size: int64(len(data)), data: data}, nil
}

type memoryHandle struct {
	id   int64
	mime string
	size int64

	mu       sync.Mutex
	data     []byte
	refs     int
	released bool
}

func (h *memoryHandle) ID() int64    { return h.id }
func (h *memoryHandle) Mime() string { return h.mime }
func (h *memoryHandle) Size() int64  { return h.size }

func (h *memoryHandle) Released() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.released
}

// Open returns a reader over the buffer. Readers opened before Release stay
// readable; the buffer is dropped when the last one closes.
func (h *memoryHandle) Open() (io.ReadCloser, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return nil, ErrHandleReleased
	}
	h.refs++
	return &memoryReader{Reader: bytes.NewReader(h.data), h: h}, nil
}

func (h *memoryHandle) Release() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.released = true
	if h.refs == 0 {
		h.data = nil
	}
	return nil
}

func (h *memoryHandle) unref() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.refs--
	if h.released && h.refs == 0 {
		h.data = nil
	}
}

type memoryReader struct {
	*bytes.Reader
	h      *memoryHandle
	closed atomic.Bool
}

func (r *memoryReader) Close() error {
	if r.closed.CompareAndSwap(false, true) {
		r.h.unref()
	}
	return nil
}

type fileMaterializer struct {
	dir string
}

func (m fileMaterializer) Materialize(id int64, content *api.Content) (Resource, error) {
	dir := m.dir
	if dir == "" {
		dir = os.TempDir()
	}
	path := filepath.Join(dir, fmt.Sprintf("ledger-blob-%d-%s", id, uuid.NewString()))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create blob file: %w", err)
	}
	n, err := io.Copy(f, content.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("write attachment %d: %w", id, err)
	}

	mt := mediaType(content.Mime)
	if mt == "" {
		if detected, derr := mimetype.DetectFile(path); derr == nil {
			mt = mediaType(detected.String())
		}
	}
	return &fileHandle{id: id, mime: mt, size: n, path: path}, nil
}

type fileHandle struct {
	id   int64
	mime string
	size int64
	path string

	mu       sync.Mutex
	released bool
}

func (h *fileHandle) ID() int64    { return h.id }
func (h *fileHandle) Mime() string { return h.mime }
func (h *fileHandle) Size() int64  { return h.size }

// Path is the location of the materialized file.
func (h *fileHandle) Path() string { return h.path }

func (h *fileHandle) Released() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.released
}

func (h *fileHandle) Open() (io.ReadCloser, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return nil, ErrHandleReleased
	}
	return os.Open(h.path)
}

func (h *fileHandle) Release() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return nil
	}
	h.released = true
	if err := os.Remove(h.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove blob file: %w", err)
	}
	return nil
}

func mediaType(v string) string {
	if v == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(v)
	if err != nil {
		return ""
	}
	return mt
}
