package core

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
)

const (
	MaxAttachmentsPerExpense = 10
	MaxAttachmentBytes       = 10 << 20
)

// AllowedMimes is the exact client-side allow-list for attachments.
var AllowedMimes = []string{"image/jpeg", "image/png", "image/webp", "application/pdf"}

// File is a local file chosen by the user. It carries no server identity.
type File struct {
	Name string
	Mime string
	Size int64
	open func() (io.ReadCloser, error)
}

// PendingFile is a File held by the pending queue at a given position.
type PendingFile struct {
	Index int
	File  File
}

// NewFile wraps an arbitrary content source.
func NewFile(name, mime string, size int64, open func() (io.ReadCloser, error)) File {
	return File{Name: name, Mime: normalizeMime(mime), Size: size, open: open}
}

// FileFromBytes builds an in-memory File. An empty mime is sniffed from data.
func FileFromBytes(name, mime string, data []byte) File {
	if mime == "" {
		mime = mimetype.Detect(data).String()
	}
	buf := data
	return NewFile(name, mime, int64(len(buf)), func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(buf)), nil
	})
}

// FileFromPath stats path and sniffs its content type.
func FileFromPath(path string) (File, error) {
	st, err := os.Stat(path)
	if err != nil {
		return File{}, fmt.Errorf("stat %s: %w", path, err)
	}
	if st.IsDir() {
		return File{}, fmt.Errorf("%s is a directory", path)
	}
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return File{}, fmt.Errorf("detect mime of %s: %w", path, err)
	}
	return NewFile(filepath.Base(path), mt.String(), st.Size(), func() (io.ReadCloser, error) {
		return os.Open(path)
	}), nil
}

// Open returns a fresh reader over the file content.
func (f File) Open() (io.ReadCloser, error) {
	if f.open == nil {
		return nil, fmt.Errorf("file %s has no content source", f.Name)
	}
	return f.open()
}

// Validate checks the per-file type and size rules.
func (f File) Validate() error {
	if !slices.Contains(AllowedMimes, f.Mime) {
		return &ValidationError{
			File:    f.Name,
			Reason:  ReasonMime,
			Message: fmt.Sprintf("file type %q is not supported", f.Mime),
		}
	}
	if f.Size > MaxAttachmentBytes {
		return &ValidationError{
			File:   f.Name,
			Reason: ReasonSize,
			Message: fmt.Sprintf("file is too large (%s, max %s)",
				humanize.IBytes(uint64(f.Size)), humanize.IBytes(MaxAttachmentBytes)),
		}
	}
	return nil
}

// LimitError builds the batch-level count rejection for one file.
func LimitError(name string, existing, adding int) *ValidationError {
	return &ValidationError{
		File:   name,
		Reason: ReasonLimit,
		Message: fmt.Sprintf("attachment limit exceeded (%d existing + %d new > %d)",
			existing, adding, MaxAttachmentsPerExpense),
	}
}

func normalizeMime(m string) string {
	m = strings.ToLower(strings.TrimSpace(m))
	if i := strings.IndexByte(m, ';'); i >= 0 {
		m = strings.TrimSpace(m[:i])
	}
	return m
}
