// Package storage places original photos and thumbnails on the local
// filesystem, addressed by content hash.
//
// Layout: <root>/<kind>/<hash[0:2]>/<hash[2:4]>/<hash><ext>. Writes go through
// a temp file in the destination directory followed by an atomic rename, so a
// path is never observable with partial bytes. Duplicate writes are idempotent.
package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Kind selects the file class within the store.
type Kind string

const (
	KindOriginal Kind = "original"
	KindThumb    Kind = "thumb"
)

// Store is a content-addressed file store rooted at a single directory.
type Store struct {
	root string
}

// New returns a Store rooted at root. The root must already exist; a missing
// root is a configuration error surfaced at startup.
func New(root string) (*Store, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("storage root %q: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage root %q is not a directory", root)
	}
	return &Store{root: root}, nil
}

// Root returns the store's root directory.
func (s *Store) Root() string { return s.root }

// PathFor returns the canonical path for a content hash. hash must be a hex
// digest of at least 4 characters; ext includes the leading dot and may be
// empty.
func (s *Store) PathFor(kind Kind, hash, ext string) string {
	return filepath.Join(s.root, string(kind), hash[0:2], hash[2:4], hash+ext)
}

// Write stores the reader's bytes at the canonical path for (kind, hash).
// If the path already exists the write is skipped and the existing path is
// returned: content-addressed files never change once visible.
func (s *Store) Write(kind Kind, hash, ext string, r io.Reader) (string, error) {
	dst := s.PathFor(kind, hash, ext)

	if _, err := os.Stat(dst); err == nil {
		return dst, nil
	}

	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create storage dir: %w", err)
	}

	// Temp file lives in the destination directory so the rename stays on one
	// filesystem and is atomic.
	tmp, err := os.CreateTemp(dir, "."+hash+".tmp*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write %s: %w", dst, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, dst); err != nil {
		return "", fmt.Errorf("rename into place: %w", err)
	}
	return dst, nil
}

// Open opens a previously stored file for reading.
func (s *Store) Open(path string) (*os.File, error) {
	return os.Open(path)
}
