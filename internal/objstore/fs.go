package objstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/afero"

	"github.com/wuxler/vlog/pkg/util/xio"
)

// NewFilesystem returns a Store rooted at root on fs, for single-node
// deployments and for tests that want to exercise real file I/O instead of
// the in-memory backend. Writes are made atomic by writing to a sibling
// temporary file and renaming over the destination.
//
// A single in-process mutex serializes CAS checks; this backend does not
// claim to provide true cross-process compare-and-swap the way a real
// object store's conditional PUT does; it is meant for a single writer
// process plus concurrent readers on the same machine.
func NewFilesystem(fs afero.Fs, root string) Store {
	return &fsStore{fs: fs, root: root}
}

type fsStore struct {
	mu   sync.Mutex
	fs   afero.Fs
	root string
}

func (s *fsStore) path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

func (s *fsStore) Get(_ context.Context, key string) (Object, error) {
	path := s.path(key)
	data, err := afero.ReadFile(s.fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return Object{}, errNotFound(key)
		}
		return Object{}, fmt.Errorf("object store: reading %q: %w", key, err)
	}
	return Object{Key: key, ETag: etagOf(data), Data: data}, nil
}

func (s *fsStore) PutIfAbsent(_ context.Context, key string, data []byte) (ETag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(key)
	if exists, err := afero.Exists(s.fs, path); err != nil {
		return "", fmt.Errorf("object store: stat %q: %w", key, err)
	} else if exists {
		return "", errAlreadyExists(key)
	}
	if err := s.writeAtomic(path, data); err != nil {
		return "", err
	}
	return etagOf(data), nil
}

func (s *fsStore) PutIfMatch(_ context.Context, key string, data []byte, expected ETag) (ETag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(key)
	current, err := afero.ReadFile(s.fs, path)
	switch {
	case err != nil && os.IsNotExist(err) && expected == "":
		// creating a fresh object via CAS-against-nothing
	case err != nil && os.IsNotExist(err):
		return "", errConflict(key, expected, "")
	case err != nil:
		return "", fmt.Errorf("object store: reading %q: %w", key, err)
	case etagOf(current) != expected:
		return "", errConflict(key, expected, etagOf(current))
	}
	if err := s.writeAtomic(path, data); err != nil {
		return "", err
	}
	return etagOf(data), nil
}

func (s *fsStore) writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := s.fs.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("object store: mkdir %q: %w", dir, err)
	}
	tmp, err := afero.TempFile(s.fs, dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("object store: create temp file in %q: %w", dir, err)
	}
	defer xio.CloseAndSkipError(tmp)

	if _, err := tmp.Write(data); err != nil {
		_ = s.fs.Remove(tmp.Name())
		return fmt.Errorf("object store: write temp file %q: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		_ = s.fs.Remove(tmp.Name())
		return fmt.Errorf("object store: close temp file %q: %w", tmp.Name(), err)
	}
	if err := s.fs.Rename(tmp.Name(), path); err != nil {
		_ = s.fs.Remove(tmp.Name())
		return fmt.Errorf("object store: rename %q to %q: %w", tmp.Name(), path, err)
	}
	return nil
}

func (s *fsStore) List(_ context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var keys []string
	walkRoot := s.root
	err := afero.Walk(s.fs, walkRoot, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(walkRoot, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("object store: listing prefix %q: %w", prefix, err)
	}
	return sortedKeys(keys), nil
}

func (s *fsStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(key)
	if err := s.fs.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("object store: deleting %q: %w", key, err)
	}
	return nil
}
