package objstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"maps"
	"strings"
	"sync"
)

// NewMemory returns an in-memory Store. It is used by tests and by the
// end-to-end scenarios in vlog's test suite; it is not durable across
// process restarts.
func NewMemory() Store {
	return &memoryStore{objects: make(map[string]memoryObject)}
}

type memoryObject struct {
	data []byte
	etag ETag
}

type memoryStore struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
}

func etagOf(data []byte) ETag {
	sum := sha256.Sum256(data)
	return ETag(hex.EncodeToString(sum[:]))
}

func (m *memoryStore) Get(_ context.Context, key string) (Object, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	obj, ok := m.objects[key]
	if !ok {
		return Object{}, errNotFound(key)
	}
	data := make([]byte, len(obj.data))
	copy(data, obj.data)
	return Object{Key: key, ETag: obj.etag, Data: data}, nil
}

func (m *memoryStore) PutIfAbsent(_ context.Context, key string, data []byte) (ETag, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.objects[key]; ok {
		return "", errAlreadyExists(key)
	}
	etag := etagOf(data)
	m.objects[key] = memoryObject{data: cloneBytes(data), etag: etag}
	return etag, nil
}

func (m *memoryStore) PutIfMatch(_ context.Context, key string, data []byte, expected ETag) (ETag, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.objects[key]
	switch {
	case !ok && expected == "":
		// creating a fresh object via CAS-against-nothing
	case !ok:
		return "", errConflict(key, expected, "")
	case current.etag != expected:
		return "", errConflict(key, expected, current.etag)
	}
	etag := etagOf(data)
	m.objects[key] = memoryObject{data: cloneBytes(data), etag: etag}
	return etag, nil
}

func (m *memoryStore) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.objects))
	for key := range maps.Keys(m.objects) {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return sortedKeys(keys), nil
}

func (m *memoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.objects, key)
	return nil
}

func cloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
