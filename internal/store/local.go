package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aweris/dimgreg/internal/compression"
)

const DefaultCacheSize = 256

// LocalStore implements Store using the local filesystem.
//
// Storage layout (one directory per registry host):
//
//	basePath/namespace/
//	  objects/
//	    ab/cd123...  (framed, optionally zstd-compressed content)
type LocalStore struct {
	basePath   string
	namespace  string
	cache      Cache
	compressor *compression.Compressor
}

func NewLocalStore(basePath, namespace string, cacheSize int, compressionLevel compression.Level, compressionEnabled bool) (*LocalStore, error) {
	nsPath := filepath.Join(basePath, sanitize(namespace))

	objectsDir := filepath.Join(nsPath, "objects")
	if err := os.MkdirAll(objectsDir, 0755); err != nil {
		return nil, fmt.Errorf("create directory %s: %w", objectsDir, err)
	}

	compressor, err := compression.NewCompressor(compressionLevel, compressionEnabled)
	if err != nil {
		return nil, fmt.Errorf("create compressor: %w", err)
	}

	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}

	return &LocalStore{
		basePath:   nsPath,
		namespace:  namespace,
		cache:      NewLRUCache(cacheSize),
		compressor: compressor,
	}, nil
}

// Get retrieves an object by hash. A "sha256:" prefix is accepted.
func (s *LocalStore) Get(ctx context.Context, hash string) ([]byte, error) {
	hash = trimAlgorithm(hash)

	if data, ok := s.cache.Get(hash); ok {
		return data, nil
	}

	framed, err := os.ReadFile(s.objectPath(hash))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, hash)
		}
		return nil, fmt.Errorf("read object: %w", err)
	}

	data, err := s.compressor.Decompress(framed)
	if err != nil {
		return nil, fmt.Errorf("decompress object %s: %w", hash, err)
	}

	// Guard against truncated writes and foreign files in the cache dir.
	if sum := sha256.Sum256(data); hex.EncodeToString(sum[:]) != hash {
		_ = os.Remove(s.objectPath(hash))
		return nil, fmt.Errorf("%w: %s (digest mismatch)", ErrNotFound, hash)
	}

	s.cache.Add(hash, data)
	return data, nil
}

// Put stores an object and returns its hex sha256.
func (s *LocalStore) Put(ctx context.Context, data []byte) (string, error) {
	h := sha256.Sum256(data)
	hash := hex.EncodeToString(h[:])

	path := s.objectPath(hash)
	if _, err := os.Stat(path); err == nil {
		s.cache.Add(hash, data)
		return hash, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("create directory: %w", err)
	}

	// Write to a temp file and rename so readers never see partial objects.
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("create temp object: %w", err)
	}
	if _, err := tmp.Write(s.compressor.Compress(data)); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write object: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write object: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("commit object: %w", err)
	}

	s.cache.Add(hash, data)
	return hash, nil
}

func (s *LocalStore) Has(ctx context.Context, hash string) (bool, error) {
	hash = trimAlgorithm(hash)
	if s.cache.Has(hash) {
		return true, nil
	}

	_, err := os.Stat(s.objectPath(hash))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func (s *LocalStore) Evict(hash string) {
	s.cache.Remove(trimAlgorithm(hash))
}

func (s *LocalStore) Close() error {
	s.cache.Clear()
	return s.compressor.Close()
}

// objectPath returns the filesystem path for an object hash.
// Git-style sharding: objects/ab/cd123...
func (s *LocalStore) objectPath(hash string) string {
	if len(hash) < 2 {
		return filepath.Join(s.basePath, "objects", hash)
	}
	return filepath.Join(s.basePath, "objects", hash[:2], hash[2:])
}

func trimAlgorithm(hash string) string {
	return strings.TrimPrefix(hash, "sha256:")
}

// sanitize turns a registry host such as "localhost:5000" into a directory name.
func sanitize(namespace string) string {
	namespace = strings.ReplaceAll(namespace, "/", "_")
	return strings.ReplaceAll(namespace, ":", "_")
}
