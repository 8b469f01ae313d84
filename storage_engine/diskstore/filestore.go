package diskstore

import (
	"EmberDB/types"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/dgraph-io/ristretto/v2"
)

/*
FileStore keeps every blob as one file under the data directory.

Writes follow the temp+fsync+rename pattern so a crash mid-write leaves
either the old contents or the new contents, never a torn file. Renames
become durable at the next Flush, which fsyncs the directory.

Reads go through a ristretto cache keyed by blob name. The cache is
invalidated on every write and delete, so it can never serve a stale
image; at worst a miss falls through to the filesystem.
*/

const (
	cacheNumCounters = 1 << 14
	cacheMaxCost     = 32 << 20 // bytes of cached blob data
)

type FileStore struct {
	dir   string
	cache *ristretto.Cache[string, []byte]
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir %s: %w", dir, err)
	}
	cache, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: cacheNumCounters,
		MaxCost:     cacheMaxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create blob cache: %w", err)
	}
	return &FileStore{dir: dir, cache: cache}, nil
}

func (fs *FileStore) path(name string) string {
	return filepath.Join(fs.dir, name)
}

func (fs *FileStore) ReadBlob(name string) ([]byte, error) {
	if data, ok := fs.cache.Get(name); ok {
		out := make([]byte, len(data))
		copy(out, data)
		return out, nil
	}
	data, err := os.ReadFile(fs.path(name))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("read blob %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read blob %s: %w", name, err)
	}
	fs.cache.Set(name, data, int64(len(data)))
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (fs *FileStore) WriteBlob(name string, data []byte) error {
	fs.cache.Del(name)

	tmp, err := os.CreateTemp(fs.dir, name+".tmp-*")
	if err != nil {
		return fmt.Errorf("write blob %s: %w", name, err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write blob %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync blob %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close blob %s: %w", name, err)
	}
	if err := os.Rename(tmpPath, fs.path(name)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename blob %s: %w", name, err)
	}

	cached := make([]byte, len(data))
	copy(cached, data)
	fs.cache.Set(name, cached, int64(len(cached)))
	return nil
}

func (fs *FileStore) DeleteBlob(name string) error {
	fs.cache.Del(name)
	if err := os.Remove(fs.path(name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete blob %s: %w", name, err)
	}
	return nil
}

// Flush fsyncs the data directory, making completed renames durable.
func (fs *FileStore) Flush() error {
	d, err := os.Open(fs.dir)
	if err != nil {
		return fmt.Errorf("flush data dir: %w", err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("flush data dir: %w", err)
	}
	return nil
}

func (fs *FileStore) PageIDs() ([]types.PageId, error) {
	entries, err := os.ReadDir(fs.dir)
	if err != nil {
		return nil, fmt.Errorf("enumerate pages: %w", err)
	}
	var ids []types.PageId
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if id, ok := parsePageBlobName(e.Name()); ok {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (fs *FileStore) Close() error {
	fs.cache.Close()
	return nil
}
