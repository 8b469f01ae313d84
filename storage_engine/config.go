package storageengine

import "time"

// Config carries the engine tuning knobs. Zero values are filled from
// DefaultConfig at open.
type Config struct {
	// BufferPoolSize is the frame count of the buffer pool.
	BufferPoolSize int

	// PageCapacity is the maximum number of rows per data page.
	PageCapacity int

	// BPlusTreeT is the minimum degree of the row index B+tree.
	BPlusTreeT int

	// LockTimeout bounds how long a row lock acquisition may block.
	LockTimeout time.Duration

	// DataDir is the directory backing the file disk store. Ignored
	// when the engine is opened over an explicit store.
	DataDir string
}

func DefaultConfig() Config {
	return Config{
		BufferPoolSize: 64,
		PageCapacity:   16,
		BPlusTreeT:     3,
		LockTimeout:    5000 * time.Millisecond,
		DataDir:        "data",
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BufferPoolSize == 0 {
		c.BufferPoolSize = d.BufferPoolSize
	}
	if c.PageCapacity == 0 {
		c.PageCapacity = d.PageCapacity
	}
	if c.BPlusTreeT == 0 {
		c.BPlusTreeT = d.BPlusTreeT
	}
	if c.LockTimeout == 0 {
		c.LockTimeout = d.LockTimeout
	}
	if c.DataDir == "" {
		c.DataDir = d.DataDir
	}
	return c
}
