package redo

import (
	"EmberDB/storage_engine/diskstore"
	"EmberDB/types"
	"errors"
	"fmt"
	"sync"
)

/*
Manager is the process-wide redo log. Records accumulate in memory as
transactions run; FlushThrough makes them durable before any page they
cover is written in place. The durable form is one blob of CRC-framed
records, replaced wholesale on every flush and truncation.

LSNs are assigned here, strictly increasing from 1, and never reused
within a log generation.
*/

var ErrCorruptLog = errors.New("corrupt redo log")

type Manager struct {
	mu         sync.Mutex
	store      diskstore.DiskStore
	records    []*types.RedoRecord
	nextLSN    types.LSN
	flushedLSN types.LSN
}

// Open loads the redo log blob and resumes LSN assignment past the
// highest record found. A corrupt frame fails the open.
func Open(store diskstore.DiskStore) (*Manager, error) {
	m := &Manager{store: store, nextLSN: 1}
	data, err := store.ReadBlob(diskstore.RedoLogBlob)
	if errors.Is(err, diskstore.ErrNotFound) {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open redo log: %w", err)
	}
	records, err := decodeRecords(data)
	if err != nil {
		return nil, fmt.Errorf("open redo log: %w", err)
	}
	m.records = records
	for _, r := range records {
		if r.LSN >= m.nextLSN {
			m.nextLSN = r.LSN + 1
		}
		if r.LSN > m.flushedLSN {
			m.flushedLSN = r.LSN
		}
	}
	return m, nil
}

// Append assigns the next LSN to the record and adds it to the log.
// The record is not durable until a flush covers its LSN.
func (m *Manager) Append(rec *types.RedoRecord) types.LSN {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.LSN = m.nextLSN
	m.nextLSN++
	m.records = append(m.records, rec)
	return rec.LSN
}

// FlushThrough makes all records with LSN <= lsn durable. The whole
// log is rewritten, so everything appended so far becomes durable.
func (m *Manager) FlushThrough(lsn types.LSN) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.flushedLSN >= lsn {
		return nil
	}
	return m.flushLocked()
}

// FlushAll makes every appended record durable.
func (m *Manager) FlushAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.records) == 0 || m.flushedLSN >= m.records[len(m.records)-1].LSN {
		return nil
	}
	return m.flushLocked()
}

func (m *Manager) flushLocked() error {
	data := encodeRecords(m.records)
	if err := m.store.WriteBlob(diskstore.RedoLogBlob, data); err != nil {
		return fmt.Errorf("flush redo log: %w", err)
	}
	if err := m.store.Flush(); err != nil {
		return fmt.Errorf("flush redo log: %w", err)
	}
	if n := len(m.records); n > 0 {
		m.flushedLSN = m.records[n-1].LSN
	}
	return nil
}

// DiscardTxn removes a transaction's records that have not reached
// durability. A commit whose flush failed must call this before any
// other flush runs: flushing rewrites the whole buffer, and a commit
// record riding along on an unrelated flush would resurrect the
// transaction at recovery. Durable records stay; replay discards them
// for lack of a commit record.
func (m *Manager) DiscardTxn(txid types.TxnID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.records[:0]
	for _, r := range m.records {
		if r.TxnID == txid && r.LSN > m.flushedLSN {
			continue
		}
		kept = append(kept, r)
	}
	m.records = kept
}

// Truncate drops all records with LSN < before and rewrites the log.
func (m *Manager) Truncate(before types.LSN) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.records[:0]
	for _, r := range m.records {
		if r.LSN >= before {
			kept = append(kept, r)
		}
	}
	m.records = kept
	data := encodeRecords(m.records)
	if err := m.store.WriteBlob(diskstore.RedoLogBlob, data); err != nil {
		return fmt.Errorf("truncate redo log: %w", err)
	}
	if err := m.store.Flush(); err != nil {
		return fmt.Errorf("truncate redo log: %w", err)
	}
	fmt.Printf("[RedoLog] truncated below lsn=%d, %d records kept\n", before, len(m.records))
	return nil
}

// Records returns the log contents in LSN order.
func (m *Manager) Records() []*types.RedoRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*types.RedoRecord, len(m.records))
	copy(out, m.records)
	return out
}

func (m *Manager) FlushedLSN() types.LSN {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushedLSN
}

func (m *Manager) NextLSN() types.LSN {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nextLSN
}

// AdvanceLSN moves LSN assignment past lsn. Recovery calls this so a
// restarted engine never reissues an LSN seen in the log.
func (m *Manager) AdvanceLSN(lsn types.LSN) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if lsn >= m.nextLSN {
		m.nextLSN = lsn + 1
	}
}
