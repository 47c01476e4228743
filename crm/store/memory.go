// Package store provides the in-memory Entity Store.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/sales-engine/crm"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu      sync.RWMutex
	records map[crm.EntityType]map[string]entry
	seq     uint64
}

type entry struct {
	rec crm.Record
	seq uint64
}

func NewMemory() *Memory {
	return &Memory{records: make(map[crm.EntityType]map[string]entry)}
}

func (m *Memory) Get(_ context.Context, t crm.EntityType, id string) (crm.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getLocked(t, id)
}

func (m *Memory) List(_ context.Context, t crm.EntityType, f crm.Filter) ([]crm.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listLocked(t, f), nil
}

func (m *Memory) Put(_ context.Context, rec crm.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putLocked(rec)
	return nil
}

func (m *Memory) Remove(_ context.Context, t crm.EntityType, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removeLocked(t, id)
}

// Reset drops every record.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = make(map[crm.EntityType]map[string]entry)
	m.seq = 0
	return nil
}

func (m *Memory) getLocked(t crm.EntityType, id string) (crm.Record, error) {
	e, ok := m.records[t][id]
	if !ok {
		return crm.Record{}, crm.ErrRecordNotFound
	}
	return clone(e.rec), nil
}

func (m *Memory) listLocked(t crm.EntityType, f crm.Filter) []crm.Record {
	matched := make([]entry, 0, len(m.records[t]))
	for _, e := range m.records[t] {
		if f.Matches(e.rec.Refs) {
			matched = append(matched, e)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].seq < matched[j].seq })

	out := make([]crm.Record, len(matched))
	for i, e := range matched {
		out[i] = clone(e.rec)
	}
	return out
}

// putLocked keeps the original sequence on replace so List order is stable.
func (m *Memory) putLocked(rec crm.Record) {
	byID, ok := m.records[rec.Type]
	if !ok {
		byID = make(map[string]entry)
		m.records[rec.Type] = byID
	}
	seq := byID[rec.ID].seq
	if _, exists := byID[rec.ID]; !exists {
		m.seq++
		seq = m.seq
	}
	byID[rec.ID] = entry{rec: clone(rec), seq: seq}
}

func (m *Memory) removeLocked(t crm.EntityType, id string) error {
	if _, ok := m.records[t][id]; !ok {
		return crm.ErrRecordNotFound
	}
	delete(m.records[t], id)
	return nil
}

func clone(rec crm.Record) crm.Record {
	out := crm.Record{Type: rec.Type, ID: rec.ID}
	if rec.Refs != nil {
		out.Refs = make(map[string]string, len(rec.Refs))
		for k, v := range rec.Refs {
			out.Refs[k] = v
		}
	}
	out.Data = append([]byte(nil), rec.Data...)
	return out
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with an exclusive lock, a snapshot and
// rollback on error. fn must only use the store it is given.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(crm.EntityStore) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snap := tm.snapshot()
	if err := fn(&txMemoryView{parent: tm.Memory}); err != nil {
		tm.restore(snap)
		return err
	}
	return nil
}

type memorySnapshot struct {
	records map[crm.EntityType]map[string]entry
	seq     uint64
}

// snapshot copies the index maps. Records are cloned on write so entries can be shared.
func (tm *TxMemory) snapshot() memorySnapshot {
	cp := make(map[crm.EntityType]map[string]entry, len(tm.records))
	for t, byID := range tm.records {
		inner := make(map[string]entry, len(byID))
		for id, e := range byID {
			inner[id] = e
		}
		cp[t] = inner
	}
	return memorySnapshot{records: cp, seq: tm.seq}
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.records = s.records
	tm.seq = s.seq
}

// txMemoryView runs against the parent while WithTx holds its lock.
type txMemoryView struct {
	parent *Memory
}

func (tv *txMemoryView) Get(_ context.Context, t crm.EntityType, id string) (crm.Record, error) {
	return tv.parent.getLocked(t, id)
}

func (tv *txMemoryView) List(_ context.Context, t crm.EntityType, f crm.Filter) ([]crm.Record, error) {
	return tv.parent.listLocked(t, f), nil
}

func (tv *txMemoryView) Put(_ context.Context, rec crm.Record) error {
	tv.parent.putLocked(rec)
	return nil
}

func (tv *txMemoryView) Remove(_ context.Context, t crm.EntityType, id string) error {
	return tv.parent.removeLocked(t, id)
}

// Compile-time interface checks
var (
	_ crm.EntityStore = (*Memory)(nil)
	_ crm.TxStore     = (*TxMemory)(nil)
)
