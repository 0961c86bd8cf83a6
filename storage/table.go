// Copyright 2024 The tablestore Authors
// This file is part of the tablestore library.
//
// The tablestore library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The tablestore library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the tablestore library. If not, see <http://www.gnu.org/licenses/>.

package storage

import (
	"go.uber.org/zap"
)

// planCache is the opaque per-catalog-version cache slot (spec.md §9's
// "global catalog-version cache", carried here as an explicit non-singleton
// map rather than the SQL plan contents it would hold in the full engine,
// which remain an external collaborator per spec.md §1).
type planCache struct {
	version uint64
	entries map[string]interface{}
}

// Catalog is the explicit (version -> cache) mapping spec.md §9 requires in
// place of a process-wide singleton weak map.
type Catalog struct {
	versions map[uint64]*planCache
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{versions: make(map[uint64]*planCache)}
}

// Get returns the cache for version, creating it if absent.
func (c *Catalog) Get(version uint64) *planCache {
	pc, ok := c.versions[version]
	if !ok {
		pc = &planCache{version: version, entries: make(map[string]interface{})}
		c.versions[version] = pc
	}
	return pc
}

// ClearVersion discards the cache entry for version, if any.
func (c *Catalog) ClearVersion(version uint64) {
	delete(c.versions, version)
}

// Table is the persistent, single-threaded-per-partition row table
// (component C): block-backed CRUD, a primary key index, and the set of
// stream contexts mutation notifications fan out to.
type Table struct {
	cfg    Config
	schema *Schema
	pool   *blockPool

	pkColumn Column
	pkIndex  map[uint64]TupleRef // pkHash -> slot; uniqueness is judged on the hash alone, so distinct keys with equal hashes also collide

	streams []*streamContext

	catalog *Catalog
	metrics *metrics
	logger  *zap.Logger
}

// NewTable constructs an empty table over schema, using pkColumn as the
// primary-key column for uniqueness enforcement. A nil logger/metrics
// registerer is replaced with inert defaults so every call site remains
// safe without a caller wiring observability.
func NewTable(schema *Schema, pkColumn Column, cfg Config, logger *zap.Logger, m *metrics) *Table {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = nopLogger()
	}
	if m == nil {
		m = newMetrics(nil, "tablestore")
	}
	return &Table{
		cfg:      cfg,
		schema:   schema,
		pool:     newBlockPool(cfg, schema, m, logger),
		pkColumn: pkColumn,
		pkIndex:  make(map[uint64]TupleRef),
		catalog:  NewCatalog(),
		metrics:  m,
		logger:   logger,
	}
}

// Insert allocates a slot for row (schema width including the flag byte),
// enforces primary-key uniqueness, marks it active, and notifies every
// active stream context. A snapshot in progress never sees the new row
// because allocation prefers BlocksNotPendingSnapshot (spec.md §4.C).
func (t *Table) Insert(row []byte) (ref TupleRef, err error) {
	defer recoverCorruption(&err)
	invariant(len(row) == t.schema.width, "insert row width mismatch", len(row))

	pkHash := getHash(row[1+t.pkColumn.Offset : 1+t.pkColumn.Offset+t.pkColumn.Size])
	if existing, ok := t.pkIndex[pkHash]; ok && existing.Active() {
		return TupleRef{}, ErrConstraintViolation
	}

	ref = t.pool.allocateSlot()
	ref.Copy(row)
	ref.SetActive(true)
	ref.SetDirty(false)
	t.pkIndex[pkHash] = ref

	for _, sc := range t.streams {
		sc.notifyInsert(ref)
	}
	if t.metrics != nil {
		t.metrics.elasticIndexLen.Set(float64(t.elasticIndexSize()))
	}
	return ref, nil
}

// Update overwrites ref's column bytes with newRow's, notifying every
// active stream context before the physical mutation so pre-images can be
// stashed (spec.md §4.C, §5 "Ordering guarantees" #1).
func (t *Table) Update(ref TupleRef, newRow []byte) (err error) {
	defer recoverCorruption(&err)
	invariant(ref.Active(), "update of inactive slot", ref)
	invariant(len(newRow) == t.schema.width, "update row width mismatch", len(newRow))

	for _, sc := range t.streams {
		sc.notifyUpdate(ref, newRow)
	}

	oldPkHash := getHash(ref.Column(t.pkColumn))
	newPkHash := getHash(newRow[1+t.pkColumn.Offset : 1+t.pkColumn.Offset+t.pkColumn.Size])

	if ref.Block.pendingSnapshot {
		ref.SetDirty(true)
	}
	ref.Copy(newRow)

	if newPkHash != oldPkHash {
		delete(t.pkIndex, oldPkHash)
		t.pkIndex[newPkHash] = ref
	}
	return nil
}

// Delete logically removes ref: notifies stream contexts (which may stash
// the pre-image), deactivates the slot, and frees it back to the pool.
// Freeing is safe unconditionally even while ref.Block is PendingSnapshot,
// because any snapshot referencing this block already captured an
// independent copy of its free bitmap and nextFree at activation
// (blockFreeze in cow.go) — the live block's bitmap is irrelevant to COW
// correctness once that freeze exists.
func (t *Table) Delete(ref TupleRef) (err error) {
	defer recoverCorruption(&err)
	invariant(ref.Active(), "delete of inactive slot", ref)

	for _, sc := range t.streams {
		sc.notifyDelete(ref)
	}

	pkHash := getHash(ref.Column(t.pkColumn))
	if ref.Block.pendingSnapshot {
		ref.SetDirty(true)
	}
	ref.SetActive(false)
	delete(t.pkIndex, pkHash)
	t.pool.freeSlot(ref.Block, ref.Slot)
	return nil
}

// DeleteAllTuples deletes every active tuple, releasing each non-pending
// block as it empties. If a snapshot is active and force is false, the
// blocks pending that snapshot are skipped and keep their tuples; with
// force=true their tuples are deleted too, each delete stashing its
// pre-image for the snapshot as Delete does, and the emptied blocks stay
// allocated until the snapshot finishes with them (spec.md §4.C).
func (t *Table) DeleteAllTuples(force bool) (err error) {
	defer recoverCorruption(&err)
	for _, id := range append([]blockID(nil), t.pool.creationOrd...) {
		b, ok := t.pool.blocks[id]
		if !ok {
			continue
		}
		if b.pendingSnapshot && !force {
			continue
		}
		for slot := 0; slot < b.nextFree; slot++ {
			ref := TupleRef{Block: b, Slot: slot}
			if !ref.Active() {
				continue
			}
			if err := t.Delete(ref); err != nil {
				return err
			}
		}
	}
	return nil
}

// Compact runs one forced-compaction pass, relocating tuples out of sparse
// non-pending blocks, rewriting the primary-key index entry for every moved
// tuple, and fanning every move out to active stream contexts (spec.md
// §4.B: "update every index entry referring to the moved tuple").
func (t *Table) Compact() {
	t.pool.doForcedCompaction(func(m tupleMove) {
		pkHash := getHash(m.Dst.Column(t.pkColumn))
		if existing, ok := t.pkIndex[pkHash]; ok && existing == m.Src {
			t.pkIndex[pkHash] = m.Dst
		}
		for _, sc := range t.streams {
			sc.notifyTupleMovement(m)
		}
	})
}

func (t *Table) elasticIndexSize() int {
	for _, sc := range t.streams {
		if sc.Kind == StreamElasticIndex && sc.Elastic != nil {
			return sc.Elastic.index.Size()
		}
	}
	return 0
}
