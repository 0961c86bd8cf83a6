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
	"encoding/binary"

	"github.com/VictoriaMetrics/fastcache"
)

// preimageStashBytes is the size of the per-context side-buffer pool. It is
// small because pre-images only need to outlive one in-progress snapshot
// activation, not the life of the table — mirroring the teacher's
// disklayer_generate.go, which sizes its clean-data fastcache once per disk
// layer rather than per mutation.
const preimageStashBytes = 8 * 1024 * 1024

// preimageStore is the side buffer of pre-images, one per snapshot context
// and shared by all of its blocks, used instead of reinterpreting the dirty
// bit. Keyed by (blockID, slot); values are full slot bytes (flags
// included) as they stood at the moment of the first mutation seen during
// the enclosing snapshot.
type preimageStore struct {
	cache *fastcache.Cache
}

func newPreimageStore() *preimageStore {
	return &preimageStore{cache: fastcache.New(preimageStashBytes)}
}

func preimageKey(id blockID, slot int) []byte {
	k := make([]byte, 16)
	binary.BigEndian.PutUint64(k[:8], uint64(id))
	binary.BigEndian.PutUint64(k[8:], uint64(slot))
	return k
}

// stashIfAbsent records ref's current bytes under (block,slot) unless an
// entry already exists, implementing "first pre-image wins" for cascaded
// updates to the same slot within one snapshot activation (spec.md §9,
// Open Question #1). Returns true if it actually stashed.
func (s *preimageStore) stashIfAbsent(id blockID, slot int, bytes []byte) bool {
	key := preimageKey(id, slot)
	if _, ok := s.cache.HasGet(nil, key); ok {
		return false
	}
	s.cache.Set(key, bytes)
	return true
}

func (s *preimageStore) get(id blockID, slot int) ([]byte, bool) {
	return s.cache.HasGet(nil, preimageKey(id, slot))
}

// streamState is the COW iterator's lifecycle (spec.md §4.D).
type streamState int

const (
	stateReady streamState = iota
	stateStreaming
	stateFinished
)

// blockFreeze is the frozen view of one block captured at snapshot
// activation: which slots were active, and how far the block had ever been
// used, at that instant. It never changes after capture, which is what lets
// the COW iterator enumerate "active at construction" independent of
// whatever happens to the live block afterwards (spec.md §3 "Lifecycle").
type blockFreeze struct {
	id       blockID
	nextFree int
	free     bitset // copy of the block's free bitmap at activation time
}

func (f blockFreeze) eligible(slot int) bool {
	return slot < f.nextFree && !f.free.get(slot)
}

func (f blockFreeze) eligibleCount() int {
	n := 0
	for i := 0; i < f.nextFree; i++ {
		if !f.free.get(i) {
			n++
		}
	}
	return n
}

// snapshotContext is component D (the COW iterator) plus the SNAPSHOT
// stream-context bookkeeping from component F: predicate routing,
// triggersDelete application, and the block-order/slot-order traversal
// state machine.
type snapshotContext struct {
	table      *Table
	predicates []*Predicate

	blocks   []blockFreeze
	blockIdx int
	slotIdx  int
	state    streamState

	preimages      *preimageStore
	pendingDeletes []TupleRef

	total   int
	visited int
}

func (t *Table) newSnapshotContext(predicates []*Predicate) *snapshotContext {
	sc := &snapshotContext{
		table:      t,
		predicates: predicates,
		preimages:  newPreimageStore(),
		state:      stateReady,
	}
	for _, id := range t.pool.creationOrd {
		b, ok := t.pool.blocks[id]
		if !ok || b.pendingSnapshot {
			continue
		}
		b.pendingSnapshot = true
		t.pool.notPending.remove(id)
		t.pool.pending.add(b)

		f := blockFreeze{id: id, nextFree: b.nextFree, free: append(bitset(nil), b.free...)}
		sc.blocks = append(sc.blocks, f)
		sc.total += f.eligibleCount()
	}
	return sc
}

// remaining returns the number of eligible tuples not yet visited.
func (sc *snapshotContext) remaining() int {
	return sc.total - sc.visited
}

// maybeStash preserves ref's pre-image if the owning block is still part of
// this snapshot's frozen set and the slot has not yet been streamed past
// (spec.md §4.C "update"/"delete" pre-image preservation rule). It is a
// no-op once the slot has already been yielded, and a no-op on the second
// and later mutations to the same still-pending slot (first wins).
func (sc *snapshotContext) maybeStash(ref TupleRef) {
	idx := sc.blockFreezeIndex(ref.Block.id)
	if idx < 0 {
		return // block wasn't part of this snapshot's frozen set at all
	}
	if sc.alreadyStreamed(idx, ref.Slot) {
		return
	}
	sc.preimages.stashIfAbsent(ref.Block.id, ref.Slot, append([]byte(nil), ref.Bytes()...))
}

func (sc *snapshotContext) blockFreezeIndex(id blockID) int {
	for i, f := range sc.blocks {
		if f.id == id {
			return i
		}
	}
	return -1
}

func (sc *snapshotContext) alreadyStreamed(blockIdx, slot int) bool {
	switch {
	case blockIdx < sc.blockIdx:
		return true
	case blockIdx > sc.blockIdx:
		return false
	default:
		return slot < sc.slotIdx
	}
}

// notifyTupleMovement handles compaction moving a tuple while this snapshot
// is active. Compaction never relocates a tuple out of a block still in
// BlocksPendingSnapshot (spec.md §4.B). A block this context has already
// finished is no longer pending and may be compacted, since its tuples have
// been streamed; the invariant below traps a move out of a block that is
// still pending.
func (sc *snapshotContext) notifyTupleMovement(m tupleMove) {
	idx := sc.blockFreezeIndex(m.Src.Block.id)
	if idx < 0 {
		return
	}
	invariant(!m.Src.Block.pendingSnapshot, "compaction moved a tuple out of a pending-snapshot block", m)
}

// handleStreamMore advances the iterator, writing up to budget rows into
// outputs (positional per predicate), stopping early if an output buffer
// fills. It returns the number of tuples still to stream, 0 when this
// context has finished (spec.md §4.F).
func (sc *snapshotContext) handleStreamMore(outputs []*OutputBuffer, budget int) (int, error) {
	if sc.state == stateReady {
		sc.state = stateStreaming
		if len(sc.blocks) == 0 {
			sc.finish()
			return 0, nil
		}
	}
	for sc.state == stateStreaming && (budget > 0 || sc.remaining() == 0) {
		f := sc.blocks[sc.blockIdx]
		block, ok := sc.table.pool.blocks[f.id]
		invariant(ok, "pending-snapshot block released while still referenced", f.id)

		advanced := false
		for sc.slotIdx < f.nextFree {
			if f.free.get(sc.slotIdx) {
				sc.slotIdx++
				continue
			}
			row, stashed := sc.preimages.get(f.id, sc.slotIdx)
			if !stashed {
				ref := TupleRef{Block: block, Slot: sc.slotIdx}
				invariant(ref.Active(), "pending slot deactivated without a pre-image stash", ref)
				row = append([]byte(nil), ref.Bytes()...)
			}
			matchedIdx := -1
			for i, p := range sc.predicates {
				if p.Matches(row) {
					matchedIdx = i
					break
				}
			}
			if matchedIdx >= 0 {
				if !outputs[matchedIdx].TryWriteRow(row[1:]) {
					return sc.remaining(), nil // yield, resume at the same slot next call
				}
				if sc.predicates[matchedIdx].TriggersDelete {
					sc.pendingDeletes = append(sc.pendingDeletes, TupleRef{Block: block, Slot: sc.slotIdx})
				}
				if sc.table.metrics != nil {
					sc.table.metrics.tuplesStreamed.WithLabelValues("SNAPSHOT").Inc()
				}
			}
			sc.slotIdx++
			sc.visited++
			budget--
			advanced = true
			if budget == 0 && sc.remaining() > 0 {
				return sc.remaining(), nil
			}
		}
		if !advanced && sc.slotIdx >= f.nextFree {
			// degenerate empty block; nothing to do but finish it below
		}
		sc.finishBlock(f, block)
		sc.blockIdx++
		sc.slotIdx = 0
		if sc.blockIdx >= len(sc.blocks) {
			sc.finish()
		}
	}
	return sc.remaining(), nil
}

// finishBlock transitions one block through BLOCK_DONE: releases it from
// BlocksPendingSnapshot and clears dirty on surviving slots it passed
// (spec.md §4.D).
func (sc *snapshotContext) finishBlock(f blockFreeze, block *Block) {
	block.pendingSnapshot = false
	sc.table.pool.pending.remove(f.id)
	sc.table.pool.notPending.add(block)
	for slot := 0; slot < f.nextFree; slot++ {
		ref := TupleRef{Block: block, Slot: slot}
		if ref.Active() {
			ref.SetDirty(false)
		}
	}
	if block.IsEmpty() {
		sc.table.pool.releaseBlock(f.id)
	}
}

// finish applies queued triggersDelete deletions and marks the context
// done (spec.md §4.F "When a snapshot context finishes").
func (sc *snapshotContext) finish() {
	sc.state = stateFinished
	for _, ref := range sc.pendingDeletes {
		if ref.Active() {
			_ = sc.table.Delete(ref)
		}
	}
	sc.pendingDeletes = nil
}

// cancel implements deactivateStream for a SNAPSHOT context: releases every
// still-pending block and clears dirty flags across it, regardless of how
// far the scan had progressed (spec.md §5 "Cancellation").
func (sc *snapshotContext) cancel() {
	for _, f := range sc.blocks {
		block, ok := sc.table.pool.blocks[f.id]
		if !ok || !block.pendingSnapshot {
			continue
		}
		block.pendingSnapshot = false
		sc.table.pool.pending.remove(f.id)
		sc.table.pool.notPending.add(block)
		for slot := 0; slot < block.nextFree; slot++ {
			ref := TupleRef{Block: block, Slot: slot}
			if ref.Active() {
				ref.SetDirty(false)
			}
		}
		if block.IsEmpty() {
			sc.table.pool.releaseBlock(f.id)
		}
	}
	sc.state = stateFinished
}
