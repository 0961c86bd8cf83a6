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
	mapset "github.com/deckarep/golang-set"
	"go.uber.org/zap"
)

// bucketMap classifies a set of blocks into bucketCount buckets by free-slot
// count (spec.md §3 "Free-slot bucket"). It backs both the
// BlocksPendingSnapshot and BlocksNotPendingSnapshot partitions, one
// bucketMap each, as spec.md §3 "Table" requires.
type bucketMap struct {
	buckets [bucketCount]mapset.Set
	bucket  map[blockID]int // current bucket index per block, for reclassification
}

func newBucketMap() *bucketMap {
	bm := &bucketMap{bucket: make(map[blockID]int)}
	for i := range bm.buckets {
		bm.buckets[i] = mapset.NewThreadUnsafeSet()
	}
	return bm
}

func (bm *bucketMap) add(b *Block) {
	idx := b.bucketIndex()
	bm.buckets[idx].Add(b.id)
	bm.bucket[b.id] = idx
}

func (bm *bucketMap) remove(id blockID) {
	if idx, ok := bm.bucket[id]; ok {
		bm.buckets[idx].Remove(id)
		delete(bm.bucket, id)
	}
}

// reclassify moves b into the bucket matching its current free count,
// maintaining the invariant that "a block appears in at most one bucket and
// the bucket matches its current free count" (spec.md §3).
func (bm *bucketMap) reclassify(b *Block) {
	bm.remove(b.id)
	bm.add(b)
}

// bestFit returns the id of the fullest block that still has room, searching
// buckets from the lowest (fullest) upward. Bucket 0 holds both full blocks
// and the few blocks with a small nonzero free count (any freeCount in
// [1, capacity/bucketCount] quantizes there alongside freeCount == 0), so a
// bucket cannot be trusted as "has room" on membership alone: each
// candidate's actual freeCount must be checked. Within a bucket the block
// with the fewest free slots wins, ties going to the lower (earlier-created)
// block id. Returns false if every tracked block is full.
func (bm *bucketMap) bestFit(blocks map[blockID]*Block) (blockID, bool) {
	for i := 0; i < bucketCount; i++ {
		if id, ok := fullestBlockWithRoom(bm.buckets[i], blocks); ok {
			return id, true
		}
	}
	return 0, false
}

func fullestBlockWithRoom(s mapset.Set, blocks map[blockID]*Block) (blockID, bool) {
	var bestID blockID
	best := -1
	for v := range s.Iter() {
		id := v.(blockID)
		b, ok := blocks[id]
		if !ok || b.IsFull() {
			continue
		}
		if best == -1 || b.freeCount < best || (b.freeCount == best && id < bestID) {
			best = b.freeCount
			bestID = id
		}
	}
	return bestID, best != -1
}

// blockPool owns every Block a table has ever allocated, classified into the
// not-pending / pending-snapshot bucket maps (component B, spec.md §4.B).
type blockPool struct {
	cfg    Config
	schema *Schema

	blocks      map[blockID]*Block
	creationOrd []blockID // deterministic tie-break order (spec.md §4.B)
	nextID      blockID

	notPending *bucketMap
	pending    *bucketMap

	metrics *metrics
	logger  *zap.Logger
}

func newBlockPool(cfg Config, schema *Schema, m *metrics, logger *zap.Logger) *blockPool {
	return &blockPool{
		cfg:        cfg,
		schema:     schema,
		blocks:     make(map[blockID]*Block),
		notPending: newBucketMap(),
		pending:    newBucketMap(),
		metrics:    m,
		logger:     logger,
	}
}

func (p *blockPool) mapFor(b *Block) *bucketMap {
	if b.pendingSnapshot {
		return p.pending
	}
	return p.notPending
}

// allocateSlot returns a slot from the fullest non-full block in the
// not-pending set if one has room; otherwise from any block; otherwise it
// allocates a new block. Tie-break is deterministic by block creation order
// (spec.md §4.B).
func (p *blockPool) allocateSlot() TupleRef {
	if id, ok := p.notPending.bestFit(p.blocks); ok {
		return p.allocateFrom(id)
	}
	if id, ok := p.pending.bestFit(p.blocks); ok {
		return p.allocateFrom(id)
	}
	return p.allocateFrom(p.newBlock())
}

func (p *blockPool) allocateFrom(id blockID) TupleRef {
	b := p.blocks[id]
	slot := b.allocate()
	p.mapFor(b).reclassify(b)
	return TupleRef{Block: b, Slot: slot}
}

func (p *blockPool) newBlock() blockID {
	id := p.nextID
	p.nextID++
	b := newBlock(id, p.schema, p.cfg.BlockAllocationTargetBytes)
	p.blocks[id] = b
	p.creationOrd = append(p.creationOrd, id)
	p.notPending.add(b)
	if p.metrics != nil {
		p.metrics.blocksAllocated.Inc()
	}
	if p.logger != nil {
		p.logger.Debug("allocated block", zap.Uint64("block_id", uint64(id)), zap.Int("capacity", b.capacity))
	}
	return id
}

// freeSlot marks slot free in block and releases the block if it has become
// empty and is not referenced by any active snapshot (spec.md §4.B).
func (p *blockPool) freeSlot(b *Block, slot int) {
	b.release(slot)
	p.mapFor(b).reclassify(b)
	if b.IsEmpty() && !b.pendingSnapshot {
		p.releaseBlock(b.id)
	}
}

func (p *blockPool) releaseBlock(id blockID) {
	b, ok := p.blocks[id]
	if !ok {
		return
	}
	p.mapFor(b).remove(id)
	delete(p.blocks, id)
	if p.metrics != nil {
		p.metrics.blocksReleased.Inc()
	}
	if p.logger != nil {
		p.logger.Debug("released block", zap.Uint64("block_id", uint64(id)))
	}
}

// tupleMove describes one tuple relocation performed by forced compaction,
// the payload that must reach every registered stream context's
// notifyTupleMovement (spec.md §4.B).
type tupleMove struct {
	Src, Dst TupleRef
}

// doForcedCompaction moves tuples out of blocks whose free ratio is at or
// above the configured threshold into the free room of other blocks (see
// allocateForCompactionTarget), releasing drained blocks, and reports every
// move through notify. Source blocks are visited in creation order; blocks
// allocated during the pass are not visited. Compaction never moves a tuple
// out of a block that is PendingSnapshot — such blocks are skipped and stay
// in place until their snapshot scan releases them (spec.md §4.B).
func (p *blockPool) doForcedCompaction(notify func(tupleMove)) {
	for _, srcID := range append([]blockID(nil), p.creationOrd...) {
		src, ok := p.blocks[srcID]
		if !ok || src.pendingSnapshot {
			continue
		}
		if src.FreeRatio() < p.cfg.CompactionThresholdRatio || src.IsEmpty() {
			continue
		}
		p.drainBlock(src, notify)
	}
	if p.metrics != nil {
		p.metrics.compactions.Inc()
	}
}

// drainBlock relocates every active tuple out of src into other non-pending
// blocks (allocating a fresh block only if none of them has room), then
// releases src.
func (p *blockPool) drainBlock(src *Block, notify func(tupleMove)) {
	for slot := 0; slot < src.nextFree; slot++ {
		if src.free.get(slot) {
			continue
		}
		srcRef := TupleRef{Block: src, Slot: slot}
		dstRef := p.allocateForCompactionTarget(src.id)
		dstRef.Copy(srcRef.Bytes())
		dstRef.SetActive(true)
		dstRef.SetDirty(srcRef.Dirty())
		srcRef.SetActive(false)
		src.release(slot)
		notify(tupleMove{Src: srcRef, Dst: dstRef})
	}
	p.mapFor(src).reclassify(src)
	p.releaseBlock(src.id)
}

// allocateForCompactionTarget picks the non-pending, non-full block other
// than exclude with the fewest free slots (ties to the earliest-created) to
// receive a moved tuple, and allocates a new block only when no such block
// exists. The chosen block is not compared with exclude, so it may be
// sparser than the block being drained.
func (p *blockPool) allocateForCompactionTarget(exclude blockID) TupleRef {
	best := -1
	var bestID blockID
	for _, id := range p.creationOrd {
		if id == exclude {
			continue
		}
		b, ok := p.blocks[id]
		if !ok || b.pendingSnapshot || b.IsFull() {
			continue
		}
		if best == -1 || b.freeCount < best {
			best = b.freeCount
			bestID = id
		}
	}
	if best == -1 {
		bestID = p.newBlock()
	}
	return p.allocateFrom(bestID)
}
