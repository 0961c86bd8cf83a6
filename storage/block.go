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

// blockID identifies a block for the lifetime of the table. Scanners and
// stream contexts hold blockIDs rather than *Block pointers so that a block
// release is observable instead of leaving a dangling reference (spec.md §9,
// "weak references to blocks").
type blockID uint64

// bitset is a minimal fixed-size bitmap used for a block's free-slot map.
// Bit i set means slot i is free.
type bitset []uint64

func newBitset(n int, allSet bool) bitset {
	words := (n + 63) / 64
	b := make(bitset, words)
	if allSet {
		for i := range b {
			b[i] = ^uint64(0)
		}
		// Clear any bits beyond n in the last word.
		if rem := n % 64; rem != 0 && words > 0 {
			b[words-1] &= (uint64(1) << uint(rem)) - 1
		}
	}
	return b
}

func (b bitset) get(i int) bool {
	return b[i/64]&(uint64(1)<<uint(i%64)) != 0
}

func (b bitset) set(i int, v bool) {
	if v {
		b[i/64] |= uint64(1) << uint(i%64)
	} else {
		b[i/64] &^= uint64(1) << uint(i%64)
	}
}

// firstSet returns the lowest index < limit whose bit is set, or -1.
func (b bitset) firstSet(limit int) int {
	for i := 0; i < limit; i++ {
		if b.get(i) {
			return i
		}
	}
	return -1
}

// Block is a contiguous arena of K fixed-width tuple slots plus the
// free-slot bookkeeping needed by the block pool (spec.md §3 "Block").
type Block struct {
	id       blockID
	schema   *Schema
	width    int
	capacity int // K = floor(target_bytes / W)
	arena    []byte

	free      bitset // bit set => slot is free
	freeCount int
	nextFree  int // monotonically non-decreasing high-water mark of ever-used slots

	pendingSnapshot bool // which of the table's two partitioning sets this block is currently in
	compactedAway   bool // not set by any code path; compaction skips pending-snapshot blocks instead
}

func newBlock(id blockID, schema *Schema, targetBytes int) *Block {
	width := schema.Width()
	capacity := targetBytes / width
	if capacity < 1 {
		capacity = 1
	}
	return &Block{
		id:        id,
		schema:    schema,
		width:     width,
		capacity:  capacity,
		arena:     make([]byte, capacity*width),
		free:      newBitset(capacity, true),
		freeCount: capacity,
	}
}

func (b *Block) slotBytes(slot int) []byte {
	return b.arena[slot*b.width : (slot+1)*b.width]
}

// IsFull reports whether the block has no free slots left.
func (b *Block) IsFull() bool { return b.freeCount == 0 }

// IsEmpty reports whether every slot in the block is free.
func (b *Block) IsEmpty() bool { return b.freeCount == b.capacity }

// FreeRatio is the fraction of slots currently free, used by the bucket
// classifier and by compaction's source-candidate selection.
func (b *Block) FreeRatio() float64 {
	return float64(b.freeCount) / float64(b.capacity)
}

// bucketIndex classifies the block into one of bucketCount buckets by free
// count, quantized (spec.md §3 "Free-slot bucket").
func (b *Block) bucketIndex() int {
	idx := b.freeCount * bucketCount / (b.capacity + 1)
	if idx >= bucketCount {
		idx = bucketCount - 1
	}
	return idx
}

// allocate claims the lowest-indexed free slot, preferring a previously
// freed slot over extending nextFree, and returns it. Caller must have
// already verified the block has room.
func (b *Block) allocate() int {
	if slot := b.free.firstSet(b.nextFree); slot >= 0 {
		b.free.set(slot, false)
		b.freeCount--
		return slot
	}
	slot := b.nextFree
	b.nextFree++
	b.free.set(slot, false)
	b.freeCount--
	return slot
}

// release marks slot free again.
func (b *Block) release(slot int) {
	invariant(!b.free.get(slot), "double free of active slot", slot)
	b.free.set(slot, true)
	b.freeCount++
}
