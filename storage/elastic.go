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

// elasticContext is component E: the resilient forward scanner plus the
// elastic index it builds during an ELASTIC_INDEX stream activation. Unlike
// the snapshot context, it does not freeze any blocks — it walks the live
// block set in creation order and copes with compaction moving the ground
// out from under it via notifyTupleMovement.
type elasticContext struct {
	table      *Table
	predicates []*Predicate // each predicate's ranges gate which hashes get indexed
	index      *ElasticIndex

	creationPos int // index into table.pool.creationOrd that advanceBlock continues from; after a re-home curBlock may be another block
	curBlock    blockID
	curSlot     int
	repositionedInDrain bool // set once a move has re-homed the scanner; cleared only when advanceBlock moves on
	done        bool

	logger buildLogger
}

// buildLogger reports elastic index build progress, mirroring generatorStats
// in the teacher's disklayer_generate.go.
type buildLogger struct {
	indexed int
	calls   int
}

func (t *Table) newElasticContext(predicates []*Predicate) *elasticContext {
	ec := &elasticContext{
		table:      t,
		predicates: predicates,
		index:      NewElasticIndex(),
	}
	if len(t.pool.creationOrd) > 0 {
		ec.curBlock = t.pool.creationOrd[0]
	} else {
		ec.done = true
	}
	return ec
}

// inRange reports whether h falls in any predicate's tracked hash range.
func (ec *elasticContext) inRange(h uint64) bool {
	for _, p := range ec.predicates {
		if p.InRange(h) {
			return true
		}
	}
	return false
}

// notifyInsert adds an index entry if the new tuple's hash is tracked.
func (ec *elasticContext) notifyInsert(ref TupleRef) {
	if len(ec.predicates) == 0 {
		return
	}
	h := ref.GetHash(ec.predicates[0].Column)
	if ec.inRange(h) {
		ec.index.Insert(h, ref)
	}
}

// notifyDelete removes any index entry for ref.
func (ec *elasticContext) notifyDelete(ref TupleRef) {
	ec.index.Erase(ref)
}

// notifyUpdate re-homes the index entry when the hash changes. Both hashes
// are computed from bytes that are still readable at notify time (old's
// live bytes, not yet overwritten; newRow's bytes, not yet applied), so no
// particular mutation ordering is required beyond "notify before mutate"
// (spec.md §5 "Ordering guarantees").
func (ec *elasticContext) notifyUpdate(old TupleRef, newRow []byte) {
	if len(ec.predicates) == 0 {
		return
	}
	col := ec.predicates[0].Column
	oldHash := old.GetHash(col)
	newHash := getHash(newRow[1+col.Offset : 1+col.Offset+col.Size])
	if oldHash == newHash {
		return
	}
	if ec.inRange(oldHash) {
		ec.index.Erase(old)
	}
	if ec.inRange(newHash) {
		ec.index.Insert(newHash, old)
	}
}

// notifyTupleMovement updates the index address and, if the scanner is
// currently parked on the block being drained, hops it forward to the first
// destination block that received one of its un-visited tuples (spec.md
// §4.E).
func (ec *elasticContext) notifyTupleMovement(m tupleMove) {
	if ec.index.Has(m.Src) {
		ec.index.Move(m.Src, m.Dst)
	}
	if ec.curBlock != m.Src.Block.id {
		return
	}
	if m.Src.Slot < ec.curSlot {
		return // already visited, no need to chase it
	}
	if ec.repositionedInDrain {
		return // already re-homed once for this drain pass
	}
	ec.curBlock = m.Dst.Block.id
	ec.curSlot = m.Dst.Slot
	ec.repositionedInDrain = true
}

// advanceBlock moves the scanner to the next live block in creation order,
// or marks it done if none remain.
func (ec *elasticContext) advanceBlock() {
	ec.repositionedInDrain = false
	for ec.creationPos++; ec.creationPos < len(ec.table.pool.creationOrd); ec.creationPos++ {
		id := ec.table.pool.creationOrd[ec.creationPos]
		if _, ok := ec.table.pool.blocks[id]; ok {
			ec.curBlock = id
			ec.curSlot = 0
			return
		}
	}
	ec.done = true
}

// next returns the next active tuple in scan order, or ok=false when the
// scanner has reached the end of the currently known block set (spec.md
// §4.E).
func (ec *elasticContext) next() (TupleRef, bool) {
	for !ec.done {
		block, ok := ec.table.pool.blocks[ec.curBlock]
		if !ok {
			// Current block was compacted away without a movement landing
			// us elsewhere (e.g. it was already empty); resume at the next
			// live block.
			ec.advanceBlock()
			continue
		}
		for ec.curSlot < block.nextFree {
			ref := TupleRef{Block: block, Slot: ec.curSlot}
			ec.curSlot++
			if ref.Active() {
				return ref, true
			}
		}
		ec.advanceBlock()
	}
	return TupleRef{}, false
}

// handleStreamMore walks up to budget tuples (spec.md's tuples_per_call),
// inserting index entries for hashes within the active predicates' ranges.
// It always reports 0 or more remaining; the elastic index build never
// "completes" on its own the way a snapshot does — it keeps pace with the
// live table and stays active until explicitly deactivated.
func (ec *elasticContext) handleStreamMore(outputs []*OutputBuffer, budget int) (int, error) {
	n := 0
	for n < budget {
		ref, ok := ec.next()
		if !ok {
			return 0, nil
		}
		if len(ec.predicates) > 0 {
			h := ref.GetHash(ec.predicates[0].Column)
			if ec.inRange(h) {
				ec.index.Insert(h, ref)
				if len(outputs) > 0 {
					outputs[0].TryWriteRow(ref.Bytes()[1:])
				}
			}
		}
		ec.logger.indexed++
		n++
	}
	ec.logger.calls++
	return 1, nil // more work may exist; caller keeps calling until next() reports done
}
