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
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func activateElastic(t *testing.T, table *Table, predicates []*Predicate) *elasticContext {
	t.Helper()
	_, idx := table.findStream(StreamElasticIndex)
	require.Less(t, idx, 0)
	ec := table.newElasticContext(predicates)
	table.streams = append(table.streams, &streamContext{Kind: StreamElasticIndex, Elastic: ec})
	return ec
}

func buildElasticIndex(t *testing.T, table *Table, budget int) {
	t.Helper()
	table.cfg.TuplesPerCall = budget
	for i := 0; i < 10_000; i++ {
		n, err := table.StreamMore(StreamElasticIndex, nil)
		require.NoError(t, err)
		if n == 0 {
			return
		}
	}
	t.Fatal("elastic index build did not converge")
}

// TestElasticIndexBuildMatchesTable covers testable property 6: once built
// and with no further mutation, the index's membership must equal the set
// of currently-active tuples matching the predicate.
func TestElasticIndexBuildMatchesTable(t *testing.T) {
	const n = 400
	table, schema := newTestTable(schema9Width() * 10)
	for i := uint64(0); i < n; i++ {
		_, err := table.Insert(rowWithPK(schema, i))
		require.NoError(t, err)
	}

	pred := fullRangePredicate(schema.Columns[0], false)
	ec := activateElastic(t, table, []*Predicate{pred})
	buildElasticIndex(t, table, 23)

	expected := 0
	for _, b := range table.pool.blocks {
		for slot := 0; slot < b.nextFree; slot++ {
			ref := TupleRef{Block: b, Slot: slot}
			if ref.Active() && pred.InRange(ref.GetHash(pred.Column)) {
				expected++
				require.True(t, ec.index.Has(ref), "active matching tuple %v must be indexed", ref)
			}
		}
	}
	require.Equal(t, expected, ec.index.Size())
}

// TestElasticScannerSurvivesCompaction is a scaled-down S6: after
// interleaved inserts, deletes, hash-stable updates and compaction passes,
// every live tuple must still be in the elastic index (the table-to-index
// half of property 6), and each initial tuple must be live exactly when it
// was not deleted. The scanner's returned set is not recorded, so
// properties 4 and 5 are not checked here.
func TestElasticScannerSurvivesCompaction(t *testing.T) {
	const n = 240
	table, schema := newTestTable(schema9Width() * 8) // small blocks to force many moves under compaction
	initial := make(map[uint64]bool, n)
	for i := uint64(0); i < n; i++ {
		_, err := table.Insert(rowWithPK(schema, i))
		require.NoError(t, err)
		initial[i] = true
	}

	pred := fullRangePredicate(schema.Columns[0], false)
	activateElastic(t, table, []*Predicate{pred})

	rnd := rand.New(rand.NewSource(11))
	nextPK := uint64(n)
	deleted := make(map[uint64]bool)
	inserted := make(map[uint64]bool)

	for cycle := 0; cycle < 300; cycle++ {
		_, err := table.Insert(rowWithPK(schema, nextPK))
		require.NoError(t, err)
		inserted[nextPK] = true
		nextPK++

		if cycle%10 == 9 {
			pk := uint64(rnd.Intn(n))
			if !deleted[pk] {
				if ref, ok := findByPK(table, schema, pk); ok {
					require.NoError(t, table.Delete(ref))
					deleted[pk] = true
				}
			}
		}
		if cycle%5 == 4 {
			pk := uint64(rnd.Intn(n))
			if ref, ok := findByPK(table, schema, pk); ok {
				require.NoError(t, table.Update(ref, rowWithPK(schema, pk))) // same value: hash-stable update
			}
		}
		if cycle%100 == 99 {
			table.Compact()
		}
		_, err = table.StreamMore(StreamElasticIndex, nil)
		require.NoError(t, err)
	}
	buildElasticIndex(t, table, 29)

	// Property 6, re-checked post-compaction: index membership equals live
	// matching tuples.
	live := make(map[uint64]bool)
	for _, b := range table.pool.blocks {
		for slot := 0; slot < b.nextFree; slot++ {
			ref := TupleRef{Block: b, Slot: slot}
			if ref.Active() {
				pk := binary.BigEndian.Uint64(ref.Column(schema.Columns[0]))
				live[pk] = true
				require.True(t, table.streams[0].Elastic.index.Has(ref))
			}
		}
	}
	for i := uint64(0); i < n; i++ {
		require.Equal(t, !deleted[i], live[i], "initial tuple %d liveness mismatch", i)
	}
}

func findByPK(table *Table, schema *Schema, pk uint64) (TupleRef, bool) {
	for _, b := range table.pool.blocks {
		for slot := 0; slot < b.nextFree; slot++ {
			ref := TupleRef{Block: b, Slot: slot}
			if ref.Active() && binary.BigEndian.Uint64(ref.Column(schema.Columns[0])) == pk {
				return ref, true
			}
		}
	}
	return TupleRef{}, false
}
