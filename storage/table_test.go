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
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestTable(targetBytes int) (*Table, *Schema) {
	schema := testSchema()
	cfg := Config{BlockAllocationTargetBytes: targetBytes}
	return NewTable(schema, schema.Columns[0], cfg, nil, nil), schema
}

func TestTableInsertAndConstraintViolation(t *testing.T) {
	table, schema := newTestTable(4096)
	ref, err := table.Insert(rowWithPK(schema, 1))
	require.NoError(t, err)
	require.True(t, ref.Active())

	_, err = table.Insert(rowWithPK(schema, 1))
	require.ErrorIs(t, err, ErrConstraintViolation)
}

func TestTableUpdateChangesBytes(t *testing.T) {
	table, schema := newTestTable(4096)
	ref, err := table.Insert(rowWithPK(schema, 1))
	require.NoError(t, err)

	newRow := rowWithPK(schema, 2)
	require.NoError(t, table.Update(ref, newRow))
	require.Equal(t, newRow[1:], ref.Bytes()[1:])

	// Primary key index must follow the new value.
	_, err = table.Insert(rowWithPK(schema, 2))
	require.ErrorIs(t, err, ErrConstraintViolation)
	_, err = table.Insert(rowWithPK(schema, 1))
	require.NoError(t, err, "old pk must be free for reuse after update")
}

func TestTableDeleteFreesPrimaryKeyForReuse(t *testing.T) {
	table, schema := newTestTable(testSchema().Width() * 2)
	ref, err := table.Insert(rowWithPK(schema, 1))
	require.NoError(t, err)
	require.NoError(t, table.Delete(ref))
	require.False(t, ref.Active())

	_, err = table.Insert(rowWithPK(schema, 1))
	require.NoError(t, err, "pk must be reusable once deleted")
}

func TestTableDeleteAllTuples(t *testing.T) {
	table, schema := newTestTable(testSchema().Width() * 4)
	for i := uint64(0); i < 20; i++ {
		_, err := table.Insert(rowWithPK(schema, i))
		require.NoError(t, err)
	}
	require.NoError(t, table.DeleteAllTuples(false))
	require.Empty(t, table.pool.blocks, "every block should be released once fully drained")
}

// TestTableCompactionRewritesPrimaryKeyIndex covers spec.md §4.B's "update
// every index entry referring to the moved tuple": after a compaction pass
// relocates a tuple, the primary-key index must follow it to its new slot,
// not point at the stale (now-deactivated) source slot.
func TestTableCompactionRewritesPrimaryKeyIndex(t *testing.T) {
	table, schema := newTestTable(testSchema().Width() * 4) // 4 slots per block
	var refs []TupleRef
	for i := uint64(0); i < 4; i++ {
		ref, err := table.Insert(rowWithPK(schema, i))
		require.NoError(t, err)
		refs = append(refs, ref)
	}
	// Empty 3 of 4 slots in the block so it crosses the compaction
	// threshold, forcing its one remaining live tuple (pk=3) to move.
	require.NoError(t, table.Delete(refs[0]))
	require.NoError(t, table.Delete(refs[1]))
	require.NoError(t, table.Delete(refs[2]))

	table.Compact()

	// The moved tuple's pk must still resolve to an active slot through the
	// index, and a second insert of the same pk must still be rejected.
	_, err := table.Insert(rowWithPK(schema, 3))
	require.ErrorIs(t, err, ErrConstraintViolation, "pkIndex must track the tuple to its post-compaction slot")

	pkHash := getHash(rowWithPK(schema, 3)[1+schema.Columns[0].Offset : 1+schema.Columns[0].Offset+schema.Columns[0].Size])
	ref, ok := table.pkIndex[pkHash]
	require.True(t, ok)
	require.True(t, ref.Active())
	require.Equal(t, uint64(3), pkOf(ref.Bytes()[1:]))
}

func TestTableDeleteAllTuplesLeavesPendingSnapshotBlocksUnlessForced(t *testing.T) {
	table, schema := newTestTable(testSchema().Width() * 4)
	for i := uint64(0); i < 4; i++ {
		_, err := table.Insert(rowWithPK(schema, i))
		require.NoError(t, err)
	}
	require.NoError(t, table.ActivateStream(StreamSnapshot, nil))

	require.NoError(t, table.DeleteAllTuples(false))
	require.NotEmpty(t, table.pool.blocks, "pending-snapshot blocks survive a non-forced wipe")

	require.NoError(t, table.DeleteAllTuples(true))
}
