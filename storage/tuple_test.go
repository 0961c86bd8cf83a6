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

func TestSchemaWidth(t *testing.T) {
	schema := NewSchema(
		Column{Name: "pk", Offset: 0, Size: 8},
		Column{Name: "payload", Offset: 8, Size: 24},
	)
	require.Equal(t, 1+8+24, schema.Width())
}

func TestTupleRefFlags(t *testing.T) {
	schema := NewSchema(Column{Name: "pk", Offset: 0, Size: 8})
	block := newBlock(0, schema, 4096)
	ref := TupleRef{Block: block, Slot: 0}

	require.False(t, ref.Active())
	require.False(t, ref.Dirty())

	ref.SetActive(true)
	require.True(t, ref.Active())
	require.False(t, ref.Dirty())

	ref.SetDirty(true)
	require.True(t, ref.Active())
	require.True(t, ref.Dirty())

	ref.SetActive(false)
	require.False(t, ref.Active())
	require.True(t, ref.Dirty(), "SetActive must not disturb the dirty bit")
}

func TestTupleCopyPreservesFlags(t *testing.T) {
	schema := NewSchema(Column{Name: "pk", Offset: 0, Size: 8})
	block := newBlock(0, schema, 4096)
	ref := TupleRef{Block: block, Slot: 0}
	ref.SetActive(true)
	ref.SetDirty(true)

	src := make([]byte, schema.Width())
	src[0] = 0xff // flags in src must be ignored by Copy
	src[1] = 0x42

	ref.Copy(src)
	require.True(t, ref.Active())
	require.True(t, ref.Dirty())
	require.Equal(t, byte(0x42), ref.Bytes()[1])
}

func TestGetHashDeterministic(t *testing.T) {
	a := getHash([]byte("partition-key-1"))
	b := getHash([]byte("partition-key-1"))
	c := getHash([]byte("partition-key-2"))
	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
}
