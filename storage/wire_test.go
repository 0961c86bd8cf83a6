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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOutputBufferFraming(t *testing.T) {
	buf := make([]byte, wireHeaderSize+4+3+wireTerminatorSize)
	ob := NewOutputBuffer(buf, 5)

	require.True(t, ob.TryWriteRow([]byte{1, 2, 3}))
	require.Equal(t, uint32(1), ob.RowCount())

	out := ob.Close()
	require.Equal(t, int32(5), int32(binary.BigEndian.Uint32(out[0:4])))
	require.Equal(t, uint32(1), binary.BigEndian.Uint32(out[4:8]))
	require.Equal(t, uint32(3), binary.BigEndian.Uint32(out[8:12]))
	require.Equal(t, []byte{1, 2, 3}, out[12:15])
	require.Equal(t, uint32(0), binary.BigEndian.Uint32(out[15:19]))
}

func TestOutputBufferProbesBeforeWrite(t *testing.T) {
	// Room for exactly one 3-byte row plus header and terminator, no more.
	buf := make([]byte, wireHeaderSize+4+3+wireTerminatorSize)
	ob := NewOutputBuffer(buf, 0)

	require.True(t, ob.TryWriteRow([]byte{1, 2, 3}))
	// A second row of any size must be rejected without touching pos, since
	// there is no room left before the terminator.
	posBefore := ob.pos
	require.False(t, ob.TryWriteRow([]byte{4}))
	require.Equal(t, posBefore, ob.pos, "a rejected row must not be partially written")
}

func TestOutputBufferCloseIsIdempotent(t *testing.T) {
	buf := make([]byte, wireHeaderSize+wireTerminatorSize)
	ob := NewOutputBuffer(buf, 0)
	first := ob.Close()
	second := ob.Close()
	require.Equal(t, first, second)
}

// TestOutputBufferEdgeCase mirrors scenario S5: a buffer sized to hold
// exactly N rows and nothing more must report no room for row N+1.
func TestOutputBufferEdgeCase(t *testing.T) {
	const n = 3
	rowLen := 8
	buf := make([]byte, wireHeaderSize+n*(4+rowLen)+wireTerminatorSize)
	ob := NewOutputBuffer(buf, 0)
	row := make([]byte, rowLen)
	for i := 0; i < n; i++ {
		require.True(t, ob.TryWriteRow(row), "row %d should fit", i)
	}
	require.False(t, ob.TryWriteRow(row), "buffer is exactly full, one more row must not fit")
	require.Equal(t, uint32(n), ob.RowCount())
}
