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

import "encoding/binary"

const wireHeaderSize = 8 // partition_id int32 + row_count int32
const wireTerminatorSize = 4

// OutputBuffer is the tuple output stream processor (component G): it wraps
// one caller-supplied byte buffer and frames rows into it per the wire
// contract in spec.md §6:
//
//	[ int32 partition_id ][ int32 row_count ]
//	  repeat row_count times:
//	    [ int32 tuple_length_bytes ][ tuple bytes ]
//	[ int32 terminator = 0 ]
//
// All integers are big-endian; tuple_length_bytes excludes its own prefix.
// The processor probes for room before writing so a row is never partially
// written (spec.md §4.G).
type OutputBuffer struct {
	buf         []byte
	pos         int
	rowCount    uint32
	partitionID int32
	closed      bool
}

// NewOutputBuffer wraps buf (which must be at least wireHeaderSize bytes)
// for the given partition id, writing the header eagerly so callers relying
// on positional output-stream alignment see a well-formed (if empty) frame
// even when no row ever matches (spec.md §9).
func NewOutputBuffer(buf []byte, partitionID int32) *OutputBuffer {
	o := &OutputBuffer{buf: buf, partitionID: partitionID}
	binary.BigEndian.PutUint32(o.buf[0:4], uint32(partitionID))
	o.pos = wireHeaderSize
	return o
}

// Room reports whether a row of length n bytes still fits before the buffer
// is full, leaving space for the eventual terminator.
func (o *OutputBuffer) Room(n int) bool {
	return o.pos+4+n+wireTerminatorSize <= len(o.buf)
}

// TryWriteRow attempts to frame row as the next tuple. It returns false
// without writing anything if there is not enough room, so streamMore can
// yield and resume at the same logical position on the next call.
func (o *OutputBuffer) TryWriteRow(row []byte) bool {
	if !o.Room(len(row)) {
		return false
	}
	binary.BigEndian.PutUint32(o.buf[o.pos:], uint32(len(row)))
	o.pos += 4
	o.pos += copy(o.buf[o.pos:], row)
	o.rowCount++
	return true
}

// Close patches the row-count header field and appends the terminator,
// returning the written slice. Close is idempotent.
func (o *OutputBuffer) Close() []byte {
	if o.closed {
		return o.buf[:o.pos]
	}
	binary.BigEndian.PutUint32(o.buf[4:8], o.rowCount)
	if o.pos+wireTerminatorSize <= len(o.buf) {
		binary.BigEndian.PutUint32(o.buf[o.pos:], 0)
		o.pos += wireTerminatorSize
	}
	o.closed = true
	return o.buf[:o.pos]
}

// RowCount returns the number of rows written so far.
func (o *OutputBuffer) RowCount() uint32 { return o.rowCount }
