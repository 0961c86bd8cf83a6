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

	"golang.org/x/crypto/sha3"
)

const (
	flagActive = 1 << 0
	flagDirty  = 1 << 1
)

// Column describes one fixed-offset field of a tuple. Value encoding itself
// is an external collaborator (spec.md §1); Column only carries enough to
// slice the right bytes back out for hashing and copying.
type Column struct {
	Name   string
	Offset int // byte offset within the tuple, after the 1-byte flag header
	Size   int
}

// Schema lays out a tuple's fixed-width columns. Width includes the leading
// flag byte.
type Schema struct {
	Columns []Column
	width   int
}

// NewSchema builds a Schema from columns, which must already be laid out
// without overlap; Width is derived as 1 (flags) + the highest column extent.
func NewSchema(columns ...Column) *Schema {
	width := 1
	for _, c := range columns {
		if end := 1 + c.Offset + c.Size; end > width {
			width = end
		}
	}
	return &Schema{Columns: columns, width: width}
}

// Width returns the fixed tuple width W, flag byte included.
func (s *Schema) Width() int { return s.width }

// TupleRef addresses a single slot. Two refs denote the same tuple identity
// iff both fields are equal — the Go analogue of the source's raw slot
// pointer identity (spec.md §4.A).
type TupleRef struct {
	Block *Block
	Slot  int
}

// IsZero reports whether the ref is the zero value (no tuple).
func (t TupleRef) IsZero() bool { return t.Block == nil }

// Bytes returns the full slot, flag byte included.
func (t TupleRef) Bytes() []byte { return t.Block.slotBytes(t.Slot) }

// Active reports whether bit 0 of the flag byte is set.
func (t TupleRef) Active() bool { return t.Bytes()[0]&flagActive != 0 }

// Dirty reports whether bit 1 of the flag byte is set.
func (t TupleRef) Dirty() bool { return t.Bytes()[0]&flagDirty != 0 }

// SetActive sets or clears bit 0 of the flag byte.
func (t TupleRef) SetActive(v bool) { t.setFlag(flagActive, v) }

// SetDirty sets or clears bit 1 of the flag byte.
func (t TupleRef) SetDirty(v bool) { t.setFlag(flagDirty, v) }

func (t TupleRef) setFlag(bit byte, v bool) {
	b := t.Bytes()
	if v {
		b[0] |= bit
	} else {
		b[0] &^= bit
	}
}

// Copy copies src's column bytes into t, leaving t's own flags untouched.
func (t TupleRef) Copy(src []byte) {
	copy(t.Bytes()[1:], src[1:])
}

// Column returns the byte slice holding the column data for the given
// column, excluding the flag byte.
func (t TupleRef) Column(c Column) []byte {
	b := t.Bytes()
	return b[1+c.Offset : 1+c.Offset+c.Size]
}

// getHash returns the fixed 64-bit hash of the designated partition column's
// current value, used both by the elastic index and by HASH_RANGE predicate
// matching. The hash function (keccak/SHA3-256, folded to 8 bytes) is fixed
// and must agree with the rebalance plane (spec.md §4.A).
func getHash(data []byte) uint64 {
	sum := sha3.Sum256(data)
	return binary.BigEndian.Uint64(sum[:8])
}

// GetHash returns the designated partition column's hash for this tuple.
func (t TupleRef) GetHash(c Column) uint64 {
	return getHash(t.Column(c))
}
