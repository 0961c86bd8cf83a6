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

func testSchema() *Schema {
	return NewSchema(Column{Name: "pk", Offset: 0, Size: 8})
}

func rowWithPK(schema *Schema, pk uint64) []byte {
	row := make([]byte, schema.Width())
	binary.BigEndian.PutUint64(row[1:9], pk)
	return row
}

func TestParsePredicateHashRange(t *testing.T) {
	schema := testSchema()
	h := getHash(rowWithPK(schema, 42)[1:9])

	raw := `{"triggersDelete":true,"predicateExpression":{"TYPE":"HASH_RANGE","HASH_COLUMN":0,"RANGES":[{"RANGE_START":0,"RANGE_END":9223372036854775807}]}}`
	p, err := ParsePredicate(schema, raw)
	require.NoError(t, err)
	require.True(t, p.TriggersDelete)
	require.Equal(t, schema.Columns[0], p.Column)

	if h < 1<<63 {
		require.True(t, p.InRange(h))
	} else {
		require.False(t, p.InRange(h))
	}
}

func TestParsePredicateRejectsUnknownType(t *testing.T) {
	schema := testSchema()
	raw := `{"triggersDelete":false,"predicateExpression":{"TYPE":"BOGUS"}}`
	_, err := ParsePredicate(schema, raw)
	require.ErrorIs(t, err, ErrPredicateParse)
}

func TestParsePredicateRejectsMalformedJSON(t *testing.T) {
	schema := testSchema()
	_, err := ParsePredicate(schema, `{not json`)
	require.ErrorIs(t, err, ErrPredicateParse)
}

func TestParsePredicateRejectsOutOfRangeColumn(t *testing.T) {
	schema := testSchema()
	raw := `{"triggersDelete":false,"predicateExpression":{"TYPE":"HASH_RANGE","HASH_COLUMN":5,"RANGES":[]}}`
	_, err := ParsePredicate(schema, raw)
	require.ErrorIs(t, err, ErrPredicateParse)
}

func TestHashRangeHalfOpen(t *testing.T) {
	r := hashRange{Start: 10, End: 20}
	require.True(t, r.contains(10))
	require.True(t, r.contains(19))
	require.False(t, r.contains(20))
	require.False(t, r.contains(9))
}
