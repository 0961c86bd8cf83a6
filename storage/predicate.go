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
	"encoding/json"
	"fmt"
)

// activationSpec is the outer JSON envelope of an activation predicate
// string (spec.md §6).
type activationSpec struct {
	TriggersDelete      bool            `json:"triggersDelete"`
	PredicateExpression json.RawMessage `json:"predicateExpression"`
}

type rangeSpec struct {
	RangeStart int64 `json:"RANGE_START"`
	RangeEnd   int64 `json:"RANGE_END"`
}

type hashRangeExpr struct {
	Type       string      `json:"TYPE"`
	HashColumn int         `json:"HASH_COLUMN"`
	Ranges     []rangeSpec `json:"RANGES"`
}

// hashRange is a half-open range [Start, End) over a 64-bit hash value.
type hashRange struct {
	Start, End uint64
}

func (r hashRange) contains(h uint64) bool {
	return h >= r.Start && h < r.End
}

// Predicate is a parsed activation predicate: a column to hash plus the
// half-open ranges a tuple's hash must fall into to match, and whether a
// matched, streamed tuple should be deleted once the owning stream
// completes (spec.md §4.F, §6).
type Predicate struct {
	TriggersDelete bool
	Column         Column
	Ranges         []hashRange
}

// ParsePredicate parses one activation predicate string against schema,
// resolving HASH_COLUMN into the schema's column list. Only the HASH_RANGE
// expression type is specified; anything else is a parse error.
func ParsePredicate(schema *Schema, raw string) (*Predicate, error) {
	var spec activationSpec
	if err := json.Unmarshal([]byte(raw), &spec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPredicateParse, err)
	}
	var expr hashRangeExpr
	if err := json.Unmarshal(spec.PredicateExpression, &expr); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPredicateParse, err)
	}
	if expr.Type != "HASH_RANGE" {
		return nil, fmt.Errorf("%w: unsupported predicate type %q", ErrPredicateParse, expr.Type)
	}
	if expr.HashColumn < 0 || expr.HashColumn >= len(schema.Columns) {
		return nil, fmt.Errorf("%w: hash column %d out of range", ErrPredicateParse, expr.HashColumn)
	}
	p := &Predicate{
		TriggersDelete: spec.TriggersDelete,
		Column:         schema.Columns[expr.HashColumn],
	}
	for _, r := range expr.Ranges {
		p.Ranges = append(p.Ranges, hashRange{Start: uint64(r.RangeStart), End: uint64(r.RangeEnd)})
	}
	return p, nil
}

// Matches reports whether row (flag byte included, as stored in a slot)
// falls within any of the predicate's ranges.
func (p *Predicate) Matches(row []byte) bool {
	h := getHash(row[1+p.Column.Offset : 1+p.Column.Offset+p.Column.Size])
	return p.InRange(h)
}

// InRange reports whether hash h falls within any of the predicate's
// ranges, independent of any particular tuple.
func (p *Predicate) InRange(h uint64) bool {
	for _, r := range p.Ranges {
		if r.contains(h) {
			return true
		}
	}
	return false
}
