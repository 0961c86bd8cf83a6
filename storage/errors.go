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
	"errors"
	"fmt"

	"github.com/davecgh/go-spew/spew"
)

var (
	// ErrConstraintViolation is returned when an insert collides with an
	// existing primary key. Columns carry no nullability, so no null check
	// is made.
	ErrConstraintViolation = errors.New("storage: constraint violation")

	// ErrAlreadyActive is returned by activateStream when a context of the
	// requested type is already active on the table.
	ErrAlreadyActive = errors.New("storage: stream already active")

	// ErrPredicateParse is returned when an activation predicate string
	// fails to parse.
	ErrPredicateParse = errors.New("storage: malformed predicate")

	// ErrInternalCorruption is surfaced from recovered invariant panics in
	// release (non-debug) builds; debug builds let the panic propagate.
	ErrInternalCorruption = errors.New("storage: internal corruption")

	// ErrSchemaMismatch names the schema-mismatch error kind. No function in
	// this package returns it: a row whose width disagrees with the schema
	// is an invariant violation in Insert and Update (a panic in debug
	// builds, ErrInternalCorruption otherwise).
	ErrSchemaMismatch = errors.New("storage: schema mismatch")

	// ErrNoSuchStream is returned by StreamMore when no context of the given
	// type is active; DeactivateStream treats that case as a no-op success.
	ErrNoSuchStream = errors.New("storage: no such stream context")
)

// debugBuild toggles whether invariant violations panic immediately (for
// test assertions) or are recovered into ErrInternalCorruption at public
// entry points. It defaults to true; being a package variable, it can be
// flipped to observe the recovered path.
var debugBuild = true

// corruption is the panic value raised at every invariant check site; it
// carries enough context to reconstruct the dump that would once have gone
// to log.Crit on the teacher side.
type corruption struct {
	reason string
	detail interface{}
}

func (c corruption) Error() string {
	return fmt.Sprintf("%s: %s", c.reason, spew.Sdump(c.detail))
}

// invariant panics with a corruption value if ok is false. Call sites name
// the invariant being checked; detail is attached for the crash dump.
func invariant(ok bool, reason string, detail interface{}) {
	if ok {
		return
	}
	panic(corruption{reason: reason, detail: detail})
}

// recoverCorruption converts a corruption panic into ErrInternalCorruption
// unless debugBuild is set, in which case the panic is re-raised so tests
// and local debugging see the full crash.
func recoverCorruption(errp *error) {
	r := recover()
	if r == nil {
		return
	}
	if _, ok := r.(corruption); !ok || debugBuild {
		panic(r)
	}
	*errp = ErrInternalCorruption
}
