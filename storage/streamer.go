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

import "go.uber.org/zap"

// StreamType names the kind of an active stream context (spec.md §6 "Stream
// types").
type StreamType int

const (
	StreamSnapshot StreamType = iota
	StreamElasticIndex
	StreamRecovery // reserved; spec.md §6 lists it without behavior
)

func (k StreamType) String() string {
	switch k {
	case StreamSnapshot:
		return "SNAPSHOT"
	case StreamElasticIndex:
		return "ELASTIC_INDEX"
	case StreamRecovery:
		return "RECOVERY"
	default:
		return "UNKNOWN"
	}
}

// recoveryContext is a placeholder stream context for the reserved RECOVERY
// stream type. Nothing in spec.md specifies its behavior beyond the name
// reserved in the enum, so activating one simply holds the slot without
// producing rows; it exists so the sum type below has a concrete case
// rather than a silent gap.
type recoveryContext struct{}

func (r *recoveryContext) handleStreamMore(outputs []*OutputBuffer, budget int) (int, error) {
	return 0, nil
}

// streamContext is the closed sum type spec.md §9 requires in place of
// dynamic dispatch: one struct tagged by Kind, with exactly one of the
// payload fields populated, and a dispatch method per notification.
type streamContext struct {
	Kind     StreamType
	Snapshot *snapshotContext
	Elastic  *elasticContext
	Recovery *recoveryContext
}

func (sc *streamContext) notifyInsert(ref TupleRef) {
	switch sc.Kind {
	case StreamSnapshot:
		// Inserts after activation belong to the post-snapshot generation
		// and are never streamed (spec.md §4.C); nothing to record.
	case StreamElasticIndex:
		sc.Elastic.notifyInsert(ref)
	}
}

func (sc *streamContext) notifyUpdate(old TupleRef, newRow []byte) {
	switch sc.Kind {
	case StreamSnapshot:
		sc.Snapshot.maybeStash(old)
	case StreamElasticIndex:
		sc.Elastic.notifyUpdate(old, newRow)
	}
}

func (sc *streamContext) notifyDelete(ref TupleRef) {
	switch sc.Kind {
	case StreamSnapshot:
		sc.Snapshot.maybeStash(ref)
	case StreamElasticIndex:
		sc.Elastic.notifyDelete(ref)
	}
}

func (sc *streamContext) notifyTupleMovement(m tupleMove) {
	switch sc.Kind {
	case StreamSnapshot:
		sc.Snapshot.notifyTupleMovement(m)
	case StreamElasticIndex:
		sc.Elastic.notifyTupleMovement(m)
	}
}

func (sc *streamContext) handleStreamMore(outputs []*OutputBuffer, budget int) (int, error) {
	switch sc.Kind {
	case StreamSnapshot:
		return sc.Snapshot.handleStreamMore(outputs, budget)
	case StreamElasticIndex:
		return sc.Elastic.handleStreamMore(outputs, budget)
	case StreamRecovery:
		return sc.Recovery.handleStreamMore(outputs, budget)
	default:
		return 0, nil
	}
}

func (sc *streamContext) cancel(t *Table) {
	switch sc.Kind {
	case StreamSnapshot:
		sc.Snapshot.cancel()
	case StreamElasticIndex, StreamRecovery:
		// Neither context holds any block pinned; nothing to release.
	}
}

func (t *Table) findStream(kind StreamType) (*streamContext, int) {
	for i, sc := range t.streams {
		if sc.Kind == kind {
			return sc, i
		}
	}
	return nil, -1
}

// ActivateStream parses predicateStrings and starts a stream context of the
// given kind. Fails with ErrAlreadyActive if one of that kind is already
// running (spec.md §4.F).
func (t *Table) ActivateStream(kind StreamType, predicateStrings []string) error {
	if _, idx := t.findStream(kind); idx >= 0 {
		return ErrAlreadyActive
	}
	predicates := make([]*Predicate, 0, len(predicateStrings))
	for _, s := range predicateStrings {
		p, err := ParsePredicate(t.schema, s)
		if err != nil {
			return err
		}
		predicates = append(predicates, p)
	}

	sc := &streamContext{Kind: kind}
	switch kind {
	case StreamSnapshot:
		sc.Snapshot = t.newSnapshotContext(predicates)
	case StreamElasticIndex:
		sc.Elastic = t.newElasticContext(predicates)
	case StreamRecovery:
		sc.Recovery = &recoveryContext{}
	}
	t.streams = append(t.streams, sc)
	if t.logger != nil {
		t.logger.Info("stream activated", zap.String("stream_type", kind.String()), zap.Int("predicates", len(predicates)))
	}
	return nil
}

// DeactivateStream cancels and removes the active context of kind, if any.
// Idempotent: deactivating an already-inactive kind is a no-op success
// (spec.md §5 "Cancellation").
func (t *Table) DeactivateStream(kind StreamType) error {
	sc, idx := t.findStream(kind)
	if idx < 0 {
		return nil
	}
	sc.cancel(t)
	t.streams = append(t.streams[:idx], t.streams[idx+1:]...)
	return nil
}

// StreamMore drives the context of kind forward, writing rows into outputs
// (positional per predicate). For a SNAPSHOT context it returns the number
// of tuples still to stream (0 when finished, after which the context is
// removed). An ELASTIC_INDEX context does not report a tuple count: it
// returns 1 after a call that used its whole budget and 0 once its scan
// reaches the end of the block set. Calling StreamMore for a kind with no
// active context returns ErrNoSuchStream (spec.md §4.F).
func (t *Table) StreamMore(kind StreamType, outputs []*OutputBuffer) (int, error) {
	sc, idx := t.findStream(kind)
	if idx < 0 {
		return -1, ErrNoSuchStream
	}
	budget := t.cfg.TuplesPerCall
	remaining, err := sc.handleStreamMore(outputs, budget)
	if err != nil {
		return -1, err
	}
	if remaining == 0 && kind == StreamSnapshot {
		t.streams = append(t.streams[:idx], t.streams[idx+1:]...)
	}
	if t.metrics != nil && remaining > 0 {
		t.metrics.streamYields.Inc()
	}
	return remaining, nil
}
