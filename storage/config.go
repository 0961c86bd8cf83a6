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

// Config holds the named configuration options from the external interface
// contract. Zero values mean "engine default", resolved by withDefaults.
type Config struct {
	// BlockAllocationTargetBytes is the target size of a freshly allocated
	// block. Zero means the engine default.
	BlockAllocationTargetBytes int

	// AllowInlineStrings permits variable-width columns inlined in the tuple.
	AllowInlineStrings bool

	// TuplesPerCall bounds the tuples one StreamMore call visits, for
	// snapshot streaming and elastic index build alike.
	TuplesPerCall int

	// CompactionThresholdRatio is the free-count fraction of a block's slots
	// that marks it as a forced-compaction source candidate.
	CompactionThresholdRatio float64
}

const (
	defaultBlockAllocationTargetBytes = 2 * 1024 * 1024
	defaultTuplesPerCall              = 1000
	defaultCompactionThresholdRatio   = 0.25

	// bucketCount is the number of free-slot buckets (B in spec.md §3).
	bucketCount = 16
)

func (c Config) withDefaults() Config {
	if c.BlockAllocationTargetBytes <= 0 {
		c.BlockAllocationTargetBytes = defaultBlockAllocationTargetBytes
	}
	if c.TuplesPerCall <= 0 {
		c.TuplesPerCall = defaultTuplesPerCall
	}
	if c.CompactionThresholdRatio <= 0 {
		c.CompactionThresholdRatio = defaultCompactionThresholdRatio
	}
	return c
}
