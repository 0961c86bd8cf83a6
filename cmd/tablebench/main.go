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

package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"math"
	"os"

	"go.uber.org/zap"

	"github.com/coredb/tablestore/storage"
)

func init() {
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage:", os.Args[0], "-rows N")
		flag.PrintDefaults()
		fmt.Fprintln(os.Stderr, `
Drives one insert/snapshot/stream/compact cycle against an in-memory table
and reports the number of streaming calls and rows streamed.`)
	}
}

var (
	rows       = flag.Int("rows", 100000, "number of tuples to insert before snapshotting")
	partitions = flag.Int("partitions", 7, "number of HASH_RANGE partitions to split the snapshot across")
)

func pkColumnRow(schema *storage.Schema, pk int64) []byte {
	row := make([]byte, schema.Width())
	row[0] = 0
	binary.BigEndian.PutUint64(row[1:9], uint64(pk))
	return row
}

func main() {
	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error building logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	schema := storage.NewSchema(storage.Column{Name: "pk", Offset: 0, Size: 8})
	table := storage.NewTable(schema, schema.Columns[0], storage.Config{}, logger, nil)

	for i := 0; i < *rows; i++ {
		if _, err := table.Insert(pkColumnRow(schema, int64(i))); err != nil {
			fmt.Fprintf(os.Stderr, "Error inserting row %d: %v\n", i, err)
			os.Exit(1)
		}
	}
	logger.Info("insert phase complete", zap.Int("rows", *rows))

	// RANGE_START/RANGE_END are signed 64-bit per the wire contract. This
	// demo splits the non-negative half of the hash space evenly across
	// partitions; a production caller would cover the full range.
	predicates := make([]string, *partitions)
	span := math.MaxInt64 / int64(*partitions)
	for i := range predicates {
		start := int64(i) * span
		end := start + span
		if i == *partitions-1 {
			end = math.MaxInt64
		}
		predicates[i] = fmt.Sprintf(
			`{"triggersDelete":false,"predicateExpression":{"TYPE":"HASH_RANGE","HASH_COLUMN":0,"RANGES":[{"RANGE_START":%d,"RANGE_END":%d}]}}`,
			start, end,
		)
	}
	if err := table.ActivateStream(storage.StreamSnapshot, predicates); err != nil {
		fmt.Fprintf(os.Stderr, "Error activating snapshot: %v\n", err)
		os.Exit(1)
	}

	outputs := make([]*storage.OutputBuffer, *partitions)
	bufs := make([][]byte, *partitions)
	for i := range outputs {
		bufs[i] = make([]byte, 1<<20)
		outputs[i] = storage.NewOutputBuffer(bufs[i], int32(i))
	}

	calls := 0
	for {
		remaining, err := table.StreamMore(storage.StreamSnapshot, outputs)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error streaming snapshot: %v\n", err)
			os.Exit(1)
		}
		calls++
		if remaining == 0 {
			break
		}
	}
	var total uint32
	for i, o := range outputs {
		o.Close()
		total += o.RowCount()
		logger.Debug("partition output", zap.Int("partition", i), zap.Uint32("rows", o.RowCount()))
	}
	logger.Info("snapshot streamed", zap.Int("calls", calls), zap.Uint32("rows", total))

	table.Compact()
	logger.Info("compaction pass complete")
}
