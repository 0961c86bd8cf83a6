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

import "github.com/prometheus/client_golang/prometheus"

// metrics bundles the Prometheus collectors a Table reports through. A Table
// constructed without a registry gets collectors that are created but never
// registered, so metric updates are always safe to call.
type metrics struct {
	blocksAllocated prometheus.Counter
	blocksReleased  prometheus.Counter
	compactions     prometheus.Counter
	tuplesStreamed  *prometheus.CounterVec
	elasticIndexLen prometheus.Gauge
	streamYields    prometheus.Counter
}

func newMetrics(reg prometheus.Registerer, namespace string) *metrics {
	m := &metrics{
		blocksAllocated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "blocks_allocated_total",
			Help: "Number of blocks allocated by the block pool.",
		}),
		blocksReleased: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "blocks_released_total",
			Help: "Number of blocks released back to the allocator.",
		}),
		compactions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "compactions_total",
			Help: "Number of forced compaction passes run.",
		}),
		tuplesStreamed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "tuples_streamed_total",
			Help: "Tuples written to an output buffer, by stream type.",
		}, []string{"stream_type"}),
		elasticIndexLen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "elastic_index_entries",
			Help: "Current number of entries in the elastic index.",
		}),
		streamYields: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "stream_yields_total",
			Help: "Number of times streamMore yielded due to back-pressure.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.blocksAllocated, m.blocksReleased, m.compactions,
			m.tuplesStreamed, m.elasticIndexLen, m.streamYields)
	}
	return m
}
