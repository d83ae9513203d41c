/*
Copyright (c) Seekmesh Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

/*
Package stats implements the node's observability sink: atomic event
counters, a running latency distribution, a per-node CSV log of search
results, and a Prometheus-compatible metrics endpoint. Recording is
non-blocking and best-effort.
*/
package stats

import (
	"sync"
	"sync/atomic"

	"github.com/eclesh/welford"
)

// SearchResult is one observed search_result record: a hit reported by a
// peer for a query this node originated.
type SearchResult struct {
	Query     string
	Hops      int
	LatencyMS float64
	PeerIP    string
	PeerPort  int
}

// Sink is the observability interface the membership and query engine
// report into. It is never a concrete logger so the core stays decoupled
// from how statistics are persisted.
type Sink interface {
	// IncMessageSent records message_sent.
	IncMessageSent()
	// IncMessageReceived records message_received.
	IncMessageReceived()
	// IncQueryReceived records query_received.
	IncQueryReceived()
	// IncQueryForwarded records query_forwarded.
	IncQueryForwarded()
	// IncQueryAnswered records query_answered.
	IncQueryAnswered()
	// RecordSearchResult records a structured search_result event.
	RecordSearchResult(SearchResult)
}

// Counters is the in-memory atomic-counter half of Sink: every counter is
// a plain int64 mutated with sync/atomic, no single lock shared across
// unrelated fields.
type Counters struct {
	messagesSent     int64
	messagesReceived int64
	queriesReceived  int64
	queriesForwarded int64
	queriesAnswered  int64

	latencyMu sync.Mutex
	latency   *welford.Stats
}

// NewCounters returns a ready-to-use Counters.
func NewCounters() *Counters {
	return &Counters{latency: welford.New()}
}

// IncMessageSent atomically adds 1 to the messages-sent counter.
func (c *Counters) IncMessageSent() { atomic.AddInt64(&c.messagesSent, 1) }

// IncMessageReceived atomically adds 1 to the messages-received counter.
func (c *Counters) IncMessageReceived() { atomic.AddInt64(&c.messagesReceived, 1) }

// IncQueryReceived atomically adds 1 to the queries-received counter.
func (c *Counters) IncQueryReceived() { atomic.AddInt64(&c.queriesReceived, 1) }

// IncQueryForwarded atomically adds 1 to the queries-forwarded counter.
func (c *Counters) IncQueryForwarded() { atomic.AddInt64(&c.queriesForwarded, 1) }

// IncQueryAnswered atomically adds 1 to the queries-answered counter.
func (c *Counters) IncQueryAnswered() { atomic.AddInt64(&c.queriesAnswered, 1) }

// RecordSearchResult folds the result's latency into the running mean and
// variance. Counters on its own keeps no per-event history; per-event
// detail is the CSVSink's job.
func (c *Counters) RecordSearchResult(r SearchResult) {
	c.latencyMu.Lock()
	defer c.latencyMu.Unlock()
	c.latency.Add(r.LatencyMS)
}

// Snapshot is a point-in-time copy of the counters, safe to read without
// racing further increments.
type Snapshot struct {
	MessagesSent     int64
	MessagesReceived int64
	QueriesReceived  int64
	QueriesForwarded int64
	QueriesAnswered  int64
	LatencyMeanMS    float64
	LatencyStddevMS  float64
	LatencySamples   int64
}

// Snapshot reads all counters atomically.
func (c *Counters) Snapshot() Snapshot {
	c.latencyMu.Lock()
	mean := c.latency.Mean()
	stddev := c.latency.Stddev()
	n := c.latency.Count()
	c.latencyMu.Unlock()

	return Snapshot{
		MessagesSent:     atomic.LoadInt64(&c.messagesSent),
		MessagesReceived: atomic.LoadInt64(&c.messagesReceived),
		QueriesReceived:  atomic.LoadInt64(&c.queriesReceived),
		QueriesForwarded: atomic.LoadInt64(&c.queriesForwarded),
		QueriesAnswered:  atomic.LoadInt64(&c.queriesAnswered),
		LatencyMeanMS:    mean,
		LatencyStddevMS:  stddev,
		LatencySamples:   int64(n),
	}
}
