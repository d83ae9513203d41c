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

package stats

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

var csvHeader = []string{"timestamp", "event_type", "query", "hops", "latency_ms", "peer_ip", "peer_port"}

// CSVSink appends one row per recorded event to a tabular log file, grounded
// on the original statistics collaborator's _init_log/log_event pair: a
// single append-only file, header written once, one writer goroutine's
// worth of mutual exclusion around the underlying *os.File.
type CSVSink struct {
	mu  sync.Mutex
	f   *os.File
	w   *csv.Writer
	now func() time.Time
}

// OpenCSVSink creates (or truncates) "<dir>/search_results.csv" and writes
// its header row.
func OpenCSVSink(dir string) (*CSVSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("stats: create stats dir: %w", err)
	}
	path := filepath.Join(dir, "search_results.csv")
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("stats: create %s: %w", path, err)
	}
	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		f.Close()
		return nil, fmt.Errorf("stats: write header: %w", err)
	}
	w.Flush()
	return &CSVSink{f: f, w: w, now: time.Now}, nil
}

// IncMessageSent is a no-op for CSVSink: it only logs search_result rows,
// leaving counter bookkeeping to Counters.
func (s *CSVSink) IncMessageSent() {}

// IncMessageReceived is a no-op; see IncMessageSent.
func (s *CSVSink) IncMessageReceived() {}

// IncQueryReceived is a no-op; see IncMessageSent.
func (s *CSVSink) IncQueryReceived() {}

// IncQueryForwarded is a no-op; see IncMessageSent.
func (s *CSVSink) IncQueryForwarded() {}

// IncQueryAnswered is a no-op; see IncMessageSent.
func (s *CSVSink) IncQueryAnswered() {}

// RecordSearchResult appends one row to the CSV log.
func (s *CSVSink) RecordSearchResult(r SearchResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := []string{
		s.now().UTC().Format(time.RFC3339Nano),
		"search_result",
		r.Query,
		strconv.Itoa(r.Hops),
		strconv.FormatFloat(r.LatencyMS, 'f', 3, 64),
		r.PeerIP,
		strconv.Itoa(r.PeerPort),
	}
	if err := s.w.Write(row); err != nil {
		return
	}
	s.w.Flush()
}

// Close flushes and closes the underlying file.
func (s *CSVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w.Flush()
	return s.f.Close()
}

// MultiSink fans one event out to several Sinks, used to combine Counters
// (for PrintSummary/Prometheus) with a CSVSink (for durable per-event logs)
// without the rest of the node knowing there is more than one.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink returns a Sink that forwards every call to each of sinks in
// order.
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

func (m *MultiSink) IncMessageSent() {
	for _, s := range m.sinks {
		s.IncMessageSent()
	}
}

func (m *MultiSink) IncMessageReceived() {
	for _, s := range m.sinks {
		s.IncMessageReceived()
	}
}

func (m *MultiSink) IncQueryReceived() {
	for _, s := range m.sinks {
		s.IncQueryReceived()
	}
}

func (m *MultiSink) IncQueryForwarded() {
	for _, s := range m.sinks {
		s.IncQueryForwarded()
	}
}

func (m *MultiSink) IncQueryAnswered() {
	for _, s := range m.sinks {
		s.IncQueryAnswered()
	}
}

func (m *MultiSink) RecordSearchResult(r SearchResult) {
	for _, s := range m.sinks {
		s.RecordSearchResult(r)
	}
}
