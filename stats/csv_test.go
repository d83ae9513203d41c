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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCSVSinkWritesHeaderAndRows(t *testing.T) {
	dir := t.TempDir()
	sink, err := OpenCSVSink(dir)
	require.NoError(t, err)

	sink.RecordSearchResult(SearchResult{Query: "report.pdf", Hops: 3, LatencyMS: 12.5, PeerIP: "10.0.0.5", PeerPort: 6001})
	require.NoError(t, sink.Close())

	data, err := os.ReadFile(filepath.Join(dir, "search_results.csv"))
	require.NoError(t, err)
	require.Contains(t, string(data), "timestamp,event_type,query,hops,latency_ms,peer_ip,peer_port")
	require.Contains(t, string(data), "search_result,report.pdf,3,12.500,10.0.0.5,6001")
}

func TestMultiSinkFansOutToAllSinks(t *testing.T) {
	counters := NewCounters()
	dir := t.TempDir()
	csvSink, err := OpenCSVSink(dir)
	require.NoError(t, err)
	defer csvSink.Close()

	multi := NewMultiSink(counters, csvSink)
	multi.IncMessageSent()
	multi.RecordSearchResult(SearchResult{Query: "x", LatencyMS: 1})

	require.EqualValues(t, 1, counters.Snapshot().MessagesSent)
	require.EqualValues(t, 1, counters.Snapshot().LatencySamples)
}
