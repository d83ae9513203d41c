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
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPrintSummaryRendersAllCounters(t *testing.T) {
	c := NewCounters()
	c.IncMessageSent()
	c.IncQueryAnswered()
	c.RecordSearchResult(SearchResult{LatencyMS: 5})

	var buf bytes.Buffer
	PrintSummary(&buf, c.Snapshot())

	out := buf.String()
	require.Contains(t, out, "messages_sent")
	require.Contains(t, out, "queries_answered")
	require.Contains(t, out, "result_latency_mean_ms")
}
