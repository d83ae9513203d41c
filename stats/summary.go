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
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"
)

// PrintSummary renders a human-readable counters table to w.
func PrintSummary(w io.Writer, snap Snapshot) {
	table := tablewriter.NewWriter(w)
	table.SetColWidth(20)
	table.SetHeader([]string{"metric", "value"})
	table.Append([]string{"messages_sent", fmt.Sprintf("%d", snap.MessagesSent)})
	table.Append([]string{"messages_received", fmt.Sprintf("%d", snap.MessagesReceived)})
	table.Append([]string{"queries_received", fmt.Sprintf("%d", snap.QueriesReceived)})
	table.Append([]string{"queries_forwarded", fmt.Sprintf("%d", snap.QueriesForwarded)})
	table.Append([]string{"queries_answered", fmt.Sprintf("%d", snap.QueriesAnswered)})
	table.Append([]string{"result_latency_mean_ms", fmt.Sprintf("%.3f", snap.LatencyMeanMS)})
	table.Append([]string{"result_latency_stddev_ms", fmt.Sprintf("%.3f", snap.LatencyStddevMS)})
	table.Append([]string{"result_latency_samples", fmt.Sprintf("%d", snap.LatencySamples)})
	table.Render()
}
