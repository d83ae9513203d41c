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

package neighbor

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/overlaymesh/seekmesh/peer"
)

func TestAddIdempotent(t *testing.T) {
	tbl := New()
	a := peer.Addr{IP: "10.0.0.1", Port: 6000}

	require.True(t, tbl.Add(a))
	require.False(t, tbl.Add(a))
	require.Equal(t, 1, tbl.Count())
}

func TestAddThenRemoveEmpties(t *testing.T) {
	tbl := New()
	a := peer.Addr{IP: "10.0.0.1", Port: 6000}

	tbl.Add(a)
	require.True(t, tbl.Remove(a))
	require.Equal(t, 0, tbl.Count())
	require.False(t, tbl.Has(a))
}

func TestRemoveAbsentReturnsFalse(t *testing.T) {
	tbl := New()
	require.False(t, tbl.Remove(peer.Addr{IP: "10.0.0.1", Port: 6000}))
}

func TestSnapshotIsACopy(t *testing.T) {
	tbl := New()
	a := peer.Addr{IP: "10.0.0.1", Port: 6000}
	tbl.Add(a)

	snap := tbl.Snapshot()
	require.Len(t, snap, 1)

	tbl.Add(peer.Addr{IP: "10.0.0.2", Port: 6001})
	require.Len(t, snap, 1, "snapshot must not observe later mutations")
}

func TestClear(t *testing.T) {
	tbl := New()
	tbl.Add(peer.Addr{IP: "10.0.0.1", Port: 6000})
	tbl.Add(peer.Addr{IP: "10.0.0.2", Port: 6001})
	tbl.Clear()
	require.Equal(t, 0, tbl.Count())
}

func TestConcurrentAddRemove(t *testing.T) {
	tbl := New()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a := peer.Addr{IP: "10.0.0.1", Port: 6000 + i%10}
			tbl.Add(a)
			tbl.Remove(a)
		}(i)
	}
	wg.Wait()
}
