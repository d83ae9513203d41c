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

// Package neighbor implements the in-memory set of peers this node can
// currently reach directly.
package neighbor

import (
	"sync"
	"time"

	"github.com/overlaymesh/seekmesh/peer"
)

// entry is a neighbor table row: the peer address and when it was added.
type entry struct {
	addedAt time.Time
}

// Table is a thread-safe set of reachable peers, keyed by (IP, port). The
// zero value is not usable; use New.
type Table struct {
	mu sync.Mutex
	m  map[peer.Addr]entry
}

// New returns an empty Table.
func New() *Table {
	return &Table{m: make(map[peer.Addr]entry)}
}

// Add inserts addr if not already present and reports whether it was newly
// inserted. Re-adding an existing neighbor is a no-op and returns false.
func (t *Table) Add(addr peer.Addr) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, found := t.m[addr]; found {
		return false
	}
	t.m[addr] = entry{addedAt: time.Now()}
	return true
}

// Remove deletes addr and reports whether it was present.
func (t *Table) Remove(addr peer.Addr) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, found := t.m[addr]; !found {
		return false
	}
	delete(t.m, addr)
	return true
}

// Has reports whether addr is currently a neighbor.
func (t *Table) Has(addr peer.Addr) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, found := t.m[addr]
	return found
}

// Snapshot returns a copy of the current neighbor addresses so callers can
// iterate and send without holding the table lock. Order is unspecified.
func (t *Table) Snapshot() []peer.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]peer.Addr, 0, len(t.m))
	for a := range t.m {
		out = append(out, a)
	}
	return out
}

// Count returns the number of neighbors currently in the table.
func (t *Table) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.m)
}

// Clear removes all neighbors, used on graceful shutdown after LEAVE has
// been broadcast.
func (t *Table) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.m = make(map[peer.Addr]entry)
}
