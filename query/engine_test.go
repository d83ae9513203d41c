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

package query

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/overlaymesh/seekmesh/neighbor"
	"github.com/overlaymesh/seekmesh/peer"
)

// router is an in-process fake transport: it wires each engine's Send calls
// straight into the matching peer's HandleSER/HandleSEROK, so a multi-node
// flooding scenario can be exercised without any real sockets.
type router struct {
	mu      sync.Mutex
	engines map[peer.Addr]*Engine
	self    peer.Addr
	log     *[]string
}

func (r *router) Send(addr peer.Addr, payload string) error {
	r.mu.Lock()
	*r.log = append(*r.log, payload)
	target, ok := r.engines[addr]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	fields := strings.Fields(payload)
	cmd, rest := fields[0], fields[1:]
	switch cmd {
	case "SER":
		return target.HandleSER(rest, r.self)
	case "SEROK":
		return target.HandleSEROK(rest, r.self)
	}
	return nil
}

func newNode(t *testing.T, self peer.Addr, idx Index, engines map[peer.Addr]*Engine, log *[]string) (*Engine, *neighbor.Table) {
	t.Helper()
	tbl := neighbor.New()
	r := &router{engines: engines, self: self, log: log}
	e := New(self, tbl, idx, r, nil, 16)
	return e, tbl
}

func TestInitiateSearchFindsLocalHitImmediately(t *testing.T) {
	self := peer.Addr{IP: "10.0.0.1", Port: 6000}
	idx := StaticIndex{"Lord of the rings"}
	e, _ := newNode(t, self, idx, map[peer.Addr]*Engine{}, &[]string{})

	require.NoError(t, e.InitiateSearch("Lord"))
	select {
	case r := <-e.Results():
		require.Equal(t, 0, r.Hops)
		require.Equal(t, "Lord of the rings", r.Filename)
	default:
		t.Fatal("expected an immediate local result")
	}
}

func TestTriangleFloodScenario(t *testing.T) {
	a := peer.Addr{IP: "10.0.0.1", Port: 6000}
	b := peer.Addr{IP: "10.0.0.2", Port: 6001}
	c := peer.Addr{IP: "10.0.0.3", Port: 6002}

	engines := map[peer.Addr]*Engine{}
	var log []string

	eA, tblA := newNode(t, a, StaticIndex{}, engines, &log)
	eB, tblB := newNode(t, b, StaticIndex{}, engines, &log)
	eC, tblC := newNode(t, c, StaticIndex{"secret.pdf"}, engines, &log)
	engines[a] = eA
	engines[b] = eB
	engines[c] = eC

	tblA.Add(b)
	tblA.Add(c)
	tblB.Add(a)
	tblB.Add(c)
	tblC.Add(a)
	tblC.Add(b)

	require.NoError(t, eA.InitiateSearch("secret.pdf"))

	var results []Result
	timeout := time.After(time.Second)
collect:
	for {
		select {
		case r := <-eA.Results():
			results = append(results, r)
		case <-timeout:
			break collect
		default:
			if len(results) > 0 {
				break collect
			}
		}
	}

	require.Len(t, results, 1)
	require.Equal(t, "secret.pdf", results[0].Filename)
	require.Equal(t, c.IP, results[0].PeerIP)

	serCount, serokCount := 0, 0
	for _, payload := range log {
		switch {
		case strings.HasPrefix(payload, "SER "):
			serCount++
		case strings.HasPrefix(payload, "SEROK "):
			serokCount++
		}
	}
	// A->B and A->C are the originating sends. The router delivers
	// synchronously, so whichever of B and C A reaches first forwards once
	// to the other (excluding the sender and originator) before A's second
	// send goes out; A's direct copy then arrives second and is dropped by
	// duplicate suppression without a further forward or reply. Three SER
	// frames and one SEROK total.
	require.Equal(t, 3, serCount)
	require.Equal(t, 1, serokCount)
}

func TestHopCapDropsBeyondMaxHops(t *testing.T) {
	self := peer.Addr{IP: "10.0.0.1", Port: 6000}
	e, _ := newNode(t, self, StaticIndex{"whatever"}, map[peer.Addr]*Engine{}, &[]string{})

	sender := peer.Addr{IP: "10.0.0.9", Port: 9999}
	err := e.HandleSER([]string{"10.0.0.2", "6001", `"whatever"`, "10"}, sender)
	require.NoError(t, err)
	require.Equal(t, 0, e.SeenCount(), "hop-capped frame must not even be marked seen")
}

func TestDuplicateSERIsSuppressed(t *testing.T) {
	self := peer.Addr{IP: "10.0.0.1", Port: 6000}
	e, tbl := newNode(t, self, StaticIndex{}, map[peer.Addr]*Engine{}, &[]string{})
	tbl.Add(peer.Addr{IP: "10.0.0.5", Port: 7000})

	sender := peer.Addr{IP: "10.0.0.9", Port: 9999}
	fields := []string{"10.0.0.2", "6001", `"report"`, "1"}
	require.NoError(t, e.HandleSER(fields, sender))
	require.Equal(t, 1, e.SeenCount())
	require.NoError(t, e.HandleSER(fields, sender))
	require.Equal(t, 1, e.SeenCount(), "second delivery must not create a new seen entry")
}

func TestHandleSERNeverForwardsToSenderOrOriginator(t *testing.T) {
	self := peer.Addr{IP: "10.0.0.1", Port: 6000}
	var log []string
	e, tbl := newNode(t, self, StaticIndex{}, map[peer.Addr]*Engine{}, &log)
	sender := peer.Addr{IP: "10.0.0.5", Port: 7000}
	origin := peer.Addr{IP: "10.0.0.2", Port: 6001}
	other := peer.Addr{IP: "10.0.0.6", Port: 7001}
	tbl.Add(sender)
	tbl.Add(origin)
	tbl.Add(other)

	require.NoError(t, e.HandleSER([]string{origin.IP, "6001", `"report"`, "1"}, sender))
	require.Len(t, log, 1, "only the forward to `other` should have been sent")
}

func TestHopCapOnLinearChain(t *testing.T) {
	const chainLen = 12
	engines := map[peer.Addr]*Engine{}
	var log []string

	addrs := make([]peer.Addr, chainLen)
	nodes := make([]*Engine, chainLen)
	tables := make([]*neighbor.Table, chainLen)
	for i := range addrs {
		addrs[i] = peer.Addr{IP: "10.0.0.1", Port: 6000 + i}
	}
	for i := range addrs {
		idx := StaticIndex{}
		if i == chainLen-1 {
			idx = StaticIndex{"rare.iso"}
		}
		nodes[i], tables[i] = newNode(t, addrs[i], idx, engines, &log)
		engines[addrs[i]] = nodes[i]
	}
	for i := range addrs {
		if i > 0 {
			tables[i].Add(addrs[i-1])
		}
		if i < chainLen-1 {
			tables[i].Add(addrs[i+1])
		}
	}

	nodes[0].PendingTimeout = time.Millisecond
	require.NoError(t, nodes[0].InitiateSearch("rare.iso"))

	// The frame node 9 forwards to node 10 carries hops=10 and is dropped
	// on receipt, so the last two nodes never mark the query seen and no
	// SEROK comes back.
	require.Equal(t, 0, nodes[chainLen-1].SeenCount())
	require.Equal(t, 0, nodes[chainLen-2].SeenCount())
	select {
	case r := <-nodes[0].Results():
		t.Fatalf("unexpected result %+v", r)
	default:
	}

	time.Sleep(5 * time.Millisecond)
	nodes[0].PruneExpired()
	require.Equal(t, 0, nodes[0].PendingCount())
}

func TestPruneExpiredRemovesOldPendingQueries(t *testing.T) {
	self := peer.Addr{IP: "10.0.0.1", Port: 6000}
	e, _ := newNode(t, self, StaticIndex{}, map[peer.Addr]*Engine{}, &[]string{})
	e.PendingTimeout = time.Millisecond

	require.NoError(t, e.InitiateSearch("nowhere.bin"))
	require.Equal(t, 1, e.PendingCount())
	time.Sleep(5 * time.Millisecond)
	e.PruneExpired()
	require.Equal(t, 0, e.PendingCount())
}
