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
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/overlaymesh/seekmesh/neighbor"
	"github.com/overlaymesh/seekmesh/peer"
	"github.com/overlaymesh/seekmesh/stats"
	"github.com/overlaymesh/seekmesh/wire"
)

// MaxHops is the design-value hop cap: a SER frame carrying hops >= MaxHops
// is dropped rather than forwarded.
const MaxHops = 10

// DefaultPendingTimeout bounds how long an originated query waits for
// SEROK replies before PruneExpired discards it.
const DefaultPendingTimeout = 30 * time.Second

// qidEchoPrefix marks the trailing SEROK token that disambiguates which
// pending query a reply answers when more than one pending entry shares a
// filename: the wire format stays
// "SEROK <count> <ip> <port> <hops> <file>…" with one more token appended.
// replySEROK always appends it; HandleSEROK treats it as optional.
const qidEchoPrefix = "QID="

var (
	// ErrMalformedSER is returned when a SER frame's fields cannot be parsed.
	ErrMalformedSER = errors.New("query: malformed SER frame")
	// ErrMalformedSEROK is returned when a SEROK frame's fields cannot be parsed.
	ErrMalformedSEROK = errors.New("query: malformed SEROK frame")
)

// Sender delivers a framed payload to addr.
type Sender interface {
	Send(addr peer.Addr, payload string) error
}

// Result is one search hit surfaced to whatever is watching Engine.Results:
// either a local match recorded at origination (Hops == 0, PeerIP and
// PeerPort == self) or a remote SEROK reply.
type Result struct {
	Query     string
	Filename  string
	PeerIP    string
	PeerPort  int
	Hops      int
	LatencyMS float64
}

// pendingQuery tracks one query this node originated.
type pendingQuery struct {
	id        string
	filename  string
	startedAt time.Time
	responses int
}

// Engine originates and forwards searches, matches them against the local
// index, and answers or forwards matching SER frames.
type Engine struct {
	self      peer.Addr
	neighbors *neighbor.Table
	index     Index
	send      Sender
	stats     stats.Sink

	seen *seenSet

	pendingMu sync.Mutex
	pending   map[string]*pendingQuery // keyed by query id
	now       func() time.Time

	results chan Result

	// PendingTimeout bounds how long a query waits for replies.
	PendingTimeout time.Duration
}

// New returns an Engine bound to the given neighbor table and local index.
// resultsBuffer sizes the observable results channel; sends to it are
// non-blocking, so a slow consumer drops results rather than stalling
// forwarding.
func New(self peer.Addr, neighbors *neighbor.Table, index Index, send Sender, sink stats.Sink, resultsBuffer int) *Engine {
	return &Engine{
		self:           self,
		neighbors:      neighbors,
		index:          index,
		send:           send,
		stats:          sink,
		seen:           newSeenSet(),
		pending:        make(map[string]*pendingQuery),
		now:            time.Now,
		results:        make(chan Result, resultsBuffer),
		PendingTimeout: DefaultPendingTimeout,
	}
}

// Results returns the channel on which search hits (local or remote) are
// surfaced.
func (e *Engine) Results() <-chan Result {
	return e.results
}

// queryID builds the wire-stable identifier used for duplicate suppression
// and SEROK matching: (origIP, origPort, filename) alone, reconstructed
// identically whether called at origination or on every forwarding hop. A
// timestamp-embedded identifier would differ per forwarder and break
// duplicate suppression, so none is used.
func queryID(origIP string, origPort int, filename string) string {
	return fmt.Sprintf("%s:%d:%s", origIP, origPort, filename)
}

// InitiateSearch originates a new search for filename: it marks the query
// seen, records a pending entry, searches the local index for immediate
// hits, and floods SER to every current neighbor with hops=1.
func (e *Engine) InitiateSearch(filename string) error {
	id := queryID(e.self.IP, e.self.Port, filename)
	e.seen.insertIfAbsent(id)

	hits := e.index.Search(filename)
	e.pendingMu.Lock()
	e.pending[id] = &pendingQuery{id: id, filename: filename, startedAt: e.now(), responses: len(hits)}
	e.pendingMu.Unlock()

	for _, hit := range hits {
		e.deliver(Result{
			Query:     filename,
			Filename:  hit,
			PeerIP:    e.self.IP,
			PeerPort:  e.self.Port,
			Hops:      0,
			LatencyMS: 0,
		})
	}

	payload := buildSER(e.self.IP, e.self.Port, filename, 1)
	for _, n := range e.neighbors.Snapshot() {
		if err := e.send.Send(n, payload); err != nil {
			log.Debugf("query: SER to %s failed: %v", n, err)
			continue
		}
		if e.stats != nil {
			e.stats.IncMessageSent()
		}
	}
	return nil
}

// HandleSER processes an inbound SER frame received from sender. fields is
// the tokenized payload with the "SER" command word already stripped.
func (e *Engine) HandleSER(fields []string, sender peer.Addr) error {
	if len(fields) < 3 {
		return fmt.Errorf("%w: too few fields", ErrMalformedSER)
	}
	origIP := fields[0]
	origPort, err := strconv.Atoi(fields[1])
	if err != nil {
		return fmt.Errorf("%w: bad origin port %q: %v", ErrMalformedSER, fields[1], err)
	}
	filename, next, err := wire.SplitQuotedFilename(fields, 2)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedSER, err)
	}
	if next >= len(fields) {
		return fmt.Errorf("%w: missing hops field", ErrMalformedSER)
	}
	hops, err := strconv.Atoi(fields[next])
	if err != nil {
		return fmt.Errorf("%w: bad hops %q: %v", ErrMalformedSER, fields[next], err)
	}

	if e.stats != nil {
		e.stats.IncQueryReceived()
	}

	if hops >= MaxHops {
		return nil
	}

	origin := peer.Addr{IP: origIP, Port: origPort}
	id := queryID(origIP, origPort, filename)
	if !e.seen.insertIfAbsent(id) {
		return nil
	}

	hits := e.index.Search(filename)
	if len(hits) > 0 {
		if err := e.replySEROK(origin, hops, hits, id); err != nil {
			log.Debugf("query: SEROK to %s failed: %v", origin, err)
		} else if e.stats != nil {
			e.stats.IncQueryAnswered()
		}
	}

	forwardPayload := buildSER(origIP, origPort, filename, hops+1)
	for _, n := range e.neighbors.Snapshot() {
		if n == sender || n == origin {
			continue
		}
		if err := e.send.Send(n, forwardPayload); err != nil {
			log.Debugf("query: forward SER to %s failed: %v", n, err)
			continue
		}
		if e.stats != nil {
			e.stats.IncMessageSent()
			e.stats.IncQueryForwarded()
		}
	}
	return nil
}

// replySEROK sends a SEROK directly to origin, the reverse-path address
// carried in the triggering SER rather than back through the sender.
func (e *Engine) replySEROK(origin peer.Addr, hops int, hits []string, id string) error {
	fields := make([]string, 0, 5+len(hits))
	fields = append(fields, string(wire.CmdSerOK), strconv.Itoa(len(hits)), e.self.IP, strconv.Itoa(e.self.Port), strconv.Itoa(hops))
	fields = append(fields, hits...)
	fields = append(fields, qidEchoPrefix+id)
	payload := strings.Join(fields, " ")
	if err := e.send.Send(origin, payload); err != nil {
		return err
	}
	if e.stats != nil {
		e.stats.IncMessageSent()
	}
	return nil
}

// HandleSEROK processes an inbound SEROK frame from responder.
func (e *Engine) HandleSEROK(fields []string, responder peer.Addr) error {
	if len(fields) < 4 {
		return fmt.Errorf("%w: too few fields", ErrMalformedSEROK)
	}
	count, err := strconv.Atoi(fields[0])
	if err != nil || count < 0 {
		return fmt.Errorf("%w: bad count %q", ErrMalformedSEROK, fields[0])
	}
	ip := fields[1]
	port, err := strconv.Atoi(fields[2])
	if err != nil {
		return fmt.Errorf("%w: bad port %q: %v", ErrMalformedSEROK, fields[2], err)
	}
	hops, err := strconv.Atoi(fields[3])
	if err != nil {
		return fmt.Errorf("%w: bad hops %q: %v", ErrMalformedSEROK, fields[3], err)
	}
	rest := fields[4:]
	if len(rest) < count {
		return fmt.Errorf("%w: declared %d files but only %d fields remain", ErrMalformedSEROK, count, len(rest))
	}
	hits := rest[:count]
	var echoedID string
	if trailer := rest[count:]; len(trailer) > 0 && strings.HasPrefix(trailer[0], qidEchoPrefix) {
		echoedID = strings.TrimPrefix(trailer[0], qidEchoPrefix)
	}

	pq := e.resolvePending(echoedID, hits)
	if pq == nil {
		log.Debugf("query: SEROK from %s:%d matched no pending query", responder.IP, responder.Port)
		return nil
	}

	peerIP := preferPayloadIP(ip, responder.IP)
	latency := float64(e.now().Sub(pq.startedAt).Microseconds()) / 1000.0
	for _, hit := range hits {
		e.deliver(Result{
			Query:     pq.filename,
			Filename:  hit,
			PeerIP:    peerIP,
			PeerPort:  port,
			Hops:      hops,
			LatencyMS: latency,
		})
		if e.stats != nil {
			e.stats.RecordSearchResult(stats.SearchResult{
				Query:     pq.filename,
				Hops:      hops,
				LatencyMS: latency,
				PeerIP:    peerIP,
				PeerPort:  port,
			})
		}
	}
	return nil
}

// preferPayloadIP prefers the IP carried in the payload but falls back to
// the datagram's observed source IP if the payload field is empty.
func preferPayloadIP(payloadIP, sourceIP string) string {
	if payloadIP != "" {
		return payloadIP
	}
	return sourceIP
}

// resolvePending finds the pending query a SEROK answers: by echoed query
// id when present, otherwise by filename, but only when exactly one
// pending query has that filename. The match's response count is bumped
// under the table lock before it is returned.
func (e *Engine) resolvePending(echoedID string, hits []string) *pendingQuery {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()

	if echoedID != "" {
		if pq, ok := e.pending[echoedID]; ok {
			pq.responses += len(hits)
			return pq
		}
	}

	var match *pendingQuery
	for _, pq := range e.pending {
		for _, hit := range hits {
			if Matches(hit, pq.filename) {
				if match != nil && match.id != pq.id {
					return nil // ambiguous without an echoed id
				}
				match = pq
			}
		}
	}
	if match != nil {
		match.responses += len(hits)
	}
	return match
}

// deliver sends r to the results channel without blocking.
func (e *Engine) deliver(r Result) {
	select {
	case e.results <- r:
	default:
		log.Warnf("query: results channel full, dropping result for %q", r.Query)
	}
}

// PruneExpired removes pending queries older than PendingTimeout. Callers
// run this periodically (e.g. from a ticker in overlaynode); it is the
// only mechanism by which a pending query without replies is ever
// forgotten.
func (e *Engine) PruneExpired() {
	cutoff := e.now().Add(-e.PendingTimeout)
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()
	for id, pq := range e.pending {
		if pq.startedAt.Before(cutoff) {
			log.Debugf("query: expiring %q after %d response(s)", pq.filename, pq.responses)
			delete(e.pending, id)
		}
	}
}

// PendingCount reports how many queries are currently awaiting replies.
func (e *Engine) PendingCount() int {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()
	return len(e.pending)
}

// SeenCount reports how many distinct query identifiers have been observed.
func (e *Engine) SeenCount() int {
	return e.seen.count()
}

// buildSER constructs a "SER <origIP> <origPort> "<filename>" <hops>"
// payload.
func buildSER(origIP string, origPort int, filename string, hops int) string {
	fields := []string{string(wire.CmdSer), origIP, strconv.Itoa(origPort), wire.QuoteFilename(filename), strconv.Itoa(hops)}
	return strings.Join(fields, " ")
}
