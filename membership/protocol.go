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
Package membership implements the three-message JOIN/JOINOK handshake and
the two-message LEAVE/LEAVEOK announcement that peers use to build and tear
down their neighbor view.
*/
package membership

import (
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/overlaymesh/seekmesh/neighbor"
	"github.com/overlaymesh/seekmesh/peer"
	"github.com/overlaymesh/seekmesh/stats"
	"github.com/overlaymesh/seekmesh/wire"
)

// ErrSendFailed wraps any transport error encountered while sending a
// membership frame; it is never fatal to the caller, mirroring the
// best-effort delivery model of datagram JOIN/LEAVE.
var ErrSendFailed = errors.New("membership: send failed")

// successCode is the status field used on every JOINOK/LEAVEOK reply.
const successCode = "0"

// Sender delivers a framed payload to addr. overlaynode supplies the
// concrete implementation bound to its UDP socket; Protocol is never
// handed a net.Conn directly so it stays transport-agnostic and testable
// with a fake.
type Sender interface {
	Send(addr peer.Addr, payload string) error
}

// Protocol drives one node's Neighbor Table in response to JOIN/JOINOK and
// LEAVE/LEAVEOK traffic. It takes its table and self address as
// constructor arguments rather than reaching for package-level state, so a
// process can host more than one independent node.
type Protocol struct {
	self  peer.Addr
	table *neighbor.Table
	send  Sender
	stats stats.Sink

	// JoinRetries bounds the number of JOIN re-sends per target peer, after
	// the initial JOIN, when no JOINOK is observed. Zero disables retry
	// (fire-and-forget).
	JoinRetries int
	// JoinBackoff is the base delay before the first retry; each
	// subsequent attempt doubles it.
	JoinBackoff time.Duration
	// LeaveGrace is the pause between broadcasting LEAVE to all
	// neighbors and unregistering with the rendezvous service, giving
	// the datagrams time to land.
	LeaveGrace time.Duration
}

// New returns a Protocol bound to table and sending through send on behalf
// of self.
func New(self peer.Addr, table *neighbor.Table, send Sender, sink stats.Sink) *Protocol {
	return &Protocol{
		self:        self,
		table:       table,
		send:        send,
		stats:       sink,
		JoinRetries: 2,
		JoinBackoff: 500 * time.Millisecond,
		LeaveGrace:  time.Second,
	}
}

// Join sends "JOIN <myIP> <myPort>" to target. Join itself only performs
// the initial send, since JOINOK arrival is observed asynchronously off the
// shared datagram socket; re-sends with exponential backoff are made by
// RetryJoin, which the caller runs separately.
func (p *Protocol) Join(target peer.Addr) error {
	return p.sendJoin(target)
}

func (p *Protocol) sendJoin(target peer.Addr) error {
	payload := fmt.Sprintf("%s %s %d", wire.CmdJoin, p.self.IP, p.self.Port)
	if err := p.send.Send(target, payload); err != nil {
		return fmt.Errorf("%w: JOIN to %s: %v", ErrSendFailed, target, err)
	}
	if p.stats != nil {
		p.stats.IncMessageSent()
	}
	return nil
}

// RetryJoin re-sends JOIN to target up to JoinRetries times with
// exponential backoff, stopping early if stillPending returns false
// (meaning a JOINOK arrived in the meantime). Callers run this in its own
// goroutine; it blocks for the duration of the backoff schedule.
func (p *Protocol) RetryJoin(target peer.Addr, stillPending func() bool) {
	backoff := p.JoinBackoff
	for attempt := 0; attempt < p.JoinRetries; attempt++ {
		time.Sleep(backoff)
		if !stillPending() {
			return
		}
		if err := p.sendJoin(target); err != nil {
			log.Debugf("membership: retry JOIN to %s failed: %v", target, err)
		}
		backoff *= 2
	}
}

// HandleJoin processes the fields of an inbound "JOIN <ip> <port>" frame. It
// inserts the sender into the neighbor table (idempotently) and replies
// JOINOK 0 to the address carried in the payload. JOIN received while the
// sender is already a neighbor is idempotent and still re-emits JOINOK.
func (p *Protocol) HandleJoin(fields []string) error {
	addr, err := parsePeerFields(fields)
	if err != nil {
		return err
	}
	if addr == p.self {
		return nil
	}
	p.table.Add(addr)
	payload := fmt.Sprintf("%s %s", wire.CmdJoinOK, successCode)
	if err := p.send.Send(addr, payload); err != nil {
		return fmt.Errorf("%w: JOINOK to %s: %v", ErrSendFailed, addr, err)
	}
	if p.stats != nil {
		p.stats.IncMessageSent()
	}
	return nil
}

// HandleJoinOK processes an inbound JOINOK, inserting the responder (the
// datagram's source address, not any field in the payload) into the
// neighbor table.
func (p *Protocol) HandleJoinOK(from peer.Addr) {
	if from == p.self {
		return
	}
	p.table.Add(from)
}

// Leave broadcasts "LEAVE <myIP> <myPort>" to every current neighbor,
// sleeps LeaveGrace to let the datagrams land, then clears the neighbor
// table. It does not touch the registrar; callers unregister separately
// as a following step.
func (p *Protocol) Leave() {
	for _, n := range p.table.Snapshot() {
		payload := fmt.Sprintf("%s %s %d", wire.CmdLeave, p.self.IP, p.self.Port)
		if err := p.send.Send(n, payload); err != nil {
			log.Debugf("membership: LEAVE to %s failed: %v", n, err)
			continue
		}
		if p.stats != nil {
			p.stats.IncMessageSent()
		}
	}
	time.Sleep(p.LeaveGrace)
	p.table.Clear()
}

// HandleLeave processes an inbound "LEAVE <ip> <port>" frame: removes the
// sender from the neighbor table and replies LEAVEOK 0.
func (p *Protocol) HandleLeave(fields []string) error {
	addr, err := parsePeerFields(fields)
	if err != nil {
		return err
	}
	p.table.Remove(addr)
	payload := fmt.Sprintf("%s %s", wire.CmdLeaveOK, successCode)
	if err := p.send.Send(addr, payload); err != nil {
		return fmt.Errorf("%w: LEAVEOK to %s: %v", ErrSendFailed, addr, err)
	}
	if p.stats != nil {
		p.stats.IncMessageSent()
	}
	return nil
}

// parsePeerFields reads "<ip> <port>" from the front of fields.
func parsePeerFields(fields []string) (peer.Addr, error) {
	if len(fields) < 2 {
		return peer.Addr{}, fmt.Errorf("membership: expected at least 2 fields, got %d", len(fields))
	}
	port, err := parsePort(fields[1])
	if err != nil {
		return peer.Addr{}, err
	}
	return peer.Addr{IP: fields[0], Port: port}, nil
}

func parsePort(s string) (int, error) {
	var port int
	if _, err := fmt.Sscanf(s, "%d", &port); err != nil {
		return 0, fmt.Errorf("membership: invalid port %q: %w", s, err)
	}
	return port, nil
}
