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
Package overlaynode binds one datagram socket and hosts one instance of
every core component: the neighbor table, the membership protocol, the
query engine, and the registrar client. It demultiplexes inbound frames by
command keyword and dispatches them to short-lived worker-pool tasks
rather than spawning a goroutine per datagram, bounding the amount of
concurrent work a burst of inbound frames can create.
*/
package overlaynode

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/sync/errgroup"

	log "github.com/sirupsen/logrus"

	"github.com/overlaymesh/seekmesh/membership"
	"github.com/overlaymesh/seekmesh/neighbor"
	"github.com/overlaymesh/seekmesh/peer"
	"github.com/overlaymesh/seekmesh/query"
	"github.com/overlaymesh/seekmesh/registrar"
	"github.com/overlaymesh/seekmesh/stats"
	"github.com/overlaymesh/seekmesh/wire"
)

// readDeadline bounds each receive so the listener loop can observe
// context cancellation without blocking indefinitely.
const readDeadline = time.Second

// ErrBind is returned by New when the UDP socket cannot be bound; this is
// the one failure that aborts start-up.
var ErrBind = errors.New("overlaynode: failed to bind listener")

// inboundFrame is one datagram queued for worker processing.
type inboundFrame struct {
	data []byte
	from *net.UDPAddr
}

// Config configures a new Node.
type Config struct {
	Self          peer.Addr
	Username      string
	Index         query.Index
	Stats         stats.Sink
	Workers       int
	QueueSize     int
	PruneEvery    time.Duration
	RegistrarAddr string
}

// Node is one overlay participant: a UDP listener plus the membership
// protocol, query engine, and registrar client bound to it.
type Node struct {
	cfg Config

	conn       *net.UDPConn
	neighbors  *neighbor.Table
	membership *membership.Protocol
	query      *query.Engine
	registrar  *registrar.Client

	tasks chan inboundFrame
	eg    *errgroup.Group
}

// New binds a UDP socket on cfg.Self and wires up the membership protocol
// and query engine. It does not start serving until Start is called.
func New(cfg Config) (*Node, error) {
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.PruneEvery <= 0 {
		cfg.PruneEvery = 10 * time.Second
	}
	if cfg.Index == nil {
		cfg.Index = query.StaticIndex{}
	}

	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP(cfg.Self.IP), Port: cfg.Self.Port})
	if err != nil {
		return nil, fmt.Errorf("%w: %s:%d: %v", ErrBind, cfg.Self.IP, cfg.Self.Port, err)
	}
	// Resolve an ephemeral port before the membership protocol and query
	// engine capture the self address: JOIN and SER frames must advertise
	// the port peers can actually reach, not 0.
	if cfg.Self.Port == 0 {
		cfg.Self.Port = conn.LocalAddr().(*net.UDPAddr).Port
	}

	n := &Node{
		cfg:       cfg,
		conn:      conn,
		neighbors: neighbor.New(),
		tasks:     make(chan inboundFrame, cfg.QueueSize),
	}
	n.membership = membership.New(cfg.Self, n.neighbors, n, cfg.Stats)
	n.query = query.New(cfg.Self, n.neighbors, cfg.Index, n, cfg.Stats, cfg.QueueSize)
	if cfg.RegistrarAddr != "" {
		n.registrar = registrar.NewClient(cfg.RegistrarAddr)
	}
	return n, nil
}

// Bootstrap registers with the configured registrar and sends JOIN to
// every bootstrap peer it returns, with bounded retry if no JOINOK
// arrives. It is a no-op if no registrar address was configured.
func (n *Node) Bootstrap() error {
	if n.registrar == nil {
		return nil
	}
	res, err := n.registrar.Register(n.cfg.Self.IP, n.cfg.Self.Port, n.cfg.Username)
	if err != nil {
		return err
	}
	for _, p := range res.Peers {
		target := p
		if err := n.membership.Join(target); err != nil {
			log.Debugf("overlaynode: initial JOIN to %s failed: %v", target, err)
			continue
		}
		go n.membership.RetryJoin(target, func() bool { return !n.neighbors.Has(target) })
	}
	return nil
}

// Shutdown broadcasts LEAVE to every neighbor and clears the neighbor table
// (membership.Protocol.Leave), then unregisters from the registrar.
// Registrar failures are logged but never fatal to shutdown.
func (n *Node) Shutdown() {
	n.membership.Leave()
	if n.registrar != nil {
		if _, err := n.registrar.Unregister(n.cfg.Self.IP, n.cfg.Self.Port, n.cfg.Username); err != nil {
			log.Debugf("overlaynode: unregister failed: %v", err)
		}
	}
}

// LocalAddr returns the bound listener address, useful when Config.Self.Port
// was 0 (ephemeral) and the caller needs the resolved port, as in tests.
func (n *Node) LocalAddr() peer.Addr {
	addr := n.conn.LocalAddr().(*net.UDPAddr)
	return peer.Addr{IP: cfgIPOrLoopback(n.cfg.Self.IP), Port: addr.Port}
}

func cfgIPOrLoopback(ip string) string {
	if ip == "" || ip == "0.0.0.0" {
		return "127.0.0.1"
	}
	return ip
}

// Neighbors exposes the neighbor table for status reporting.
func (n *Node) Neighbors() *neighbor.Table { return n.neighbors }

// Query exposes the query engine, e.g. for InitiateSearch and Results.
func (n *Node) Query() *query.Engine { return n.query }

// Membership exposes the membership protocol, e.g. for Join and RetryJoin.
func (n *Node) Membership() *membership.Protocol { return n.membership }

// Send implements membership.Sender and query.Sender: it frames payload
// and writes it as a single UDP datagram to addr.
func (n *Node) Send(addr peer.Addr, payload string) error {
	frame, err := wire.Encode(payload)
	if err != nil {
		return err
	}
	udpAddr := &net.UDPAddr{IP: net.ParseIP(addr.IP), Port: addr.Port}
	_, err = n.conn.WriteToUDP([]byte(frame), udpAddr)
	return err
}

// Start launches the worker pool and the receive loop in the background,
// grouped under an errgroup.Group so Wait can report the first error any
// of them returns. It returns immediately; cancel ctx and then call Wait
// for graceful shutdown.
func (n *Node) Start(ctx context.Context) {
	eg, ctx := errgroup.WithContext(ctx)
	n.eg = eg

	for i := 0; i < n.cfg.Workers; i++ {
		eg.Go(func() error { return n.startWorker(ctx) })
	}

	eg.Go(func() error { return n.startListener(ctx) })
	eg.Go(func() error { return n.startPruner(ctx) })
}

func (n *Node) startListener(ctx context.Context) error {
	defer n.conn.Close()
	buf := make([]byte, wire.MaxFrameSize)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := n.conn.SetReadDeadline(time.Now().Add(readDeadline)); err != nil {
			return fmt.Errorf("overlaynode: set read deadline: %w", err)
		}
		size, from, err := n.conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			// Socket closed during shutdown.
			return nil
		}

		data := make([]byte, size)
		copy(data, buf[:size])
		select {
		case n.tasks <- inboundFrame{data: data, from: from}:
		default:
			log.Warnf("overlaynode: task queue full, dropping frame from %s", from)
		}
	}
}

func (n *Node) startWorker(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame := <-n.tasks:
			n.handle(frame)
		}
	}
}

func (n *Node) startPruner(ctx context.Context) error {
	ticker := time.NewTicker(n.cfg.PruneEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n.query.PruneExpired()
		}
	}
}

func (n *Node) handle(frame inboundFrame) {
	tokens, err := wire.Decode(frame.data)
	if err != nil {
		log.Debugf("overlaynode: dropping malformed frame from %s: %v", frame.from, err)
		return
	}
	if n.cfg.Stats != nil {
		n.cfg.Stats.IncMessageReceived()
	}

	from := peer.Addr{IP: frame.from.IP.String(), Port: frame.from.Port}
	cmd := wire.Command(tokens[0])
	fields := tokens[1:]

	var handleErr error
	switch cmd {
	case wire.CmdJoin:
		handleErr = n.membership.HandleJoin(fields)
	case wire.CmdJoinOK:
		n.membership.HandleJoinOK(from)
	case wire.CmdLeave:
		handleErr = n.membership.HandleLeave(fields)
	case wire.CmdLeaveOK:
		// No state change required; LEAVEOK only confirms delivery.
	case wire.CmdSer:
		handleErr = n.query.HandleSER(fields, from)
	case wire.CmdSerOK:
		handleErr = n.query.HandleSEROK(fields, from)
	default:
		log.Debugf("overlaynode: unknown command %q from %s", cmd, from)
	}
	if handleErr != nil {
		log.Debugf("overlaynode: error handling %s from %s: %v", cmd, from, handleErr)
	}
}

// Wait blocks until every background task launched by Start has returned.
// Callers cancel the context passed to Start and then call Wait for a
// clean, ordered shutdown: the listener observes cancellation on its next
// 1s read-deadline tick, closes the socket, and the worker and pruner
// goroutines exit on the same context. context.Canceled, the expected
// outcome of a graceful shutdown, is swallowed; any other error any task
// returned is reported.
func (n *Node) Wait() error {
	if n.eg == nil {
		return nil
	}
	if err := n.eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
