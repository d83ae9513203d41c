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
Package registrar implements the client side of the rendezvous protocol: one
REG/UNREG request per stream connection to a well-known registrar, used at
node join and leave.
*/
package registrar

import (
	"bufio"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/overlaymesh/seekmesh/peer"
	"github.com/overlaymesh/seekmesh/wire"
)

// Status codes carried by REGOK/UNROK, per the wire protocol table.
const (
	statusNoPeers      = 0
	statusDuplicate    = 9998
	statusGenericError = 9999

	// maxBootstrapPeers bounds the fan-in a newly joining peer imposes on
	// any single existing peer: even if the registrar knows thousands of
	// peers, at most this many become initial JOIN targets.
	maxBootstrapPeers = 2
)

// ErrUnreachable is returned when the registrar could not be reached within
// the configured timeout.
var ErrUnreachable = errors.New("registrar: unreachable")

// ErrRejected is returned when the registrar reports a duplicate
// registration (9998) or a generic command failure (9999).
var ErrRejected = errors.New("registrar: rejected")

// Client talks to one registrar over a stream transport, one request per
// connection, mirroring the one-round-trip-per-connection shape of the
// original bootstrap client.
type Client struct {
	// Addr is the registrar's "host:port" dial address.
	Addr string
	// Timeout bounds each connect/send/recv round trip; the contract
	// requires 5-10s.
	Timeout time.Duration
}

// NewClient returns a Client with a default 8s timeout, within the 5-10s
// contract window.
func NewClient(addr string) *Client {
	return &Client{Addr: addr, Timeout: 8 * time.Second}
}

// RegisterResult is the outcome of a successful Register call.
type RegisterResult struct {
	// Status is the raw REGOK status code, kept for logging/stats even
	// though callers normally only need Peers.
	Status int
	// Peers is the bounded bootstrap sample: at most maxBootstrapPeers
	// entries, chosen uniformly at random when the registrar returned
	// more.
	Peers []peer.Addr
}

// Register sends REG <ip> <port> <username> and returns a bounded,
// uniformly-sampled set of bootstrap peers. A status of 9998 (already
// registered) or 9999 (generic failure) is reported as ErrRejected; the
// caller may recover from 9998 by calling Unregister and retrying.
func (c *Client) Register(ip string, port int, username string) (*RegisterResult, error) {
	payload := fmt.Sprintf("REG %s %d %s", ip, port, username)
	tokens, err := c.roundTrip(payload)
	if err != nil {
		return nil, err
	}
	if len(tokens) < 2 || wire.Command(tokens[0]) != wire.CmdRegOK {
		return nil, fmt.Errorf("%w: unexpected response %v", ErrRejected, tokens)
	}

	status, err := strconv.Atoi(tokens[1])
	if err != nil {
		return nil, fmt.Errorf("%w: non-numeric status %q", ErrRejected, tokens[1])
	}

	switch {
	case status == statusNoPeers:
		return &RegisterResult{Status: status}, nil
	case status == statusDuplicate:
		return nil, fmt.Errorf("%w: already registered", ErrRejected)
	case status == statusGenericError:
		return nil, fmt.Errorf("%w: command error", ErrRejected)
	case status > 0 && status < statusDuplicate:
		peers, err := parsePeerList(tokens[2:])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRejected, err)
		}
		log.Debugf("registrar: %d peer(s) known, sampling at most %d", status, maxBootstrapPeers)
		return &RegisterResult{Status: status, Peers: sample(peers, maxBootstrapPeers)}, nil
	default:
		return nil, fmt.Errorf("%w: unrecognized status %d", ErrRejected, status)
	}
}

// Unregister sends UNREG <ip> <port> <username> and reports whether the
// registrar confirmed with UNROK 0. A non-zero or malformed response is a
// failure but never fatal to the caller's shutdown path.
func (c *Client) Unregister(ip string, port int, username string) (bool, error) {
	payload := fmt.Sprintf("UNREG %s %d %s", ip, port, username)
	tokens, err := c.roundTrip(payload)
	if err != nil {
		return false, err
	}
	if len(tokens) < 2 || wire.Command(tokens[0]) != wire.CmdUnrOK {
		return false, fmt.Errorf("%w: unexpected response %v", ErrRejected, tokens)
	}
	code, err := strconv.Atoi(tokens[1])
	if err != nil {
		return false, fmt.Errorf("%w: non-numeric code %q", ErrRejected, tokens[1])
	}
	return code == 0, nil
}

// roundTrip dials the registrar, sends one framed request, and returns the
// tokenized response. One connection per call.
func (c *Client) roundTrip(payload string) ([]string, error) {
	frame, err := wire.Encode(payload)
	if err != nil {
		return nil, err
	}

	conn, err := net.DialTimeout("tcp", c.Addr, c.Timeout)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrUnreachable, c.Addr, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(c.Timeout)
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("%w: set deadline: %v", ErrUnreachable, err)
	}

	if _, err := conn.Write([]byte(frame)); err != nil {
		return nil, fmt.Errorf("%w: write: %v", ErrUnreachable, err)
	}

	reader := bufio.NewReaderSize(conn, 4096)
	buf := make([]byte, 4096)
	n, err := reader.Read(buf)
	if err != nil {
		return nil, fmt.Errorf("%w: read: %v", ErrUnreachable, err)
	}

	tokens, err := wire.Decode(buf[:n])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRejected, err)
	}
	return tokens, nil
}

// parsePeerList decodes the trailing "<ip1> <port1> <ip2> <port2> ..."
// fields of a REGOK frame.
func parsePeerList(fields []string) ([]peer.Addr, error) {
	if len(fields)%2 != 0 {
		return nil, fmt.Errorf("odd number of peer fields: %v", fields)
	}
	peers := make([]peer.Addr, 0, len(fields)/2)
	for i := 0; i < len(fields); i += 2 {
		port, err := strconv.Atoi(fields[i+1])
		if err != nil {
			return nil, fmt.Errorf("invalid port %q: %w", fields[i+1], err)
		}
		peers = append(peers, peer.Addr{IP: fields[i], Port: port})
	}
	return peers, nil
}

// sample returns at most n entries of peers, chosen uniformly at random
// when there are more than n.
func sample(peers []peer.Addr, n int) []peer.Addr {
	if len(peers) <= n {
		return peers
	}
	shuffled := append([]peer.Addr(nil), peers...)
	rand.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	return shuffled[:n]
}
