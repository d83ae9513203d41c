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

package registrar

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/overlaymesh/seekmesh/wire"
)

// fakeRegistrar accepts one connection, replies with a fixed response frame
// built from the given payload, and closes.
func fakeRegistrar(t *testing.T, payload string) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_, _ = bufio.NewReader(conn).ReadString(' ') // drain nothing meaningful, just read request
		frame, err := wire.Encode(payload)
		if err != nil {
			return
		}
		_, _ = conn.Write([]byte(frame))
	}()

	return ln.Addr().String()
}

func TestRegisterNoPeers(t *testing.T) {
	addr := fakeRegistrar(t, "REGOK 0")
	c := &Client{Addr: addr, Timeout: time.Second}
	res, err := c.Register("10.0.0.1", 6000, "alice")
	require.NoError(t, err)
	require.Equal(t, 0, res.Status)
	require.Empty(t, res.Peers)
}

func TestRegisterSamplesAtMostTwo(t *testing.T) {
	addr := fakeRegistrar(t, "REGOK 5 1.1.1.1 1 2.2.2.2 2 3.3.3.3 3 4.4.4.4 4 5.5.5.5 5")
	c := &Client{Addr: addr, Timeout: time.Second}
	res, err := c.Register("10.0.0.1", 6000, "alice")
	require.NoError(t, err)
	require.Equal(t, 5, res.Status)
	require.Len(t, res.Peers, maxBootstrapPeers)
}

func TestRegisterFewerThanTwoReturnsAll(t *testing.T) {
	addr := fakeRegistrar(t, "REGOK 1 1.1.1.1 1")
	c := &Client{Addr: addr, Timeout: time.Second}
	res, err := c.Register("10.0.0.1", 6000, "alice")
	require.NoError(t, err)
	require.Len(t, res.Peers, 1)
}

func TestRegisterDuplicate(t *testing.T) {
	addr := fakeRegistrar(t, "REGOK 9998")
	c := &Client{Addr: addr, Timeout: time.Second}
	_, err := c.Register("10.0.0.1", 6000, "alice")
	require.ErrorIs(t, err, ErrRejected)
}

func TestRegisterGenericFailure(t *testing.T) {
	addr := fakeRegistrar(t, "REGOK 9999")
	c := &Client{Addr: addr, Timeout: time.Second}
	_, err := c.Register("10.0.0.1", 6000, "alice")
	require.ErrorIs(t, err, ErrRejected)
}

func TestUnregisterSuccess(t *testing.T) {
	addr := fakeRegistrar(t, "UNROK 0")
	c := &Client{Addr: addr, Timeout: time.Second}
	ok, err := c.Unregister("10.0.0.1", 6000, "alice")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestUnregisterFailureIsNotFatal(t *testing.T) {
	addr := fakeRegistrar(t, "UNROK 1")
	c := &Client{Addr: addr, Timeout: time.Second}
	ok, err := c.Unregister("10.0.0.1", 6000, "alice")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRegisterUnreachable(t *testing.T) {
	c := &Client{Addr: "127.0.0.1:1", Timeout: 200 * time.Millisecond}
	_, err := c.Register("10.0.0.1", 6000, "alice")
	require.Error(t, err)
}
