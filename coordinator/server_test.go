// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package coordinator

import (
	"errors"
	"net"
	"path/filepath"
	"testing"
)

func startTestServer(t *testing.T, c *Coordinator) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go c.Serve(ln)
	t.Cleanup(func() { ln.Close() })
	return ln.Addr().String()
}

func TestClientServerFetchSource(t *testing.T) {
	dir := t.TempDir()
	c, err := New([]byte("program bytes"), []string{"x"}, filepath.Join(dir, "state"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	addr := startTestServer(t, c)

	cl, err := Dial(addr, "executor:1")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer cl.Close()

	src, err := cl.FetchSource()
	if err != nil {
		t.Fatalf("FetchSource: %v", err)
	}
	if string(src) != "program bytes" {
		t.Fatalf("FetchSource = %q, want %q", src, "program bytes")
	}
}

func TestClientServerEnterAndFinish(t *testing.T) {
	dir := t.TempDir()
	c, err := New([]byte("program"), []string{"x"}, filepath.Join(dir, "state"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.RegisterVolume("v1", "host1:1")
	addr := startTestServer(t, c)

	cl, err := Dial(addr, "host1:1")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer cl.Close()

	sid, _, writes, err := cl.Enter(nil, []string{"x"})
	if err != nil {
		t.Fatalf("Enter: %v", err)
	}
	if writes["x"].VolumeID != "v1" {
		t.Fatalf("write resolution = %+v, want volume v1", writes["x"])
	}
	if err := cl.Finish(sid, true); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	sid2, reads, _, err := cl.Enter([]string{"x"}, nil)
	if err != nil {
		t.Fatalf("Enter (read): %v", err)
	}
	if reads["x"].Version != sid {
		t.Fatalf("read resolution = %+v, want version %d", reads["x"], sid)
	}
	if err := cl.Finish(sid2, true); err != nil {
		t.Fatalf("Finish (read): %v", err)
	}
}

func TestClientEnterUnknownVariableReturnsError(t *testing.T) {
	dir := t.TempDir()
	c, err := New([]byte("program"), []string{"x"}, filepath.Join(dir, "state"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	addr := startTestServer(t, c)

	cl, err := Dial(addr, "executor:1")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer cl.Close()

	if _, _, _, err := cl.Enter(nil, []string{"missing"}); !errors.Is(err, ErrRejected) {
		t.Fatalf("Enter should surface a tx_enter rejection as ErrRejected, got %v", err)
	}
}

func TestDroppedConnectionRevertsLiveTransaction(t *testing.T) {
	dir := t.TempDir()
	c, err := New([]byte("program"), []string{"x"}, filepath.Join(dir, "state"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.RegisterVolume("v1", "host1:1")
	addr := startTestServer(t, c)

	cl, err := Dial(addr, "host1:1")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if _, _, _, err := cl.Enter(nil, []string{"x"}); err != nil {
		t.Fatalf("Enter: %v", err)
	}
	// disconnect without finishing: the server side should revert the
	// live transaction instead of leaving the write entry runnable
	// forever.
	cl.Close()

	cl2, err := Dial(addr, "host1:1")
	if err != nil {
		t.Fatalf("Dial #2: %v", err)
	}
	defer cl2.Close()
	sid2, _, writes2, err := cl2.Enter(nil, []string{"x"})
	if err != nil {
		t.Fatalf("Enter #2: %v", err)
	}
	if writes2["x"].VolumeID != "v1" {
		t.Fatalf("second writer should become runnable after the dropped connection's implicit revert, got %+v", writes2["x"])
	}
	if err := cl2.Finish(sid2, true); err != nil {
		t.Fatalf("Finish #2: %v", err)
	}
}

func TestVolumeSyncRoundTrip(t *testing.T) {
	dir := t.TempDir()
	c, err := New([]byte("program"), []string{"x"}, filepath.Join(dir, "state"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.RegisterVolume("v1", "host1:1")
	addr := startTestServer(t, c)

	sid, _, _, err := c.TxEnter("host1:1", nil, []string{"x"})
	if err != nil {
		t.Fatalf("TxEnter: %v", err)
	}
	if err := c.TxCommit(sid); err != nil {
		t.Fatalf("TxCommit: %v", err)
	}

	loc, err := VolumeSync(addr, "v2", "host2:1", nil)
	if err != nil {
		t.Fatalf("VolumeSync: %v", err)
	}
	got, ok := loc["x"]
	if !ok || got.Version != sid || got.VolumeID != "v1" {
		t.Fatalf("VolumeSync authoritative set = %+v, want x at version %d on v1", loc, sid)
	}
}
