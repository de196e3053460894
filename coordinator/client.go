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
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/tabuladb/tabula/wire"
)

// ErrRejected is returned by Enter when the coordinator itself refused
// the tx_enter (e.g. an unknown variable) — an application-level
// outcome, not a failure of the session to the coordinator, so callers
// should not treat it like a dropped connection.
var ErrRejected = errors.New("coordinator: tx_enter rejected")

// Client is a single executor's persistent session with the
// coordinator: one TCP connection over which tx_enter ->
// tx_commit|tx_revert happens strictly sequentially, per §5.
type Client struct {
	conn net.Conn
	addr string
}

// Dial opens a coordinator session from the executor listening on
// localAddr (used for "closest volume" resolution).
func Dial(coordAddr, localAddr string) (*Client, error) {
	conn, err := net.Dial("tcp", coordAddr)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn, addr: localAddr}, nil
}

func (c *Client) Close() error { return c.conn.Close() }

// FetchSource retrieves the authoritative program text, per tx_program.
func (c *Client) FetchSource() ([]byte, error) {
	if err := wire.WriteTag(c.conn, wire.TSource); err != nil {
		return nil, err
	}
	tag, err := wire.ReadTag(c.conn)
	if err != nil {
		return nil, err
	}
	if tag != wire.RSource {
		return nil, fmt.Errorf("coordinator client: unexpected reply tag %d", tag)
	}
	data, ok, err := wire.ReadChunk(c.conn)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("coordinator client: missing source payload")
	}
	return data, nil
}

// Enter is the client-side of tx_enter.
func (c *Client) Enter(readSet, writeSet []string) (sid uint64, reads map[string]ReadResolution, writes map[string]WriteResolution, err error) {
	if err := wire.WriteTag(c.conn, wire.TEnter); err != nil {
		return 0, nil, nil, err
	}
	if err := wire.WriteAddr(c.conn, c.addr); err != nil {
		return 0, nil, nil, err
	}
	if err := writeNames(c.conn, readSet); err != nil {
		return 0, nil, nil, err
	}
	if err := writeNames(c.conn, writeSet); err != nil {
		return 0, nil, nil, err
	}

	tag, err := wire.ReadTag(c.conn)
	if err != nil {
		return 0, nil, nil, err
	}
	if tag != wire.REnter {
		return 0, nil, nil, fmt.Errorf("coordinator client: unexpected reply tag %d", tag)
	}
	sid, err = wire.ReadSid(c.conn)
	if err != nil {
		return 0, nil, nil, err
	}
	ok, err := wire.ReadSid(c.conn)
	if err != nil {
		return 0, nil, nil, err
	}
	if ok != 0 {
		return 0, nil, nil, ErrRejected
	}
	reads = make(map[string]ReadResolution, len(readSet))
	for _, name := range readSet {
		ver, err := wire.ReadSid(c.conn)
		if err != nil {
			return 0, nil, nil, err
		}
		vid, err := wire.ReadName(c.conn)
		if err != nil {
			return 0, nil, nil, err
		}
		addr, err := wire.ReadAddr(c.conn)
		if err != nil {
			return 0, nil, nil, err
		}
		reads[name] = ReadResolution{Version: ver, VolumeID: vid, Addr: addr}
	}
	writes = make(map[string]WriteResolution, len(writeSet))
	for _, name := range writeSet {
		vid, err := wire.ReadName(c.conn)
		if err != nil {
			return 0, nil, nil, err
		}
		addr, err := wire.ReadAddr(c.conn)
		if err != nil {
			return 0, nil, nil, err
		}
		writes[name] = WriteResolution{VolumeID: vid, Addr: addr}
	}
	return sid, reads, writes, nil
}

// Finish is the client-side of tx_commit (commit=true) / tx_revert.
func (c *Client) Finish(sid uint64, commit bool) error {
	if err := wire.WriteTag(c.conn, wire.TFinish); err != nil {
		return err
	}
	b := byte(0)
	if commit {
		b = 1
	}
	if _, err := c.conn.Write([]byte{b}); err != nil {
		return err
	}
	tag, err := wire.ReadTag(c.conn)
	if err != nil {
		return err
	}
	if tag != wire.RFinish {
		return fmt.Errorf("coordinator client: unexpected reply tag %d", tag)
	}
	var ok [1]byte
	if _, err := io.ReadFull(c.conn, ok[:]); err != nil {
		return err
	}
	if ok[0] != 0 {
		return fmt.Errorf("coordinator: finish failed")
	}
	return nil
}

// VolumeSync dials the coordinator purely to perform
// tx_volume_sync, independent of any long-lived executor Client
// session.
func VolumeSync(coordAddr, volumeID, volAddr string, local map[string]uint64) (map[string]VersionLoc, error) {
	conn, err := net.Dial("tcp", coordAddr)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	if err := wire.WriteTag(conn, wire.TSync); err != nil {
		return nil, err
	}
	if err := wire.WriteName(conn, volumeID); err != nil {
		return nil, err
	}
	if err := wire.WriteAddr(conn, volAddr); err != nil {
		return nil, err
	}
	var cnt [4]byte
	binary.BigEndian.PutUint32(cnt[:], uint32(len(local)))
	if _, err := conn.Write(cnt[:]); err != nil {
		return nil, err
	}
	for name, ver := range local {
		if err := wire.WriteName(conn, name); err != nil {
			return nil, err
		}
		if err := wire.WriteSid(conn, ver); err != nil {
			return nil, err
		}
	}
	tag, err := wire.ReadTag(conn)
	if err != nil {
		return nil, err
	}
	if tag != wire.RSync {
		return nil, fmt.Errorf("coordinator client: unexpected reply tag %d", tag)
	}
	if _, err := io.ReadFull(conn, cnt[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(cnt[:])
	out := make(map[string]VersionLoc, n)
	for i := uint32(0); i < n; i++ {
		name, err := wire.ReadName(conn)
		if err != nil {
			return nil, err
		}
		ver, err := wire.ReadSid(conn)
		if err != nil {
			return nil, err
		}
		vid, err := wire.ReadName(conn)
		if err != nil {
			return nil, err
		}
		addr, err := wire.ReadAddr(conn)
		if err != nil {
			return nil, err
		}
		out[name] = VersionLoc{Version: ver, VolumeID: vid, Addr: addr}
	}
	return out, nil
}
