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
	"io"
	"log"
	"net"

	"github.com/tabuladb/tabula/wire"
)

// Serve accepts connections on ln and handles each on its own
// goroutine until ln is closed. One connection carries one executor's
// (or volume's) session; tx_enter -> tx_commit|tx_revert is strictly
// sequential over that connection, and a read error on a connection
// with a live (non-zero) sid reverts it — the sole rollback path for
// a dropped executor.
func (c *Coordinator) Serve(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go c.handle(conn)
	}
}

func (c *Coordinator) handle(conn net.Conn) {
	defer conn.Close()
	var liveSid uint64

	for {
		tag, err := wire.ReadTag(conn)
		if err != nil {
			if liveSid != 0 {
				if rerr := c.TxRevert(liveSid); rerr != nil {
					log.Printf("coordinator: implicit revert of sid %d: %v", liveSid, rerr)
				}
			}
			return
		}
		switch tag {
		case wire.TEnter:
			sid, err := c.handleEnter(conn)
			if err != nil {
				log.Printf("coordinator: tx_enter: %v", err)
				return
			}
			liveSid = sid
		case wire.TFinish:
			if err := c.handleFinish(conn, liveSid); err != nil {
				log.Printf("coordinator: tx_finish: %v", err)
				return
			}
			liveSid = 0
		case wire.TSync:
			if err := c.handleSync(conn); err != nil {
				log.Printf("coordinator: tx_volume_sync: %v", err)
				return
			}
		case wire.TSource:
			if err := c.handleSource(conn); err != nil {
				log.Printf("coordinator: tx_program: %v", err)
				return
			}
		default:
			log.Printf("coordinator: unexpected tag %d", tag)
			return
		}
	}
}

func readNames(r io.Reader) ([]string, error) {
	var cnt [4]byte
	if _, err := io.ReadFull(r, cnt[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(cnt[:])
	out := make([]string, n)
	for i := range out {
		s, err := wire.ReadName(r)
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

func writeNames(w io.Writer, names []string) error {
	var cnt [4]byte
	binary.BigEndian.PutUint32(cnt[:], uint32(len(names)))
	if _, err := w.Write(cnt[:]); err != nil {
		return err
	}
	for _, n := range names {
		if err := wire.WriteName(w, n); err != nil {
			return err
		}
	}
	return nil
}

func (c *Coordinator) handleEnter(conn net.Conn) (uint64, error) {
	executorAddr, err := wire.ReadAddr(conn)
	if err != nil {
		return 0, err
	}
	readSet, err := readNames(conn)
	if err != nil {
		return 0, err
	}
	writeSet, err := readNames(conn)
	if err != nil {
		return 0, err
	}

	sid, reads, writes, err := c.TxEnter(executorAddr, readSet, writeSet)
	if err != nil {
		return 0, writeEnterError(conn, err)
	}

	if err := wire.WriteTag(conn, wire.REnter); err != nil {
		return 0, err
	}
	if err := wire.WriteSid(conn, sid); err != nil {
		return 0, err
	}
	if err := wire.WriteSid(conn, 0); err != nil { // ok flag reused as 0=success
		return 0, err
	}
	for _, name := range readSet {
		rr := reads[name]
		if err := wire.WriteSid(conn, rr.Version); err != nil {
			return 0, err
		}
		if err := wire.WriteName(conn, rr.VolumeID); err != nil {
			return 0, err
		}
		if err := wire.WriteAddr(conn, rr.Addr); err != nil {
			return 0, err
		}
	}
	for _, name := range writeSet {
		wr := writes[name]
		if err := wire.WriteName(conn, wr.VolumeID); err != nil {
			return 0, err
		}
		if err := wire.WriteAddr(conn, wr.Addr); err != nil {
			return 0, err
		}
	}
	return sid, nil
}

func writeEnterError(conn net.Conn, cause error) error {
	if err := wire.WriteTag(conn, wire.REnter); err != nil {
		return err
	}
	if err := wire.WriteSid(conn, 0); err != nil {
		return err
	}
	if err := wire.WriteSid(conn, 1); err != nil { // ok flag: 1=error
		return err
	}
	// the rejection has been answered; the session stays open
	log.Printf("coordinator: tx_enter rejected: %v", cause)
	return nil
}

func (c *Coordinator) handleFinish(conn net.Conn, sid uint64) error {
	var b [1]byte
	if _, err := io.ReadFull(conn, b[:]); err != nil {
		return err
	}
	commit := b[0] != 0
	var err error
	if commit {
		err = c.TxCommit(sid)
	} else {
		err = c.TxRevert(sid)
	}
	if err := wire.WriteTag(conn, wire.RFinish); err != nil {
		return err
	}
	ok := byte(0)
	if err != nil {
		ok = 1
	}
	_, werr := conn.Write([]byte{ok})
	return werr
}

func (c *Coordinator) handleSync(conn net.Conn) error {
	volumeID, err := wire.ReadName(conn)
	if err != nil {
		return err
	}
	addr, err := wire.ReadAddr(conn)
	if err != nil {
		return err
	}
	var cnt [4]byte
	if _, err := io.ReadFull(conn, cnt[:]); err != nil {
		return err
	}
	n := binary.BigEndian.Uint32(cnt[:])
	held := make(map[string]uint64, n)
	for i := uint32(0); i < n; i++ {
		name, err := wire.ReadName(conn)
		if err != nil {
			return err
		}
		ver, err := wire.ReadSid(conn)
		if err != nil {
			return err
		}
		held[name] = ver
	}

	auth := c.TxVolumeSync(volumeID, addr, held)

	if err := wire.WriteTag(conn, wire.RSync); err != nil {
		return err
	}
	var outCnt [4]byte
	binary.BigEndian.PutUint32(outCnt[:], uint32(len(auth)))
	if _, err := conn.Write(outCnt[:]); err != nil {
		return err
	}
	for name, loc := range auth {
		if err := wire.WriteName(conn, name); err != nil {
			return err
		}
		if err := wire.WriteSid(conn, loc.Version); err != nil {
			return err
		}
		if err := wire.WriteName(conn, loc.VolumeID); err != nil {
			return err
		}
		if err := wire.WriteAddr(conn, loc.Addr); err != nil {
			return err
		}
	}
	return nil
}

func (c *Coordinator) handleSource(conn net.Conn) error {
	if err := wire.WriteTag(conn, wire.RSource); err != nil {
		return err
	}
	return wire.WriteChunk(conn, c.Source())
}
