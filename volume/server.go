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

package volume

import (
	"io"
	"log"
	"net"

	"github.com/tabuladb/tabula/wire"
)

// Serve accepts T_READ/T_WRITE requests from executors and peer
// volumes until ln is closed.
func (v *Volume) Serve(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go v.handle(conn)
	}
}

func (v *Volume) handle(conn net.Conn) {
	defer conn.Close()
	for {
		tag, err := wire.ReadTag(conn)
		if err != nil {
			return
		}
		switch tag {
		case wire.TRead:
			if err := v.handleRead(conn); err != nil {
				log.Printf("volume: vol_read: %v", err)
				return
			}
		case wire.TWrite:
			if err := v.handleWrite(conn); err != nil {
				log.Printf("volume: vol_write: %v", err)
				return
			}
		default:
			log.Printf("volume: unexpected tag %d", tag)
			return
		}
	}
}

func (v *Volume) handleRead(conn net.Conn) error {
	name, err := wire.ReadName(conn)
	if err != nil {
		return err
	}
	sid, err := wire.ReadSid(conn)
	if err != nil {
		return err
	}
	data, err := v.ReadFile(name, sid)
	if err != nil {
		return err
	}
	if err := wire.WriteTag(conn, wire.RRead); err != nil {
		return err
	}
	if err := wire.WriteChunk(conn, data); err != nil {
		return err
	}
	return wire.WriteEnd(conn)
}

func (v *Volume) handleWrite(conn net.Conn) error {
	name, err := wire.ReadName(conn)
	if err != nil {
		return err
	}
	sid, err := wire.ReadSid(conn)
	if err != nil {
		return err
	}
	data, ok, err := wire.ReadChunk(conn)
	if err != nil {
		return err
	}
	if !ok {
		return io.ErrUnexpectedEOF
	}
	if _, ok, err := wire.ReadChunk(conn); err != nil || ok {
		return err
	}
	if err := v.WriteFile(name, sid, data); err != nil {
		return err
	}
	return wire.WriteTag(conn, wire.RWrite)
}
