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

// Package volume implements a storage volume: a directory of
// committed, versioned relation files kept in sync with the
// coordinator's authoritative set, and served to executors and peer
// volumes over the chunked wire protocol.
package volume

import (
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/s2"

	"github.com/tabuladb/tabula/coordinator"
	"github.com/tabuladb/tabula/env"
	"github.com/tabuladb/tabula/wire"
)

// SyncInterval is how often the sync loop reconciles against the
// coordinator, per §4.9.
const SyncInterval = 30 * time.Second

var fileRe = regexp.MustCompile(`^(.+)-([0-9A-F]{16})$`)

// Volume owns a directory of committed variable version files.
type Volume struct {
	ID        string
	Addr      string
	Dir       string
	CoordAddr string

	mu sync.Mutex // serializes writes against concurrent sync deletes on the same name
}

// Open prepares dir for use: partial (.part) files left behind by a
// prior run are deleted, since only a whole, renamed file is ever
// considered valid.
func Open(id, addr, dir, coordAddr string) (*Volume, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("volume: %w", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("volume: %w", err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".part") {
			os.Remove(filepath.Join(dir, e.Name()))
		}
	}
	return &Volume{ID: id, Addr: addr, Dir: dir, CoordAddr: coordAddr}, nil
}

// IDFromDir returns the volume identity persisted at dir/.id, creating
// one the first time a volume is opened against that directory so its
// identity survives a restart instead of changing on every run.
func IDFromDir(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("volume: %w", err)
	}
	path := filepath.Join(dir, ".id")
	b, err := os.ReadFile(path)
	if err == nil {
		return strings.TrimSpace(string(b)), nil
	}
	if !os.IsNotExist(err) {
		return "", fmt.Errorf("volume: reading .id: %w", err)
	}
	id := uuid.NewString()
	if err := os.WriteFile(path, []byte(id), 0o644); err != nil {
		return "", fmt.Errorf("volume: writing .id: %w", err)
	}
	return id, nil
}

// CheckCompat refuses startup if the volume's last-known program
// (persisted in .source at the volume root) is incompatible with the
// coordinator's current program. A volume with no .source file yet
// (first run) always passes.
func (v *Volume) CheckCompat(coordSource []byte) error {
	path := filepath.Join(v.Dir, ".source")
	old, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return os.WriteFile(path, coordSource, 0o644)
	}
	if err != nil {
		return fmt.Errorf("volume: reading .source: %w", err)
	}
	oldEnv, err := env.Load(old)
	if err != nil {
		return fmt.Errorf("volume: parsing stored .source: %w", err)
	}
	newEnv, err := env.Load(coordSource)
	if err != nil {
		return fmt.Errorf("volume: parsing coordinator source: %w", err)
	}
	if !env.Compat(oldEnv, newEnv) {
		return fmt.Errorf("volume: stored program incompatible with coordinator's current program")
	}
	return os.WriteFile(path, coordSource, 0o644)
}

// Bootstrap materializes an empty version-1 file for every declared
// variable not already present on disk, mirroring vol_init's creation
// of a fresh file per gvar at startup. Version 1 is the synthetic
// committed write the coordinator records for a variable with no
// committed write yet, so a freshly booted system resolves reads of an
// untouched variable instead of leaving it permanently unmaterialized.
func (v *Volume) Bootstrap(varNames []string) error {
	local, err := v.LocalSet()
	if err != nil {
		return err
	}
	for _, name := range varNames {
		if _, ok := local[name]; ok {
			continue
		}
		if err := v.WriteFile(name, 1, nil); err != nil {
			return fmt.Errorf("volume: bootstrapping %s: %w", name, err)
		}
	}
	return nil
}

func versionPath(dir, name string, sid uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%s-%016X", name, sid))
}

// LocalSet lists the directory and returns the (name, version) set
// held on disk.
func (v *Volume) LocalSet() (map[string]uint64, error) {
	entries, err := os.ReadDir(v.Dir)
	if err != nil {
		return nil, err
	}
	out := make(map[string]uint64)
	for _, e := range entries {
		m := fileRe.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		sid, err := strconv.ParseUint(m[2], 16, 64)
		if err != nil {
			continue
		}
		out[m[1]] = sid
	}
	return out, nil
}

// ReadFile returns the framed tuple-buffer bytes for a committed
// version, transparently decompressing the s2 block it is stored as.
func (v *Volume) ReadFile(name string, sid uint64) ([]byte, error) {
	raw, err := os.ReadFile(versionPath(v.Dir, name, sid))
	if err != nil {
		return nil, err
	}
	return s2.Decode(nil, raw)
}

// WriteFile atomically stores a committed version: data is s2-compressed
// and written to a .part file, renamed into place only once the write
// completes, so a reader never observes a partial file.
func (v *Volume) WriteFile(name string, sid uint64, data []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	final := versionPath(v.Dir, name, sid)
	part := final + ".part"
	packed := s2.Encode(nil, data)
	if err := os.WriteFile(part, packed, 0o644); err != nil {
		return err
	}
	return os.Rename(part, final)
}

// deleteFile removes a version no longer in the authoritative set.
func (v *Volume) deleteFile(name string, sid uint64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	err := os.Remove(versionPath(v.Dir, name, sid))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// SyncOnce performs one round of §4.9's sync loop: report the local
// set to the coordinator, pull any authoritative version missing
// locally from whichever volume holds it, and delete any local file
// no longer in the authoritative set.
func (v *Volume) SyncOnce() error {
	local, err := v.LocalSet()
	if err != nil {
		return err
	}
	auth, err := coordinator.VolumeSync(v.CoordAddr, v.ID, v.Addr, local)
	if err != nil {
		return err
	}
	for name, loc := range auth {
		if cur, ok := local[name]; ok && cur == loc.Version {
			continue
		}
		if loc.VolumeID == "" || loc.VolumeID == v.ID {
			continue
		}
		data, err := v.pull(loc.Addr, name, loc.Version)
		if err != nil {
			log.Printf("volume: pull %s@%d from %s: %v", name, loc.Version, loc.Addr, err)
			continue
		}
		if err := v.WriteFile(name, loc.Version, data); err != nil {
			log.Printf("volume: storing %s@%d: %v", name, loc.Version, err)
		}
	}
	for name, sid := range local {
		loc, ok := auth[name]
		if !ok || loc.Version != sid {
			if err := v.deleteFile(name, sid); err != nil {
				log.Printf("volume: deleting stale %s@%d: %v", name, sid, err)
			}
		}
	}
	return nil
}

// SyncLoop runs SyncOnce immediately and then on SyncInterval forever,
// logging (rather than dying on) transient errors, until stop is
// closed.
func (v *Volume) SyncLoop(stop <-chan struct{}) {
	if err := v.SyncOnce(); err != nil {
		log.Printf("volume: initial sync: %v", err)
	}
	t := time.NewTicker(SyncInterval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			if err := v.SyncOnce(); err != nil {
				log.Printf("volume: sync: %v", err)
			}
		}
	}
}

// pull dials a peer volume and performs a T_READ/R_READ exchange.
func (v *Volume) pull(addr, name string, sid uint64) ([]byte, error) {
	return ReadRemote(addr, name, sid)
}

// ReadRemote performs vol_read against any volume listening at addr:
// a T_READ/R_READ exchange. Used both by peer volumes pulling a
// missing version and by executor processors reading a function's
// read-set variables.
func ReadRemote(addr, name string, sid uint64) ([]byte, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	if err := wire.WriteTag(conn, wire.TRead); err != nil {
		return nil, err
	}
	if err := wire.WriteName(conn, name); err != nil {
		return nil, err
	}
	if err := wire.WriteSid(conn, sid); err != nil {
		return nil, err
	}
	tag, err := wire.ReadTag(conn)
	if err != nil {
		return nil, err
	}
	if tag != wire.RRead {
		return nil, fmt.Errorf("volume: unexpected reply tag %d", tag)
	}
	data, ok, err := wire.ReadChunk(conn)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("volume: missing payload, discarding transfer")
	}
	// drain the terminator sentinel
	if _, ok, err := wire.ReadChunk(conn); err != nil || ok {
		return nil, fmt.Errorf("volume: transfer not terminated cleanly: %w", err)
	}
	return data, nil
}

// WriteRemote performs vol_write against the volume listening at
// addr: a T_WRITE/R_WRITE exchange streaming data for (name, sid).
func WriteRemote(addr, name string, sid uint64, data []byte) error {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := wire.WriteTag(conn, wire.TWrite); err != nil {
		return err
	}
	if err := wire.WriteName(conn, name); err != nil {
		return err
	}
	if err := wire.WriteSid(conn, sid); err != nil {
		return err
	}
	if err := wire.WriteChunk(conn, data); err != nil {
		return err
	}
	if err := wire.WriteEnd(conn); err != nil {
		return err
	}
	tag, err := wire.ReadTag(conn)
	if err != nil {
		return err
	}
	if tag != wire.RWrite {
		return fmt.Errorf("volume: unexpected reply tag %d", tag)
	}
	return nil
}
