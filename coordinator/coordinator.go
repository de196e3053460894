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

// Package coordinator implements the multi-version, multi-reader /
// single-writer transaction scheduler: it assigns monotonic versions
// to writes, orders conflicting writers, and tells executors which
// volume to read each resolved version from.
//
// There is exactly one coordinator; its state lives entirely in the
// Coordinator struct returned by New, never in package globals, so a
// process can run (and a test can construct) more than one.
package coordinator

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Action distinguishes a read intent from a write intent on a variable.
type Action int

const (
	Read Action = iota
	Write
)

// State is an entry's place in its lifecycle.
type State int

const (
	Runnable State = iota
	Waiting
	Committed
	Reverted
)

// Entry is the coordinator's per-variable record of one transaction's
// intent, per §4.8.
type Entry struct {
	Sid           uint64
	Name          string
	Action        Action
	Version       uint64
	State         State
	WriteVolumeID string

	mon *sync.Cond
}

// volumeView is the coordinator's view of one registered volume: its
// address (for "closest" selection) and the (name, version) set it
// reported holding as of the last tx_volume_sync.
type volumeView struct {
	id   string
	addr string
	vars map[string]uint64
}

// Coordinator is the transaction scheduler described by §4.8. All
// fields are guarded by mu except where noted; mu is the coordinator's
// single global lock, matching the one-mutex design the source uses
// for entries/volumes/lastSid/state-file writes.
type Coordinator struct {
	mu sync.Mutex

	gvars map[string]bool

	entries []*Entry

	volOrder []string // registration order, used to break "closest" ties deterministically
	volumes  map[string]*volumeView

	lastSid uint64

	source []byte

	stateFile string
	backupFile string
}

// ReadResolution is what tx_enter resolves for one read-set variable:
// the version to read and the volume to read it from.
type ReadResolution struct {
	Version  uint64
	VolumeID string
	Addr     string
}

// WriteResolution is what tx_enter resolves for one write-set
// variable: the volume to write the new version to.
type WriteResolution struct {
	VolumeID string
	Addr     string
}

// New constructs a Coordinator for the given program source and
// variable names, loading sid state from stateFile (see state.go).
func New(source []byte, varNames []string, stateFile string) (*Coordinator, error) {
	c := &Coordinator{
		gvars:      make(map[string]bool, len(varNames)),
		volumes:    make(map[string]*volumeView),
		source:     source,
		stateFile:  stateFile,
		backupFile: stateFile + ".backup",
	}
	for _, n := range varNames {
		c.gvars[n] = true
	}
	if err := c.loadState(); err != nil {
		return nil, fmt.Errorf("coordinator: %w", err)
	}
	return c, nil
}

// Source returns the program bytes served to executors on attach.
func (c *Coordinator) Source() []byte { return c.source }

// RegisterVolume adds or updates a volume's known address. It does
// not change the volume's held-version set; that only changes via
// TxVolumeSync.
func (c *Coordinator) RegisterVolume(id, addr string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.volumes[id]
	if !ok {
		v = &volumeView{id: id, vars: make(map[string]uint64)}
		c.volumes[id] = v
		c.volOrder = append(c.volOrder, id)
	}
	v.addr = addr
}

// closestVolume picks the volume "closest" to reqAddr among those for
// which ok(v) holds: same host before any other, ties broken by
// registration order.
func (c *Coordinator) closestVolume(reqAddr string, ok func(*volumeView) bool) (string, bool) {
	reqHost := hostOf(reqAddr)
	best := ""
	bestSameHost := false
	found := false
	for _, id := range c.volOrder {
		v := c.volumes[id]
		if !ok(v) {
			continue
		}
		sameHost := hostOf(v.addr) == reqHost && reqHost != ""
		if !found {
			best, bestSameHost, found = id, sameHost, true
			continue
		}
		if sameHost && !bestSameHost {
			best, bestSameHost = id, true
		}
	}
	return best, found
}

func hostOf(addr string) string {
	if i := strings.LastIndexByte(addr, ':'); i >= 0 {
		return addr[:i]
	}
	return addr
}

// TxEnter implements tx_enter: it assigns a sid, records read/write
// intents, blocks the calling goroutine on any entry the scheduler
// marks WAITING, and returns the resolved read versions/volumes and
// write volumes once every entry for this sid is RUNNABLE.
func (c *Coordinator) TxEnter(executorAddr string, readSet, writeSet []string) (sid uint64, reads map[string]ReadResolution, writes map[string]WriteResolution, err error) {
	c.mu.Lock()
	c.lastSid++
	sid = c.lastSid

	writeEntries := make([]*Entry, 0, len(writeSet))
	for _, w := range writeSet {
		if !c.gvars[w] {
			c.mu.Unlock()
			return 0, nil, nil, fmt.Errorf("coordinator: unknown variable %q", w)
		}
		st := Runnable
		if c.hasRunnableWriter(w) {
			st = Waiting
		}
		e := &Entry{Sid: sid, Name: w, Action: Write, Version: sid, State: st, mon: sync.NewCond(&c.mu)}
		wvid, ok := c.closestVolume(executorAddr, func(*volumeView) bool { return true })
		if ok {
			e.WriteVolumeID = wvid
		}
		c.entries = append(c.entries, e)
		writeEntries = append(writeEntries, e)
	}

	writesByName := make(map[string]bool, len(writeSet))
	for _, w := range writeSet {
		writesByName[w] = true
	}

	readEntries := make([]*Entry, 0, len(readSet))
	for _, r := range readSet {
		if !c.gvars[r] {
			c.mu.Unlock()
			return 0, nil, nil, fmt.Errorf("coordinator: unknown variable %q", r)
		}
		rv := c.latestCommittedBefore(r, sid)
		st := Runnable
		if writesByName[r] && c.hasRunnableWriter(r) {
			st = Waiting
		}
		e := &Entry{Sid: sid, Name: r, Action: Read, Version: rv, State: st, mon: sync.NewCond(&c.mu)}
		c.entries = append(c.entries, e)
		readEntries = append(readEntries, e)
	}
	c.mu.Unlock()

	all := append(append([]*Entry{}, writeEntries...), readEntries...)
	c.mu.Lock()
	for _, e := range all {
		for e.State == Waiting {
			e.mon.Wait()
		}
	}
	reads = make(map[string]ReadResolution, len(readEntries))
	for _, e := range readEntries {
		vid, ok := c.closestVolume(executorAddr, func(v *volumeView) bool {
			ver, held := v.vars[e.Name]
			return held && ver == e.Version
		})
		if !ok {
			c.mu.Unlock()
			return 0, nil, nil, fmt.Errorf("coordinator: no volume holds %s@%d", e.Name, e.Version)
		}
		reads[e.Name] = ReadResolution{Version: e.Version, VolumeID: vid, Addr: c.volumes[vid].addr}
	}
	writes = make(map[string]WriteResolution, len(writeEntries))
	for _, e := range writeEntries {
		addr := ""
		if v, ok := c.volumes[e.WriteVolumeID]; ok {
			addr = v.addr
		}
		writes[e.Name] = WriteResolution{VolumeID: e.WriteVolumeID, Addr: addr}
	}
	c.mu.Unlock()
	return sid, reads, writes, nil
}

// hasRunnableWriter reports whether some entry other than the one
// about to be inserted is a RUNNABLE write on name. Caller holds mu.
func (c *Coordinator) hasRunnableWriter(name string) bool {
	for _, e := range c.entries {
		if e.Name == name && e.Action == Write && e.State == Runnable {
			return true
		}
	}
	return false
}

// latestCommittedBefore returns the version of the most recent
// COMMITTED write on name with sid strictly less than beforeSid.
// Caller holds mu.
func (c *Coordinator) latestCommittedBefore(name string, beforeSid uint64) uint64 {
	var best uint64
	for _, e := range c.entries {
		if e.Name == name && e.Action == Write && e.State == Committed && e.Sid < beforeSid {
			if e.Version > best {
				best = e.Version
			}
		}
	}
	return best
}

// finish implements the shared tail of tx_commit/tx_revert: flip every
// entry for sid to the target state, wake blocked waiters, garbage
// collect, and persist.
func (c *Coordinator) finish(sid uint64, target State) error {
	c.mu.Lock()

	var toWake []*Entry
	for _, e := range c.entries {
		if e.Sid != sid {
			continue
		}
		wasRunnableWrite := e.Action == Write && e.State == Runnable
		e.State = target

		if wasRunnableWrite {
			if target == Committed {
				if v, ok := c.volumes[e.WriteVolumeID]; ok {
					v.vars[e.Name] = e.Version
				}
			}
			readVersion := e.Version
			if target == Reverted {
				readVersion = c.latestCommittedBefore(e.Name, sid)
			}
			var nextWriter *Entry
			for _, cand := range c.entries {
				if cand.Name == e.Name && cand.Action == Write && cand.State == Waiting {
					if nextWriter == nil || cand.Sid < nextWriter.Sid {
						nextWriter = cand
					}
				}
			}
			if nextWriter != nil {
				nextWriter.State = Runnable
				toWake = append(toWake, nextWriter)
				for _, cand := range c.entries {
					if cand.Name == e.Name && cand.Action == Read && cand.State == Waiting && cand.Sid <= nextWriter.Sid {
						cand.Version = readVersion
						cand.State = Runnable
						toWake = append(toWake, cand)
					}
				}
			} else {
				for _, cand := range c.entries {
					if cand.Name == e.Name && cand.Action == Read && cand.State == Waiting {
						cand.Version = readVersion
						cand.State = Runnable
						toWake = append(toWake, cand)
					}
				}
			}
		}
	}

	if err := c.saveStateLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	c.gcLocked()

	c.mu.Unlock()
	for _, e := range toWake {
		e.mon.Signal()
	}
	return nil
}

// TxCommit implements tx_commit.
func (c *Coordinator) TxCommit(sid uint64) error { return c.finish(sid, Committed) }

// TxRevert implements tx_revert. It is also the coordinator's sole
// rollback mechanism for a dropped executor connection: the
// connection handler calls this when it sees a read error on a
// session with a non-zero sid.
func (c *Coordinator) TxRevert(sid uint64) error { return c.finish(sid, Reverted) }

// gcLocked removes entries no longer needed per §4.8's rule: a
// WRITE/COMMITTED entry is removable iff it is not the latest
// committed write for its variable and no RUNNABLE READ references
// its version; READ/COMMITTED and REVERTED entries are always
// removable. Caller holds mu.
func (c *Coordinator) gcLocked() {
	latest := make(map[string]uint64)
	for _, e := range c.entries {
		if e.Action == Write && e.State == Committed && e.Version > latest[e.Name] {
			latest[e.Name] = e.Version
		}
	}
	referenced := make(map[string]map[uint64]bool)
	for _, e := range c.entries {
		if e.Action == Read && e.State == Runnable {
			if referenced[e.Name] == nil {
				referenced[e.Name] = make(map[uint64]bool)
			}
			referenced[e.Name][e.Version] = true
		}
	}
	kept := c.entries[:0]
	for _, e := range c.entries {
		switch {
		case e.Action == Read && e.State == Committed:
		case e.State == Reverted:
		case e.Action == Write && e.State == Committed && e.Version != latest[e.Name] && !referenced[e.Name][e.Version]:
		default:
			kept = append(kept, e)
			continue
		}
	}
	c.entries = kept
}

// VersionLoc is one entry of the coordinator's authoritative set, as
// returned by TxVolumeSync: the committed version of a variable and
// the volume a puller should fetch it from.
type VersionLoc struct {
	Version  uint64
	VolumeID string
	Addr     string
}

// TxVolumeSync implements tx_volume_sync: replace the coordinator's
// view of volumeID's held set, and return the coordinator's current
// authoritative committed-write set with owning volumes resolved.
func (c *Coordinator) TxVolumeSync(volumeID, addr string, locallyHeld map[string]uint64) map[string]VersionLoc {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.volumes[volumeID]
	if !ok {
		v = &volumeView{id: volumeID}
		c.volumes[volumeID] = v
		c.volOrder = append(c.volOrder, volumeID)
	}
	v.addr = addr
	v.vars = make(map[string]uint64, len(locallyHeld))
	for n, ver := range locallyHeld {
		v.vars[n] = ver
	}

	latest := make(map[string]uint64)
	for _, e := range c.entries {
		if e.Action == Write && e.State == Committed && e.Version > latest[e.Name] {
			latest[e.Name] = e.Version
		}
	}
	out := make(map[string]VersionLoc, len(latest))
	for name, ver := range latest {
		var owner *volumeView
		for _, id := range c.volOrder {
			cand := c.volumes[id]
			if cand.vars[name] == ver {
				owner = cand
				break
			}
		}
		if owner != nil {
			out[name] = VersionLoc{Version: ver, VolumeID: owner.id, Addr: owner.addr}
		} else {
			out[name] = VersionLoc{Version: ver}
		}
	}
	return out
}

// DebugEntries returns a stable-ordered snapshot of current entries,
// for diagnostics and tests.
func (c *Coordinator) DebugEntries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Entry, len(c.entries))
	for i, e := range c.entries {
		out[i] = *e
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Sid != out[j].Sid {
			return out[i].Sid < out[j].Sid
		}
		return out[i].Name < out[j].Name
	})
	return out
}
