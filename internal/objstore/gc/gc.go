// Package gc implements the coalescing, single-runner garbage collector
// for the local object store (spec §4.F): at most one pass in flight,
// incoming schedule() calls for objects already queued or in progress
// coalesce onto that pass, individual file-removal failures are
// swallowed. The scheduled/wip swap and single-in-flight-task discipline
// is grounded on the teacher's batch processor
// (internal/batch/processor.go), generalized from "flush a batch of
// buffered writes" to "reclaim superseded version files for one object".
package gc

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/xspvault/xspcore/internal/objstore/objfiles"
	"github.com/xspvault/xspcore/pkg/objid"
)

// Collector is the garbage collector described in spec §4.F.
type Collector struct {
	manager *objfiles.ObjFiles

	mu        sync.Mutex
	cond      *sync.Cond
	scheduled map[objid.ID]*objfiles.LocalObj
	wip       map[objid.ID]*objfiles.LocalObj
	running   bool
}

// New builds a Collector that removes superseded version files and
// emptied object folders through manager.
func New(manager *objfiles.ObjFiles) *Collector {
	c := &Collector{
		manager:   manager,
		scheduled: make(map[objid.ID]*objfiles.LocalObj),
		wip:       make(map[objid.ID]*objfiles.LocalObj),
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Idle reports whether no pass is currently running and nothing is
// queued.
func (c *Collector) Idle() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.running && len(c.scheduled) == 0 && len(c.wip) == 0
}

// WaitIdle blocks until the collector has no pass running and nothing
// queued. Intended for tests and graceful-shutdown paths, not the hot
// path.
func (c *Collector) WaitIdle() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.running || len(c.scheduled) != 0 || len(c.wip) != 0 {
		c.cond.Wait()
	}
}

// Schedule adds obj to the incoming set and starts the single background
// task if none is already running (spec §4.F "Algorithm").
func (c *Collector) Schedule(obj *objfiles.LocalObj) {
	c.mu.Lock()
	c.scheduled[obj.ObjID()] = obj
	start := !c.running
	if start {
		c.running = true
	}
	c.mu.Unlock()

	if start {
		go c.run()
	}
}

func (c *Collector) run() {
	for {
		obj, ok := c.nextLocked()
		if !ok {
			return
		}
		c.collectOne(obj)
	}
}

// nextLocked pops the next object to process, swapping wip<->scheduled
// when wip has drained, and stops the runner once both sets are empty.
func (c *Collector) nextLocked() (*objfiles.LocalObj, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.wip) == 0 {
		c.wip, c.scheduled = c.scheduled, c.wip
	}
	if len(c.wip) == 0 {
		c.running = false
		c.cond.Broadcast()
		return nil, false
	}

	var id objid.ID
	var obj *objfiles.LocalObj
	for k, v := range c.wip {
		id, obj = k, v
		break
	}
	delete(c.wip, id)
	return obj, true
}

// collectOne computes the object's non-garbage set and either removes the
// whole folder (archived object with nothing left worth keeping) or
// removes individual superseded version files (spec §4.F).
func (c *Collector) collectOne(obj *objfiles.LocalObj) {
	st := obj.Status()
	ng := st.GetNonGarbageVersions()

	if st.Archived && len(ng.NonGarbage) == 0 {
		// Best-effort: a failure here just leaves the object scheduled
		// implicitly via any subsequent edit (spec §4.F guarantee iii).
		_ = c.manager.RemoveFolder(obj)
		return
	}

	entries, err := os.ReadDir(obj.Dir())
	if err != nil {
		return
	}
	for _, e := range entries {
		v, ok := objfiles.ParseLeadingVersion(e.Name())
		if !ok {
			continue
		}
		if ng.NonGarbage[v] {
			continue
		}
		if !ng.GCMaxVer.IsNone() && v >= ng.GCMaxVer {
			continue
		}
		_ = os.Remove(filepath.Join(obj.Dir(), e.Name()))
	}
}
