package gc

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/xspvault/xspcore/internal/objstore/folders"
	"github.com/xspvault/xspcore/internal/objstore/objfiles"
	"github.com/xspvault/xspcore/pkg/objid"
)

func newTestSetup(t *testing.T) (*objfiles.ObjFiles, *Collector) {
	t.Helper()
	root := t.TempDir()
	alloc := folders.NewAllocator(root, folders.Config{NumOfSplits: 2, CharsInSplit: 2, NonceByteLen: 24})
	// The collector needs the manager, and the manager needs the
	// collector as its GCScheduler — tie the knot via a thin indirection.
	holder := &schedulerHolder{}
	m := objfiles.NewObjFiles(alloc, holder, 0)
	c := New(m)
	holder.c = c
	return m, c
}

// schedulerHolder breaks the ObjFiles<->Collector construction cycle: the
// manager is built first with a holder implementing GCScheduler, then the
// real Collector (which needs the manager) is assigned into it.
type schedulerHolder struct {
	c *Collector
}

func (h *schedulerHolder) Schedule(obj *objfiles.LocalObj) {
	if h.c != nil {
		h.c.Schedule(obj)
	}
}

func TestGCRemovesSupersededVersions(t *testing.T) {
	t.Parallel()
	m, c := newTestSetup(t)
	id := objid.ID("abcdefghij")

	if _, err := m.SaveFirstVersion(id, bytes.NewReader([]byte("v1"))); err != nil {
		t.Fatalf("SaveFirstVersion: %v", err)
	}
	obj, err := m.Find(id)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	// Versions 2-4 are each saved self-contained (no base reference); only
	// the final version keeps a base link to its predecessor, so the
	// non-garbage set should end up as exactly {4, 5}.
	for v := objid.Version(2); v <= 4; v++ {
		if err := obj.SaveNewVersion(v, objid.None, bytes.NewReader([]byte("content"))); err != nil {
			t.Fatalf("SaveNewVersion(%d): %v", v, err)
		}
	}
	if err := obj.SaveNewVersion(objid.Version(5), objid.Version(4), bytes.NewReader([]byte("content"))); err != nil {
		t.Fatalf("SaveNewVersion(5): %v", err)
	}
	c.WaitIdle()

	entries, err := os.ReadDir(obj.Dir())
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	kept := map[objid.Version]bool{}
	for _, e := range entries {
		if v, ok := objfiles.ParseLeadingVersion(e.Name()); ok {
			kept[v] = true
		}
	}
	// Only current (5) and its base (4) should survive; 1..3 are garbage.
	if !kept[5] || !kept[4] {
		t.Errorf("expected versions 4 and 5 to survive, kept=%v", kept)
	}
	if kept[1] || kept[2] || kept[3] {
		t.Errorf("expected versions 1-3 to be collected, kept=%v", kept)
	}
}

func TestGCRemovesArchivedEmptyObject(t *testing.T) {
	t.Parallel()
	m, c := newTestSetup(t)
	id := objid.ID("abcdefghij")

	if _, err := m.SaveFirstVersion(id, bytes.NewReader([]byte("v1"))); err != nil {
		t.Fatalf("SaveFirstVersion: %v", err)
	}
	obj, err := m.Find(id)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}

	dir := obj.Dir()
	st := obj.Status()
	st.ArchiveCurrent()
	st.RemoveArchivedVersion(objid.Version(1), nil)
	if err := st.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	c.Schedule(obj)
	c.WaitIdle()

	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("expected folder to be removed, stat err = %v", err)
	}
	if _, err := m.Find(id); err == nil {
		t.Fatal("expected object to be evicted from cache after folder removal")
	}
}

func TestGCSwallowsUnlinkFailures(t *testing.T) {
	t.Parallel()
	m, c := newTestSetup(t)
	id := objid.ID("abcdefghij")
	if _, err := m.SaveFirstVersion(id, bytes.NewReader([]byte("v1"))); err != nil {
		t.Fatalf("SaveFirstVersion: %v", err)
	}
	obj, err := m.Find(id)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if err := obj.SaveNewVersion(objid.Version(2), objid.None, bytes.NewReader([]byte("v2"))); err != nil {
		t.Fatalf("SaveNewVersion: %v", err)
	}

	// Remove version 1's file out from under the collector before it
	// runs, simulating an unlink race; the pass must not panic or hang.
	_ = os.Remove(filepath.Join(obj.Dir(), objfiles.VersionFileName(objid.Version(1))))

	c.Schedule(obj)
	c.WaitIdle()
}
