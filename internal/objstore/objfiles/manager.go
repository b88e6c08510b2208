package objfiles

import (
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/xspvault/xspcore/internal/objstore/folders"
	"github.com/xspvault/xspcore/internal/objstore/status"
	"github.com/xspvault/xspcore/internal/objstore/versionfile"
	"github.com/xspvault/xspcore/pkg/objid"
	"github.com/xspvault/xspcore/pkg/xerrors"
)

// DefaultIdleWindow is the cache eviction interval spec §4.E gives as "on
// the order of a minute".
const DefaultIdleWindow = 60 * time.Second

type cacheEntry struct {
	obj      *LocalObj
	lastUsed time.Time
}

// resolution is an in-flight Find() result shared by every caller racing
// to resolve the same object id, the same coalescing idiom the teacher's
// LRU cache uses for duplicate concurrent loads (internal/cache/lru.go).
type resolution struct {
	done chan struct{}
	obj  *LocalObj
	err  error
}

// ObjFiles is the per-namespace manager described in spec §4.E: a
// time-windowed LocalObj cache plus per-object-id serialization guarding
// folder access.
type ObjFiles struct {
	alloc      *folders.Allocator
	gc         GCScheduler
	idleWindow time.Duration

	mu       sync.Mutex
	cache    map[objid.ID]*cacheEntry
	inflight map[objid.ID]*resolution
	idLocks  sync.Map // map[objid.ID]*sync.Mutex
}

// NewObjFiles builds a manager over alloc, scheduling GC passes (if gc is
// non-nil) on every version/status mutation.
func NewObjFiles(alloc *folders.Allocator, gc GCScheduler, idleWindow time.Duration) *ObjFiles {
	if idleWindow <= 0 {
		idleWindow = DefaultIdleWindow
	}
	return &ObjFiles{
		alloc:      alloc,
		gc:         gc,
		idleWindow: idleWindow,
		cache:      make(map[objid.ID]*cacheEntry),
		inflight:   make(map[objid.ID]*resolution),
	}
}

func (m *ObjFiles) lockFor(id objid.ID) func() {
	v, _ := m.idLocks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Find resolves obj_id to a LocalObj, consulting the cache first;
// concurrent Find calls for the same id in flight coalesce onto the same
// resolution (spec §4.E "Cache semantics").
func (m *ObjFiles) Find(id objid.ID) (*LocalObj, error) {
	m.mu.Lock()
	if entry, ok := m.cache[id]; ok {
		entry.lastUsed = time.Now()
		m.mu.Unlock()
		return entry.obj, nil
	}
	if fut, ok := m.inflight[id]; ok {
		m.mu.Unlock()
		<-fut.done
		return fut.obj, fut.err
	}
	fut := &resolution{done: make(chan struct{})}
	m.inflight[id] = fut
	m.mu.Unlock()

	obj, err := m.resolve(id)
	fut.obj, fut.err = obj, err
	close(fut.done)

	m.mu.Lock()
	delete(m.inflight, id)
	if err == nil {
		m.cache[id] = &cacheEntry{obj: obj, lastUsed: time.Now()}
	}
	m.mu.Unlock()
	return obj, err
}

func (m *ObjFiles) resolve(id objid.ID) (*LocalObj, error) {
	unlock := m.lockFor(id)
	defer unlock()

	dir, err := m.alloc.FolderFor(id, false)
	if err != nil {
		return nil, err
	}
	st, err := status.ReadFrom(filepath.Join(dir, status.FileName))
	if err != nil {
		return nil, err
	}
	return newLocalObj(id, dir, st, m.gc), nil
}

// SaveFirstVersion writes version 1 from encBytes into the object's folder,
// creating the folder if it is missing. If the folder already holds a status
// record it fails with an already-exists error and leaves the existing
// object untouched; on any later failure the folder and cache entry are
// removed (spec §4.E).
func (m *ObjFiles) SaveFirstVersion(id objid.ID, encBytes io.Reader) (*LocalObj, error) {
	unlock := m.lockFor(id)
	defer unlock()

	dir, err := m.alloc.FolderFor(id, true)
	if err != nil {
		return nil, err
	}
	if _, err := status.ReadFrom(filepath.Join(dir, status.FileName)); err == nil {
		return nil, xerrors.AlreadyExists(xerrors.KindStorage, dir)
	}

	cleanup := func() {
		m.alloc.RemoveFolder(id)
		m.mu.Lock()
		delete(m.cache, id)
		m.mu.Unlock()
	}

	st := status.MakeNew(filepath.Join(dir, status.FileName))
	obj := newLocalObj(id, dir, st, m.gc)

	h, err := versionfile.CreateNew(obj.versionPath(objid.Version(1)))
	if err != nil {
		cleanup()
		return nil, err
	}
	if err := streamIntoSegments(h, encBytes); err != nil {
		h.RemoveFile()
		cleanup()
		return nil, err
	}
	if err := h.MarkComplete(); err != nil {
		h.RemoveFile()
		cleanup()
		return nil, err
	}
	h.Close()

	if err := st.Save(); err != nil {
		cleanup()
		return nil, err
	}

	m.mu.Lock()
	m.cache[id] = &cacheEntry{obj: obj, lastUsed: time.Now()}
	m.mu.Unlock()
	return obj, nil
}

// EvictIdle removes cache entries that have been idle for longer than the
// manager's idle window. Callers run this periodically (spec §4.E:
// "entries evicted after an idle interval").
func (m *ObjFiles) EvictIdle(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, entry := range m.cache {
		if now.Sub(entry.lastUsed) >= m.idleWindow {
			delete(m.cache, id)
		}
	}
}

// Evict removes a single object from the cache immediately (used by GC
// after it deletes an archived object's folder).
func (m *ObjFiles) Evict(id objid.ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cache, id)
}

// RemoveFolder deletes the object's folder and evicts it from the cache,
// closing any open version readers first.
func (m *ObjFiles) RemoveFolder(obj *LocalObj) error {
	obj.closeReaders()
	if err := m.alloc.RemoveFolder(obj.objID); err != nil {
		return xerrors.New(xerrors.KindStorage, xerrors.CodeNotFound, "remove object folder").
			WithCause(err)
	}
	m.Evict(obj.objID)
	return nil
}
