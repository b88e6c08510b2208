package objfiles

import (
	"io"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/xspvault/xspcore/internal/objstore/status"
	"github.com/xspvault/xspcore/internal/objstore/versionfile"
	"github.com/xspvault/xspcore/pkg/objid"
	"github.com/xspvault/xspcore/pkg/xerrors"
)

// GCScheduler is the subset of the garbage collector (component F) a
// LocalObj needs: schedule a GC pass after any status-changing edit.
type GCScheduler interface {
	Schedule(obj *LocalObj)
}

// VersionFileName returns the on-disk file name for a version number
// (spec §4.F: "parse leading integer of each name").
func VersionFileName(v objid.Version) string {
	return strconv.FormatUint(uint64(v), 10)
}

// ParseLeadingVersion extracts the version number that is the leading
// integer of a file name, as the garbage collector does when scanning an
// object folder. ok is false for names that don't start with a version
// number (e.g. the status or upsync file).
func ParseLeadingVersion(name string) (objid.Version, bool) {
	i := 0
	for i < len(name) && name[i] >= '0' && name[i] <= '9' {
		i++
	}
	if i == 0 {
		return 0, false
	}
	n, err := strconv.ParseUint(name[:i], 10, 64)
	if err != nil {
		return 0, false
	}
	return objid.Version(n), true
}

// LocalObj is the cached, per-object handle ObjFiles.Find resolves to: a
// folder, its status record, and a small cache of open version-file
// readers (spec §4.E).
type LocalObj struct {
	mu sync.Mutex

	objID      objid.ID
	dir        string
	statusPath string

	status  *status.Status
	readers map[objid.Version]*versionSource

	gc GCScheduler
}

func newLocalObj(id objid.ID, dir string, st *status.Status, gc GCScheduler) *LocalObj {
	return &LocalObj{
		objID:      id,
		dir:        dir,
		statusPath: filepath.Join(dir, status.FileName),
		status:     st,
		readers:    make(map[objid.Version]*versionSource),
		gc:         gc,
	}
}

// ObjID returns the object id this handle was resolved for.
func (o *LocalObj) ObjID() objid.ID { return o.objID }

// Dir returns the object's folder path.
func (o *LocalObj) Dir() string { return o.dir }

// Status returns the object's live status record, not a copy.
func (o *LocalObj) Status() *status.Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

func (o *LocalObj) versionPath(v objid.Version) string {
	return filepath.Join(o.dir, VersionFileName(v))
}

// GetSrc opens (and caches per version) a read-only source over the given
// version's bytes.
func (o *LocalObj) GetSrc(v objid.Version) (ByteSource, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if src, ok := o.readers[v]; ok {
		return src, nil
	}
	h, err := versionfile.OpenExisting(o.versionPath(v))
	if err != nil {
		return nil, err
	}
	src := newVersionSource(h)
	o.readers[v] = src
	return src, nil
}

// SaveNewVersion writes a brand-new version file from encBytes, then
// updates status's current_version and schedules GC (spec §4.E). baseOf
// is objid.None when the new version has no base. Failures roll back the
// cached version entry so a retried save starts clean.
func (o *LocalObj) SaveNewVersion(v objid.Version, baseOf objid.Version, encBytes io.Reader) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	path := o.versionPath(v)
	h, err := versionfile.CreateNew(path)
	if err != nil {
		return err
	}
	if err := streamIntoSegments(h, encBytes); err != nil {
		h.RemoveFile()
		return err
	}
	if err := h.MarkComplete(); err != nil {
		h.RemoveFile()
		return err
	}

	prevCurrent := o.status.CurrentVersion
	prevBase := o.status.BaseOfCurrent
	o.status.SetNewCurrentVersion(v, baseOf)
	if err := o.status.Save(); err != nil {
		o.status.SetNewCurrentVersion(prevCurrent, prevBase)
		h.RemoveFile()
		return err
	}

	h.Close()
	if o.gc != nil {
		o.gc.Schedule(o)
	}
	return nil
}

func streamIntoSegments(h *versionfile.Handle, r io.Reader) error {
	buf := make([]byte, 64*1024)
	var offset uint64
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if werr := h.SaveSegs(versionfile.SegWrite{
				Data:          append([]byte(nil), buf[:n]...),
				ThisVerOffset: offset,
			}, false); werr != nil {
				return werr
			}
			offset += uint64(n)
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return xerrors.ObjFileParsing(h.Path(), "reading encrypted byte stream").WithCause(err)
		}
	}
}

// RemoveCurrentVersion clears status's current version and schedules GC.
func (o *LocalObj) RemoveCurrentVersion() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.status.RemoveCurrentVersion(o.openVersionsLocked())
	if err := o.status.Save(); err != nil {
		return err
	}
	if o.gc != nil {
		o.gc.Schedule(o)
	}
	return nil
}

// RemoveArchivedVersion removes v from the archived set and schedules GC.
func (o *LocalObj) RemoveArchivedVersion(v objid.Version) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.status.RemoveArchivedVersion(v, o.openVersionsLocked())
	if err := o.status.Save(); err != nil {
		return err
	}
	if o.gc != nil {
		o.gc.Schedule(o)
	}
	return nil
}

func (o *LocalObj) openVersionsLocked() map[objid.Version]bool {
	out := make(map[objid.Version]bool, len(o.readers))
	for v := range o.readers {
		out[v] = true
	}
	return out
}

// closeReaders releases every cached version-file reader, used when the
// object's folder is being removed by GC.
func (o *LocalObj) closeReaders() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for v, src := range o.readers {
		src.h.Close()
		delete(o.readers, v)
	}
}
