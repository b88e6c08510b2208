package capabilities

import (
	"context"

	"github.com/xspvault/xspcore/internal/ipc/client"
	"github.com/xspvault/xspcore/internal/ipc/service"
	"github.com/xspvault/xspcore/pkg/xerrors"
)

// FileInfo mirrors the stat shape a filesystem capability exchanges over
// the wire — narrowed from the teacher's filesystem.FileInfo to the
// fields this store can actually report (no POSIX mode bits, since
// there's no FUSE mount in this spec; see DESIGN.md's dropped-dependency
// note on go-fuse/cgofuse).
type FileInfo struct {
	ObjID           string `json:"objId"`
	CurrentVersion  uint64 `json:"currentVersion,omitempty"`
	HasCurrent      bool   `json:"hasCurrent"`
	Archived        bool   `json:"archived"`
	ArchivedVersion []uint64 `json:"archivedVersions,omitempty"`
}

// FilesystemCaller is the application-facing capability proxy: it wraps
// a connector's client side into typed filesystem operations (spec
// §4.L). path is the service path this filesystem was exposed under.
type FilesystemCaller struct {
	cli  *client.Client
	path []string
}

// NewFilesystemCaller builds a caller bound to a filesystem capability
// exposed at path.
func NewFilesystemCaller(cli *client.Client, path []string) *FilesystemCaller {
	return &FilesystemCaller{cli: cli, path: path}
}

// Stat fetches status metadata for objID.
func (f *FilesystemCaller) Stat(ctx context.Context, objID string) (FileInfo, error) {
	var resp FileInfo
	err := callJSON(ctx, f.cli, withLeaf(f.path, "stat"), statReq{ObjID: objID}, &resp)
	return resp, err
}

// Open returns a byte-source proxy for reading the given version of
// objID (version 0 means "current").
func (f *FilesystemCaller) Open(ctx context.Context, objID string, version uint64) (*ByteSourceCaller, error) {
	var resp refResp
	if err := callJSON(ctx, f.cli, withLeaf(f.path, "open"), openReq{ObjID: objID, Version: version}, &resp); err != nil {
		return nil, err
	}
	proxy := &ByteSourceCaller{cli: f.cli, path: resp.Path}
	newRef(f.cli, proxy, resp.Path)
	return proxy, nil
}

// Create returns a byte-sink proxy for writing a new object's first
// version.
func (f *FilesystemCaller) Create(ctx context.Context, objID string) (*ByteSinkCaller, error) {
	var resp refResp
	if err := callJSON(ctx, f.cli, withLeaf(f.path, "create"), createReq{ObjID: objID}, &resp); err != nil {
		return nil, err
	}
	proxy := &ByteSinkCaller{cli: f.cli, path: resp.Path}
	newRef(f.cli, proxy, resp.Path)
	return proxy, nil
}

// Remove deletes the current version of objID.
func (f *FilesystemCaller) Remove(ctx context.Context, objID string) error {
	return callJSON(ctx, f.cli, withLeaf(f.path, "remove"), statReq{ObjID: objID}, nil)
}

type statReq struct {
	ObjID string `json:"objId"`
}
type openReq struct {
	ObjID   string `json:"objId"`
	Version uint64 `json:"version"`
}
type createReq struct {
	ObjID string `json:"objId"`
}
type refResp struct {
	Path []string `json:"path"`
}

// FilesystemBackend is the local implementation a FilesystemExposer
// publishes to the connector — typically a thin adapter over
// internal/objstore/objfiles.ObjFiles.
type FilesystemBackend interface {
	Stat(objID string) (FileInfo, error)
	OpenSource(objID string, version uint64) (ByteSourceBackend, error)
	OpenSink(objID string) (ByteSinkBackend, error)
	Remove(objID string) error
}

// FilesystemExposer publishes backend's filesystem capability to svc
// under path.
type FilesystemExposer struct {
	svc     *service.Service
	path    []string
	backend FilesystemBackend
}

// NewFilesystemExposer registers the filesystem capability's methods and
// returns the exposer; it registers eagerly since the filesystem root
// itself isn't a droppable per-object reference.
func NewFilesystemExposer(svc *service.Service, path []string, backend FilesystemBackend) *FilesystemExposer {
	e := &FilesystemExposer{svc: svc, path: path, backend: backend}
	svc.Expose(withLeaf(path, "stat"), jsonMethod(
		func() interface{} { return new(statReq) },
		func(req interface{}) (interface{}, *xerrors.Error) {
			r := req.(*statReq)
			info, err := backend.Stat(r.ObjID)
			if err != nil {
				return nil, asXerr(err)
			}
			return info, nil
		}))
	svc.Expose(withLeaf(path, "open"), jsonMethod(
		func() interface{} { return new(openReq) },
		func(req interface{}) (interface{}, *xerrors.Error) {
			r := req.(*openReq)
			src, err := backend.OpenSource(r.ObjID, r.Version)
			if err != nil {
				return nil, asXerr(err)
			}
			refPath := svc.ExposeDroppableService("bytesource", src)
			exposeByteSource(svc, refPath, src)
			return refResp{Path: refPath}, nil
		}))
	svc.Expose(withLeaf(path, "create"), jsonMethod(
		func() interface{} { return new(createReq) },
		func(req interface{}) (interface{}, *xerrors.Error) {
			r := req.(*createReq)
			sink, err := backend.OpenSink(r.ObjID)
			if err != nil {
				return nil, asXerr(err)
			}
			refPath := svc.ExposeDroppableService("bytesink", sink)
			exposeByteSink(svc, refPath, sink)
			return refResp{Path: refPath}, nil
		}))
	svc.Expose(withLeaf(path, "remove"), jsonMethod(
		func() interface{} { return new(statReq) },
		func(req interface{}) (interface{}, *xerrors.Error) {
			r := req.(*statReq)
			if err := backend.Remove(r.ObjID); err != nil {
				return nil, asXerr(err)
			}
			return nil, nil
		}))
	return e
}

func asXerr(err error) *xerrors.Error {
	if xerr, ok := err.(*xerrors.Error); ok {
		return xerr
	}
	return xerrors.New(xerrors.KindFile, xerrors.CodeParsingError, err.Error())
}
