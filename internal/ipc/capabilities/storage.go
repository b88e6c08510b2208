package capabilities

import (
	"context"

	"github.com/xspvault/xspcore/internal/ipc/client"
	"github.com/xspvault/xspcore/internal/ipc/service"
	"github.com/xspvault/xspcore/pkg/xerrors"
)

// StorageBackend is the local implementation a StorageExposer publishes
// (spec §4.L "storage entry point"): a thin string/uint64 adapter over
// internal/remote.Remote, whose methods take pkg/objid's typed ID/Version
// instead of wire-friendly primitives.
type StorageBackend interface {
	UploadVersion(ctx context.Context, objID string, version uint64, data []byte) error
	DownloadVersion(ctx context.Context, objID string, version uint64) ([]byte, error)
	RemoveVersions(ctx context.Context, objID string, versions []uint64) error
	HealthCheck(ctx context.Context) error
}

// StorageCaller is the capability proxy application code uses to push
// bytes to (or pull them from) the remote-storage entry point, without
// knowing whether the other side of the connector is this store itself
// or a delegate running elsewhere.
type StorageCaller struct {
	cli  *client.Client
	path []string
}

// NewStorageCaller builds a caller bound to a storage capability exposed
// at path.
func NewStorageCaller(cli *client.Client, path []string) *StorageCaller {
	return &StorageCaller{cli: cli, path: path}
}

type uploadReq struct {
	ObjID   string `json:"objId"`
	Version uint64 `json:"version"`
	Data    []byte `json:"data"`
}
type downloadReq struct {
	ObjID   string `json:"objId"`
	Version uint64 `json:"version"`
}
type downloadResp struct {
	Data []byte `json:"data"`
}
type removeReq struct {
	ObjID    string   `json:"objId"`
	Versions []uint64 `json:"versions"`
}

// Upload pushes one version's bytes through the capability.
func (s *StorageCaller) Upload(ctx context.Context, objID string, version uint64, data []byte) error {
	return callJSON(ctx, s.cli, withLeaf(s.path, "upload"), uploadReq{ObjID: objID, Version: version, Data: data}, nil)
}

// Download fetches one version's bytes through the capability.
func (s *StorageCaller) Download(ctx context.Context, objID string, version uint64) ([]byte, error) {
	var resp downloadResp
	err := callJSON(ctx, s.cli, withLeaf(s.path, "download"), downloadReq{ObjID: objID, Version: version}, &resp)
	return resp.Data, err
}

// Remove deletes the named versions through the capability.
func (s *StorageCaller) Remove(ctx context.Context, objID string, versions []uint64) error {
	return callJSON(ctx, s.cli, withLeaf(s.path, "remove"), removeReq{ObjID: objID, Versions: versions}, nil)
}

// HealthCheck reports whether the remote side is reachable through the
// capability.
func (s *StorageCaller) HealthCheck(ctx context.Context) error {
	return callJSON(ctx, s.cli, withLeaf(s.path, "health"), nil, nil)
}

// NewStorageExposer publishes backend's storage capability to svc under
// path.
func NewStorageExposer(svc *service.Service, path []string, backend StorageBackend) {
	svc.Expose(withLeaf(path, "upload"), jsonMethod(
		func() interface{} { return new(uploadReq) },
		func(req interface{}) (interface{}, *xerrors.Error) {
			r := req.(*uploadReq)
			if err := backend.UploadVersion(context.Background(), r.ObjID, r.Version, r.Data); err != nil {
				return nil, asXerr(err)
			}
			return nil, nil
		}))
	svc.Expose(withLeaf(path, "download"), jsonMethod(
		func() interface{} { return new(downloadReq) },
		func(req interface{}) (interface{}, *xerrors.Error) {
			r := req.(*downloadReq)
			data, err := backend.DownloadVersion(context.Background(), r.ObjID, r.Version)
			if err != nil {
				return nil, asXerr(err)
			}
			return downloadResp{Data: data}, nil
		}))
	svc.Expose(withLeaf(path, "remove"), jsonMethod(
		func() interface{} { return new(removeReq) },
		func(req interface{}) (interface{}, *xerrors.Error) {
			r := req.(*removeReq)
			if err := backend.RemoveVersions(context.Background(), r.ObjID, r.Versions); err != nil {
				return nil, asXerr(err)
			}
			return nil, nil
		}))
	svc.Expose(withLeaf(path, "health"), jsonMethod(
		func() interface{} { return new(struct{}) },
		func(req interface{}) (interface{}, *xerrors.Error) {
			if err := backend.HealthCheck(context.Background()); err != nil {
				return nil, asXerr(err)
			}
			return nil, nil
		}))
}
