package capabilities

import (
	"context"

	"github.com/xspvault/xspcore/internal/ipc/client"
	"github.com/xspvault/xspcore/internal/ipc/service"
	"github.com/xspvault/xspcore/pkg/xerrors"
)

// ByteSinkBackend is the local byte-sink implementation an exposer
// publishes — e.g. a version-file writer from
// internal/objstore/versionfile.
type ByteSinkBackend interface {
	Splice(ofs uint64, data []byte) error
	Truncate(size uint64) error
	Done() error
	ShowLayout() ([]byte, error)
	GetSize() (uint64, error)
}

// ByteSinkCaller is the proxy a filesystem capability's Create returns
// (spec §4.L(iii): "byte-sink proxies expose splice/truncate/done/
// show_layout/get_size").
type ByteSinkCaller struct {
	cli  *client.Client
	path []string
}

type spliceReq struct {
	Offset uint64 `json:"offset"`
	Data   []byte `json:"data"`
}
type truncateReq struct {
	Size uint64 `json:"size"`
}
type layoutResp struct {
	Layout []byte `json:"layout"`
}

// Splice writes data at ofs.
func (b *ByteSinkCaller) Splice(ctx context.Context, ofs uint64, data []byte) error {
	return callJSON(ctx, b.cli, withLeaf(b.path, "splice"), spliceReq{Offset: ofs, Data: data}, nil)
}

// Truncate sets the sink's total size.
func (b *ByteSinkCaller) Truncate(ctx context.Context, size uint64) error {
	return callJSON(ctx, b.cli, withLeaf(b.path, "truncate"), truncateReq{Size: size}, nil)
}

// Done marks the sink complete (no more writes follow).
func (b *ByteSinkCaller) Done(ctx context.Context) error {
	return callJSON(ctx, b.cli, withLeaf(b.path, "done"), nil, nil)
}

// ShowLayout returns the sink's current serialized segment layout.
func (b *ByteSinkCaller) ShowLayout(ctx context.Context) ([]byte, error) {
	var resp layoutResp
	err := callJSON(ctx, b.cli, withLeaf(b.path, "show-layout"), nil, &resp)
	return resp.Layout, err
}

// GetSize returns the sink's current total size.
func (b *ByteSinkCaller) GetSize(ctx context.Context) (uint64, error) {
	var resp uintResp
	err := callJSON(ctx, b.cli, withLeaf(b.path, "get-size"), nil, &resp)
	return resp.Value, err
}

func exposeByteSink(svc *service.Service, path []string, backend ByteSinkBackend) {
	svc.Expose(withLeaf(path, "splice"), jsonMethod(
		func() interface{} { return new(spliceReq) },
		func(req interface{}) (interface{}, *xerrors.Error) {
			r := req.(*spliceReq)
			if err := backend.Splice(r.Offset, r.Data); err != nil {
				return nil, asXerr(err)
			}
			return nil, nil
		}))
	svc.Expose(withLeaf(path, "truncate"), jsonMethod(
		func() interface{} { return new(truncateReq) },
		func(req interface{}) (interface{}, *xerrors.Error) {
			r := req.(*truncateReq)
			if err := backend.Truncate(r.Size); err != nil {
				return nil, asXerr(err)
			}
			return nil, nil
		}))
	svc.Expose(withLeaf(path, "done"), jsonMethod(
		func() interface{} { return new(struct{}) },
		func(req interface{}) (interface{}, *xerrors.Error) {
			if err := backend.Done(); err != nil {
				return nil, asXerr(err)
			}
			return nil, nil
		}))
	svc.Expose(withLeaf(path, "show-layout"), jsonMethod(
		func() interface{} { return new(struct{}) },
		func(req interface{}) (interface{}, *xerrors.Error) {
			layout, err := backend.ShowLayout()
			if err != nil {
				return nil, asXerr(err)
			}
			return layoutResp{Layout: layout}, nil
		}))
	svc.Expose(withLeaf(path, "get-size"), jsonMethod(
		func() interface{} { return new(struct{}) },
		func(req interface{}) (interface{}, *xerrors.Error) {
			size, err := backend.GetSize()
			if err != nil {
				return nil, asXerr(err)
			}
			return uintResp{Value: size}, nil
		}))
}
