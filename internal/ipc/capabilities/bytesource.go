package capabilities

import (
	"context"

	"github.com/xspvault/xspcore/internal/ipc/client"
	"github.com/xspvault/xspcore/internal/ipc/service"
	"github.com/xspvault/xspcore/pkg/xerrors"
)

// ByteSourceBackend is the local byte-source implementation an exposer
// publishes — e.g. internal/objstore/objfiles.LocalObj's ByteSource.
type ByteSourceBackend interface {
	Read(ofs, length uint64) ([]byte, error)
	Seek(pos uint64) error
	GetSize() (uint64, error)
	GetPosition() (uint64, error)
}

// ByteSourceCaller is the proxy a filesystem capability's Open returns
// (spec §4.L(iii): "byte-source... proxies expose read/seek/get_size/
// get_position").
type ByteSourceCaller struct {
	cli  *client.Client
	path []string
}

type readReq struct {
	Offset uint64 `json:"offset"`
	Length uint64 `json:"length"`
}
type readResp struct {
	Data []byte `json:"data"`
}
type seekReq struct {
	Position uint64 `json:"position"`
}
type uintResp struct {
	Value uint64 `json:"value"`
}

// Read fetches length bytes starting at ofs.
func (b *ByteSourceCaller) Read(ctx context.Context, ofs, length uint64) ([]byte, error) {
	var resp readResp
	err := callJSON(ctx, b.cli, withLeaf(b.path, "read"), readReq{Offset: ofs, Length: length}, &resp)
	return resp.Data, err
}

// Seek repositions the source's read cursor.
func (b *ByteSourceCaller) Seek(ctx context.Context, pos uint64) error {
	return callJSON(ctx, b.cli, withLeaf(b.path, "seek"), seekReq{Position: pos}, nil)
}

// GetSize returns the source's total byte length.
func (b *ByteSourceCaller) GetSize(ctx context.Context) (uint64, error) {
	var resp uintResp
	err := callJSON(ctx, b.cli, withLeaf(b.path, "get-size"), nil, &resp)
	return resp.Value, err
}

// GetPosition returns the source's current read cursor.
func (b *ByteSourceCaller) GetPosition(ctx context.Context) (uint64, error) {
	var resp uintResp
	err := callJSON(ctx, b.cli, withLeaf(b.path, "get-position"), nil, &resp)
	return resp.Value, err
}

// exposeByteSource registers backend's methods under path, called by
// FilesystemExposer.Open once it has allocated a droppable reference
// path for the new proxy.
func exposeByteSource(svc *service.Service, path []string, backend ByteSourceBackend) {
	svc.Expose(withLeaf(path, "read"), jsonMethod(
		func() interface{} { return new(readReq) },
		func(req interface{}) (interface{}, *xerrors.Error) {
			r := req.(*readReq)
			data, err := backend.Read(r.Offset, r.Length)
			if err != nil {
				return nil, asXerr(err)
			}
			return readResp{Data: data}, nil
		}))
	svc.Expose(withLeaf(path, "seek"), jsonMethod(
		func() interface{} { return new(seekReq) },
		func(req interface{}) (interface{}, *xerrors.Error) {
			r := req.(*seekReq)
			if err := backend.Seek(r.Position); err != nil {
				return nil, asXerr(err)
			}
			return nil, nil
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
	svc.Expose(withLeaf(path, "get-position"), jsonMethod(
		func() interface{} { return new(struct{}) },
		func(req interface{}) (interface{}, *xerrors.Error) {
			pos, err := backend.GetPosition()
			if err != nil {
				return nil, asXerr(err)
			}
			return uintResp{Value: pos}, nil
		}))
}
