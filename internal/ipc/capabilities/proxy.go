// Package capabilities implements the per-domain caller/exposer bindings
// of spec §4.L: filesystem, byte-source/byte-sink, the storage entry
// point, and thin pass-through bindings for the out-of-scope MailerId and
// ASMail collaborators (spec §1 "Out of scope"). Grounded on
// internal/filesystem/interface.go's FilesystemInterface/FileHandle split
// (a typed operation surface plus a handle object with its own
// lifetime), translated here onto request/reply envelopes carried by
// internal/ipc/client and internal/ipc/service instead of direct method
// calls into an S3 backend.
package capabilities

import (
	"context"
	"encoding/json"

	"github.com/xspvault/xspcore/internal/ipc/client"
	"github.com/xspvault/xspcore/internal/ipc/service"
	"github.com/xspvault/xspcore/pkg/xerrors"
)

// Ref is a proxy's handle onto a service-side droppable object: the path
// it was exposed under, plus the client that will send its `drop`
// envelope when the proxy is finalized (spec §4.L(i): "object references
// returned by a method are proxies the caller is responsible for
// dropping").
type Ref struct {
	Path []string
	cli  *client.Client
}

// newRef registers proxy for finalization-driven drop and returns its Ref.
func newRef(cli *client.Client, proxy interface{}, path []string) Ref {
	cli.RegisterClientDrop(proxy, path)
	return Ref{Path: path, cli: cli}
}

// withLeaf returns a fresh path with leaf appended, never aliasing base's
// backing array — base is typically a long-lived capability path reused
// across many method registrations/calls, so appending onto it directly
// would risk one call's leaf segment clobbering another's.
func withLeaf(base []string, leaf string) []string {
	out := make([]string, len(base)+1)
	copy(out, base)
	out[len(base)] = leaf
	return out
}

// callJSON issues a promise call at path with req marshaled as the body,
// and unmarshals the reply body into resp (if non-nil).
func callJSON(ctx context.Context, cli *client.Client, path []string, req, resp interface{}) error {
	var body []byte
	if req != nil {
		data, err := json.Marshal(req)
		if err != nil {
			return xerrors.InvalidNumInBody(err.Error())
		}
		body = data
	}
	fut, err := cli.Call(path, body)
	if err != nil {
		return err
	}
	replyBody, err := fut.Wait(ctx)
	if err != nil {
		return err
	}
	if resp == nil || len(replyBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(replyBody, resp); err != nil {
		return xerrors.BadReply(err.Error())
	}
	return nil
}

// jsonMethod adapts a typed request/response function into a
// service.Method: it decodes the request body into a fresh value from
// newReq, invokes fn synchronously, and replies as a resolved future
// (spec §4.K "if the method returns a future, awaits it and replies").
func jsonMethod(newReq func() interface{}, fn func(req interface{}) (interface{}, *xerrors.Error)) service.Method {
	return func(body []byte) service.CallResult {
		ch := make(chan service.FutureResult, 1)
		req := newReq()
		if len(body) > 0 {
			if err := json.Unmarshal(body, req); err != nil {
				ch <- service.FutureResult{Err: xerrors.InvalidNumInBody(err.Error())}
				return service.CallResult{Future: ch}
			}
		}
		resp, err := fn(req)
		if err != nil {
			ch <- service.FutureResult{Err: err}
		} else {
			ch <- service.FutureResult{Body: encodeResult(resp)}
		}
		return service.CallResult{Future: ch}
	}
}

func encodeResult(v interface{}) []byte {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
