package capabilities

import (
	"context"

	"github.com/xspvault/xspcore/internal/ipc/client"
	"github.com/xspvault/xspcore/internal/ipc/service"
	"github.com/xspvault/xspcore/pkg/xerrors"
)

// MailerId signing/session-login and ASMail inbox/delivery are named in
// spec §1 as out-of-scope external collaborators: "their only interaction
// points appear in §6". The bindings below are the mechanical
// request/reply shape spec §4.L describes for them — request/reply pairs
// that carry opaque bytes to and from whatever object the host wires in
// as the real collaborator. Neither signing nor mail transport logic
// lives here.

// MailerIDBackend is the host-supplied adapter to the external MailerId
// service.
type MailerIDBackend interface {
	Sign(ctx context.Context, data []byte) ([]byte, error)
	Login(ctx context.Context, userID string) ([]byte, error)
}

// MailerIDCaller is the capability proxy for MailerId operations.
type MailerIDCaller struct {
	cli  *client.Client
	path []string
}

// NewMailerIDCaller builds a caller bound to a MailerId capability
// exposed at path.
func NewMailerIDCaller(cli *client.Client, path []string) *MailerIDCaller {
	return &MailerIDCaller{cli: cli, path: path}
}

type bytesReq struct {
	Data []byte `json:"data"`
}
type bytesResp struct {
	Data []byte `json:"data"`
}
type userReq struct {
	UserID string `json:"userId"`
}

// Sign asks the external MailerId collaborator to sign data.
func (m *MailerIDCaller) Sign(ctx context.Context, data []byte) ([]byte, error) {
	var resp bytesResp
	err := callJSON(ctx, m.cli, withLeaf(m.path, "sign"), bytesReq{Data: data}, &resp)
	return resp.Data, err
}

// Login asks the external MailerId collaborator to begin a session for
// userID, returning opaque session material.
func (m *MailerIDCaller) Login(ctx context.Context, userID string) ([]byte, error) {
	var resp bytesResp
	err := callJSON(ctx, m.cli, withLeaf(m.path, "login"), userReq{UserID: userID}, &resp)
	return resp.Data, err
}

// NewMailerIDExposer publishes backend's MailerId capability to svc
// under path.
func NewMailerIDExposer(svc *service.Service, path []string, backend MailerIDBackend) {
	svc.Expose(withLeaf(path, "sign"), jsonMethod(
		func() interface{} { return new(bytesReq) },
		func(req interface{}) (interface{}, *xerrors.Error) {
			r := req.(*bytesReq)
			data, err := backend.Sign(context.Background(), r.Data)
			if err != nil {
				return nil, asXerr(err)
			}
			return bytesResp{Data: data}, nil
		}))
	svc.Expose(withLeaf(path, "login"), jsonMethod(
		func() interface{} { return new(userReq) },
		func(req interface{}) (interface{}, *xerrors.Error) {
			r := req.(*userReq)
			data, err := backend.Login(context.Background(), r.UserID)
			if err != nil {
				return nil, asXerr(err)
			}
			return bytesResp{Data: data}, nil
		}))
}

// ASMailBackend is the host-supplied adapter to the external ASMail
// inbox/delivery façade.
type ASMailBackend interface {
	Deliver(ctx context.Context, recipient string, msg []byte) error
	FetchInbox(ctx context.Context) ([][]byte, error)
}

// ASMailCaller is the capability proxy for ASMail operations.
type ASMailCaller struct {
	cli  *client.Client
	path []string
}

// NewASMailCaller builds a caller bound to an ASMail capability exposed
// at path.
func NewASMailCaller(cli *client.Client, path []string) *ASMailCaller {
	return &ASMailCaller{cli: cli, path: path}
}

type deliverReq struct {
	Recipient string `json:"recipient"`
	Msg       []byte `json:"msg"`
}
type inboxResp struct {
	Messages [][]byte `json:"messages"`
}

// Deliver sends msg to recipient via the external ASMail façade.
func (a *ASMailCaller) Deliver(ctx context.Context, recipient string, msg []byte) error {
	return callJSON(ctx, a.cli, withLeaf(a.path, "deliver"), deliverReq{Recipient: recipient, Msg: msg}, nil)
}

// FetchInbox retrieves queued inbound messages via the external ASMail
// façade.
func (a *ASMailCaller) FetchInbox(ctx context.Context) ([][]byte, error) {
	var resp inboxResp
	err := callJSON(ctx, a.cli, withLeaf(a.path, "fetch-inbox"), nil, &resp)
	return resp.Messages, err
}

// NewASMailExposer publishes backend's ASMail capability to svc under
// path.
func NewASMailExposer(svc *service.Service, path []string, backend ASMailBackend) {
	svc.Expose(withLeaf(path, "deliver"), jsonMethod(
		func() interface{} { return new(deliverReq) },
		func(req interface{}) (interface{}, *xerrors.Error) {
			r := req.(*deliverReq)
			if err := backend.Deliver(context.Background(), r.Recipient, r.Msg); err != nil {
				return nil, asXerr(err)
			}
			return nil, nil
		}))
	svc.Expose(withLeaf(path, "fetch-inbox"), jsonMethod(
		func() interface{} { return new(struct{}) },
		func(req interface{}) (interface{}, *xerrors.Error) {
			msgs, err := backend.FetchInbox(context.Background())
			if err != nil {
				return nil, asXerr(err)
			}
			return inboxResp{Messages: msgs}, nil
		}))
}
