// Package connector implements the IPC connector (spec §4.I): it owns a
// pair (outbound sink, inbound source) and dispatches each inbound
// envelope by msg_type to the service side, the client side, or both.
// Grounded on internal/distributed/coordinator.go's registry-of-handlers
// dispatch shape (operations routed by type to the right subsystem),
// generalized here from cluster operation types to IPC msg_types.
package connector

import (
	"io"
	"sync"

	"github.com/xspvault/xspcore/internal/ipc/envelope"
	"github.com/xspvault/xspcore/pkg/xerrors"
)

// Sender is anything an envelope can be written to. Connector satisfies
// this for both the client and service sides it hosts.
type Sender interface {
	Send(e envelope.Envelope) error
}

// ServiceHandler receives the service-side msg_types. Implemented by
// internal/ipc/service.Service.
type ServiceHandler interface {
	Start(fnCallNum uint64, path []string, body []byte)
	Cancel(fnCallNum uint64)
	ListObj(path []string) ([]string, error)
	Drop(path []string) error
}

// ClientHandler receives the client-side msg_types. Implemented by
// internal/ipc/client.Client.
type ClientHandler interface {
	Interim(fnCallNum uint64, body []byte)
	End(fnCallNum uint64, body []byte)
	Error(fnCallNum *uint64, cause *xerrors.Error)
}

// Stopper is implemented by a handler that needs to know when the
// connector stops, so it can reject pending awaiters/streams.
type Stopper interface {
	Stop(cause *xerrors.Error)
}

// Connector owns the outbound sink and routes inbound envelopes. A
// connector may be client-only, service-only, or both (spec §4.I
// "Lifecycle"): a nil ServiceHandler or ClientHandler simply means that
// side is absent.
type Connector struct {
	mu      sync.Mutex
	out     io.Writer
	service ServiceHandler
	client  ClientHandler

	stopOnce sync.Once
	stopped  bool
	stopErr  *xerrors.Error
}

// New builds a Connector writing outbound envelopes to out and dispatching
// inbound envelopes to service and/or client (either may be nil).
func New(out io.Writer, service ServiceHandler, client ClientHandler) *Connector {
	return &Connector{out: out, service: service, client: client}
}

// Send writes e to the outbound sink, serialized against concurrent
// writers.
func (c *Connector) Send(e envelope.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return xerrors.ConnectorStop()
	}
	return envelope.WriteTo(c.out, e)
}

// Run reads length-prefixed envelopes from in until the peer closes the
// channel or a fatal framing error occurs, dispatching each one. It
// returns the terminating *xerrors.Error (StopFromOtherSide on clean
// peer close).
func (c *Connector) Run(in io.Reader) *xerrors.Error {
	for {
		e, err := envelope.ReadFrom(in)
		if err != nil {
			xerr, _ := err.(*xerrors.Error)
			if xerr == nil {
				xerr = xerrors.IPCNotConnected()
			}
			c.Stop(xerr)
			return xerr
		}
		if fatal := c.Dispatch(e); fatal != nil {
			c.Stop(fatal)
			return fatal
		}
	}
}

// Dispatch routes one inbound envelope per spec §4.I. It returns a
// non-nil *xerrors.Error only for failures that must terminate the
// connector (a missing fn_call_num where one is required); all other
// failures are reported back to the peer as an `error` envelope and
// Dispatch returns nil.
func (c *Connector) Dispatch(e envelope.Envelope) *xerrors.Error {
	switch e.MsgType {
	case envelope.MsgStart, envelope.MsgCancel, envelope.MsgListObj, envelope.MsgInterim, envelope.MsgEnd, envelope.MsgError:
		if !e.HasFnCallNum() {
			return xerrors.InvalidCallNum()
		}
	}

	switch e.MsgType {
	case envelope.MsgStart:
		if c.service == nil {
			c.replyError(e.FnCallNum, xerrors.CallFnNotFound(e.Path))
			return nil
		}
		c.service.Start(*e.FnCallNum, e.Path, e.Body)

	case envelope.MsgCancel:
		if c.service != nil {
			c.service.Cancel(*e.FnCallNum)
		}

	case envelope.MsgListObj:
		if c.service == nil {
			c.replyError(e.FnCallNum, xerrors.CallFnNotFound(e.Path))
			return nil
		}
		names, err := c.service.ListObj(e.Path)
		if err != nil {
			xerr, ok := err.(*xerrors.Error)
			if !ok {
				xerr = xerrors.InvalidPath(e.Path)
			}
			c.replyError(e.FnCallNum, xerr)
			return nil
		}
		body, _ := encodeNames(names)
		_ = c.Send(envelope.End(*e.FnCallNum, body))

	case envelope.MsgDrop:
		if c.service != nil {
			_ = c.service.Drop(e.Path)
		}

	case envelope.MsgInterim:
		if c.client != nil {
			c.client.Interim(*e.FnCallNum, e.Body)
		}

	case envelope.MsgEnd:
		if c.client != nil {
			c.client.End(*e.FnCallNum, e.Body)
		}

	case envelope.MsgError:
		if c.client != nil {
			cause, err := xerrors.FromJSON(e.Body)
			if err != nil {
				cause = xerrors.BadReply("malformed error body")
			}
			c.client.Error(e.FnCallNum, cause)
		}

	default:
		c.replyError(e.FnCallNum, xerrors.InvalidType(string(e.MsgType)))
	}
	return nil
}

func (c *Connector) replyError(fnCallNum *uint64, cause *xerrors.Error) {
	_ = c.Send(envelope.ErrorEnvelope(fnCallNum, cause))
}

// Stop terminates the connector: pending client awaiters/streams are
// rejected and the service side's in-flight calls are cancelled, both
// with cause (StopFromOtherSide when the peer closed the channel,
// ConnectorStop when this side initiated the stop).
func (c *Connector) Stop(cause *xerrors.Error) {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		c.stopped = true
		c.stopErr = cause
		c.mu.Unlock()

		if s, ok := c.client.(Stopper); ok {
			s.Stop(cause)
		}
		if s, ok := c.service.(Stopper); ok {
			s.Stop(cause)
		}
	})
}

// StopErr returns the cause the connector was stopped with, or nil if
// still running.
func (c *Connector) StopErr() *xerrors.Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopErr
}
