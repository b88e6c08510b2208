// Package client implements the caller side of the IPC core (spec §4.J):
// fn_call_num allocation, promise/observable call dispatch, the
// duplicate-id retry protocol, and client-side peer-reference lifetime
// tracking. Grounded on internal/distributed/consensus.go's pending-proposal
// bookkeeping (ConsensusProposal tracked by id until accepted/rejected),
// generalized here from consensus proposals to outstanding IPC calls
// tracked by fn_call_num until end/error.
package client

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/xspvault/xspcore/internal/ipc/connector"
	"github.com/xspvault/xspcore/internal/ipc/envelope"
	"github.com/xspvault/xspcore/pkg/xerrors"
)

// maxFnCallNum is spec §4.J's 2^53-1 wraparound bound (the largest integer
// a JS-style peer can round-trip exactly; this module keeps the same bound
// so it interoperates with such peers).
const maxFnCallNum = (uint64(1) << 53) - 1

// maxDuplicateRetries caps the duplicate-id retry loop (spec §4.J: "cap at
// 100... exceeding the cap silently drops the call").
const maxDuplicateRetries = 100

// Future is the result of a promise call: resolved by `end` or a single
// `interim`, rejected by `error`.
type Future struct {
	done chan struct{}
	body []byte
	err  *xerrors.Error
}

// Wait blocks until the call resolves, rejects, or ctx is done.
func (f *Future) Wait(ctx context.Context) ([]byte, error) {
	select {
	case <-f.done:
		if f.err != nil {
			return nil, f.err
		}
		return f.body, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stream is the result of an observable call: each `interim` yields an
// item, `end` completes the stream, `error` errors it.
type Stream struct {
	items  chan []byte
	done   chan struct{}
	err    *xerrors.Error
	cancel func()
}

// Items returns the channel of streamed item bodies, closed when the
// stream completes (check Err after it closes).
func (s *Stream) Items() <-chan []byte { return s.items }

// Err returns the terminal error, if the stream ended in `error` rather
// than `end`. Only meaningful after Items() has closed.
func (s *Stream) Err() *xerrors.Error { return s.err }

// Cancel sends a `cancel` envelope for this call.
func (s *Stream) Cancel() { s.cancel() }

type callKind int

const (
	kindPromise callKind = iota
	kindObservable
)

type callRecord struct {
	kind       callKind
	reqPath    []string
	reqBody    []byte
	retryCount int
	future     *Future
	stream     *Stream
	resolved   bool // promise only: already got a reply via interim or end
}

// Client is the caller side of one connector: it allocates fn_call_nums,
// tracks outstanding calls, and implements connector.ClientHandler.
type Client struct {
	conn connector.Sender

	mu      sync.Mutex
	nextNum uint64
	calls   map[uint64]*callRecord

	refsMu sync.Mutex
	refs   map[interface{}][]string
}

// New builds a Client that sends through conn (typically the Connector
// itself, which satisfies connector.Sender).
func New(conn connector.Sender) *Client {
	return &Client{
		conn:  conn,
		calls: make(map[uint64]*callRecord),
		refs:  make(map[interface{}][]string),
	}
}

// allocFnCallNumLocked picks the next fn_call_num not already in use,
// wrapping at maxFnCallNum. Caller must hold c.mu.
func (c *Client) allocFnCallNumLocked() uint64 {
	for {
		c.nextNum++
		if c.nextNum > maxFnCallNum {
			c.nextNum = 1
		}
		if _, live := c.calls[c.nextNum]; !live {
			return c.nextNum
		}
	}
}

// Call issues a promise call: send `start`, return a Future resolved by
// `end` or a single `interim` (which implicitly self-cancels the call),
// rejected by `error`.
func (c *Client) Call(path []string, body []byte) (*Future, error) {
	c.mu.Lock()
	num := c.allocFnCallNumLocked()
	fut := &Future{done: make(chan struct{})}
	c.calls[num] = &callRecord{kind: kindPromise, reqPath: path, reqBody: body, future: fut}
	c.mu.Unlock()

	if err := c.conn.Send(envelope.Start(num, path, body)); err != nil {
		c.mu.Lock()
		delete(c.calls, num)
		c.mu.Unlock()
		return nil, err
	}
	return fut, nil
}

// Observe issues an observable call: send `start`, return a Stream.
func (c *Client) Observe(path []string, body []byte) (*Stream, error) {
	c.mu.Lock()
	num := c.allocFnCallNumLocked()
	st := &Stream{items: make(chan []byte, 16), done: make(chan struct{})}
	st.cancel = func() { _ = c.conn.Send(envelope.Cancel(num)) }
	c.calls[num] = &callRecord{kind: kindObservable, reqPath: path, reqBody: body, stream: st}
	c.mu.Unlock()

	if err := c.conn.Send(envelope.Start(num, path, body)); err != nil {
		c.mu.Lock()
		delete(c.calls, num)
		c.mu.Unlock()
		return nil, err
	}
	return st, nil
}

// ListObj returns the method names exported at path.
func (c *Client) ListObj(path []string) ([]string, error) {
	c.mu.Lock()
	num := c.allocFnCallNumLocked()
	fut := &Future{done: make(chan struct{})}
	c.calls[num] = &callRecord{kind: kindPromise, reqPath: path, future: fut}
	c.mu.Unlock()

	if err := c.conn.Send(envelope.ListObj(num, path)); err != nil {
		c.mu.Lock()
		delete(c.calls, num)
		c.mu.Unlock()
		return nil, err
	}
	body, err := fut.Wait(context.Background())
	if err != nil {
		return nil, err
	}
	return connector.DecodeNames(body)
}

// Interim implements connector.ClientHandler.
func (c *Client) Interim(fnCallNum uint64, body []byte) {
	c.mu.Lock()
	rec, ok := c.calls[fnCallNum]
	if !ok {
		c.mu.Unlock()
		return
	}
	switch rec.kind {
	case kindPromise:
		if rec.resolved {
			c.mu.Unlock()
			return
		}
		rec.resolved = true
		delete(c.calls, fnCallNum)
		c.mu.Unlock()
		rec.future.body = body
		close(rec.future.done)
		// A promise caller that already received its single interim reply
		// self-cancels (spec §5 "Cancellation").
		_ = c.conn.Send(envelope.Cancel(fnCallNum))
	case kindObservable:
		c.mu.Unlock()
		select {
		case rec.stream.items <- body:
		default:
		}
	}
}

// End implements connector.ClientHandler.
func (c *Client) End(fnCallNum uint64, body []byte) {
	c.mu.Lock()
	rec, ok := c.calls[fnCallNum]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.calls, fnCallNum)
	c.mu.Unlock()

	switch rec.kind {
	case kindPromise:
		if !rec.resolved {
			rec.future.body = body
			close(rec.future.done)
		}
	case kindObservable:
		close(rec.stream.items)
		close(rec.stream.done)
	}
}

// Error implements connector.ClientHandler. A `duplicateFnCallNum` error
// triggers the retry protocol (spec §4.J); any other error rejects the
// call.
func (c *Client) Error(fnCallNum *uint64, cause *xerrors.Error) {
	if fnCallNum == nil {
		return
	}
	c.mu.Lock()
	rec, ok := c.calls[*fnCallNum]
	if !ok {
		c.mu.Unlock()
		return
	}

	if cause.Code == xerrors.CodeDuplicateFnCallNum {
		delete(c.calls, *fnCallNum)
		rec.retryCount++
		if rec.retryCount > maxDuplicateRetries {
			c.mu.Unlock()
			return
		}
		newNum := c.allocFnCallNumLocked()
		c.calls[newNum] = rec
		c.mu.Unlock()
		_ = c.conn.Send(envelope.Start(newNum, rec.reqPath, rec.reqBody))
		return
	}

	delete(c.calls, *fnCallNum)
	c.mu.Unlock()
	c.fail(rec, cause)
}

func (c *Client) fail(rec *callRecord, cause *xerrors.Error) {
	switch rec.kind {
	case kindPromise:
		if !rec.resolved {
			rec.future.err = cause
			close(rec.future.done)
		}
	case kindObservable:
		rec.stream.err = cause
		close(rec.stream.items)
		close(rec.stream.done)
	}
}

// Stop implements connector.Stopper: every pending awaiter and stream is
// rejected with cause (StopFromOtherSide or ConnectorStop).
func (c *Client) Stop(cause *xerrors.Error) {
	c.mu.Lock()
	calls := c.calls
	c.calls = make(map[uint64]*callRecord)
	c.mu.Unlock()

	for _, rec := range calls {
		c.fail(rec, cause)
	}
}

// RegisterClientDrop associates a finalization callback with proxy: when
// the Go runtime finalizes proxy and no strong reference remains, a `drop`
// envelope is sent for srvRef (spec §4.J "Peer reference lifetime"). Go's
// runtime.SetFinalizer is this module's analogue of the host runtime
// finalization hook the spec describes.
func (c *Client) RegisterClientDrop(proxy interface{}, srvRef []string) {
	c.refsMu.Lock()
	c.refs[proxy] = srvRef
	c.refsMu.Unlock()

	dropped := new(int32)
	runtime.SetFinalizer(proxy, func(p interface{}) {
		if !atomic.CompareAndSwapInt32(dropped, 0, 1) {
			return
		}
		c.refsMu.Lock()
		path, ok := c.refs[proxy]
		delete(c.refs, proxy)
		c.refsMu.Unlock()
		if ok {
			_ = c.conn.Send(envelope.Drop(path))
		}
	})
}

// SrvRefOf looks up the service-side reference path a proxy was
// registered under.
func (c *Client) SrvRefOf(proxy interface{}) ([]string, error) {
	c.refsMu.Lock()
	defer c.refsMu.Unlock()
	path, ok := c.refs[proxy]
	if !ok {
		return nil, xerrors.ObjectNotFound(fmt.Sprintf("%v", proxy))
	}
	return path, nil
}
