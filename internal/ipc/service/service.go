// Package service implements the exposer side of the IPC core (spec
// §4.K): a path→method registry, call dispatch with duplicate-id
// rejection, and the droppable-service registry capability proxies are
// released from. Grounded on internal/distributed/coordinator.go's
// operations map (ActiveOperation tracked by id with its own mutex),
// generalized here from cluster operation tracking to in-flight IPC calls
// tracked by fn_call_num with an optional cancel hook.
package service

import (
	"strings"
	"sync"

	"github.com/xspvault/xspcore/internal/ipc/connector"
	"github.com/xspvault/xspcore/internal/ipc/envelope"
	"github.com/xspvault/xspcore/pkg/xerrors"
)

// FutureResult is a method's resolved value for a non-streaming call.
type FutureResult struct {
	Body []byte
	Err  *xerrors.Error
}

// StreamItem is one item (or terminal error) of a streaming method's
// result.
type StreamItem struct {
	Body []byte
	Err  *xerrors.Error
}

// CallResult is what a Method returns: exactly one of Future or Stream is
// non-nil. A Stream may optionally carry OnCancel, invoked if the caller
// sends `cancel` before the stream completes.
type CallResult struct {
	Future   <-chan FutureResult
	Stream   <-chan StreamItem
	OnCancel func()
}

// Method is a registered service function: invoked with the envelope
// body, it returns a CallResult describing how the reply will arrive.
type Method func(body []byte) CallResult

type callState struct {
	cancel func()
}

// Service is the exposer side of one connector: implements
// connector.ServiceHandler.
type Service struct {
	mu      sync.Mutex
	methods map[string]Method

	droppableMu sync.Mutex
	droppable   map[string]interface{}
	nextRef     uint64

	callsMu sync.Mutex
	calls   map[uint64]*callState

	conn connector.Sender
}

// New builds a Service that replies through conn.
func New(conn connector.Sender) *Service {
	return &Service{
		methods:   make(map[string]Method),
		droppable: make(map[string]interface{}),
		calls:     make(map[uint64]*callState),
		conn:      conn,
	}
}

func pathKey(path []string) string { return strings.Join(path, "/") }

// Expose registers fn as the method reachable at path.
func (s *Service) Expose(path []string, fn Method) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.methods[pathKey(path)] = fn
}

// ExposeDroppableService registers original under a freshly generated
// path and returns it; the caller typically hands that path to a remote
// proxy constructor. GetOriginalObj reverses this lookup.
func (s *Service) ExposeDroppableService(kind string, original interface{}) []string {
	s.droppableMu.Lock()
	defer s.droppableMu.Unlock()
	s.nextRef++
	path := []string{"refs", kind, formatUint(s.nextRef)}
	s.droppable[pathKey(path)] = original
	return path
}

// GetOriginalObj looks up the object registered under path.
func (s *Service) GetOriginalObj(path []string) (interface{}, error) {
	s.droppableMu.Lock()
	defer s.droppableMu.Unlock()
	obj, ok := s.droppable[pathKey(path)]
	if !ok {
		return nil, xerrors.ObjectNotFound(pathKey(path))
	}
	return obj, nil
}

// Start implements connector.ServiceHandler.
func (s *Service) Start(fnCallNum uint64, path []string, body []byte) {
	s.callsMu.Lock()
	if _, exists := s.calls[fnCallNum]; exists {
		s.callsMu.Unlock()
		s.replyError(fnCallNum, xerrors.DuplicateFnCallNum(fnCallNum))
		return
	}
	s.mu.Lock()
	method, ok := s.methods[pathKey(path)]
	s.mu.Unlock()
	if !ok {
		s.callsMu.Unlock()
		s.replyError(fnCallNum, xerrors.CallFnNotFound(path))
		return
	}
	s.calls[fnCallNum] = &callState{}
	s.callsMu.Unlock()

	result := method(body)
	switch {
	case result.Future != nil:
		go s.awaitFuture(fnCallNum, result.Future)
	case result.Stream != nil:
		s.callsMu.Lock()
		if st, live := s.calls[fnCallNum]; live {
			st.cancel = result.OnCancel
		}
		s.callsMu.Unlock()
		go s.forwardStream(fnCallNum, result.Stream)
	default:
		s.finishCall(fnCallNum)
		_ = s.conn.Send(envelope.End(fnCallNum, nil))
	}
}

func (s *Service) awaitFuture(fnCallNum uint64, ch <-chan FutureResult) {
	res := <-ch
	s.finishCall(fnCallNum)
	if res.Err != nil {
		s.replyError(fnCallNum, res.Err)
		return
	}
	_ = s.conn.Send(envelope.End(fnCallNum, res.Body))
}

func (s *Service) forwardStream(fnCallNum uint64, ch <-chan StreamItem) {
	for item := range ch {
		if item.Err != nil {
			s.finishCall(fnCallNum)
			s.replyError(fnCallNum, item.Err)
			return
		}
		if !s.callLive(fnCallNum) {
			return
		}
		_ = s.conn.Send(envelope.Interim(fnCallNum, item.Body))
	}
	s.finishCall(fnCallNum)
	_ = s.conn.Send(envelope.End(fnCallNum, nil))
}

func (s *Service) callLive(fnCallNum uint64) bool {
	s.callsMu.Lock()
	defer s.callsMu.Unlock()
	_, ok := s.calls[fnCallNum]
	return ok
}

func (s *Service) finishCall(fnCallNum uint64) {
	s.callsMu.Lock()
	delete(s.calls, fnCallNum)
	s.callsMu.Unlock()
}

// Cancel implements connector.ServiceHandler.
func (s *Service) Cancel(fnCallNum uint64) {
	s.callsMu.Lock()
	st, ok := s.calls[fnCallNum]
	if ok {
		delete(s.calls, fnCallNum)
	}
	s.callsMu.Unlock()
	if ok && st.cancel != nil {
		st.cancel()
	}
}

// ListObj implements connector.ServiceHandler: the immediate child method
// names registered under path.
func (s *Service) ListObj(path []string) ([]string, error) {
	prefix := pathKey(path)
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]struct{})
	var names []string
	for key := range s.methods {
		rest := key
		if prefix != "" {
			if !strings.HasPrefix(key, prefix+"/") {
				continue
			}
			rest = key[len(prefix)+1:]
		}
		name := rest
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			name = rest[:i]
		}
		if _, dup := seen[name]; !dup {
			seen[name] = struct{}{}
			names = append(names, name)
		}
	}
	return names, nil
}

// Drop implements connector.ServiceHandler: releases the droppable
// service registered at path.
func (s *Service) Drop(path []string) error {
	s.droppableMu.Lock()
	defer s.droppableMu.Unlock()
	key := pathKey(path)
	if _, ok := s.droppable[key]; !ok {
		return xerrors.ObjectNotFound(key)
	}
	delete(s.droppable, key)
	return nil
}

// Stop implements connector.Stopper: cancels every in-flight call.
func (s *Service) Stop(cause *xerrors.Error) {
	s.callsMu.Lock()
	calls := s.calls
	s.calls = make(map[uint64]*callState)
	s.callsMu.Unlock()

	for _, st := range calls {
		if st.cancel != nil {
			st.cancel()
		}
	}
}

func (s *Service) replyError(fnCallNum uint64, cause *xerrors.Error) {
	n := fnCallNum
	_ = s.conn.Send(envelope.ErrorEnvelope(&n, cause))
}

func formatUint(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
