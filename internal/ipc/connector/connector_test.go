package connector

import (
	"bytes"
	"sync"
	"testing"

	"github.com/xspvault/xspcore/internal/ipc/envelope"
	"github.com/xspvault/xspcore/pkg/xerrors"
)

type fakeService struct {
	mu        sync.Mutex
	started   []uint64
	cancelled []uint64
	listPath  []string
	listNames []string
	listErr   error
	dropPath  []string
}

func (s *fakeService) Start(fnCallNum uint64, path []string, body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = append(s.started, fnCallNum)
}
func (s *fakeService) Cancel(fnCallNum uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = append(s.cancelled, fnCallNum)
}
func (s *fakeService) ListObj(path []string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listPath = path
	return s.listNames, s.listErr
}
func (s *fakeService) Drop(path []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropPath = path
	return nil
}

type fakeClient struct {
	mu       sync.Mutex
	interim  []uint64
	ended    []uint64
	errored  []uint64
	stopWith *xerrors.Error
}

func (c *fakeClient) Interim(fnCallNum uint64, body []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.interim = append(c.interim, fnCallNum)
}
func (c *fakeClient) End(fnCallNum uint64, body []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ended = append(c.ended, fnCallNum)
}
func (c *fakeClient) Error(fnCallNum *uint64, cause *xerrors.Error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if fnCallNum != nil {
		c.errored = append(c.errored, *fnCallNum)
	}
}
func (c *fakeClient) Stop(cause *xerrors.Error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopWith = cause
}

func TestDispatchStartRoutesToService(t *testing.T) {
	t.Parallel()
	svc := &fakeService{}
	var out bytes.Buffer
	c := New(&out, svc, nil)

	n := uint64(1)
	if fatal := c.Dispatch(envelope.Envelope{MsgType: envelope.MsgStart, FnCallNum: &n, Path: []string{"fs", "open"}}); fatal != nil {
		t.Fatalf("Dispatch: %v", fatal)
	}
	if len(svc.started) != 1 || svc.started[0] != 1 {
		t.Errorf("expected Start(1), got %v", svc.started)
	}
}

func TestDispatchStartMissingFnCallNumTerminates(t *testing.T) {
	t.Parallel()
	svc := &fakeService{}
	var out bytes.Buffer
	c := New(&out, svc, nil)

	fatal := c.Dispatch(envelope.Envelope{MsgType: envelope.MsgStart})
	if fatal == nil || fatal.Code != xerrors.CodeInvalidCallNum {
		t.Fatalf("expected InvalidCallNum, got %v", fatal)
	}
}

func TestDispatchUnknownTypeRepliesError(t *testing.T) {
	t.Parallel()
	var out bytes.Buffer
	c := New(&out, nil, nil)
	n := uint64(5)
	_ = c.Dispatch(envelope.Envelope{MsgType: "bogus", FnCallNum: &n})

	got, err := envelope.ReadFrom(&out)
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	if got.MsgType != envelope.MsgError {
		t.Fatalf("expected error envelope, got %v", got.MsgType)
	}
}

func TestDispatchListObjRepliesWithNames(t *testing.T) {
	t.Parallel()
	svc := &fakeService{listNames: []string{"open", "stat"}}
	var out bytes.Buffer
	c := New(&out, svc, nil)
	n := uint64(2)
	if fatal := c.Dispatch(envelope.Envelope{MsgType: envelope.MsgListObj, FnCallNum: &n, Path: []string{"fs"}}); fatal != nil {
		t.Fatalf("Dispatch: %v", fatal)
	}

	got, err := envelope.ReadFrom(&out)
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	names, err := DecodeNames(got.Body)
	if err != nil {
		t.Fatalf("DecodeNames: %v", err)
	}
	if len(names) != 2 || names[0] != "open" {
		t.Errorf("got %v", names)
	}
}

func TestDispatchInterimEndErrorRouteToClient(t *testing.T) {
	t.Parallel()
	cl := &fakeClient{}
	var out bytes.Buffer
	c := New(&out, nil, cl)

	n1, n2, n3 := uint64(1), uint64(2), uint64(3)
	_ = c.Dispatch(envelope.Envelope{MsgType: envelope.MsgInterim, FnCallNum: &n1})
	_ = c.Dispatch(envelope.Envelope{MsgType: envelope.MsgEnd, FnCallNum: &n2})
	_ = c.Dispatch(envelope.Envelope{MsgType: envelope.MsgError, FnCallNum: &n3, Body: []byte(xerrors.BadReply("x").JSON())})

	if len(cl.interim) != 1 || len(cl.ended) != 1 || len(cl.errored) != 1 {
		t.Fatalf("expected one call each, got interim=%v end=%v error=%v", cl.interim, cl.ended, cl.errored)
	}
}

func TestStopNotifiesClientSide(t *testing.T) {
	t.Parallel()
	cl := &fakeClient{}
	var out bytes.Buffer
	c := New(&out, nil, cl)

	cause := xerrors.ConnectorStop()
	c.Stop(cause)
	if cl.stopWith != cause {
		t.Errorf("expected client notified of stop, got %v", cl.stopWith)
	}
	if c.StopErr() != cause {
		t.Errorf("expected StopErr() = cause")
	}
}
