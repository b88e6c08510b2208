package service

import (
	"sync"
	"testing"
	"time"

	"github.com/xspvault/xspcore/internal/ipc/envelope"
	"github.com/xspvault/xspcore/pkg/xerrors"
)

type fakeSender struct {
	mu  sync.Mutex
	out []envelope.Envelope
}

func (s *fakeSender) Send(e envelope.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.out = append(s.out, e)
	return nil
}

func (s *fakeSender) all() []envelope.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]envelope.Envelope, len(s.out))
	copy(out, s.out)
	return out
}

func TestStartFutureMethodRepliesEnd(t *testing.T) {
	t.Parallel()
	sender := &fakeSender{}
	svc := New(sender)

	ch := make(chan FutureResult, 1)
	svc.Expose([]string{"fs", "stat"}, func(body []byte) CallResult {
		return CallResult{Future: ch}
	})

	svc.Start(1, []string{"fs", "stat"}, nil)
	ch <- FutureResult{Body: []byte("ok")}

	waitForLen(t, sender, 1)
	got := sender.all()[0]
	if got.MsgType != envelope.MsgEnd || string(got.Body) != "ok" {
		t.Errorf("got %+v", got)
	}
}

func TestStartDuplicateFnCallNumRejected(t *testing.T) {
	t.Parallel()
	sender := &fakeSender{}
	svc := New(sender)

	ch := make(chan FutureResult, 1)
	svc.Expose([]string{"fs", "stat"}, func(body []byte) CallResult {
		return CallResult{Future: ch}
	})

	svc.Start(7, []string{"fs", "stat"}, nil)
	svc.Start(7, []string{"fs", "stat"}, nil)

	waitForLen(t, sender, 1)
	got := sender.all()[0]
	if got.MsgType != envelope.MsgError {
		t.Fatalf("expected error reply for duplicate fn_call_num, got %v", got.MsgType)
	}
	xerr, err := xerrors.FromJSON(got.Body)
	if err != nil || xerr.Code != xerrors.CodeDuplicateFnCallNum {
		t.Errorf("expected DuplicateFnCallNum, got %v (parse err %v)", xerr, err)
	}
	ch <- FutureResult{Body: []byte("ok")}
}

func TestStartUnknownMethodRepliesCallFnNotFound(t *testing.T) {
	t.Parallel()
	sender := &fakeSender{}
	svc := New(sender)

	svc.Start(1, []string{"fs", "nope"}, nil)
	got := sender.all()[0]
	if got.MsgType != envelope.MsgError {
		t.Fatalf("expected error, got %v", got.MsgType)
	}
	xerr, _ := xerrors.FromJSON(got.Body)
	if xerr.Code != xerrors.CodeCallFnNotFound {
		t.Errorf("expected CallFnNotFound, got %v", xerr)
	}
}

func TestStreamForwardsInterimThenEnd(t *testing.T) {
	t.Parallel()
	sender := &fakeSender{}
	svc := New(sender)

	ch := make(chan StreamItem, 2)
	svc.Expose([]string{"fs", "watch"}, func(body []byte) CallResult {
		return CallResult{Stream: ch}
	})

	svc.Start(3, []string{"fs", "watch"}, nil)
	ch <- StreamItem{Body: []byte("a")}
	ch <- StreamItem{Body: []byte("b")}
	close(ch)

	waitForLen(t, sender, 3)
	envs := sender.all()
	if envs[0].MsgType != envelope.MsgInterim || envs[1].MsgType != envelope.MsgInterim || envs[2].MsgType != envelope.MsgEnd {
		t.Fatalf("got %v %v %v", envs[0].MsgType, envs[1].MsgType, envs[2].MsgType)
	}
}

func TestCancelInvokesOnCancel(t *testing.T) {
	t.Parallel()
	sender := &fakeSender{}
	svc := New(sender)

	cancelled := make(chan struct{})
	ch := make(chan StreamItem)
	svc.Expose([]string{"fs", "watch"}, func(body []byte) CallResult {
		return CallResult{Stream: ch, OnCancel: func() { close(cancelled) }}
	})

	svc.Start(4, []string{"fs", "watch"}, nil)
	svc.Cancel(4)

	select {
	case <-cancelled:
	default:
		t.Fatal("expected OnCancel to be invoked")
	}
}

func TestListObjReturnsImmediateChildren(t *testing.T) {
	t.Parallel()
	svc := New(&fakeSender{})
	svc.Expose([]string{"fs", "stat"}, func(body []byte) CallResult { return CallResult{} })
	svc.Expose([]string{"fs", "open"}, func(body []byte) CallResult { return CallResult{} })

	names, err := svc.ListObj([]string{"fs"})
	if err != nil {
		t.Fatalf("ListObj: %v", err)
	}
	if len(names) != 2 {
		t.Fatalf("got %v", names)
	}
}

func TestExposeDroppableServiceAndDrop(t *testing.T) {
	t.Parallel()
	svc := New(&fakeSender{})
	original := &struct{ X int }{X: 1}
	path := svc.ExposeDroppableService("file", original)

	got, err := svc.GetOriginalObj(path)
	if err != nil || got != original {
		t.Fatalf("GetOriginalObj: %v, %v", got, err)
	}

	if err := svc.Drop(path); err != nil {
		t.Fatalf("Drop: %v", err)
	}
	if _, err := svc.GetOriginalObj(path); err == nil {
		t.Error("expected object_not_found after Drop")
	}
}

func waitForLen(t *testing.T, sender *fakeSender, n int) {
	t.Helper()
	for i := 0; i < 1000; i++ {
		if len(sender.all()) >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d sent envelopes, got %d", n, len(sender.all()))
}
