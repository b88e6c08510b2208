// Package upsync implements the per-object upsync task log (spec §4.G): a
// persisted queue of pending upload/removal/archiving tasks plus a single
// checkpointed "current" task, with deduplicated-runner persistence so
// concurrent triggers collapse into one follow-up save. The scheduled/
// in-flight single-task discipline is grounded on the same batch
// processor (internal/batch/processor.go) that grounds the garbage
// collector (internal/objstore/gc), generalized from "flush buffered
// writes" to "persist queue mutations".
package upsync

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/xspvault/xspcore/pkg/retry"
	"github.com/xspvault/xspcore/pkg/xerrors"
)

// FileName is the fixed name of the upsync file inside an object folder.
const FileName = "upsync"

// Coalescer decides how a newly queued task merges into the existing
// queue. spec §9 Open Question (a) flags the precise coalescing rules as
// unspecified by the source ("XXX"); FIFOCoalescer below is the
// conservative default (plain append, no merging), kept behind this
// interface so a richer coalescing policy (e.g. merging disjoint
// `removal` tasks) can replace it without touching Log.
type Coalescer interface {
	Enqueue(queued []Task, task Task) []Task
}

// FIFOCoalescer appends every task unchanged, preserving strict
// enqueue order (spec §5 "Upsync FIFO").
type FIFOCoalescer struct{}

// Enqueue implements Coalescer.
func (FIFOCoalescer) Enqueue(queued []Task, task Task) []Task {
	return append(queued, task)
}

type wireLog struct {
	Queued  []Task `json:"queued"`
	Current *Task  `json:"current,omitempty"`
}

// Log is the per-object upsync task log described in spec §4.G.
type Log struct {
	path      string
	coalescer Coalescer
	retryer   *retry.Retryer

	mu      sync.Mutex
	cond    *sync.Cond
	queued  []Task
	current *Task

	initialized bool
	pending     []Task

	saving      bool
	saveQueued  bool
	lastSaveErr error
}

// New builds a Log over path and begins asynchronous initialization: the
// existing file (if any) is loaded in the background, and any QueueTask
// calls made before that completes are buffered and flushed once loading
// finishes (spec §4.G "Concurrency").
func New(path string, coalescer Coalescer) *Log {
	if coalescer == nil {
		coalescer = FIFOCoalescer{}
	}
	l := &Log{path: path, coalescer: coalescer, retryer: retry.New(retry.DefaultConfig())}
	l.cond = sync.NewCond(&l.mu)
	go l.initAsync()
	return l
}

func (l *Log) initAsync() {
	var loaded wireLog
	data, err := os.ReadFile(l.path)
	if err == nil {
		_ = json.Unmarshal(data, &loaded) // a corrupt file starts fresh rather than blocking init forever
	}

	l.mu.Lock()
	l.queued = loaded.Queued
	l.current = loaded.Current
	for _, t := range l.pending {
		l.queued = l.coalescer.Enqueue(l.queued, t)
	}
	flushed := len(l.pending) > 0
	l.pending = nil
	l.initialized = true
	l.cond.Broadcast()
	l.mu.Unlock()

	if flushed {
		l.triggerSave()
	}
}

// waitInitializedLocked blocks until initAsync has completed. l.mu must be
// held on entry and is held on return.
func (l *Log) waitInitializedLocked() {
	for !l.initialized {
		l.cond.Wait()
	}
}

// QueueTask appends task to the queue (via the configured Coalescer) and
// triggers a persist. If initialization hasn't completed yet, the task is
// buffered and applied once it does.
func (l *Log) QueueTask(task Task) {
	l.mu.Lock()
	if !l.initialized {
		l.pending = append(l.pending, task)
		l.mu.Unlock()
		return
	}
	l.queued = l.coalescer.Enqueue(l.queued, task)
	l.mu.Unlock()
	l.triggerSave()
}

// NextTask promotes the head of the queue to current and persists.
// Returns false if there is already a current task or the queue is
// empty (spec §4.G: "at most one current").
func (l *Log) NextTask() (Task, bool) {
	l.mu.Lock()
	l.waitInitializedLocked()
	if l.current != nil || len(l.queued) == 0 {
		l.mu.Unlock()
		return Task{}, false
	}
	next := l.queued[0]
	l.queued = l.queued[1:]
	l.current = &next
	l.mu.Unlock()
	l.triggerSave()
	return next, true
}

// RecordInterim persists an intermediate upload checkpoint onto the
// current task's Awaiting field.
func (l *Log) RecordInterim(awaiting Awaiting) error {
	l.mu.Lock()
	l.waitInitializedLocked()
	if l.current == nil || l.current.Kind != KindUpload {
		l.mu.Unlock()
		return xerrors.New(xerrors.KindStorage, xerrors.CodeNotFound, "no current upload task to record interim progress for")
	}
	cp := awaiting
	l.current.Upload.Awaiting = &cp
	l.mu.Unlock()
	l.triggerSave()
	return nil
}

// RecordCompletion clears the current task and persists.
func (l *Log) RecordCompletion() {
	l.mu.Lock()
	l.waitInitializedLocked()
	l.current = nil
	l.mu.Unlock()
	l.triggerSave()
}

// IsDone reports whether both the queue and the current task are empty,
// in which case the on-disk file has been (or will shortly be) removed.
func (l *Log) IsDone() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.waitInitializedLocked()
	return l.current == nil && len(l.queued) == 0
}

// Snapshot returns a defensive copy of the queue and current task, mostly
// useful for tests and diagnostics.
func (l *Log) Snapshot() (queued []Task, current *Task) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.waitInitializedLocked()
	queued = append([]Task(nil), l.queued...)
	if l.current != nil {
		cp := *l.current
		current = &cp
	}
	return queued, current
}

// triggerSave starts a background save if none is in flight; a trigger
// that arrives while one is already running is coalesced into exactly one
// follow-up save (spec §4.G, §5 "deduplicated-runner for persistence").
func (l *Log) triggerSave() {
	l.mu.Lock()
	if l.saving {
		l.saveQueued = true
		l.mu.Unlock()
		return
	}
	l.saving = true
	l.mu.Unlock()

	go l.runSaves()
}

func (l *Log) runSaves() {
	for {
		l.mu.Lock()
		queued := append([]Task(nil), l.queued...)
		var current *Task
		if l.current != nil {
			cp := *l.current
			current = &cp
		}
		l.mu.Unlock()

		err := l.retryer.Do(func() error { return l.saveSnapshot(queued, current) })

		l.mu.Lock()
		l.lastSaveErr = err
		if l.saveQueued {
			l.saveQueued = false
			l.mu.Unlock()
			continue
		}
		l.saving = false
		l.cond.Broadcast()
		l.mu.Unlock()
		return
	}
}

// saveSnapshot writes queued/current to disk, removing the file entirely
// when both are empty (spec §4.G "is_done() ... the file is removed").
func (l *Log) saveSnapshot(queued []Task, current *Task) error {
	if len(queued) == 0 && current == nil {
		if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
			return xerrors.New(xerrors.KindStorage, xerrors.CodeNotFound, "remove upsync file").
				WithPath(l.path, 0).WithCause(err)
		}
		return nil
	}

	w := wireLog{Queued: queued, Current: current}
	data, err := json.Marshal(w)
	if err != nil {
		return xerrors.ParsingError("encoding upsync log").WithCause(err)
	}
	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		return xerrors.New(xerrors.KindStorage, xerrors.CodeNotFound, "write upsync file").
			WithPath(l.path, 0).WithCause(err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		return xerrors.New(xerrors.KindStorage, xerrors.CodeNotFound, "rename upsync file").
			WithPath(l.path, 0).WithCause(err)
	}
	return nil
}

// WaitSaved blocks until no save is in flight and none is queued. Intended
// for tests.
func (l *Log) WaitSaved() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for l.saving || l.saveQueued {
		l.cond.Wait()
	}
}

// LastSaveError returns the error (if any) from the most recently
// completed save attempt, for diagnostics.
func (l *Log) LastSaveError() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastSaveErr
}
