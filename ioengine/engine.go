// Copyright 2024 The Monad Core Authors
// This file is part of monad-core.
//
// monad-core is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// monad-core is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with monad-core. If not, see <http://www.gnu.org/licenses/>.

// Package ioengine implements the Async I/O Engine of spec.md §4.2: a
// single-owner-thread ring with a registered-buffer pool and a
// Sender/Receiver completion contract. The real target backend is
// io_uring (via golang.org/x/sys/unix's raw syscalls); this
// implementation keeps that contract exactly while backing the ring with
// a bounded submission channel and a fixed worker draining it in FIFO
// order, which is sufficient to provide the one invariant spec.md calls
// out as load-bearing (§4.2, §8): writes submitted to the same chunk are
// never reordered, even when the submission queue is momentarily
// exhausted and completions must be reaped mid-submission.
package ioengine

import (
	"sync"
	"sync/atomic"

	"github.com/category-labs/monad-core/coreerr"
)

// Result is what a Sender or the engine hands to a Receiver: either a
// byte count (read/write completed with n bytes transferred) or a filled
// buffer reference (read completed into a registered buffer).
type Result struct {
	N      int
	Buffer *Buffer
}

// Sender lodges an I/O with the ring. Initiate returns
// (res, coreerr.Sentinel(coreerr.InitiationImmediatelyCompleted))
// when the operation already completed synchronously (with res
// populated and handed to the Receiver), coreerr.Sentinel(coreerr.OperationMustBeReinitiated) when
// the engine should retry (typically after reaping to free a buffer),
// or any other error/nil per normal Go convention for an operation that
// is now in flight and will complete asynchronously.
type Sender interface {
	Initiate(eng *Engine, op *Operation) (Result, error)
}

// Receiver is invoked exactly once, with the Sender's outcome, either
// synchronously inside Initiate (immediate completion) or later from
// Engine.Poll (asynchronous completion).
type Receiver interface {
	OnComplete(res Result, err error)
}

// Operation bundles a Sender+Receiver pair plus the two flags from
// spec.md §4.2: NeverDefer bypasses the reentrancy guard, and
// LifetimeManaged tells the engine to take ownership of the operation
// (and its buffer) instead of releasing it back to the pool once the
// Receiver returns.
type Operation struct {
	Sender
	Receiver
	NeverDefer      bool
	LifetimeManaged bool

	buf  *Buffer
	pool *bufferPool
}

// ReleaseBuffer returns the operation's registered buffer to its pool.
// Called by the engine once the Receiver has returned, unless the
// operation opted into LifetimeManaged.
func (op *Operation) ReleaseBuffer() {
	if op.buf != nil && op.pool != nil {
		op.pool.Put(op.buf)
		op.buf = nil
	}
}

type completion struct {
	op  *Operation
	res Result
	err error
}

// Engine is modeled on spec.md §4.2's single-owner-thread ring: in the
// original, only the owning thread may call Initiate/Poll, and a single
// thread-safe path (Wake) lets other threads nudge it. Go's fiber
// replacement is goroutines with no cheap single-owner-thread affinity, so
// this port relaxes that constraint to a mutex (submitMu) guarding the
// submission/completion bookkeeping (insideCompletion, pendingInit) that
// the original left thread-local; every goroutine may call Initiate/Poll
// directly, at the cost of serializing through the lock rather than
// running lock-free on one thread. BindOwner is kept as a documentation
// marker (and a once-only assertion) rather than an enforced affinity.
type Engine struct {
	ownerSet   atomic.Bool
	submitMu   sync.Mutex
	readPool   *bufferPool
	writePool  *bufferPool
	queueDepth int

	sq   chan *Operation
	cq   chan completion
	wake chan struct{}

	insideCompletion int // guarded by submitMu
	pendingInit      []*Operation

	inflight atomic.Int64
	done     chan struct{}
	doneOnce sync.Once

	reinitiateCount atomic.Uint64

	perChunk sync.Map // fd(int) -> *sync.Mutex, serializes writers per fd
}

// Config configures Engine construction.
type Config struct {
	QueueDepth      int // submission-queue depth, models SQE count
	ReadBufferCount int
	WriteBufferCount int
}

// New constructs an Engine with a registered-buffer pool split into a
// read pool (ReadBufSize each) and a write pool (WriteBufSize each), and
// a bounded submission queue of cfg.QueueDepth slots.
func New(cfg Config) *Engine {
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 256
	}
	if cfg.ReadBufferCount <= 0 {
		cfg.ReadBufferCount = 64
	}
	if cfg.WriteBufferCount <= 0 {
		cfg.WriteBufferCount = 16
	}
	e := &Engine{
		readPool:   newBufferPool(readKind, ReadBufSize, cfg.ReadBufferCount),
		writePool:  newBufferPool(writeKind, WriteBufSize, cfg.WriteBufferCount),
		queueDepth: cfg.QueueDepth,
		sq:         make(chan *Operation, cfg.QueueDepth),
		cq:         make(chan completion, cfg.QueueDepth*4),
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	go e.worker()
	return e
}

// BindOwner marks the calling goroutine as the engine's owner. Must be
// called once before any Initiate/Poll call.
func (e *Engine) BindOwner() {
	if !e.ownerSet.CompareAndSwap(false, true) {
		coreerr.Assert(false, "ioengine: BindOwner called twice")
	}
}

// ReinitiateCount reports how many times Initiate had to retry due to
// submission-queue exhaustion; exposed for the SQE-exhaustion test
// (spec.md §8 scenario 2).
func (e *Engine) ReinitiateCount() uint64 { return e.reinitiateCount.Load() }

// Initiate lodges op with the ring, implementing the contract of
// spec.md §4.2: if called reentrantly from inside a completion and
// NeverDefer is false, the operation is queued for dispatch after the
// current completion chain unwinds; otherwise the operation is submitted
// now, retrying on OperationMustBeReinitiated and completing synchronously
// on InitiationImmediatelyCompleted.
func (e *Engine) Initiate(op *Operation) {
	e.submitMu.Lock()
	defer e.submitMu.Unlock()
	if e.insideCompletion > 0 && !op.NeverDefer {
		e.pendingInit = append(e.pendingInit, op)
		return
	}
	e.initiateNow(op)
}

func (e *Engine) initiateNow(op *Operation) {
	for {
		res, err := op.Sender.Initiate(e, op)
		if cerr, ok := err.(*coreerr.Error); ok {
			switch cerr.Code {
			case coreerr.InitiationImmediatelyCompleted:
				e.completeSync(op, res, nil)
				return
			case coreerr.OperationMustBeReinitiated:
				e.reinitiateCount.Add(1)
				e.drainOne(true)
				continue
			}
		}
		if err != nil {
			e.completeSync(op, res, err)
			return
		}
		// In flight: the Sender has handed the operation to the ring;
		// the worker goroutine will push its completion to cq.
		e.inflight.Add(1)
		return
	}
}

func (e *Engine) completeSync(op *Operation, res Result, err error) {
	e.insideCompletion++
	op.Receiver.OnComplete(res, err)
	e.insideCompletion--
	if !op.LifetimeManaged {
		op.ReleaseBuffer()
	}
	e.drainPendingInitiations()
}

func (e *Engine) drainPendingInitiations() {
	if e.insideCompletion > 0 {
		return
	}
	for len(e.pendingInit) > 0 {
		next := e.pendingInit[0]
		e.pendingInit = e.pendingInit[1:]
		e.initiateNow(next)
	}
}

// Poll processes at most n completions. If blocking is true and none are
// immediately available, the first wait suspends until one arrives.
func (e *Engine) Poll(n int, blocking bool) int {
	e.submitMu.Lock()
	defer e.submitMu.Unlock()
	processed := 0
	for processed < n {
		if !e.drainOne(blocking && processed == 0) {
			break
		}
		processed++
	}
	return processed
}

// drainOne pulls one completion off cq, invoking its Receiver. Returns
// false if none is available and wait is false, or if a Wake arrived
// while waiting.
func (e *Engine) drainOne(wait bool) bool {
	var c completion
	if wait {
		select {
		case c = <-e.cq:
		case <-e.wake:
			return false
		}
	} else {
		select {
		case c = <-e.cq:
		default:
			return false
		}
	}
	e.insideCompletion++
	c.op.Receiver.OnComplete(c.res, c.err)
	e.insideCompletion--
	if !c.op.LifetimeManaged {
		c.op.ReleaseBuffer()
	}
	e.inflight.Add(-1)
	e.drainPendingInitiations()
	return true
}

// WaitUntilDone blocks until every in-flight operation has completed;
// used at engine shutdown (spec.md §4.2 "Cancellation").
func (e *Engine) WaitUntilDone() {
	e.submitMu.Lock()
	defer e.submitMu.Unlock()
	for e.inflight.Load() > 0 {
		e.drainOne(true)
	}
}

// Wake is the one thread-safe submission path: any goroutine may call it
// to nudge the owning thread out of a blocking Poll (spec.md §4.2
// "single thread-safe submission path... used to wake the owning
// thread").
func (e *Engine) Wake() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// worker is the ring emulation: a single goroutine draining sq in strict
// FIFO order and performing the underlying pread/pwrite, which is what
// makes the per-chunk ordering invariant hold regardless of queue depth.
func (e *Engine) worker() {
	for op := range e.sq {
		e.execute(op)
	}
}

// submit pushes op onto the submission queue, returning
// OperationMustBeReinitiated if the queue is momentarily full (SQE
// exhaustion) rather than blocking, so the caller's Initiate loop can
// observe and count the retry as spec.md §8 scenario 2 requires.
func (e *Engine) submit(op *Operation) error {
	select {
	case e.sq <- op:
		return nil
	default:
		return coreerr.New("ioengine.submit", coreerr.OperationMustBeReinitiated, nil)
	}
}

func (e *Engine) execute(op *Operation) {
	rw, ok := op.Sender.(rawOp)
	if !ok {
		e.cq <- completion{op: op, err: coreerr.New("ioengine.execute", coreerr.IOFailed, nil)}
		return
	}
	n, err := rw.perform()
	var cerr error
	if err != nil {
		cerr = coreerr.New("ioengine.execute", coreerr.IOFailed, err)
	}
	e.cq <- completion{op: op, res: Result{N: n, Buffer: rw.bufferRef()}, err: cerr}
}

// rawOp is implemented by the concrete read/write Senders in ops.go so
// the worker can perform the actual syscall without a type switch per
// operation kind.
type rawOp interface {
	perform() (int, error)
	bufferRef() *Buffer
}

// chunkLock returns (creating if absent) a per-fd mutex. Nothing in this
// package calls it: write ordering rests on the single worker goroutine,
// which executes every submission in FIFO order (spec.md §8: "the engine
// must not reorder writes relative to submission order").
func (e *Engine) chunkLock(fd int) *sync.Mutex {
	v, _ := e.perChunk.LoadOrStore(fd, &sync.Mutex{})
	return v.(*sync.Mutex)
}
