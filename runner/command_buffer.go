package runner

import (
	"fmt"
	"sync"
	"time"
)

// Status is the lifecycle state of a CommandBuffer
type Status int

const (
	StatusEncoding Status = iota
	StatusCommitted
	StatusCompleted
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusEncoding:
		return "encoding"
	case StatusCommitted:
		return "committed"
	case StatusCompleted:
		return "completed"
	case StatusError:
		return "error"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Timings are the device-side timestamps of an executed command buffer
type Timings struct {
	KernelStart time.Time // host handed the buffer to the queue
	GPUStart    time.Time // queue began executing it
	GPUEnd      time.Time // device finished the last operation
}

// GPUTime is the time the device spent executing the buffer
func (t Timings) GPUTime() time.Duration {
	return t.GPUEnd.Sub(t.GPUStart)
}

// TotalTime includes the wait between commit and execution
func (t Timings) TotalTime() time.Duration {
	return t.GPUEnd.Sub(t.KernelStart)
}

// CommandBuffer is an ordered list of encoded device operations committed
// as a unit. It moves encoding -> committed -> completed (or error) and is
// single-use: once committed nothing more can be encoded into it.
// Operations execute in encoding order.
type CommandBuffer struct {
	queue *commandQueue

	mu       sync.Mutex
	status   Status
	ops      []func() error
	handlers []func(*CommandBuffer)
	err      error
	timings  Timings
	done     chan struct{}
}

// NewCommandBuffer returns an open command buffer on the Runner's queue
func (kr *Runner) NewCommandBuffer() *CommandBuffer {
	return &CommandBuffer{
		queue: kr.queue,
		done:  make(chan struct{}),
	}
}

func (cb *CommandBuffer) encode(op func() error) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.status != StatusEncoding {
		return ErrCommitted
	}
	cb.ops = append(cb.ops, op)
	return nil
}

// Len returns the number of encoded operations
func (cb *CommandBuffer) Len() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return len(cb.ops)
}

// AddCompletedHandler registers fn to run once the buffer has completed.
// Handlers run on a notification goroutine owned by the queue, after Wait
// has been released, in registration order.
func (cb *CommandBuffer) AddCompletedHandler(fn func(*CommandBuffer)) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.status != StatusEncoding {
		return ErrCommitted
	}
	cb.handlers = append(cb.handlers, fn)
	return nil
}

// Commit hands the buffer to the device queue. It does not wait.
func (cb *CommandBuffer) Commit() error {
	cb.mu.Lock()
	if cb.status != StatusEncoding {
		cb.mu.Unlock()
		return ErrCommitted
	}
	cb.status = StatusCommitted
	cb.timings.KernelStart = time.Now()
	cb.mu.Unlock()

	if err := cb.queue.submit(cb); err != nil {
		cb.complete(err)
		return err
	}
	return nil
}

// Wait blocks until the device has executed every operation in the buffer
// and returns the first error any of them produced. There is no timeout.
func (cb *CommandBuffer) Wait() error {
	cb.mu.Lock()
	status := cb.status
	cb.mu.Unlock()
	if status == StatusEncoding {
		return ErrNotCommitted
	}
	<-cb.done
	return cb.Err()
}

// Status returns the current lifecycle state
func (cb *CommandBuffer) Status() Status {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.status
}

// Err returns the execution error of a completed buffer
func (cb *CommandBuffer) Err() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.err
}

// Timings returns the device timestamps; valid once the buffer completed
func (cb *CommandBuffer) Timings() Timings {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.timings
}

func (cb *CommandBuffer) complete(err error) {
	cb.mu.Lock()
	cb.err = err
	if err != nil {
		cb.status = StatusError
	} else {
		cb.status = StatusCompleted
	}
	handlers := cb.handlers
	cb.mu.Unlock()

	close(cb.done)
	if len(handlers) == 0 {
		return
	}
	go func() {
		for _, h := range handlers {
			h(cb)
		}
	}()
}

// commandQueue executes committed buffers one at a time in commit order
type commandQueue struct {
	backend Backend
	pending chan *CommandBuffer
	wg      sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func newCommandQueue(backend Backend) *commandQueue {
	q := &commandQueue{
		backend: backend,
		pending: make(chan *CommandBuffer, 16),
	}
	q.wg.Add(1)
	go q.run()
	return q
}

func (q *commandQueue) run() {
	defer q.wg.Done()
	for cb := range q.pending {
		q.execute(cb)
	}
}

func (q *commandQueue) execute(cb *CommandBuffer) {
	cb.mu.Lock()
	ops := cb.ops
	cb.timings.GPUStart = time.Now()
	cb.mu.Unlock()

	var err error
	for i, op := range ops {
		if err = op(); err != nil {
			err = fmt.Errorf("operation %d: %w", i, err)
			break
		}
	}
	if ferr := q.backend.Finish(); ferr != nil && err == nil {
		err = fmt.Errorf("device finish failed: %w", ferr)
	}

	cb.mu.Lock()
	cb.timings.GPUEnd = time.Now()
	cb.mu.Unlock()
	cb.complete(err)
}

func (q *commandQueue) submit(cb *CommandBuffer) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	q.pending <- cb
	return nil
}

func (q *commandQueue) close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.pending)
	q.mu.Unlock()
	q.wg.Wait()
}
