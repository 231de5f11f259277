// Package serial provides the single logical execution context that gateway
// state transitions and persistence mutations run on.
//
// An Executor owns one goroutine which runs submitted closures in submission
// order. Closures get a context marked as running on the executor, so nested
// Do calls made with that context run inline instead of deadlocking.
package serial

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrHalted is returned by Do after Halt has been called.
var ErrHalted = errors.New("executor halted")

type ctxKey struct{}

type task struct {
	ctx  context.Context
	fn   func(ctx context.Context) error
	done chan error
}

// Executor is a managed background goroutine running tasks one at a time.
type Executor struct {
	sync.WaitGroup

	tasks    chan task
	haltCh   chan struct{}
	haltOnce sync.Once
}

// New starts an Executor. Callers must Halt it when done.
func New() *Executor {
	e := &Executor{
		tasks:  make(chan task),
		haltCh: make(chan struct{}),
	}
	e.Add(1)
	go func() {
		defer e.Done()
		e.loop()
	}()
	return e
}

func (e *Executor) loop() {
	for {
		select {
		case <-e.haltCh:
			return
		case t := <-e.tasks:
			t.done <- e.run(t)
		}
	}
}

func (e *Executor) run(t task) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("serial task panicked: %v", p)
		}
	}()
	return t.fn(context.WithValue(t.ctx, ctxKey{}, e))
}

// Do runs fn on the executor and waits for its result. If ctx already
// belongs to a task of this executor, fn runs inline. Cancellation of ctx
// only prevents submission; a submitted fn always runs to completion and is
// expected to observe ctx itself.
func (e *Executor) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if e.Owns(ctx) {
		return fn(ctx)
	}

	t := task{ctx: ctx, fn: fn, done: make(chan error, 1)}
	select {
	case <-e.haltCh:
		return ErrHalted
	case <-ctx.Done():
		return ctx.Err()
	case e.tasks <- t:
	}
	return <-t.done
}

// Owns reports whether ctx was handed out by this executor.
func (e *Executor) Owns(ctx context.Context) bool {
	owner, _ := ctx.Value(ctxKey{}).(*Executor)
	return owner == e
}

// Halt stops accepting tasks and waits for the running one to return.
func (e *Executor) Halt() {
	e.haltOnce.Do(func() { close(e.haltCh) })
	e.Wait()
}

// HaltCh is closed once Halt has been called.
func (e *Executor) HaltCh() <-chan struct{} {
	return e.haltCh
}
