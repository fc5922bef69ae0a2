// Package mbtask is the cooperative per-channel task runtime the server
// dispatcher runs on (§4.7, §5): one task per channel, parked on its own
// waker between polls instead of busy-spinning, tied together by an
// errgroup so a fatal error on any channel cancels the rest.
package mbtask

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/mbrpc/mbrpc/pkg/mbasync"
)

// ChanWaker is a single-slot wake channel implementing mbasync.Waker.
// Wake is non-blocking: a task that hasn't parked yet simply sees the
// pending wake on its next receive.
type ChanWaker chan struct{}

// NewChanWaker returns a ready-to-use waker.
func NewChanWaker() ChanWaker { return make(ChanWaker, 1) }

// Wake implements mbasync.Waker.
func (w ChanWaker) Wake() {
	select {
	case w <- struct{}{}:
	default:
	}
}

// Step is one non-blocking pass over a channel's work. It reports the
// poll outcome (so the runtime knows whether to park on waker) and
// whether the task's loop should stop.
type Step func(ctx context.Context, waker mbasync.Waker) (outcome mbasync.Outcome, done bool, err error)

// Runtime runs one goroutine per registered channel task.
type Runtime struct {
	group *errgroup.Group
	ctx   context.Context
}

// New creates a Runtime whose tasks share ctx for cancellation.
func New(ctx context.Context) *Runtime {
	g, gctx := errgroup.WithContext(ctx)
	return &Runtime{group: g, ctx: gctx}
}

// Spawn registers a channel task and returns immediately; the task runs
// on its own goroutine, parking on its waker whenever step reports
// Pending.
func (r *Runtime) Spawn(step Step) {
	r.group.Go(func() error {
		waker := NewChanWaker()
		for {
			select {
			case <-r.ctx.Done():
				return r.ctx.Err()
			default:
			}

			outcome, done, err := step(r.ctx, waker)
			if err != nil {
				return err
			}
			if done {
				return nil
			}
			if outcome == mbasync.Pending {
				select {
				case <-waker:
				case <-r.ctx.Done():
					return r.ctx.Err()
				}
			}
		}
	})
}

// Wait blocks until every spawned task has stopped, returning the first
// non-nil error any of them returned.
func (r *Runtime) Wait() error {
	return r.group.Wait()
}
