// Package mbasync wraps a mbchannel.Channel with the host-side async
// polling API (§4.5): one waker slot per direction, and a three-valued
// poll result so a reactor can park a task until there's work instead of
// spinning like the bare client does.
package mbasync

import (
	"sync"

	"github.com/mbrpc/mbrpc/pkg/mbchannel"
	"github.com/mbrpc/mbrpc/pkg/mbproto"
)

// Waker is notified when a previously-pending poll might now make
// progress. It is deliberately minimal — an errgroup-driven task runtime
// (internal/mbtask) implements it as "reschedule this task".
type Waker interface {
	Wake()
}

// WakerFunc adapts a plain function to a Waker.
type WakerFunc func()

// Wake calls f.
func (f WakerFunc) Wake() { f() }

// Outcome is the three-valued result of a poll: the call completed
// (Ready), the call cannot complete because the channel isn't in a state
// to service it (NotReady — e.g. the reset handshake hasn't finished),
// or there's nothing to do yet and the caller's waker has been recorded
// (Pending).
type Outcome int

const (
	Pending Outcome = iota
	Ready
	NotReady
)

// Channel adds single-slot waker bookkeeping around a mbchannel.Channel.
// Only one outstanding waker is kept per direction, matching the
// single-task-per-channel model in §4.5 and internal/mbtask.
type Channel struct {
	*mbchannel.Channel

	mu             sync.Mutex
	reqSpaceWaker  Waker
	reqDataWaker   Waker
	respSpaceWaker Waker
	respDataWaker  Waker
	resetWaker     Waker
}

// New wraps ch for async polling.
func New(ch *mbchannel.Channel) *Channel {
	return &Channel{Channel: ch}
}

func wake(w Waker) {
	if w != nil {
		w.Wake()
	}
}

// PollWaitReset drives the server side of the reset handshake: once the
// client has zeroed all four indices, it acknowledges and returns Ready.
// Until then it records waker and returns Pending.
func (c *Channel) PollWaitReset(waker Waker) Outcome {
	if c.ResetReady() {
		c.Channel.ResetAck()
		return Ready
	}
	c.mu.Lock()
	c.resetWaker = waker
	c.mu.Unlock()
	return Pending
}

// NotifyReset wakes whatever task is waiting on the reset handshake, for
// an in-process client that calls it after ResetReq. The no-heap client
// sender (pkg/mbclient) writes the channel directly and does not call it.
func (c *Channel) NotifyReset() {
	c.mu.Lock()
	w := c.resetWaker
	c.resetWaker = nil
	c.mu.Unlock()
	wake(w)
}

// PollSendReq attempts to enqueue req. NotReady means the channel hasn't
// completed its reset handshake.
func (c *Channel) PollSendReq(req mbproto.ReqEntry, waker Waker) (Outcome, uint64) {
	if !c.Channel.IsReady() {
		return NotReady, 0
	}
	if !c.Channel.ReqCanPut() {
		c.mu.Lock()
		c.reqSpaceWaker = waker
		c.mu.Unlock()
		return Pending, 0
	}
	addr := c.Channel.PutReq(req)
	c.Channel.CommitReq(addr)
	c.mu.Lock()
	w := c.reqDataWaker
	c.reqDataWaker = nil
	c.mu.Unlock()
	wake(w)
	return Ready, addr
}

// PollRecvReq attempts to dequeue the next request.
func (c *Channel) PollRecvReq(waker Waker) (Outcome, mbproto.ReqEntry) {
	if !c.Channel.IsReady() {
		return NotReady, mbproto.ReqEntry{}
	}
	if !c.Channel.ReqCanGet() {
		c.mu.Lock()
		c.reqDataWaker = waker
		c.mu.Unlock()
		return Pending, mbproto.ReqEntry{}
	}
	entry, err := c.Channel.GetReq()
	if err != nil {
		c.mu.Lock()
		c.reqDataWaker = waker
		c.mu.Unlock()
		return Pending, mbproto.ReqEntry{}
	}
	c.Channel.AckReq()
	c.mu.Lock()
	w := c.reqSpaceWaker
	c.reqSpaceWaker = nil
	c.mu.Unlock()
	wake(w)
	return Ready, entry
}

// PollSendResp attempts to enqueue resp.
func (c *Channel) PollSendResp(resp mbproto.RespEntry, waker Waker) Outcome {
	if !c.Channel.IsReady() {
		return NotReady
	}
	if !c.Channel.RespCanPut() {
		c.mu.Lock()
		c.respSpaceWaker = waker
		c.mu.Unlock()
		return Pending
	}
	addr := c.Channel.PutResp(resp)
	c.Channel.CommitResp(addr)
	c.mu.Lock()
	w := c.respDataWaker
	c.respDataWaker = nil
	c.mu.Unlock()
	wake(w)
	return Ready
}

// PollRecvResp attempts to dequeue the next response.
func (c *Channel) PollRecvResp(waker Waker) (Outcome, mbproto.RespEntry) {
	if !c.Channel.IsReady() {
		return NotReady, mbproto.RespEntry{}
	}
	if !c.Channel.RespCanGet() {
		c.mu.Lock()
		c.respDataWaker = waker
		c.mu.Unlock()
		return Pending, mbproto.RespEntry{}
	}
	resp, err := c.Channel.GetResp()
	if err != nil {
		c.mu.Lock()
		c.respDataWaker = waker
		c.mu.Unlock()
		return Pending, mbproto.RespEntry{}
	}
	c.Channel.AckResp()
	c.mu.Lock()
	w := c.respSpaceWaker
	c.respSpaceWaker = nil
	c.mu.Unlock()
	wake(w)
	return Ready, resp
}
