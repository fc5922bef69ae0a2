package mbserver

import (
	"context"
	"fmt"
	"time"

	"github.com/mbrpc/mbrpc/internal/mbtask"
	"github.com/mbrpc/mbrpc/pkg/mbasync"
	"github.com/mbrpc/mbrpc/pkg/mbproto"
	"github.com/mbrpc/mbrpc/pkg/mbptr"
)

// ChannelConfig binds one channel to the dispatcher: its async wrapper,
// its name (for output prefixing and host-call identification), the
// resolver it reads/writes client memory through, and the address (if
// any) of its version record.
type ChannelConfig struct {
	Name        string
	Channel     *mbasync.Channel
	Resolver    mbptr.Resolver
	VersionAddr mbproto.Ptr
}

// Spawn registers cfg's channel as one cooperative task on rt, driven by
// d. The task performs the reset handshake and version check, then
// loops receive→dispatch→maybe-respond until a STOPSERVER/EXIT(Stop) or
// a fatal dispatch error. A channel found back in INIT (a client reset)
// sends the task through the handshake and version check again.
func (d *Dispatcher) Spawn(rt *mbtask.Runtime, cfg ChannelConfig) {
	t := &channelTask{d: d, cfg: cfg, state: taskWaitReset}
	rt.Spawn(t.step)
}

type taskState int

const (
	taskWaitReset taskState = iota
	taskCheckVersion
	taskWaitRequest
	taskHandle
	taskSendResp
)

type channelTask struct {
	d     *Dispatcher
	cfg   ChannelConfig
	state taskState

	pendingReq  mbproto.ReqEntry
	pendingResp mbproto.RespEntry
}

// clientPollInterval bounds how long a Pending channel task stays parked.
// The no-heap client sender writes the rings directly and never signals
// the async wrapper's wakers, so every Pending step also arms a timer
// that wakes the task to re-poll.
const clientPollInterval = time.Millisecond

func (t *channelTask) step(ctx context.Context, waker mbasync.Waker) (outcome mbasync.Outcome, done bool, err error) {
	defer func() {
		if outcome == mbasync.Pending {
			time.AfterFunc(clientPollInterval, waker.Wake)
		}
	}()

	switch t.state {
	case taskWaitReset:
		out := t.cfg.Channel.PollWaitReset(waker)
		if out == mbasync.Ready {
			t.state = taskCheckVersion
		}
		return out, false, nil

	case taskCheckVersion:
		if err := CheckVersion(t.cfg.Resolver, t.cfg.VersionAddr); err != nil {
			return mbasync.Ready, true, err
		}
		t.state = taskWaitRequest
		return mbasync.Ready, false, nil

	case taskWaitRequest:
		out, req := t.cfg.Channel.PollRecvReq(waker)
		if out == mbasync.NotReady {
			t.state = taskWaitReset
			return mbasync.Ready, false, nil
		}
		if out != mbasync.Ready {
			return out, false, nil
		}
		t.pendingReq = req
		t.state = taskHandle
		return mbasync.Ready, false, nil

	case taskHandle:
		res, err := t.d.dispatch(t.cfg.Name, t.cfg.Resolver, t.pendingReq)
		if err != nil {
			return mbasync.Ready, true, err
		}
		if res.pending {
			// The host call hasn't completed yet; re-run the same
			// request on the next step rather than parking on a
			// channel waker nothing will signal.
			return mbasync.Ready, false, nil
		}
		if !res.hasResp {
			if res.stop {
				return mbasync.Ready, true, nil
			}
			t.state = taskWaitRequest
			return mbasync.Ready, false, nil
		}
		t.pendingResp = res.resp
		t.state = taskSendResp
		return mbasync.Ready, false, nil

	case taskSendResp:
		out := t.cfg.Channel.PollSendResp(t.pendingResp, waker)
		if out == mbasync.NotReady {
			t.state = taskWaitReset
			return mbasync.Ready, false, nil
		}
		if out != mbasync.Ready {
			return out, false, nil
		}
		t.state = taskWaitRequest
		return mbasync.Ready, false, nil

	default:
		return mbasync.Ready, true, fmt.Errorf("mbserver: unreachable task state %d", t.state)
	}
}
