package mbasync

import (
	"testing"

	"github.com/mbrpc/mbrpc/pkg/mbchannel"
	"github.com/mbrpc/mbrpc/pkg/mbproto"
	"github.com/mbrpc/mbrpc/pkg/mbshm"
)

func newTestAsyncChannel(t *testing.T) *Channel {
	t.Helper()
	layout := mbproto.DefaultLayout
	space := mbshm.NewSpace()
	if err := space.AddBlock(0, make([]byte, layout.ChannelSize())); err != nil {
		t.Fatalf("AddBlock: %v", err)
	}
	return New(&mbchannel.Channel{Name: "test", Space: space, Base: 0, Layout: layout})
}

type countingWaker struct{ n int }

func (w *countingWaker) Wake() { w.n++ }

func TestPollWaitResetThenReady(t *testing.T) {
	c := newTestAsyncChannel(t)
	w := &countingWaker{}
	// A freshly zeroed channel is already reset-ready; commit one request
	// so the indices are nonzero until the client's ResetReq.
	c.Channel.CommitReq(c.Channel.PutReq(mbproto.ReqEntry{Action: mbproto.ActionPrint}))
	if out := c.PollWaitReset(w); out != Pending {
		t.Fatalf("PollWaitReset before ResetReq = %v, want Pending", out)
	}

	c.Channel.ResetReq()
	c.NotifyReset()
	if w.n == 0 {
		t.Fatal("NotifyReset should wake the registered waker")
	}
	if out := c.PollWaitReset(nil); out != Ready {
		t.Fatalf("PollWaitReset after ResetReq = %v, want Ready", out)
	}
	if !c.Channel.IsReady() {
		t.Fatal("PollWaitReset Ready should have called ResetAck")
	}
}

func TestPollSendRecvReqWakesPeer(t *testing.T) {
	c := newTestAsyncChannel(t)
	c.Channel.ResetReq()
	c.Channel.ResetAck()

	recvWaker := &countingWaker{}
	if out, _ := c.PollRecvReq(recvWaker); out != Pending {
		t.Fatalf("PollRecvReq on empty ring = %v, want Pending", out)
	}

	out, addr := c.PollSendReq(mbproto.ReqEntry{Action: mbproto.ActionPrint, Args: make([]mbproto.Ptr, 8)}, nil)
	if out != Ready || addr == 0 {
		t.Fatalf("PollSendReq = (%v, 0x%x), want Ready with a nonzero entry address", out, addr)
	}
	if recvWaker.n == 0 {
		t.Fatal("PollSendReq should wake the waiting receiver")
	}

	out2, entry := c.PollRecvReq(nil)
	if out2 != Ready || entry.Action != mbproto.ActionPrint {
		t.Fatalf("PollRecvReq = (%v, %+v), want Ready/PRINT", out2, entry)
	}
}

func TestPollSendRespNotReadyBeforeHandshake(t *testing.T) {
	c := newTestAsyncChannel(t)
	if out := c.PollSendResp(mbproto.RespEntry{}, nil); out != NotReady {
		t.Fatalf("PollSendResp before handshake = %v, want NotReady", out)
	}
	if out, _ := c.PollRecvResp(nil); out != NotReady {
		t.Fatalf("PollRecvResp before handshake = %v, want NotReady", out)
	}
}
