// Package mbchannel implements the single-producer/single-consumer
// protocol over a channel control block in shared memory: can-put/can-get
// predicates, put/commit/get/ack of ring entries, and the reset handshake.
package mbchannel

import (
	"fmt"

	"github.com/mbrpc/mbrpc/pkg/mbproto"
	"github.com/mbrpc/mbrpc/pkg/mbshm"
)

// Fences are the deployment-supplied memory-barrier/cache-maintenance
// hooks required by §4.3 and §5. The zero value is a legal no-op binding
// for peers that share a coherent cache.
type Fences struct {
	RFence func(addr uint64, length int)
	WFence func(addr uint64, length int)
}

func (f Fences) rfence(addr uint64, length int) {
	if f.RFence != nil {
		f.RFence(addr, length)
	}
}

func (f Fences) wfence(addr uint64, length int) {
	if f.WFence != nil {
		f.WFence(addr, length)
	}
}

// Channel is one channel control block, addressed within a shared-memory
// Space starting at Base. It exposes the full read/write surface of §4.3;
// both the no-heap client sender and the async server wrapper are built
// on top of it.
type Channel struct {
	Name   string
	Space  *mbshm.Space
	Base   uint64
	Layout mbproto.Layout
	Fences Fences
}

func (c *Channel) stateAddr() uint64    { return c.Base + uint64(c.Layout.StateOffset()) }
func (c *Channel) reqQueueBase() uint64 { return c.Base + uint64(c.Layout.ReqQueueOffset()) }
func (c *Channel) respQueueBase() uint64 {
	return c.Base + uint64(c.Layout.RespQueueOffset())
}

func (c *Channel) reqIdxPAddr() uint64 { return c.reqQueueBase() + uint64(c.Layout.ReqIdxPOffset()) }
func (c *Channel) reqIdxCAddr() uint64 { return c.reqQueueBase() + uint64(c.Layout.ReqIdxCOffset()) }
func (c *Channel) reqEntryAddr(slot uint32) uint64 {
	return c.reqQueueBase() + uint64(c.Layout.ReqEntriesOffset()) + uint64(slot)*uint64(c.Layout.ReqEntrySize())
}

func (c *Channel) respIdxPAddr() uint64 {
	return c.respQueueBase() + uint64(c.Layout.RespIdxPOffset())
}
func (c *Channel) respIdxCAddr() uint64 {
	return c.respQueueBase() + uint64(c.Layout.RespIdxCOffset())
}
func (c *Channel) respEntryAddr(slot uint32) uint64 {
	return c.respQueueBase() + uint64(c.Layout.RespEntriesOffset()) + uint64(slot)*uint64(c.Layout.RespEntrySize())
}

func (c *Channel) readIdx(addr uint64) mbproto.RingIndex {
	v, _ := c.Space.ReadU32(addr)
	return mbproto.RingIndex(v)
}

func (c *Channel) writeIdx(addr uint64, idx mbproto.RingIndex) {
	c.Space.WriteU32(addr, uint32(idx))
}

// IsReady reports whether the peer has completed the reset handshake.
func (c *Channel) IsReady() bool {
	v, _ := c.Space.ReadU32(c.stateAddr())
	return mbproto.State(v) == mbproto.StateReady
}

// ResetReq writes state=INIT and zeroes all four ring indices — the
// client-side half of the reset handshake.
func (c *Channel) ResetReq() {
	c.Space.WriteU32(c.stateAddr(), uint32(mbproto.StateInit))
	c.writeIdx(c.reqIdxPAddr(), 0)
	c.writeIdx(c.reqIdxCAddr(), 0)
	c.writeIdx(c.respIdxPAddr(), 0)
	c.writeIdx(c.respIdxCAddr(), 0)
	c.Fences.wfence(c.stateAddr(), 4)
}

// ResetReady reports whether all four ring indices are observed zero —
// the server-side precondition for acknowledging a reset.
func (c *Channel) ResetReady() bool {
	c.Fences.rfence(c.reqIdxPAddr(), 4)
	return c.readIdx(c.reqIdxPAddr()) == 0 &&
		c.readIdx(c.reqIdxCAddr()) == 0 &&
		c.readIdx(c.respIdxPAddr()) == 0 &&
		c.readIdx(c.respIdxCAddr()) == 0
}

// ResetAck writes state=READY — the server-side completion of the reset
// handshake.
func (c *Channel) ResetAck() {
	c.Space.WriteU32(c.stateAddr(), uint32(mbproto.StateReady))
	c.Fences.wfence(c.stateAddr(), 4)
}

// ReqCanPut reports whether the request ring has a free slot.
func (c *Channel) ReqCanPut() bool {
	p := c.readIdx(c.reqIdxPAddr())
	c.Fences.rfence(c.reqIdxCAddr(), 4)
	cons := c.readIdx(c.reqIdxCAddr())
	return !mbproto.RingFull(p, cons)
}

// ReqCanGet reports whether the request ring has an entry to consume.
func (c *Channel) ReqCanGet() bool {
	c.Fences.rfence(c.reqIdxPAddr(), 4)
	prod := c.readIdx(c.reqIdxPAddr())
	cons := c.readIdx(c.reqIdxCAddr())
	return !mbproto.RingEmpty(prod, cons)
}

// RespCanPut reports whether the response ring has a free slot.
func (c *Channel) RespCanPut() bool {
	p := c.readIdx(c.respIdxPAddr())
	c.Fences.rfence(c.respIdxCAddr(), 4)
	cons := c.readIdx(c.respIdxCAddr())
	return !mbproto.RingFull(p, cons)
}

// RespCanGet reports whether the response ring has an entry to consume.
func (c *Channel) RespCanGet() bool {
	c.Fences.rfence(c.respIdxPAddr(), 4)
	prod := c.readIdx(c.respIdxPAddr())
	cons := c.readIdx(c.respIdxCAddr())
	return !mbproto.RingEmpty(prod, cons)
}

// PutReq writes entry at the current request producer slot without
// advancing the index, and returns the entry's address.
func (c *Channel) PutReq(entry mbproto.ReqEntry) uint64 {
	idx := c.readIdx(c.reqIdxPAddr())
	addr := c.reqEntryAddr(idx.Slot())
	c.Space.WriteSlice(addr, c.Layout.MarshalReqEntry(entry))
	return addr
}

// CommitReq advances the request producer index, fencing the entry write
// before the commit and the index write after, per §4.3.
func (c *Channel) CommitReq(entryAddr uint64) uint64 {
	c.Fences.wfence(entryAddr, c.Layout.ReqEntrySize())
	idx := c.readIdx(c.reqIdxPAddr())
	next := idx.Advance()
	c.writeIdx(c.reqIdxPAddr(), next)
	c.Fences.wfence(c.reqIdxPAddr(), 4)
	return c.reqIdxPAddr()
}

// GetReq copies the entry at the current request consumer slot without
// advancing the index.
func (c *Channel) GetReq() (mbproto.ReqEntry, error) {
	if !c.ReqCanGet() {
		return mbproto.ReqEntry{}, fmt.Errorf("mbchannel: %s request ring empty", c.Name)
	}
	idx := c.readIdx(c.reqIdxCAddr())
	addr := c.reqEntryAddr(idx.Slot())
	c.Fences.rfence(addr, c.Layout.ReqEntrySize())
	buf, _ := c.Space.ReadSlice(addr, c.Layout.ReqEntrySize())
	return c.Layout.UnmarshalReqEntry(buf), nil
}

// AckReq advances the request consumer index.
func (c *Channel) AckReq() uint64 {
	idx := c.readIdx(c.reqIdxCAddr())
	next := idx.Advance()
	c.writeIdx(c.reqIdxCAddr(), next)
	c.Fences.wfence(c.reqIdxCAddr(), 4)
	return c.reqIdxCAddr()
}

// PutResp writes entry at the current response producer slot without
// advancing the index, and returns the entry's address.
func (c *Channel) PutResp(entry mbproto.RespEntry) uint64 {
	idx := c.readIdx(c.respIdxPAddr())
	addr := c.respEntryAddr(idx.Slot())
	c.Space.WriteSlice(addr, c.Layout.MarshalRespEntry(entry))
	return addr
}

// CommitResp advances the response producer index, symmetric to CommitReq.
func (c *Channel) CommitResp(entryAddr uint64) uint64 {
	c.Fences.wfence(entryAddr, c.Layout.RespEntrySize())
	idx := c.readIdx(c.respIdxPAddr())
	next := idx.Advance()
	c.writeIdx(c.respIdxPAddr(), next)
	c.Fences.wfence(c.respIdxPAddr(), 4)
	return c.respIdxPAddr()
}

// GetResp copies the entry at the current response consumer slot without
// advancing the index.
func (c *Channel) GetResp() (mbproto.RespEntry, error) {
	if !c.RespCanGet() {
		return mbproto.RespEntry{}, fmt.Errorf("mbchannel: %s response ring empty", c.Name)
	}
	idx := c.readIdx(c.respIdxCAddr())
	addr := c.respEntryAddr(idx.Slot())
	c.Fences.rfence(addr, c.Layout.RespEntrySize())
	buf, _ := c.Space.ReadSlice(addr, c.Layout.RespEntrySize())
	return c.Layout.UnmarshalRespEntry(buf), nil
}

// AckResp advances the response consumer index.
func (c *Channel) AckResp() uint64 {
	idx := c.readIdx(c.respIdxCAddr())
	next := idx.Advance()
	c.writeIdx(c.respIdxCAddr(), next)
	c.Fences.wfence(c.respIdxCAddr(), 4)
	return c.respIdxCAddr()
}
