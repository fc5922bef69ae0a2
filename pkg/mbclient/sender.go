// Package mbclient implements the no-heap, cooperative client-side
// sender (§4.4): a single in-flight request per sender, driven forward
// one non-blocking step at a time so it can run on a bare client with no
// allocator and no OS scheduler to block on.
package mbclient

import (
	"errors"

	"github.com/mbrpc/mbrpc/internal/mbspin"
	"github.com/mbrpc/mbrpc/pkg/mbchannel"
	"github.com/mbrpc/mbrpc/pkg/mbproto"
)

// ErrWouldBlock is returned by SendNB when the call made no progress this
// step and must be retried.
var ErrWouldBlock = errors.New("mbclient: would block")

// ErrNotReady is returned when the channel has not completed its reset
// handshake yet.
var ErrNotReady = errors.New("mbclient: channel not ready")

// Hooks are the interrupt-disable bracket around the enqueue critical
// section, named save_flags/restore_flags in §4.4. Both default to
// no-ops, matching a deployment with no interrupt sources sharing the
// sender.
type Hooks struct {
	SaveFlags    func() uintptr
	RestoreFlags func(uintptr)
}

func (h Hooks) saveFlags() uintptr {
	if h.SaveFlags != nil {
		return h.SaveFlags()
	}
	return 0
}

func (h Hooks) restoreFlags(f uintptr) {
	if h.RestoreFlags != nil {
		h.RestoreFlags(f)
	}
}

// Sender is the no-heap, non-blocking client sender itself: it holds no
// allocations and no per-call state after construction, since SendNB and
// tryRecv are each complete in a single non-blocking step.
type Sender struct {
	Channel *mbchannel.Channel
	Hooks   Hooks
}

// Reset performs the client-side half of the reset handshake (§3, §4.4):
// writes state=INIT and zeroes all four ring indices. Used on client
// restart, before the channel is usable again.
func (s *Sender) Reset() {
	flags := s.Hooks.saveFlags()
	s.Channel.ResetReq()
	s.Hooks.restoreFlags(flags)
}

// SendNB is the fire-and-forget primitive (§4.4 send_nb, built on
// try-send): it commits req to the request ring and returns, without
// ever waiting for a response. Returns ErrNotReady if the channel hasn't
// completed its reset handshake, ErrWouldBlock if the request ring is
// full — both retriable by the caller.
func (s *Sender) SendNB(req mbproto.ReqEntry) error {
	if !s.Channel.IsReady() {
		return ErrNotReady
	}
	if !s.Channel.ReqCanPut() {
		return ErrWouldBlock
	}
	flags := s.Hooks.saveFlags()
	addr := s.Channel.PutReq(req)
	s.Channel.CommitReq(addr)
	s.Hooks.restoreFlags(flags)
	return nil
}

// tryRecv is the non-blocking try-recv primitive the blocking Send builds
// on: it returns ErrWouldBlock until a response entry is available.
func (s *Sender) tryRecv() (mbproto.RespEntry, error) {
	if !s.Channel.IsReady() {
		return mbproto.RespEntry{}, ErrNotReady
	}
	if !s.Channel.RespCanGet() {
		return mbproto.RespEntry{}, ErrWouldBlock
	}
	flags := s.Hooks.saveFlags()
	resp, err := s.Channel.GetResp()
	if err != nil {
		s.Hooks.restoreFlags(flags)
		return mbproto.RespEntry{}, err
	}
	s.Channel.AckResp()
	s.Hooks.restoreFlags(flags)
	return resp, nil
}

// Send is the blocking wrapper (§4.4 send): commit req via SendNB, then
// busy-poll the response ring via tryRecv until a result appears. It is
// only valid for actions the server answers — a caller issuing a
// no-response action (EXIT, STOPSERVER) must call SendNB directly
// instead, or it will spin forever waiting for a response that never
// arrives.
func (s *Sender) Send(req mbproto.ReqEntry) (mbproto.RespEntry, error) {
	for {
		err := s.SendNB(req)
		if err == nil {
			break
		}
		if !errors.Is(err, ErrWouldBlock) {
			return mbproto.RespEntry{}, err
		}
	}
	for {
		resp, err := s.tryRecv()
		if err == nil {
			return resp, nil
		}
		if !errors.Is(err, ErrWouldBlock) {
			return mbproto.RespEntry{}, err
		}
	}
}

// RefSender is the exclusive-owner sender variant: exactly one caller,
// no lock, matching MBNbRefSender in the source material.
type RefSender struct {
	Sender
}

// NewRefSender constructs a RefSender bound to ch.
func NewRefSender(ch *mbchannel.Channel, hooks Hooks) *RefSender {
	return &RefSender{Sender{Channel: ch, Hooks: hooks}}
}

// LockRefSender is the spin-lock-guarded variant for a sender shared by
// more than one caller, matching MBNbLockRefSender.
type LockRefSender struct {
	Sender
	lock mbspin.Lock
}

// NewLockRefSender constructs a LockRefSender bound to ch.
func NewLockRefSender(ch *mbchannel.Channel, hooks Hooks) *LockRefSender {
	return &LockRefSender{Sender: Sender{Channel: ch, Hooks: hooks}}
}

// SendNB acquires the spin lock for the duration of the commit. A caller
// that fails to acquire it sees ErrWouldBlock, same as a full ring.
func (s *LockRefSender) SendNB(req mbproto.ReqEntry) error {
	if !s.lock.TryLock() {
		return ErrWouldBlock
	}
	defer s.lock.Unlock()
	return s.Sender.SendNB(req)
}

// tryRecv acquires the spin lock for the duration of one response check.
func (s *LockRefSender) tryRecv() (mbproto.RespEntry, error) {
	if !s.lock.TryLock() {
		return mbproto.RespEntry{}, ErrWouldBlock
	}
	defer s.lock.Unlock()
	return s.Sender.tryRecv()
}

// Reset acquires the spin lock for the duration of the reset handshake.
func (s *LockRefSender) Reset() {
	s.lock.Acquire()
	defer s.lock.Unlock()
	s.Sender.Reset()
}

// Send spins SendNB and tryRecv (lock-guarded) to completion.
func (s *LockRefSender) Send(req mbproto.ReqEntry) (mbproto.RespEntry, error) {
	for {
		err := s.SendNB(req)
		if err == nil {
			break
		}
		if !errors.Is(err, ErrWouldBlock) {
			return mbproto.RespEntry{}, err
		}
	}
	for {
		resp, err := s.tryRecv()
		if err == nil {
			return resp, nil
		}
		if !errors.Is(err, ErrWouldBlock) {
			return mbproto.RespEntry{}, err
		}
	}
}
