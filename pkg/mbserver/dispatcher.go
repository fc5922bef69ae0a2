// Package mbserver is the server-side dispatcher (§4.7): it matches
// action codes to handlers, runs each channel as a cooperative task atop
// internal/mbtask, and owns the built-in handlers for every action in
// the RPC catalog. Varargs formatting delegates to pkg/mbformat,
// filesystem operations to pkg/mbfs, and named host calls to
// pkg/mbhostcall.
package mbserver

import (
	"errors"
	"fmt"

	"github.com/mbrpc/mbrpc/pkg/mbformat"
	"github.com/mbrpc/mbrpc/pkg/mbfs"
	"github.com/mbrpc/mbrpc/pkg/mbhostcall"
	"github.com/mbrpc/mbrpc/pkg/mbproto"
	"github.com/mbrpc/mbrpc/pkg/mbptr"
	"github.com/mbrpc/mbrpc/pkg/mbrpc"
)

// ErrIllegal reports an unknown action or an unknown OTHER sub-code — a
// fatal, dispatch-level condition per §4.7/§7.
var ErrIllegal = errors.New("mbserver: illegal request")

// errSentinel is the Ret value a failed FILEACCESS/CALL response carries
// when the action has a response slot but no distinct error field: all
// bits set, which truncates to -1 in either pointer width through
// Layout's wire marshaling.
const errSentinel = ^mbproto.Ptr(0)

// ExitPolicy resolves §9 open question (a): some deployments treat EXIT
// as equivalent to STOPSERVER, others treat it as a no-response action
// that leaves the channel loop running.
type ExitPolicy int

const (
	// ExitNoResp completes EXIT with no response and keeps the
	// per-channel loop running. The default.
	ExitNoResp ExitPolicy = iota
	// ExitStop additionally breaks the per-channel dispatch loop, as
	// STOPSERVER does.
	ExitStop
)

// CustomHandler implements one OTHER sub-code. hasResp tells the
// dispatcher whether to send a response at all.
type CustomHandler func(resolver mbptr.Resolver, args []mbproto.Ptr) (ret mbproto.Ptr, hasResp bool, err error)

// result is the outcome of dispatching a single request.
type result struct {
	resp    mbproto.RespEntry
	hasResp bool
	stop    bool
	pending bool
}

// Dispatcher holds the built-in and custom handler state shared by every
// channel task: the sandboxed filesystem, the host-call registry, and
// line-buffered output. The cprint format engine is built per request
// from Layout.
type Dispatcher struct {
	Layout     mbproto.Layout
	FS         *mbfs.FS
	HostCalls  *mbhostcall.Registry
	Output     *OutputWriter
	ExitPolicy ExitPolicy

	custom map[uint32]CustomHandler
}

// NewDispatcher builds a Dispatcher for the given wire layout, backed by
// fs for FILEACCESS and hostCalls for CALL, writing PRINT/CPRINT output
// through out.
func NewDispatcher(layout mbproto.Layout, fs *mbfs.FS, hostCalls *mbhostcall.Registry, out *OutputWriter) *Dispatcher {
	return &Dispatcher{
		Layout:    layout,
		FS:        fs,
		HostCalls: hostCalls,
		Output:    out,
		custom:    map[uint32]CustomHandler{},
	}
}

// RegisterOther installs a handler for an OTHER sub-code.
func (d *Dispatcher) RegisterOther(subCode uint32, h CustomHandler) {
	d.custom[subCode] = h
}

// dispatch runs one request to completion or to a Pending host-call
// result. channelName prefixes buffered PRINT/CPRINT output and is
// passed to the host-call registry for CALL.
func (d *Dispatcher) dispatch(channelName string, resolver mbptr.Resolver, req mbproto.ReqEntry) (result, error) {
	switch req.Action {
	case mbproto.ActionExit:
		return result{stop: d.ExitPolicy == ExitStop}, nil

	case mbproto.ActionStopServer:
		return result{stop: true}, nil

	case mbproto.ActionPrint:
		return d.handlePrint(channelName, resolver, req)

	case mbproto.ActionCPrint:
		return d.handleCPrint(channelName, resolver, req)

	case mbproto.ActionMemMove:
		return d.handleMemMove(resolver, req)

	case mbproto.ActionMemSet:
		return d.handleMemSet(resolver, req)

	case mbproto.ActionMemCmp:
		return d.handleMemCmp(resolver, req)

	case mbproto.ActionCall:
		return d.handleCall(channelName, resolver, req)

	case mbproto.ActionFileAccess:
		return d.handleFileAccess(resolver, req)

	case mbproto.ActionOther:
		return d.handleOther(resolver, req)

	default:
		return result{}, fmt.Errorf("%w: action %s", ErrIllegal, req.Action)
	}
}

func (d *Dispatcher) handlePrint(channelName string, resolver mbptr.Resolver, req mbproto.ReqEntry) (result, error) {
	length, ptr := mbrpc.PrintArgs(req)
	s, err := mbptr.ReadStr(resolver, uint32(length), ptr)
	if err != nil {
		return result{}, fmt.Errorf("mbserver: PRINT: %w", err)
	}
	d.Output.Write(channelName, []byte(s))
	return result{hasResp: true}, nil
}

func (d *Dispatcher) handleCPrint(channelName string, resolver mbptr.Resolver, req mbproto.ReqEntry) (result, error) {
	preamble, args, err := mbrpc.DecodeCPrintArgs(d.Layout, resolver, req)
	if err != nil {
		return result{}, fmt.Errorf("mbserver: CPRINT: %w", err)
	}
	file, err := mbptr.ReadCStr(resolver, preamble.File)
	if err != nil {
		return result{}, fmt.Errorf("mbserver: CPRINT file name: %w", err)
	}
	spec, err := mbptr.ReadCStr(resolver, preamble.Fmt)
	if err != nil {
		return result{}, fmt.Errorf("mbserver: CPRINT format string (%s:%d): %w", file, preamble.Pos, err)
	}

	f := mbformat.Format{Width: d.Layout.Width, Resolver: resolver}
	rendered, err := f.Render(spec, args)
	if err != nil {
		return result{}, fmt.Errorf("mbserver: CPRINT format (%s:%d): %w", file, preamble.Pos, err)
	}
	d.Output.Write(channelName, []byte(rendered))

	total := int(req.Words) - 3
	overflowUsed := total > cprintInlineCap(d.Layout.MaxArgs)
	return result{hasResp: overflowUsed}, nil
}

// cprintInlineCap mirrors mbrpc's unexported layout arithmetic: it isn't
// exported there because encode/decode already hide it, but the
// dispatcher needs it again to recover whether the overflow path fired.
func cprintInlineCap(maxArgs int) int {
	n := maxArgs - 5
	if n < 0 {
		return 0
	}
	return n
}

func (d *Dispatcher) handleMemMove(resolver mbptr.Resolver, req mbproto.ReqEntry) (result, error) {
	dst, src, length := mbrpc.MemMoveArgs(req)
	buf := make([]byte, length)
	if _, err := resolver.Read(src, buf); err != nil {
		return result{}, fmt.Errorf("mbserver: MEMMOVE read: %w", err)
	}
	if _, err := resolver.Write(dst, buf); err != nil {
		return result{}, fmt.Errorf("mbserver: MEMMOVE write: %w", err)
	}
	return result{hasResp: true}, nil
}

func (d *Dispatcher) handleMemSet(resolver mbptr.Resolver, req mbproto.ReqEntry) (result, error) {
	dst, fillByte, length := mbrpc.MemSetArgs(req)
	buf := make([]byte, length)
	for i := range buf {
		buf[i] = byte(fillByte)
	}
	if _, err := resolver.Write(dst, buf); err != nil {
		return result{}, fmt.Errorf("mbserver: MEMSET: %w", err)
	}
	return result{hasResp: true}, nil
}

func (d *Dispatcher) handleMemCmp(resolver mbptr.Resolver, req mbproto.ReqEntry) (result, error) {
	s1, s2, length := mbrpc.MemCmpArgs(req)
	b1 := make([]byte, length)
	b2 := make([]byte, length)
	if _, err := resolver.Read(s1, b1); err != nil {
		return result{}, fmt.Errorf("mbserver: MEMCMP read s1: %w", err)
	}
	if _, err := resolver.Read(s2, b2); err != nil {
		return result{}, fmt.Errorf("mbserver: MEMCMP read s2: %w", err)
	}
	var diff int32
	for i := range b1 {
		if b1[i] != b2[i] {
			diff = int32(b1[i]) - int32(b2[i])
			break
		}
	}
	return result{hasResp: true, resp: mbproto.RespEntry{Words: 1, Ret: mbproto.Ptr(uint32(diff))}}, nil
}

// handleCall resolves the CALL method pointer (a remote C-string) and
// invokes it through the host-call registry. A Pending status yields the
// channel task without acknowledging completion; the dispatcher re-runs
// this same request on the next step.
func (d *Dispatcher) handleCall(channelName string, resolver mbptr.Resolver, req mbproto.ReqEntry) (result, error) {
	methodPtr, args := mbrpc.CallArgs(req)
	method, err := mbptr.ReadCStr(resolver, methodPtr)
	if err != nil {
		return result{}, fmt.Errorf("mbserver: CALL method name: %w", err)
	}
	val, status, err := d.HostCalls.Call(channelName, method, args)
	if err != nil {
		return result{hasResp: true, resp: mbproto.RespEntry{Words: 1, Ret: errSentinel}}, nil
	}
	if status == mbhostcall.Pending {
		return result{pending: true}, nil
	}
	return result{hasResp: true, resp: mbproto.RespEntry{Words: 1, Ret: val}}, nil
}

func (d *Dispatcher) handleFileAccess(resolver mbptr.Resolver, req mbproto.ReqEntry) (result, error) {
	switch mbrpc.FileSubActionOf(req) {
	case mbproto.FileOpen:
		path, flags, err := mbrpc.FileOpenArgs(req)
		if err != nil {
			return result{}, err
		}
		name, err := mbptr.ReadCStr(resolver, path)
		if err != nil {
			return result{}, fmt.Errorf("mbserver: FILEACCESS/OPEN path: %w", err)
		}
		fd, err := d.FS.Open(name, flags)
		if err != nil {
			return result{hasResp: true, resp: mbproto.RespEntry{Words: 1, Ret: errSentinel}}, nil
		}
		return result{hasResp: true, resp: mbproto.RespEntry{Words: 1, Ret: mbproto.Ptr(fd)}}, nil

	case mbproto.FileClose:
		fd, err := mbrpc.FileCloseArgs(req)
		if err != nil {
			return result{}, err
		}
		if err := d.FS.Close(uint32(fd)); err != nil {
			return result{hasResp: true, resp: mbproto.RespEntry{Ret: errSentinel}}, nil
		}
		return result{hasResp: true}, nil

	case mbproto.FileRead:
		fd, ptr, length, err := mbrpc.FileReadArgs(req)
		if err != nil {
			return result{}, err
		}
		data, err := d.FS.Read(uint32(fd), uint32(length))
		if err != nil {
			return result{hasResp: true, resp: mbproto.RespEntry{Words: 1, Ret: errSentinel}}, nil
		}
		if _, err := resolver.Write(ptr, data); err != nil {
			return result{}, fmt.Errorf("mbserver: FILEACCESS/READ writing to client: %w", err)
		}
		return result{hasResp: true, resp: mbproto.RespEntry{Words: 1, Ret: mbproto.Ptr(uint32(len(data)))}}, nil

	case mbproto.FileWrite:
		fd, ptr, length, err := mbrpc.FileWriteArgs(req)
		if err != nil {
			return result{}, err
		}
		buf := make([]byte, length)
		if _, err := resolver.Read(ptr, buf); err != nil {
			return result{}, fmt.Errorf("mbserver: FILEACCESS/WRITE reading from client: %w", err)
		}
		n, err := d.FS.Write(uint32(fd), buf)
		if err != nil {
			return result{hasResp: true, resp: mbproto.RespEntry{Words: 1, Ret: errSentinel}}, nil
		}
		return result{hasResp: true, resp: mbproto.RespEntry{Words: 1, Ret: mbproto.Ptr(uint32(n))}}, nil

	case mbproto.FileSeek:
		fd, pos, err := mbrpc.FileSeekArgs(req)
		if err != nil {
			return result{}, err
		}
		newPos, err := d.FS.Seek(uint32(fd), int64(pos))
		if err != nil {
			return result{hasResp: true, resp: mbproto.RespEntry{Words: 1, Ret: errSentinel}}, nil
		}
		return result{hasResp: true, resp: mbproto.RespEntry{Words: 1, Ret: mbproto.Ptr(uint32(newPos))}}, nil

	default:
		return result{}, fmt.Errorf("%w: FILEACCESS sub-action %d", ErrIllegal, req.Args[0])
	}
}

func (d *Dispatcher) handleOther(resolver mbptr.Resolver, req mbproto.ReqEntry) (result, error) {
	subCode, args := mbrpc.OtherArgs(req)
	h, ok := d.custom[subCode]
	if !ok {
		return result{}, fmt.Errorf("%w: OTHER sub-code %#x", ErrIllegal, subCode)
	}
	ret, hasResp, err := h(resolver, args)
	if err != nil {
		return result{}, fmt.Errorf("mbserver: OTHER %#x: %w", subCode, err)
	}
	return result{hasResp: hasResp, resp: mbproto.RespEntry{Words: 1, Ret: ret}}, nil
}
