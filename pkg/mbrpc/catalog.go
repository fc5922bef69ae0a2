// Package mbrpc is the RPC catalog (§4.6): typed encoders that build a
// mbproto.ReqEntry for each action, and typed decoders that pull the
// meaningful field back out of a mbproto.RespEntry.
package mbrpc

import (
	"errors"
	"fmt"

	"github.com/mbrpc/mbrpc/pkg/mbproto"
	"github.com/mbrpc/mbrpc/pkg/mbptr"
)

func newArgs(maxArgs int, args ...mbproto.Ptr) []mbproto.Ptr {
	a := make([]mbproto.Ptr, maxArgs)
	copy(a, args)
	return a
}

// Exit encodes EXIT(code).
func Exit(maxArgs int, code mbproto.Ptr) mbproto.ReqEntry {
	return mbproto.ReqEntry{Action: mbproto.ActionExit, Words: 1, Args: newArgs(maxArgs, code)}
}

// ExitCode decodes the client-supplied exit code back out of an EXIT request.
func ExitCode(req mbproto.ReqEntry) mbproto.Ptr { return req.Args[0] }

// StopServer encodes STOPSERVER, which carries no arguments.
func StopServer(maxArgs int) mbproto.ReqEntry {
	return mbproto.ReqEntry{Action: mbproto.ActionStopServer, Words: 0, Args: newArgs(maxArgs)}
}

// Print encodes PRINT(len, ptr): a length-prefixed string.
func Print(maxArgs int, length, ptr mbproto.Ptr) mbproto.ReqEntry {
	return mbproto.ReqEntry{Action: mbproto.ActionPrint, Words: 2, Args: newArgs(maxArgs, length, ptr)}
}

// PrintArgs decodes a PRINT request's length and pointer.
func PrintArgs(req mbproto.ReqEntry) (length, ptr mbproto.Ptr) {
	return req.Args[0], req.Args[1]
}

// CPrintPreamble is the first three CPRINT arguments, present inline on
// every encoding regardless of the overflow path.
type CPrintPreamble struct {
	Fmt  mbproto.Ptr // remote C-string
	File mbproto.Ptr // remote C-string, source file name
	Pos  mbproto.Ptr // source line/position
}

// cprintInlineCap is how many varargs fit inline in a MAX_ARGS-sized
// entry after the three preamble slots, leaving one reserved slot and
// one overflow-pointer slot at the end (§8 S2): args[3..3+cap) inline,
// args[maxArgs-2] reserved, args[maxArgs-1] the overflow pointer.
func cprintInlineCap(maxArgs int) int {
	n := maxArgs - 5
	if n < 0 {
		return 0
	}
	return n
}

// EncodeCPrint builds a CPRINT request. When len(args) exceeds the
// inline capacity for maxArgs, the overflow arguments must
// already have been written by the caller (through a resolver) to
// overflowPtr, and overflowUsed reports that this path was taken — the
// dispatcher only sends a response when it was.
func EncodeCPrint(maxArgs int, preamble CPrintPreamble, args []mbproto.Ptr, overflowPtr mbproto.Ptr) (entry mbproto.ReqEntry, overflowUsed bool) {
	a := newArgs(maxArgs, preamble.Fmt, preamble.File, preamble.Pos)
	inlineCap := cprintInlineCap(maxArgs)

	inline := args
	if len(args) > inlineCap {
		inline = args[:inlineCap]
		overflowUsed = true
	}
	for i, v := range inline {
		a[3+i] = v
	}
	if overflowUsed {
		a[maxArgs-1] = overflowPtr
	}
	return mbproto.ReqEntry{Action: mbproto.ActionCPrint, Words: uint32(3 + len(args)), Args: a}, overflowUsed
}

// DecodeCPrintArgs recovers the full argument list of a CPRINT request,
// reading the overflow buffer through r when the inline capacity for
// l.MaxArgs was exceeded. The overflow block is a bare array of
// l.Width-sized Ptr words (the Rust original reads it as *const MBPtrT),
// so it must be strided by l.Width, not assumed 32-bit.
func DecodeCPrintArgs(l mbproto.Layout, r mbptr.Resolver, entry mbproto.ReqEntry) (CPrintPreamble, []mbproto.Ptr, error) {
	preamble := CPrintPreamble{Fmt: entry.Args[0], File: entry.Args[1], Pos: entry.Args[2]}
	total := int(entry.Words) - 3
	if total < 0 {
		return preamble, nil, fmt.Errorf("mbrpc: CPRINT words=%d too small for preamble", entry.Words)
	}
	inlineCap := cprintInlineCap(l.MaxArgs)
	if total <= inlineCap {
		return preamble, append([]mbproto.Ptr(nil), entry.Args[3:3+total]...), nil
	}

	args := append([]mbproto.Ptr(nil), entry.Args[3:3+inlineCap]...)
	overflowCount := total - inlineCap
	overflowPtr := entry.Args[l.MaxArgs-1]
	width := int(l.Width)
	buf := make([]byte, overflowCount*width)
	if _, err := r.Read(overflowPtr, buf); err != nil {
		return preamble, nil, fmt.Errorf("mbrpc: reading CPRINT overflow args: %w", err)
	}
	for i := 0; i < overflowCount; i++ {
		args = append(args, l.GetPtr(buf[i*width:(i+1)*width]))
	}
	return preamble, args, nil
}

// MemMove encodes MEMMOVE(dst, src, len).
func MemMove(maxArgs int, dst, src, length mbproto.Ptr) mbproto.ReqEntry {
	return mbproto.ReqEntry{Action: mbproto.ActionMemMove, Words: 3, Args: newArgs(maxArgs, dst, src, length)}
}

// MemMoveArgs decodes a MEMMOVE request.
func MemMoveArgs(req mbproto.ReqEntry) (dst, src, length mbproto.Ptr) {
	return req.Args[0], req.Args[1], req.Args[2]
}

// MemSet encodes MEMSET(dst, byte, len). Only the low 8 bits of byte are used.
func MemSet(maxArgs int, dst, fillByte, length mbproto.Ptr) mbproto.ReqEntry {
	return mbproto.ReqEntry{Action: mbproto.ActionMemSet, Words: 3, Args: newArgs(maxArgs, dst, fillByte, length)}
}

// MemSetArgs decodes a MEMSET request.
func MemSetArgs(req mbproto.ReqEntry) (dst, fillByte, length mbproto.Ptr) {
	return req.Args[0], req.Args[1], req.Args[2]
}

// MemCmp encodes MEMCMP(s1, s2, len).
func MemCmp(maxArgs int, s1, s2, length mbproto.Ptr) mbproto.ReqEntry {
	return mbproto.ReqEntry{Action: mbproto.ActionMemCmp, Words: 3, Args: newArgs(maxArgs, s1, s2, length)}
}

// MemCmpArgs decodes a MEMCMP request.
func MemCmpArgs(req mbproto.ReqEntry) (s1, s2, length mbproto.Ptr) {
	return req.Args[0], req.Args[1], req.Args[2]
}

// MemCmpResult decodes the signed byte difference from a MEMCMP response.
func MemCmpResult(resp mbproto.RespEntry) int32 { return int32(resp.Ret) }

// Call encodes CALL(method_ptr, a0..an-1): a named host call.
func Call(maxArgs int, methodPtr mbproto.Ptr, args []mbproto.Ptr) (mbproto.ReqEntry, error) {
	if len(args) > maxArgs-1 {
		return mbproto.ReqEntry{}, fmt.Errorf("mbrpc: CALL with %d args exceeds capacity %d", len(args), maxArgs-1)
	}
	a := newArgs(maxArgs, methodPtr)
	copy(a[1:], args)
	return mbproto.ReqEntry{Action: mbproto.ActionCall, Words: uint32(1 + len(args)), Args: a}, nil
}

// CallArgs decodes a CALL request's method pointer and argument list.
func CallArgs(req mbproto.ReqEntry) (methodPtr mbproto.Ptr, args []mbproto.Ptr) {
	n := int(req.Words) - 1
	return req.Args[0], req.Args[1 : 1+n]
}

// CallReturn decodes the user value returned by a CALL response.
func CallReturn(resp mbproto.RespEntry) mbproto.Ptr { return resp.Ret }

// ErrFileAccessSubAction is returned when a FILEACCESS entry's sub-action
// doesn't match the decoder being used.
var ErrFileAccessSubAction = errors.New("mbrpc: unexpected FILEACCESS sub-action")

// FileOpen encodes FILEACCESS/OPEN(path, flags).
func FileOpen(maxArgs int, path mbproto.Ptr, flags mbproto.FileOpenFlag) mbproto.ReqEntry {
	return mbproto.ReqEntry{
		Action: mbproto.ActionFileAccess, Words: 3,
		Args: newArgs(maxArgs, mbproto.Ptr(mbproto.FileOpen), path, mbproto.Ptr(flags)),
	}
}

// FileOpenArgs decodes a FILEACCESS/OPEN request.
func FileOpenArgs(req mbproto.ReqEntry) (path mbproto.Ptr, flags mbproto.FileOpenFlag, err error) {
	if mbproto.FileSubAction(req.Args[0]) != mbproto.FileOpen {
		return 0, 0, ErrFileAccessSubAction
	}
	return req.Args[1], mbproto.FileOpenFlag(req.Args[2]), nil
}

// FileOpenFd decodes the allocated fd from an OPEN response.
func FileOpenFd(resp mbproto.RespEntry) uint32 { return uint32(resp.Ret) }

// FileClose encodes FILEACCESS/CLOSE(fd).
func FileClose(maxArgs int, fd mbproto.Ptr) mbproto.ReqEntry {
	return mbproto.ReqEntry{
		Action: mbproto.ActionFileAccess, Words: 2,
		Args: newArgs(maxArgs, mbproto.Ptr(mbproto.FileClose), fd),
	}
}

// FileCloseArgs decodes a FILEACCESS/CLOSE request.
func FileCloseArgs(req mbproto.ReqEntry) (fd mbproto.Ptr, err error) {
	if mbproto.FileSubAction(req.Args[0]) != mbproto.FileClose {
		return 0, ErrFileAccessSubAction
	}
	return req.Args[1], nil
}

// FileRead encodes FILEACCESS/READ(fd, ptr, len). len == 0 means read-to-EOF.
func FileRead(maxArgs int, fd, ptr, length mbproto.Ptr) mbproto.ReqEntry {
	return mbproto.ReqEntry{
		Action: mbproto.ActionFileAccess, Words: 4,
		Args: newArgs(maxArgs, mbproto.Ptr(mbproto.FileRead), fd, ptr, length),
	}
}

// FileReadArgs decodes a FILEACCESS/READ request.
func FileReadArgs(req mbproto.ReqEntry) (fd, ptr, length mbproto.Ptr, err error) {
	if mbproto.FileSubAction(req.Args[0]) != mbproto.FileRead {
		return 0, 0, 0, ErrFileAccessSubAction
	}
	return req.Args[1], req.Args[2], req.Args[3], nil
}

// FileWrite encodes FILEACCESS/WRITE(fd, ptr, len).
func FileWrite(maxArgs int, fd, ptr, length mbproto.Ptr) mbproto.ReqEntry {
	return mbproto.ReqEntry{
		Action: mbproto.ActionFileAccess, Words: 4,
		Args: newArgs(maxArgs, mbproto.Ptr(mbproto.FileWrite), fd, ptr, length),
	}
}

// FileWriteArgs decodes a FILEACCESS/WRITE request.
func FileWriteArgs(req mbproto.ReqEntry) (fd, ptr, length mbproto.Ptr, err error) {
	if mbproto.FileSubAction(req.Args[0]) != mbproto.FileWrite {
		return 0, 0, 0, ErrFileAccessSubAction
	}
	return req.Args[1], req.Args[2], req.Args[3], nil
}

// FileBytesTransferred decodes the byte count from a READ or WRITE response.
func FileBytesTransferred(resp mbproto.RespEntry) uint32 { return uint32(resp.Ret) }

// FileSeek encodes FILEACCESS/SEEK(fd, pos) — an absolute seek.
func FileSeek(maxArgs int, fd, pos mbproto.Ptr) mbproto.ReqEntry {
	return mbproto.ReqEntry{
		Action: mbproto.ActionFileAccess, Words: 3,
		Args: newArgs(maxArgs, mbproto.Ptr(mbproto.FileSeek), fd, pos),
	}
}

// FileSeekArgs decodes a FILEACCESS/SEEK request.
func FileSeekArgs(req mbproto.ReqEntry) (fd, pos mbproto.Ptr, err error) {
	if mbproto.FileSubAction(req.Args[0]) != mbproto.FileSeek {
		return 0, 0, ErrFileAccessSubAction
	}
	return req.Args[1], req.Args[2], nil
}

// FileSeekPos decodes the new file position from a SEEK response.
func FileSeekPos(resp mbproto.RespEntry) uint32 { return uint32(resp.Ret) }

// FileSubActionOf reports the sub-action carried in a FILEACCESS request's args[0].
func FileSubActionOf(req mbproto.ReqEntry) mbproto.FileSubAction {
	return mbproto.FileSubAction(req.Args[0])
}

// Other encodes a custom OTHER request, sub-code in args[0] followed by
// up to maxArgs-1 caller-defined argument words.
func Other(maxArgs int, subCode uint32, args []mbproto.Ptr) (mbproto.ReqEntry, error) {
	if len(args) > maxArgs-1 {
		return mbproto.ReqEntry{}, fmt.Errorf("mbrpc: OTHER with %d args exceeds capacity %d", len(args), maxArgs-1)
	}
	a := newArgs(maxArgs, mbproto.Ptr(subCode))
	copy(a[1:], args)
	return mbproto.ReqEntry{Action: mbproto.ActionOther, Words: uint32(1 + len(args)), Args: a}, nil
}

// OtherArgs decodes an OTHER request's sub-code and argument list.
func OtherArgs(req mbproto.ReqEntry) (subCode uint32, args []mbproto.Ptr) {
	n := int(req.Words) - 1
	return uint32(req.Args[0]), req.Args[1 : 1+n]
}
