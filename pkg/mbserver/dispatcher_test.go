package mbserver

import (
	"bytes"
	"testing"

	"github.com/mbrpc/mbrpc/pkg/mbfs"
	"github.com/mbrpc/mbrpc/pkg/mbhostcall"
	"github.com/mbrpc/mbrpc/pkg/mbproto"
	"github.com/mbrpc/mbrpc/pkg/mbptr"
	"github.com/mbrpc/mbrpc/pkg/mbrpc"
	"github.com/mbrpc/mbrpc/pkg/mbshm"
)

const testMaxArgs = mbproto.DefaultMaxArgs

func newTestResolver(t *testing.T) mbptr.Resolver {
	t.Helper()
	space := mbshm.NewSpace()
	if err := space.AddBlock(0, make([]byte, 65536)); err != nil {
		t.Fatalf("AddBlock: %v", err)
	}
	return mbptr.SpaceResolver{Space: space}
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *bytes.Buffer) {
	t.Helper()
	fs, err := mbfs.New(t.TempDir())
	if err != nil {
		t.Fatalf("mbfs.New: %v", err)
	}
	var buf bytes.Buffer
	out := NewOutputWriter(&buf)
	d := NewDispatcher(mbproto.DefaultLayout, fs, mbhostcall.NewRegistry(), out)
	return d, &buf
}

func TestDispatchPrintBuffersUntilNewline(t *testing.T) {
	d, out := newTestDispatcher(t)
	r := newTestResolver(t)

	if err := mbptr.WriteStr(r, 0x100, "hello"); err != nil {
		t.Fatalf("WriteStr: %v", err)
	}
	req := mbrpc.Print(testMaxArgs, 5, 0x100)
	res, err := d.dispatch("ch0", r, req)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if !res.hasResp || res.resp != (mbproto.RespEntry{}) {
		t.Fatalf("PRINT result = %+v, want zero response", res)
	}
	if out.Len() != 0 {
		t.Fatalf("output emitted before newline: %q", out.String())
	}

	if err := mbptr.WriteStr(r, 0x200, "\n"); err != nil {
		t.Fatalf("WriteStr: %v", err)
	}
	if _, err := d.dispatch("ch0", r, mbrpc.Print(testMaxArgs, 1, 0x200)); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if out.String() != "[ch0] hello\n" {
		t.Fatalf("output = %q, want %q", out.String(), "[ch0] hello\n")
	}
}

func TestDispatchCPrintInlineAndOverflow(t *testing.T) {
	d, out := newTestDispatcher(t)
	r := newTestResolver(t)

	if err := mbptr.WriteCStr(r, 0x10, "f.c"); err != nil {
		t.Fatalf("WriteCStr: %v", err)
	}
	if err := mbptr.WriteCStr(r, 0x20, "%d %d %d %d %d %d\n"); err != nil {
		t.Fatalf("WriteCStr: %v", err)
	}

	overflowPtr := mbproto.Ptr(0x1000)
	overflow := []byte{4, 0, 0, 0, 5, 0, 0, 0, 6, 0, 0, 0}
	if _, err := r.Write(overflowPtr, overflow); err != nil {
		t.Fatalf("writing overflow args: %v", err)
	}

	preamble := mbrpc.CPrintPreamble{Fmt: 0x20, File: 0x10, Pos: 42}
	entry, overflowUsed := mbrpc.EncodeCPrint(testMaxArgs, preamble, []mbproto.Ptr{1, 2, 3, 4, 5, 6}, overflowPtr)
	if !overflowUsed {
		t.Fatal("expected overflow path for 6 args with MaxArgs=8")
	}

	res, err := d.dispatch("ch0", r, entry)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if !res.hasResp {
		t.Fatal("CPRINT with overflow args should send a response")
	}
	if out.String() != "[ch0] 1 2 3 4 5 6\n" {
		t.Fatalf("output = %q, want %q", out.String(), "[ch0] 1 2 3 4 5 6\n")
	}
}

func TestDispatchCPrintNoOverflowSendsNoResponse(t *testing.T) {
	d, out := newTestDispatcher(t)
	r := newTestResolver(t)

	if err := mbptr.WriteCStr(r, 0x10, "f.c"); err != nil {
		t.Fatalf("WriteCStr: %v", err)
	}
	if err := mbptr.WriteCStr(r, 0x20, "%d\n"); err != nil {
		t.Fatalf("WriteCStr: %v", err)
	}
	preamble := mbrpc.CPrintPreamble{Fmt: 0x20, File: 0x10, Pos: 1}
	entry, overflowUsed := mbrpc.EncodeCPrint(testMaxArgs, preamble, []mbproto.Ptr{7}, 0)
	if overflowUsed {
		t.Fatal("single inline arg should not use the overflow path")
	}

	res, err := d.dispatch("ch0", r, entry)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if res.hasResp {
		t.Fatal("CPRINT without overflow args should not send a response")
	}
	if out.String() != "[ch0] 7\n" {
		t.Fatalf("output = %q, want %q", out.String(), "[ch0] 7\n")
	}
}

func TestDispatchMemMoveOverlap(t *testing.T) {
	d, _ := newTestDispatcher(t)
	r := newTestResolver(t)

	buf := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	if _, err := r.Write(0, buf); err != nil {
		t.Fatalf("seed buffer: %v", err)
	}

	req := mbrpc.MemMove(testMaxArgs, 2, 4, 4)
	if _, err := d.dispatch("ch0", r, req); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	got := make([]byte, 8)
	if _, err := r.Read(0, got); err != nil {
		t.Fatalf("Read: %v", err)
	}
	want := []byte{1, 2, 5, 6, 7, 8, 7, 8}
	if !bytes.Equal(got, want) {
		t.Fatalf("MEMMOVE result = %v, want %v", got, want)
	}
}

func TestDispatchMemSet(t *testing.T) {
	d, _ := newTestDispatcher(t)
	r := newTestResolver(t)

	if _, err := r.Write(0, []byte{1, 2, 3, 4, 5, 6, 7, 8}); err != nil {
		t.Fatalf("seed buffer: %v", err)
	}
	req := mbrpc.MemSet(testMaxArgs, 2, 0x5a, 4)
	if _, err := d.dispatch("ch0", r, req); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	got := make([]byte, 8)
	if _, err := r.Read(0, got); err != nil {
		t.Fatalf("Read: %v", err)
	}
	want := []byte{1, 2, 0x5a, 0x5a, 0x5a, 0x5a, 7, 8}
	if !bytes.Equal(got, want) {
		t.Fatalf("MEMSET result = %v, want %v", got, want)
	}
}

func TestDispatchMemCmp(t *testing.T) {
	d, _ := newTestDispatcher(t)
	r := newTestResolver(t)

	if _, err := r.Write(0, []byte{8, 7, 6, 4, 5, 1, 2, 3}); err != nil {
		t.Fatalf("seed buf1: %v", err)
	}
	if _, err := r.Write(100, []byte{1, 2, 3, 4, 5, 6, 7, 8}); err != nil {
		t.Fatalf("seed buf2: %v", err)
	}
	req := mbrpc.MemCmp(testMaxArgs, 3, 103, 4)
	res, err := d.dispatch("ch0", r, req)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if mbrpc.MemCmpResult(res.resp) != -5 {
		t.Fatalf("MEMCMP result = %d, want -5", mbrpc.MemCmpResult(res.resp))
	}
}

func TestDispatchFileAccessRoundTrip(t *testing.T) {
	d, _ := newTestDispatcher(t)
	r := newTestResolver(t)

	if err := mbptr.WriteCStr(r, 0x10, "test"); err != nil {
		t.Fatalf("WriteCStr: %v", err)
	}
	openRes, err := d.dispatch("ch0", r, mbrpc.FileOpen(testMaxArgs, 0x10, mbproto.FileFlagRead|mbproto.FileFlagWrite))
	if err != nil {
		t.Fatalf("OPEN dispatch: %v", err)
	}
	fd := mbproto.Ptr(mbrpc.FileOpenFd(openRes.resp))
	if fd < 10 {
		t.Fatalf("fd = %d, want >= 10", fd)
	}

	if err := mbptr.WriteStr(r, 0x200, "Hello World!"); err != nil {
		t.Fatalf("WriteStr: %v", err)
	}
	writeRes, err := d.dispatch("ch0", r, mbrpc.FileWrite(testMaxArgs, fd, 0x200, 12))
	if err != nil {
		t.Fatalf("WRITE dispatch: %v", err)
	}
	if mbrpc.FileBytesTransferred(writeRes.resp) != 12 {
		t.Fatalf("WRITE bytes = %d, want 12", mbrpc.FileBytesTransferred(writeRes.resp))
	}

	seekRes, err := d.dispatch("ch0", r, mbrpc.FileSeek(testMaxArgs, fd, 0))
	if err != nil {
		t.Fatalf("SEEK dispatch: %v", err)
	}
	if mbrpc.FileSeekPos(seekRes.resp) != 0 {
		t.Fatalf("SEEK pos = %d, want 0", mbrpc.FileSeekPos(seekRes.resp))
	}

	readRes, err := d.dispatch("ch0", r, mbrpc.FileRead(testMaxArgs, fd, 0x300, 12))
	if err != nil {
		t.Fatalf("READ dispatch: %v", err)
	}
	if mbrpc.FileBytesTransferred(readRes.resp) != 12 {
		t.Fatalf("READ bytes = %d, want 12", mbrpc.FileBytesTransferred(readRes.resp))
	}
	got, err := mbptr.ReadStr(r, 12, 0x300)
	if err != nil {
		t.Fatalf("ReadStr: %v", err)
	}
	if got != "Hello World!" {
		t.Fatalf("read contents = %q, want %q", got, "Hello World!")
	}

	if _, err := d.dispatch("ch0", r, mbrpc.FileClose(testMaxArgs, fd)); err != nil {
		t.Fatalf("CLOSE dispatch: %v", err)
	}
}

func TestDispatchFileAccessOpenMissingIsErrorSentinel(t *testing.T) {
	d, _ := newTestDispatcher(t)
	r := newTestResolver(t)

	if err := mbptr.WriteCStr(r, 0x10, "missing"); err != nil {
		t.Fatalf("WriteCStr: %v", err)
	}
	res, err := d.dispatch("ch0", r, mbrpc.FileOpen(testMaxArgs, 0x10, mbproto.FileFlagRead))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if mbproto.Ptr(mbrpc.FileOpenFd(res.resp)) != mbproto.Ptr(uint32(errSentinel)) {
		t.Fatalf("OPEN of missing file = %#x, want the error sentinel", res.resp.Ret)
	}
}

func TestDispatchCallRoundTripAndPending(t *testing.T) {
	d, _ := newTestDispatcher(t)
	r := newTestResolver(t)

	calls := 0
	d.HostCalls.Register("double", func(channelName, methodName string, args []mbproto.Ptr) (mbproto.Ptr, mbhostcall.Status) {
		calls++
		if calls < 2 {
			return 0, mbhostcall.Pending
		}
		return args[0] * 2, mbhostcall.Ready
	})
	if err := mbptr.WriteCStr(r, 0x10, "double"); err != nil {
		t.Fatalf("WriteCStr: %v", err)
	}
	req, err := mbrpc.Call(testMaxArgs, 0x10, []mbproto.Ptr{21})
	if err != nil {
		t.Fatalf("Call encode: %v", err)
	}

	first, err := d.dispatch("ch0", r, req)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if !first.pending {
		t.Fatal("first CALL dispatch should report pending")
	}

	second, err := d.dispatch("ch0", r, req)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if second.pending || !second.hasResp || mbrpc.CallReturn(second.resp) != 42 {
		t.Fatalf("second CALL dispatch = %+v, want Ready with Ret=42", second)
	}
}

func TestDispatchOtherCustomHandler(t *testing.T) {
	d, _ := newTestDispatcher(t)
	r := newTestResolver(t)

	d.RegisterOther(0x01, func(resolver mbptr.Resolver, args []mbproto.Ptr) (mbproto.Ptr, bool, error) {
		return args[0] + args[1], true, nil
	})
	req, err := mbrpc.Other(testMaxArgs, 0x01, []mbproto.Ptr{2, 3})
	if err != nil {
		t.Fatalf("Other encode: %v", err)
	}
	res, err := d.dispatch("ch0", r, req)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if res.resp.Ret != 5 {
		t.Fatalf("OTHER result = %d, want 5", res.resp.Ret)
	}
}

func TestDispatchOtherUnknownSubCodeIsIllegal(t *testing.T) {
	d, _ := newTestDispatcher(t)
	r := newTestResolver(t)

	req, err := mbrpc.Other(testMaxArgs, 0x99, nil)
	if err != nil {
		t.Fatalf("Other encode: %v", err)
	}
	if _, err := d.dispatch("ch0", r, req); err == nil {
		t.Fatal("dispatch with an unregistered OTHER sub-code should fail")
	}
}

func TestDispatchExitPolicy(t *testing.T) {
	r := newTestResolver(t)

	d, _ := newTestDispatcher(t)
	req := mbrpc.Exit(testMaxArgs, 0)
	res, err := d.dispatch("ch0", r, req)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if res.stop || res.hasResp {
		t.Fatalf("default ExitPolicy should not stop or respond, got %+v", res)
	}

	d.ExitPolicy = ExitStop
	res, err = d.dispatch("ch0", r, req)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if !res.stop || res.hasResp {
		t.Fatalf("ExitStop should stop with no response, got %+v", res)
	}
}

func TestDispatchStopServer(t *testing.T) {
	d, _ := newTestDispatcher(t)
	r := newTestResolver(t)

	res, err := d.dispatch("ch0", r, mbrpc.StopServer(testMaxArgs))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if !res.stop || res.hasResp {
		t.Fatalf("STOPSERVER should stop with no response, got %+v", res)
	}
}
