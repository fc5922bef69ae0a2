package mbptr

import (
	"strings"
	"testing"
	"unsafe"

	"github.com/mbrpc/mbrpc/pkg/mbproto"
	"github.com/mbrpc/mbrpc/pkg/mbshm"
)

func newTestResolver(t *testing.T) (Resolver, uint64) {
	t.Helper()
	space := mbshm.NewSpace()
	if err := space.AddBlock(0, make([]byte, 8192)); err != nil {
		t.Fatalf("AddBlock: %v", err)
	}
	return SpaceResolver{Space: space}, 0
}

func TestReadCStr(t *testing.T) {
	r, base := newTestResolver(t)
	if err := WriteCStr(r, mbproto.Ptr(base+0x100), "hello"); err != nil {
		t.Fatalf("WriteCStr: %v", err)
	}
	got, err := ReadCStr(r, mbproto.Ptr(base+0x100))
	if err != nil {
		t.Fatalf("ReadCStr: %v", err)
	}
	if got != "hello" {
		t.Fatalf("ReadCStr = %q, want %q", got, "hello")
	}
}

func TestReadCStrOverrunFails(t *testing.T) {
	r, base := newTestResolver(t)
	long := strings.Repeat("x", mbproto.CStringCap+10)
	// Write without a terminator within the space's bounds.
	sr := r.(SpaceResolver)
	sr.Space.WriteSlice(base+0x200, []byte(long))

	if _, err := ReadCStr(r, mbproto.Ptr(base+0x200)); err == nil {
		t.Fatal("ReadCStr should fail when no NUL appears within the cap")
	}
}

func TestReadStrLengthPrefixed(t *testing.T) {
	r, base := newTestResolver(t)
	if err := WriteStr(r, mbproto.Ptr(base+0x300), "Hello World!"); err != nil {
		t.Fatalf("WriteStr: %v", err)
	}
	got, err := ReadStr(r, 12, mbproto.Ptr(base+0x300))
	if err != nil {
		t.Fatalf("ReadStr: %v", err)
	}
	if got != "Hello World!" {
		t.Fatalf("ReadStr = %q, want %q", got, "Hello World!")
	}
}

func TestHostResolverRoundTrip(t *testing.T) {
	buf := make([]byte, 16)
	addr := mbproto.Ptr(uintptr(unsafe.Pointer(&buf[0])))

	r := HostResolver{}
	if err := WriteCStr(r, addr, "hi"); err != nil {
		t.Fatalf("WriteCStr: %v", err)
	}
	got, err := ReadCStr(r, addr)
	if err != nil {
		t.Fatalf("ReadCStr: %v", err)
	}
	if got != "hi" {
		t.Fatalf("ReadCStr = %q, want %q", got, "hi")
	}
}
