// Package mbptr provides a uniform reader/writer over either a host
// pointer (same-process use, tests) or a shared-memory address (§4.2).
package mbptr

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/mbrpc/mbrpc/pkg/mbproto"
	"github.com/mbrpc/mbrpc/pkg/mbshm"
)

// ErrIO is returned for resolver failures: truncated transfers, and
// C-strings that run past the cap without a terminator.
var ErrIO = errors.New("mbptr: I/O error")

// Resolver reads and writes bytes through an address in whatever space
// the implementation backs onto.
type Resolver interface {
	Read(addr mbproto.Ptr, dst []byte) (int, error)
	Write(addr mbproto.Ptr, src []byte) (int, error)
}

// SpaceResolver resolves addresses through a shared-memory Space — the
// normal case, where addr is valid in the server's view of the client's
// shared region.
type SpaceResolver struct {
	Space *mbshm.Space
}

func (r SpaceResolver) Read(addr mbproto.Ptr, dst []byte) (int, error) {
	n := r.Space.Read(uint64(addr), dst)
	if n != len(dst) {
		return n, fmt.Errorf("%w: short read at 0x%x (%d of %d bytes)", ErrIO, addr, n, len(dst))
	}
	return n, nil
}

func (r SpaceResolver) Write(addr mbproto.Ptr, src []byte) (int, error) {
	n := r.Space.Write(uint64(addr), src)
	if n != len(src) {
		return n, fmt.Errorf("%w: short write at 0x%x (%d of %d bytes)", ErrIO, addr, n, len(src))
	}
	return n, nil
}

// HostResolver resolves addr as a native host pointer. It exists for
// same-process use and tests — a deployment where client and server
// share an address space (§4.2).
type HostResolver struct{}

func (HostResolver) Read(addr mbproto.Ptr, dst []byte) (int, error) {
	if len(dst) == 0 {
		return 0, nil
	}
	src := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(addr))), len(dst))
	return copy(dst, src), nil
}

func (HostResolver) Write(addr mbproto.Ptr, src []byte) (int, error) {
	if len(src) == 0 {
		return 0, nil
	}
	dst := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(addr))), len(src))
	return copy(dst, src), nil
}

// ReadCStr reads a NUL-terminated string starting at ptr, capped at
// mbproto.CStringCap bytes. Running past the cap without finding a NUL
// is an ErrIO failure, per §4.2 and §9 open question (c).
func ReadCStr(r Resolver, ptr mbproto.Ptr) (string, error) {
	buf := make([]byte, 0, 64)
	var chunk [1]byte
	for i := 0; i < mbproto.CStringCap; i++ {
		if _, err := r.Read(ptr+mbproto.Ptr(i), chunk[:]); err != nil {
			return "", err
		}
		if chunk[0] == 0 {
			return string(buf), nil
		}
		buf = append(buf, chunk[0])
	}
	return "", fmt.Errorf("%w: C-string at 0x%x exceeds %d-byte cap", ErrIO, ptr, mbproto.CStringCap)
}

// ReadStr reads a length-prefixed string of the given length starting at ptr.
func ReadStr(r Resolver, length uint32, ptr mbproto.Ptr) (string, error) {
	buf := make([]byte, length)
	if _, err := r.Read(ptr, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// WriteCStr writes s followed by a NUL terminator starting at ptr.
func WriteCStr(r Resolver, ptr mbproto.Ptr, s string) error {
	buf := append([]byte(s), 0)
	_, err := r.Write(ptr, buf)
	return err
}

// WriteStr writes s, with no terminator, starting at ptr — the write-side
// counterpart to ReadStr's length-prefixed convention (the length itself
// travels out of band, as an RPC argument).
func WriteStr(r Resolver, ptr mbproto.Ptr, s string) error {
	_, err := r.Write(ptr, []byte(s))
	return err
}
