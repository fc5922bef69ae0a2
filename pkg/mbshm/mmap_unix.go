//go:build unix

package mbshm

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// MmapBlock is a Block backed by an anonymous shared mapping instead of a
// plain Go slice, for deployments where two peers are separate OS
// processes on the same host (rather than goroutines in the same
// process) and need to share a region directly, with no copying
// through a Go-owned buffer.
type MmapBlock struct {
	Block
}

// NewMmapSpace creates a Space backed by a single anonymous MAP_SHARED
// mapping of size bytes starting at base. The mapping is shared-writable
// so that a peer process attaching the same mapping (e.g. via
// /proc/<pid>/mem or a shm_open'd fd, wired up by the deployment) observes
// writes made through this Space.
func NewMmapSpace(base uint64, size int) (*Space, *MmapBlock, error) {
	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_ANON)
	if err != nil {
		return nil, nil, fmt.Errorf("mbshm: mmap %d bytes: %w", size, err)
	}

	space := NewSpace()
	if err := space.AddBlock(base, mem); err != nil {
		unix.Munmap(mem)
		return nil, nil, err
	}
	return space, &MmapBlock{Block{Base: base, Mem: mem}}, nil
}

// Close unmaps the backing region. Callers must not use the Space
// returned alongside this block after calling Close.
func (m *MmapBlock) Close() error {
	return unix.Munmap(m.Mem)
}
