package mbproto

import "encoding/binary"

// Layout computes the bit-exact byte layout of queues and channels for a
// given build configuration, and marshals/unmarshals entries to that
// layout. It is the single source of truth both peers must agree on.
type Layout struct {
	Width     Width
	MaxArgs   int
	CacheLine int // 0 disables cache-line padding
}

// DefaultLayout matches §6's worked example: MAX_ENTRIES=8, MAX_ARGS=8,
// Ptr=u32, no cache-line padding.
var DefaultLayout = Layout{Width: Width32, MaxArgs: DefaultMaxArgs}

func padTo(size, line int) int {
	if line <= 0 {
		return size
	}
	if rem := size % line; rem != 0 {
		size += line - rem
	}
	return size
}

// ReqEntrySize is the byte size of one request entry: action(4) + words(4) + MaxArgs*width.
func (l Layout) ReqEntrySize() int {
	return 4 + 4 + l.MaxArgs*int(l.Width)
}

// RespEntrySize is the byte size of one response entry: words(4) + ret(width).
func (l Layout) RespEntrySize() int {
	return 4 + int(l.Width)
}

// queueLayout describes byte offsets within one queue (request or response).
type queueLayout struct {
	idxPOffset    int
	entriesOffset int
	idxCOffset    int
	entryStride   int
	entryCount    int
	totalSize     int
}

func (l Layout) reqQueueLayout() queueLayout {
	return l.buildQueueLayout(l.ReqEntrySize())
}

func (l Layout) respQueueLayout() queueLayout {
	return l.buildQueueLayout(l.RespEntrySize())
}

func (l Layout) buildQueueLayout(entrySize int) queueLayout {
	// reserved(4) + idx_p(4) + entries + idx_c(4), each of the three
	// trailing sections cache-line padded independently when enabled.
	reserved := 4
	idxSize := padTo(4, l.CacheLine)
	entriesSize := padTo(MaxEntries*entrySize, l.CacheLine)

	idxPOffset := padTo(reserved, l.CacheLine)
	entriesOffset := idxPOffset + idxSize
	idxCOffset := entriesOffset + entriesSize
	total := idxCOffset + idxSize

	return queueLayout{
		idxPOffset:    idxPOffset,
		entriesOffset: entriesOffset,
		idxCOffset:    idxCOffset,
		entryStride:   entrySize,
		entryCount:    MaxEntries,
		totalSize:     total,
	}
}

// ReqQueueSize and RespQueueSize return the total byte size of the request
// and response queue.
func (l Layout) ReqQueueSize() int  { return l.reqQueueLayout().totalSize }
func (l Layout) RespQueueSize() int { return l.respQueueLayout().totalSize }

// ChannelSize returns the total byte size of one channel control block:
// id(4) + state(4) + req queue + resp queue.
func (l Layout) ChannelSize() int {
	head := padTo(8, l.CacheLine)
	return head + l.ReqQueueSize() + l.RespQueueSize()
}

// Channel field offsets, relative to the channel's base address.
func (l Layout) IDOffset() int    { return 0 }
func (l Layout) StateOffset() int { return 4 }
func (l Layout) ReqQueueOffset() int {
	return padTo(8, l.CacheLine)
}
func (l Layout) RespQueueOffset() int {
	return l.ReqQueueOffset() + l.ReqQueueSize()
}

// Within-queue offsets, relative to the queue's base address.
func (l Layout) ReqIdxPOffset() int     { return l.reqQueueLayout().idxPOffset }
func (l Layout) ReqEntriesOffset() int  { return l.reqQueueLayout().entriesOffset }
func (l Layout) ReqIdxCOffset() int     { return l.reqQueueLayout().idxCOffset }
func (l Layout) RespIdxPOffset() int    { return l.respQueueLayout().idxPOffset }
func (l Layout) RespEntriesOffset() int { return l.respQueueLayout().entriesOffset }
func (l Layout) RespIdxCOffset() int    { return l.respQueueLayout().idxCOffset }

func (l Layout) putPtr(b []byte, v Ptr) { l.PutPtr(b, v) }
func (l Layout) getPtr(b []byte) Ptr    { return l.GetPtr(b) }

// PutPtr writes v into b using l.Width bytes, little-endian. Exported for
// callers outside this package that marshal a single Ptr-width field
// against the same build configuration — e.g. the CPRINT overflow
// argument block, which is a bare array of Ptr-width words rather than a
// ReqEntry/RespEntry.
func (l Layout) PutPtr(b []byte, v Ptr) {
	if l.Width == Width32 {
		binary.LittleEndian.PutUint32(b, uint32(v))
		return
	}
	binary.LittleEndian.PutUint64(b, uint64(v))
}

// GetPtr reads a Ptr out of b using l.Width bytes, little-endian.
func (l Layout) GetPtr(b []byte) Ptr {
	if l.Width == Width32 {
		return Ptr(binary.LittleEndian.Uint32(b))
	}
	return Ptr(binary.LittleEndian.Uint64(b))
}

// MarshalReqEntry writes entry into a buffer of exactly ReqEntrySize() bytes.
func (l Layout) MarshalReqEntry(entry ReqEntry) []byte {
	buf := make([]byte, l.ReqEntrySize())
	binary.LittleEndian.PutUint32(buf[0:4], uint32(entry.Action))
	binary.LittleEndian.PutUint32(buf[4:8], entry.Words)
	for i := 0; i < l.MaxArgs; i++ {
		off := 8 + i*int(l.Width)
		var v Ptr
		if i < len(entry.Args) {
			v = entry.Args[i]
		}
		l.putPtr(buf[off:off+int(l.Width)], v)
	}
	return buf
}

// UnmarshalReqEntry reads a ReqEntry from a buffer of ReqEntrySize() bytes.
func (l Layout) UnmarshalReqEntry(buf []byte) ReqEntry {
	entry := ReqEntry{
		Action: ActionCode(binary.LittleEndian.Uint32(buf[0:4])),
		Words:  binary.LittleEndian.Uint32(buf[4:8]),
		Args:   make([]Ptr, l.MaxArgs),
	}
	for i := 0; i < l.MaxArgs; i++ {
		off := 8 + i*int(l.Width)
		entry.Args[i] = l.getPtr(buf[off : off+int(l.Width)])
	}
	return entry
}

// MarshalRespEntry writes entry into a buffer of exactly RespEntrySize() bytes.
func (l Layout) MarshalRespEntry(entry RespEntry) []byte {
	buf := make([]byte, l.RespEntrySize())
	binary.LittleEndian.PutUint32(buf[0:4], entry.Words)
	l.putPtr(buf[4:4+int(l.Width)], entry.Ret)
	return buf
}

// UnmarshalRespEntry reads a RespEntry from a buffer of RespEntrySize() bytes.
func (l Layout) UnmarshalRespEntry(buf []byte) RespEntry {
	return RespEntry{
		Words: binary.LittleEndian.Uint32(buf[0:4]),
		Ret:   l.getPtr(buf[4 : 4+int(l.Width)]),
	}
}
