// Package mbproto defines the bit-exact data model of the mailbox control
// block: action codes, entry layouts, ring index arithmetic, and the
// byte-offset layout of a channel in shared memory.
package mbproto

// Ptr is an address in the server's view of the client's address space.
// Its wire width (4 or 8 bytes) is a per-deployment choice carried by
// Layout, not by the Go type — Ptr itself always has 64 bits of range so
// a single build of this package serves 32-bit, 64-bit, and host-native
// deployments alike.
type Ptr uint64

// Width is the wire size of a Ptr value, chosen at channel-construction
// time and shared by both peers.
type Width uint8

const (
	Width32 Width = 4
	Width64 Width = 8
)

// ActionCode discriminates the top-level request kind.
type ActionCode uint32

const (
	ActionIdle       ActionCode = 0
	ActionExit       ActionCode = 1
	ActionPrint      ActionCode = 2
	ActionCPrint     ActionCode = 3
	ActionMemMove    ActionCode = 4
	ActionMemSet     ActionCode = 5
	ActionMemCmp     ActionCode = 6
	ActionCall       ActionCode = 7
	ActionFileAccess ActionCode = 8
	ActionStopServer ActionCode = 9
	ActionOther      ActionCode = 0x80000000
)

func (a ActionCode) String() string {
	switch a {
	case ActionIdle:
		return "IDLE"
	case ActionExit:
		return "EXIT"
	case ActionPrint:
		return "PRINT"
	case ActionCPrint:
		return "CPRINT"
	case ActionMemMove:
		return "MEMMOVE"
	case ActionMemSet:
		return "MEMSET"
	case ActionMemCmp:
		return "MEMCMP"
	case ActionCall:
		return "CALL"
	case ActionFileAccess:
		return "FILEACCESS"
	case ActionStopServer:
		return "STOPSERVER"
	case ActionOther:
		return "OTHER"
	default:
		return "UNKNOWN"
	}
}

// FileSubAction is carried in args[0] of a FILEACCESS request.
type FileSubAction uint32

const (
	FileOpen FileSubAction = iota
	FileClose
	FileRead
	FileWrite
	FileSeek
)

// FileOpenFlag bits, carried as the flags arg of an OPEN request.
type FileOpenFlag uint32

const (
	FileFlagRead   FileOpenFlag = 1 << 0
	FileFlagWrite  FileOpenFlag = 1 << 1
	FileFlagAppend FileOpenFlag = 1 << 2
	FileFlagTrunc  FileOpenFlag = 1 << 3
)

// State is the channel handshake state word.
type State uint32

const (
	StateInit  State = 0
	StateReady State = 1
)

func (s State) String() string {
	if s == StateReady {
		return "READY"
	}
	return "INIT"
}

const (
	// MaxEntries is the ring depth. Must stay a power of two; the ring
	// index generation flag relies on log2MaxEntries below.
	MaxEntries = 8

	// DefaultMaxArgs and ExtendedMaxArgs are the two build-time choices
	// for argument slots in a request entry.
	DefaultMaxArgs  = 8
	ExtendedMaxArgs = 20

	// CStringCap bounds how many bytes the pointer resolver will read
	// while scanning for a NUL terminator. Arbitrary per the source
	// material; exposed here as a named constant rather than buried in
	// the resolver.
	CStringCap = 4096

	log2MaxEntries = 3 // log2(MaxEntries), MaxEntries == 8
	ringMask       = MaxEntries - 1
	genBit         = MaxEntries // 1 << log2MaxEntries
)

// RingIndex is a producer or consumer index: the low log2(MaxEntries)
// bits select the slot, the next bit is the generation flag that
// disambiguates empty from full across a wrap.
type RingIndex uint32

// Slot returns the ring slot this index currently refers to.
func (r RingIndex) Slot() uint32 { return uint32(r) & ringMask }

// Generation returns the wraparound generation flag.
func (r RingIndex) Generation() uint32 { return (uint32(r) >> log2MaxEntries) & 1 }

// Advance returns the next index in program order. The generation flag
// flips naturally when the slot wraps past MaxEntries-1.
func (r RingIndex) Advance() RingIndex { return RingIndex(uint32(r) + 1) }

// RingEmpty reports whether a ring with producer p and consumer c holds
// no entries.
func RingEmpty(p, c RingIndex) bool { return p == c }

// RingFull reports whether a ring with producer p and consumer c has no
// free slots.
func RingFull(p, c RingIndex) bool {
	return p.Slot() == c.Slot() && p.Generation() != c.Generation()
}

// ReqEntry is a single request ring entry.
type ReqEntry struct {
	Action ActionCode
	Words  uint32
	Args   []Ptr // length equals the build's MaxArgs
}

// RespEntry is a single response ring entry.
type RespEntry struct {
	Words uint32
	Ret   Ptr
}

// VersionRecord is read once per channel before the dispatch loop starts
// (§4.7 "Version check"). A mismatched Major or Minor is fatal.
type VersionRecord struct {
	Major uint16
	Minor uint16
}

// ProtocolVersion is this package's compile-time version.
var ProtocolVersion = VersionRecord{Major: 1, Minor: 0}

// Compatible reports whether a peer's version record may talk to this
// build. Only major.minor are compared, matching §4.7.
func (v VersionRecord) Compatible(other VersionRecord) bool {
	return v.Major == other.Major && v.Minor == other.Minor
}
