package mbserver

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/mbrpc/mbrpc/pkg/mbproto"
	"github.com/mbrpc/mbrpc/pkg/mbptr"
)

// ErrVersionMismatch is fatal: a peer's major.minor does not match this
// build's compiled-in mbproto.ProtocolVersion (§4.7 "Version check").
var ErrVersionMismatch = errors.New("mbserver: incompatible protocol version")

// CheckVersion reads a four-byte VersionRecord (major, minor, both
// little-endian u16) at versionAddr through resolver and compares it
// against mbproto.ProtocolVersion. versionAddr is a fixed offset ahead
// of the channel control block reserved by the deployment's channel
// construction (the mailbox loader places one per channel alongside the
// MCB itself, the same way it places the MCB relative to the `.mailbox`
// section anchor) — not part of the MCB layout in §3. A zero versionAddr
// skips the check, for deployments and tests with no separate version
// record.
func CheckVersion(resolver mbptr.Resolver, versionAddr mbproto.Ptr) error {
	if versionAddr == 0 {
		return nil
	}
	buf := make([]byte, 4)
	if _, err := resolver.Read(versionAddr, buf); err != nil {
		return fmt.Errorf("mbserver: reading version record: %w", err)
	}
	peer := mbproto.VersionRecord{
		Major: binary.LittleEndian.Uint16(buf[0:2]),
		Minor: binary.LittleEndian.Uint16(buf[2:4]),
	}
	if !mbproto.ProtocolVersion.Compatible(peer) {
		return fmt.Errorf("%w: peer %d.%d, this build %d.%d",
			ErrVersionMismatch, peer.Major, peer.Minor,
			mbproto.ProtocolVersion.Major, mbproto.ProtocolVersion.Minor)
	}
	return nil
}
