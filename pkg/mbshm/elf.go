package mbshm

import (
	"debug/elf"
	"fmt"

	"github.com/mbrpc/mbrpc/pkg/mbproto"
)

// mailboxSectionName is the linker-placed section a client image declares
// its mailbox slots in (§6, "Client discovery of the MCB").
const mailboxSectionName = ".mailbox"

// LoadELF parses a client executable, copies every LOAD segment into a
// fresh block registered on space, and returns the base address of the
// .mailbox section so the caller can locate channel id within it.
//
// No ELF-parsing library exists anywhere in the example corpus this
// module is grounded on, so this uses the standard library's debug/elf —
// the one place in this repo where the standard library is used for a
// concern a third-party dependency would otherwise cover.
func LoadELF(path string, space *Space) (mailboxBase uint64, err error) {
	f, err := elf.Open(path)
	if err != nil {
		return 0, fmt.Errorf("mbshm: open ELF %q: %w", path, err)
	}
	defer f.Close()

	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		data := make([]byte, prog.Filesz)
		if _, err := prog.ReadAt(data, 0); err != nil {
			return 0, fmt.Errorf("mbshm: read LOAD segment at 0x%x: %w", prog.Vaddr, err)
		}
		mem := make([]byte, prog.Memsz)
		copy(mem, data)
		if err := space.AddBlock(prog.Vaddr, mem); err != nil {
			return 0, fmt.Errorf("mbshm: load segment at 0x%x: %w", prog.Vaddr, err)
		}
	}

	section := f.Section(mailboxSectionName)
	if section == nil {
		return 0, fmt.Errorf("mbshm: no %s section in %q", mailboxSectionName, path)
	}
	return section.Addr, nil
}

// MailboxAddr computes the address of channel id within a .mailbox
// section sized for K channels, honoring the layout's cache-line
// rounding (§6: "mailbox base is section.addr + id × sizeof(MCB)").
func MailboxAddr(sectionAddr uint64, id uint32, layout mbproto.Layout, sectionSize uint64) (uint64, error) {
	channelSize := uint64(layout.ChannelSize())
	addr := sectionAddr + uint64(id)*channelSize
	if addr+channelSize > sectionAddr+sectionSize {
		return 0, fmt.Errorf("mbshm: channel id %d out of bounds of %d-byte .mailbox section", id, sectionSize)
	}
	return addr, nil
}
