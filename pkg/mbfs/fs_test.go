package mbfs

import (
	"testing"

	"github.com/mbrpc/mbrpc/pkg/mbproto"
)

func TestOpenWriteSeekReadCloseRoundTrip(t *testing.T) {
	fs, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	fd, err := fs.Open("test", mbproto.FileFlagRead|mbproto.FileFlagWrite)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if fd < firstFd {
		t.Fatalf("fd = %d, want >= %d", fd, firstFd)
	}

	n, err := fs.Write(fd, []byte("Hello World!"))
	if err != nil || n != 12 {
		t.Fatalf("Write = (%d, %v), want (12, nil)", n, err)
	}

	if pos, err := fs.Seek(fd, 0); err != nil || pos != 0 {
		t.Fatalf("Seek = (%d, %v), want (0, nil)", pos, err)
	}

	got, err := fs.Read(fd, 12)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "Hello World!" {
		t.Fatalf("Read = %q, want %q", got, "Hello World!")
	}

	if err := fs.Close(fd); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := fs.Read(fd, 1); err != ErrBadFd {
		t.Fatalf("Read after close = %v, want ErrBadFd", err)
	}
}

func TestReadToEOFWhenLengthZero(t *testing.T) {
	fs, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	fd, err := fs.Open("data", mbproto.FileFlagRead|mbproto.FileFlagWrite)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := fs.Write(fd, []byte("0123456789")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := fs.Seek(fd, 0); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	got, err := fs.Read(fd, 0)
	if err != nil {
		t.Fatalf("Read(length=0): %v", err)
	}
	if string(got) != "0123456789" {
		t.Fatalf("Read(length=0) = %q, want full contents", got)
	}
}

func TestAbsoluteAndParentPathsRejected(t *testing.T) {
	fs, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := fs.Open("/etc/passwd", mbproto.FileFlagRead); err != ErrPathRejected {
		t.Fatalf("Open(absolute) = %v, want ErrPathRejected", err)
	}
	if _, err := fs.Open("../outside", mbproto.FileFlagRead); err != ErrPathRejected {
		t.Fatalf("Open(parent-relative) = %v, want ErrPathRejected", err)
	}
}

func TestOpenMissingFileNotFound(t *testing.T) {
	fs, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := fs.Open("nope", mbproto.FileFlagRead); err != ErrNotFound {
		t.Fatalf("Open(missing, read-only) = %v, want ErrNotFound", err)
	}
}

func TestVirtualOpener(t *testing.T) {
	fs, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	fs.RegisterVirtual("null", func(name string, flags mbproto.FileOpenFlag) (file, error) {
		return newNullFile(), nil
	})

	fd, err := fs.Open("virtual/null", mbproto.FileFlagRead|mbproto.FileFlagWrite)
	if err != nil {
		t.Fatalf("Open(virtual/null): %v", err)
	}
	if n, err := fs.Write(fd, []byte("discarded")); err != nil || n != 9 {
		t.Fatalf("Write to virtual/null = (%d, %v)", n, err)
	}
}

func TestFdAllocationIsUniqueAndMonotonic(t *testing.T) {
	fs, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	fs.RegisterVirtual("counter", func(name string, flags mbproto.FileOpenFlag) (file, error) {
		return newNullFile(), nil
	})

	seen := map[uint32]bool{}
	var last uint32
	for i := 0; i < 5; i++ {
		fd, err := fs.Open("virtual/counter", mbproto.FileFlagRead)
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		if seen[fd] {
			t.Fatalf("fd %d allocated twice", fd)
		}
		seen[fd] = true
		if i > 0 && fd <= last {
			t.Fatalf("fd %d did not increase past previous fd %d", fd, last)
		}
		last = fd
	}
}
