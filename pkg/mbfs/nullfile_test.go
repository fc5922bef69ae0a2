package mbfs

import "io"

// nullFile is a minimal file implementation for tests of the virtual
// opener path: writes are discarded, reads return EOF.
type nullFile struct{}

func newNullFile() *nullFile { return &nullFile{} }

func (*nullFile) Read(p []byte) (int, error)          { return 0, io.EOF }
func (*nullFile) Write(p []byte) (int, error)         { return len(p), nil }
func (*nullFile) Seek(offset int64, whence int) (int64, error) { return 0, nil }
func (*nullFile) Close() error                        { return nil }
