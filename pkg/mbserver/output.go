package mbserver

import (
	"bytes"
	"fmt"
	"io"
	"sync"
)

// OutputWriter buffers PRINT/CPRINT output per channel and emits only
// complete lines, prefixed "[<channel_name>] ", to an underlying writer.
// Grounded on the line-buffering discipline of a terminal output device:
// accumulate bytes, flush on newline or when the buffer would overrun a
// sane line length.
type OutputWriter struct {
	mu      sync.Mutex
	w       io.Writer
	buffers map[string][]byte
}

// maxLineLen bounds a buffered line before it is force-flushed without a
// trailing newline, so a runaway client can't grow the buffer without end.
const maxLineLen = 4096

// NewOutputWriter wraps w for line-buffered, channel-prefixed output.
func NewOutputWriter(w io.Writer) *OutputWriter {
	return &OutputWriter{w: w, buffers: map[string][]byte{}}
}

// Write appends data to channelName's buffer, flushing each complete
// line (through the last '\n') as it accumulates.
func (o *OutputWriter) Write(channelName string, data []byte) {
	o.mu.Lock()
	defer o.mu.Unlock()

	buf := append(o.buffers[channelName], data...)
	for {
		i := bytes.IndexByte(buf, '\n')
		if i < 0 {
			break
		}
		fmt.Fprintf(o.w, "[%s] %s\n", channelName, buf[:i])
		buf = buf[i+1:]
	}
	if len(buf) >= maxLineLen {
		fmt.Fprintf(o.w, "[%s] %s\n", channelName, buf)
		buf = buf[:0]
	}
	o.buffers[channelName] = buf
}

// Flush force-emits any partial line still buffered for channelName,
// with no trailing newline implied by the client. Intended for orderly
// shutdown so a final unterminated line isn't silently dropped.
func (o *OutputWriter) Flush(channelName string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	buf := o.buffers[channelName]
	if len(buf) == 0 {
		return
	}
	fmt.Fprintf(o.w, "[%s] %s\n", channelName, buf)
	o.buffers[channelName] = buf[:0]
}
