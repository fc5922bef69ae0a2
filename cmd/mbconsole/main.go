// Command mbconsole is an interactive operator console: it puts stdin
// into raw mode, reads a line at a time, and feeds each line to the
// script/test-bench ABI (§6) as a Lua statement. Statements call
// get_space(name) to reach a channel's shared-memory region directly,
// bypassing the RPC protocol entirely — intended for diagnosing a
// server it's attached to, not for driving real traffic.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/mbrpc/mbrpc/pkg/mbscript"
	"github.com/mbrpc/mbrpc/pkg/mbshm"
)

// consoleHost reads raw stdin a byte at a time and assembles it into
// lines, the same pattern terminal_host.go uses for a character-mode
// MMIO device, adapted here to drive a line-oriented Lua REPL instead.
type consoleHost struct {
	lines       chan string
	stopCh      chan struct{}
	done        chan struct{}
	stopped     sync.Once
	fd          int
	nonblockSet bool
	oldState    *term.State
}

func newConsoleHost() *consoleHost {
	return &consoleHost{
		lines:  make(chan string, 16),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (h *consoleHost) Start() error {
	h.fd = int(os.Stdin.Fd())

	oldState, err := term.MakeRaw(h.fd)
	if err != nil {
		close(h.done)
		return fmt.Errorf("mbconsole: failed to set raw mode: %w", err)
	}
	h.oldState = oldState

	if err := syscall.SetNonblock(h.fd, true); err != nil {
		_ = term.Restore(h.fd, h.oldState)
		h.oldState = nil
		close(h.done)
		return fmt.Errorf("mbconsole: failed to set nonblocking stdin: %w", err)
	}
	h.nonblockSet = true

	go func() {
		defer close(h.done)
		var line []byte
		buf := make([]byte, 1)

		for {
			select {
			case <-h.stopCh:
				return
			default:
			}

			n, err := syscall.Read(h.fd, buf)
			if n > 0 {
				b := buf[0]
				if b == '\r' {
					b = '\n'
				}
				if b == 0x7F && len(line) > 0 {
					line = line[:len(line)-1]
					fmt.Print("\b \b")
					continue
				}
				if b == '\n' {
					fmt.Print("\r\n")
					h.lines <- string(line)
					line = line[:0]
					continue
				}
				if b >= 0x20 && b < 0x7F {
					line = append(line, b)
					os.Stdout.Write([]byte{b})
				}
			}
			if err == syscall.EAGAIN || err == syscall.EWOULDBLOCK {
				time.Sleep(5 * time.Millisecond)
				continue
			}
			if err != nil {
				return
			}
			if n == 0 {
				time.Sleep(5 * time.Millisecond)
			}
		}
	}()
	return nil
}

func (h *consoleHost) Stop() {
	h.stopped.Do(func() {
		close(h.stopCh)
	})
	<-h.done
	if h.nonblockSet {
		_ = syscall.SetNonblock(h.fd, false)
		h.nonblockSet = false
	}
	if h.oldState != nil {
		_ = term.Restore(h.fd, h.oldState)
		h.oldState = nil
	}
}

func main() {
	mailboxPath := flag.String("mailbox", "", "path to the client ELF image declaring a .mailbox section, for get_space lookups")
	channels := flag.Uint("channels", 1, "number of channels named ch0..chN-1 to expose to get_space")
	flag.Parse()

	space := mbshm.NewSpace()
	if *mailboxPath != "" {
		if _, err := mbshm.LoadELF(*mailboxPath, space); err != nil {
			fmt.Fprintf(os.Stderr, "mbconsole: %v\n", err)
			os.Exit(1)
		}
	}

	names := make(map[string]bool, *channels)
	for id := uint32(0); id < uint32(*channels); id++ {
		names[fmt.Sprintf("ch%d", id)] = true
	}

	engine := mbscript.New(func(name string) (*mbshm.Space, bool) {
		if !names[name] {
			return nil, false
		}
		return space, true
	})
	defer engine.Close()

	host := newConsoleHost()
	if err := host.Start(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer host.Stop()

	fmt.Print("mbconsole> ")
	for line := range host.lines {
		trimmed := strings.TrimSpace(line)
		switch trimmed {
		case "":
		case "exit", "quit":
			return
		default:
			if err := engine.DoString(trimmed); err != nil {
				fmt.Printf("error: %v\r\n", err)
			}
		}
		fmt.Print("mbconsole> ")
	}
}
