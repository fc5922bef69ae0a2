// Command mbserverd is the mailbox RPC server: it loads a client image's
// .mailbox section, wires one dispatcher task per channel, and runs
// until every channel's task stops (STOPSERVER, or an EXIT configured to
// stop) or the process receives an interrupt.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mbrpc/mbrpc/internal/mbtask"
	"github.com/mbrpc/mbrpc/pkg/mbasync"
	"github.com/mbrpc/mbrpc/pkg/mbchannel"
	"github.com/mbrpc/mbrpc/pkg/mbfs"
	"github.com/mbrpc/mbrpc/pkg/mbhostcall"
	"github.com/mbrpc/mbrpc/pkg/mbproto"
	"github.com/mbrpc/mbrpc/pkg/mbptr"
	"github.com/mbrpc/mbrpc/pkg/mbserver"
	"github.com/mbrpc/mbrpc/pkg/mbshm"
)

func main() {
	mailboxPath := flag.String("mailbox", "", "path to the client ELF image declaring a .mailbox section")
	fsRoot := flag.String("fs-root", ".", "sandbox root for FILEACCESS requests")
	channels := flag.Uint("channels", 1, "number of channels to service")
	width := flag.Uint("ptr-width", 4, "pointer width in bytes: 4 or 8")
	maxArgs := flag.Uint("max-args", uint(mbproto.DefaultMaxArgs), "argument slots per request entry: 8 or 20")
	cacheLine := flag.Uint("cache-line", 0, "cache-line size for queue padding, 0 to disable")
	exitStops := flag.Bool("exit-stops", false, "treat EXIT like STOPSERVER instead of a no-response continuation")
	hostLib := flag.String("hostcall-lib", "", "optional shared library to dlopen for a named host call")
	hostMethod := flag.String("hostcall-method", "", "method name to bind to -hostcall-symbol in -hostcall-lib")
	hostSymbol := flag.String("hostcall-symbol", "", "symbol in -hostcall-lib implementing -hostcall-method")
	flag.Parse()

	if *mailboxPath == "" {
		fmt.Fprintln(os.Stderr, "mbserverd: -mailbox is required")
		os.Exit(2)
	}

	layout := mbproto.Layout{
		Width:     mbproto.Width(*width),
		MaxArgs:   int(*maxArgs),
		CacheLine: int(*cacheLine),
	}

	space := mbshm.NewSpace()
	mailboxBase, err := mbshm.LoadELF(*mailboxPath, space)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mbserverd: %v\n", err)
		os.Exit(1)
	}

	fs, err := mbfs.New(*fsRoot)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mbserverd: %v\n", err)
		os.Exit(1)
	}

	hostCalls := mbhostcall.NewRegistry()
	if *hostLib != "" {
		if *hostMethod == "" || *hostSymbol == "" {
			fmt.Fprintln(os.Stderr, "mbserverd: -hostcall-lib requires -hostcall-method and -hostcall-symbol")
			os.Exit(2)
		}
		if err := hostCalls.LoadDynamic(*hostMethod, *hostLib, *hostSymbol); err != nil {
			fmt.Fprintf(os.Stderr, "mbserverd: %v\n", err)
			os.Exit(1)
		}
	}

	out := mbserver.NewOutputWriter(os.Stdout)
	dispatcher := mbserver.NewDispatcher(layout, fs, hostCalls, out)
	if *exitStops {
		dispatcher.ExitPolicy = mbserver.ExitStop
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rt := mbtask.New(ctx)
	for id := uint32(0); id < uint32(*channels); id++ {
		addr, err := mbshm.MailboxAddr(mailboxBase, id, layout, uint64(layout.ChannelSize())*uint64(*channels))
		if err != nil {
			fmt.Fprintf(os.Stderr, "mbserverd: %v\n", err)
			os.Exit(1)
		}
		name := fmt.Sprintf("ch%d", id)
		ch := &mbchannel.Channel{Name: name, Space: space, Base: addr, Layout: layout}
		dispatcher.Spawn(rt, mbserver.ChannelConfig{
			Name:     name,
			Channel:  mbasync.New(ch),
			Resolver: mbptr.SpaceResolver{Space: space},
		})
	}

	if err := rt.Wait(); err != nil && err != context.Canceled {
		fmt.Fprintf(os.Stderr, "mbserverd: %v\n", err)
		os.Exit(1)
	}
}
