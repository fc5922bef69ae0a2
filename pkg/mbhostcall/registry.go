// Package mbhostcall is the named-host-call interface the CALL/SVCALL
// dispatch handlers delegate to (§6): an in-process Go function
// registry, plus an optional purego-backed binding to a dynamically
// loaded native library for deployments that implement their host calls
// in C/C++/Rust instead of Go.
package mbhostcall

import (
	"errors"
	"fmt"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"

	"github.com/mbrpc/mbrpc/pkg/mbproto"
)

// Status mirrors the Ready/Pending split every host call returns
// alongside its value; Pending tells the dispatcher to re-poll the same
// request later instead of sending a response now.
type Status int

const (
	Ready Status = iota
	Pending
)

// Func is a registered host call implementation.
type Func func(channelName, methodName string, args []mbproto.Ptr) (mbproto.Ptr, Status)

// ErrUnknownMethod is returned by Call, wrapped with the method name, for
// a method with no registered implementation. The dispatcher answers such
// a CALL with its error sentinel rather than stopping the channel.
var ErrUnknownMethod = errors.New("mbhostcall: unknown method")

// Registry looks up and invokes named host calls by method name.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]Func
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{funcs: map[string]Func{}}
}

// Register installs fn under method, replacing any prior registration.
func (r *Registry) Register(method string, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[method] = fn
}

// Call invokes the registered implementation of method.
func (r *Registry) Call(channelName, method string, args []mbproto.Ptr) (mbproto.Ptr, Status, error) {
	r.mu.RLock()
	fn, ok := r.funcs[method]
	r.mu.RUnlock()
	if !ok {
		return 0, Ready, fmt.Errorf("%w: %q", ErrUnknownMethod, method)
	}
	val, status := fn(channelName, method, args)
	return val, status, nil
}

// nativeHostCall is the C ABI a dynamically loaded library exposes for
// one method: channel name, method name, argument count, and a pointer
// to argc Ptr-sized (uint64) argument words, returning the single
// result word. Native bindings are always synchronous — there is no way
// to express Pending across a C call boundary, so LoadDynamic-registered
// methods always report Ready.
type nativeHostCall func(channel string, method string, argc uint32, argv uintptr) uint64

// LoadDynamic dlopen()s libPath and registers method, bound to symbol
// inside it, using the nativeHostCall signature above.
func (r *Registry) LoadDynamic(method, libPath, symbol string) error {
	handle, err := purego.Dlopen(libPath, purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		return fmt.Errorf("mbhostcall: dlopen %q: %w", libPath, err)
	}

	var native nativeHostCall
	purego.RegisterLibFunc(&native, handle, symbol)

	r.Register(method, func(channelName, methodName string, args []mbproto.Ptr) (mbproto.Ptr, Status) {
		argv := make([]uint64, len(args))
		for i, a := range args {
			argv[i] = uint64(a)
		}
		var argvPtr uintptr
		if len(argv) > 0 {
			argvPtr = uintptr(unsafe.Pointer(&argv[0]))
		}
		ret := native(channelName, methodName, uint32(len(argv)), argvPtr)
		return mbproto.Ptr(ret), Ready
	})
	return nil
}
