package mbhostcall

import (
	"errors"
	"testing"

	"github.com/mbrpc/mbrpc/pkg/mbproto"
)

func TestRegisterAndCall(t *testing.T) {
	r := NewRegistry()
	r.Register("double", func(channelName, methodName string, args []mbproto.Ptr) (mbproto.Ptr, Status) {
		return args[0] * 2, Ready
	})

	val, status, err := r.Call("ch0", "double", []mbproto.Ptr{21})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if status != Ready || val != 42 {
		t.Fatalf("Call = (%d, %v), want (42, Ready)", val, status)
	}
}

func TestCallUnknownMethod(t *testing.T) {
	r := NewRegistry()
	if _, _, err := r.Call("ch0", "missing", nil); !errors.Is(err, ErrUnknownMethod) {
		t.Fatalf("Call(missing) = %v, want ErrUnknownMethod", err)
	}
}

func TestCallReportsPending(t *testing.T) {
	r := NewRegistry()
	calls := 0
	r.Register("slow", func(channelName, methodName string, args []mbproto.Ptr) (mbproto.Ptr, Status) {
		calls++
		if calls < 2 {
			return 0, Pending
		}
		return 99, Ready
	})

	if _, status, err := r.Call("ch0", "slow", nil); err != nil || status != Pending {
		t.Fatalf("first Call = (%v, %v), want (nil, Pending)", err, status)
	}
	val, status, err := r.Call("ch0", "slow", nil)
	if err != nil || status != Ready || val != 99 {
		t.Fatalf("second Call = (%d, %v, %v), want (99, Ready, nil)", val, status, err)
	}
}
