package mbformat

import (
	"testing"

	"github.com/mbrpc/mbrpc/pkg/mbproto"
	"github.com/mbrpc/mbrpc/pkg/mbptr"
	"github.com/mbrpc/mbrpc/pkg/mbshm"
)

func TestRenderIntegerAndHex(t *testing.T) {
	f := Format{Width: mbproto.Width32}
	got, err := f.Render("%d/%x/%X", []mbproto.Ptr{42, 255, 255})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if got != "42/ff/FF" {
		t.Fatalf("Render = %q, want %q", got, "42/ff/FF")
	}
}

func TestRenderNegativeSigned(t *testing.T) {
	f := Format{Width: mbproto.Width32}
	got, err := f.Render("%d", []mbproto.Ptr{mbproto.Ptr(uint32(int32(-7)))})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if got != "-7" {
		t.Fatalf("Render = %q, want -7", got)
	}
}

func TestRenderPercentLiteral(t *testing.T) {
	f := Format{Width: mbproto.Width32}
	got, err := f.Render("100%%", nil)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if got != "100%" {
		t.Fatalf("Render = %q, want 100%%", got)
	}
}

func TestRenderRemoteString(t *testing.T) {
	space := mbshm.NewSpace()
	if err := space.AddBlock(0, make([]byte, 256)); err != nil {
		t.Fatalf("AddBlock: %v", err)
	}
	r := mbptr.SpaceResolver{Space: space}
	if err := mbptr.WriteCStr(r, 0x10, "world"); err != nil {
		t.Fatalf("WriteCStr: %v", err)
	}

	f := Format{Width: mbproto.Width32, Resolver: r}
	got, err := f.Render("hello %s!", []mbproto.Ptr{0x10})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if got != "hello world!" {
		t.Fatalf("Render = %q, want %q", got, "hello world!")
	}
}

func TestRenderStarWidth(t *testing.T) {
	f := Format{Width: mbproto.Width32}
	got, err := f.Render("[%*d]", []mbproto.Ptr{6, 42})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if got != "[    42]" {
		t.Fatalf("Render = %q, want %q", got, "[    42]")
	}
}

func TestRenderMultipleIntArgsMatchesCPrintf(t *testing.T) {
	f := Format{Width: mbproto.Width32}
	got, err := f.Render("%d %d %d %d %d %d", []mbproto.Ptr{1, 2, 3, 4, 5, 6})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if got != "1 2 3 4 5 6" {
		t.Fatalf("Render = %q, want %q", got, "1 2 3 4 5 6")
	}
}

func TestRenderFloat32Bits(t *testing.T) {
	f := Format{Width: mbproto.Width32}
	// 3.5 as float32 bits.
	bits := mbproto.Ptr(0x40600000)
	got, err := f.Render("%.1f", []mbproto.Ptr{bits})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if got != "3.5" {
		t.Fatalf("Render = %q, want 3.5", got)
	}
}

func TestRenderTooFewArgsIsArityError(t *testing.T) {
	f := Format{Width: mbproto.Width32}
	if _, err := f.Render("%d %d", []mbproto.Ptr{1}); err == nil {
		t.Fatal("Render with too few args should fail")
	}
}

func TestRenderUnsupportedSpecifier(t *testing.T) {
	f := Format{Width: mbproto.Width32}
	if _, err := f.Render("%q", []mbproto.Ptr{1}); err == nil {
		t.Fatal("Render with an unsupported specifier should fail")
	}
}
