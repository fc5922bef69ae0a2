// Package mbformat is the printf-subset format engine behind CPRINT
// (§4.8): a pure function over a format string, an argument list, and a
// pointer resolver (for remote C-strings), producing the formatted
// output or a structural/typing/arity error.
package mbformat

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/mbrpc/mbrpc/pkg/mbproto"
	"github.com/mbrpc/mbrpc/pkg/mbptr"
)

// ErrParse is a structural format-string error (dangling '%', missing
// conversion specifier).
var ErrParse = errors.New("mbformat: parse error")

// ErrWrongType is an unsupported specifier, or %s with no resolver to
// dereference the string pointer.
var ErrWrongType = errors.New("mbformat: wrong type for conversion")

// ErrArity is too few arguments for the specifiers consumed.
var ErrArity = errors.New("mbformat: argument count mismatch")

// Format renders printf-style specs against a fixed pointer width and,
// for %s, a resolver to dereference remote C-strings.
type Format struct {
	Width    mbproto.Width
	Resolver mbptr.Resolver
}

// Render formats spec against args, in the order C printf would consume
// them: a '*' width or precision pulls an extra integer argument before
// the value argument itself.
func (f Format) Render(spec string, args []mbproto.Ptr) (string, error) {
	var out strings.Builder
	idx := 0
	nextArg := func() (mbproto.Ptr, error) {
		if idx >= len(args) {
			return 0, fmt.Errorf("%w: format needs more than the %d argument(s) given", ErrArity, len(args))
		}
		v := args[idx]
		idx++
		return v, nil
	}

	runes := []rune(spec)
	i := 0
	for i < len(runes) {
		if runes[i] != '%' {
			out.WriteRune(runes[i])
			i++
			continue
		}
		i++
		if i >= len(runes) {
			return "", fmt.Errorf("%w: dangling %% at end of format string", ErrParse)
		}
		if runes[i] == '%' {
			out.WriteByte('%')
			i++
			continue
		}

		flagStart := i
		for i < len(runes) && strings.ContainsRune("-+ 0#", runes[i]) {
			i++
		}
		flags := string(runes[flagStart:i])

		width, widthGiven, i2, err := parseWidthOrPrecision(runes, i, nextArg)
		if err != nil {
			return "", err
		}
		i = i2
		if !widthGiven {
			width = -1
		} else if width < 0 {
			flags += "-"
			width = -width
		}

		precision := -1
		if i < len(runes) && runes[i] == '.' {
			i++
			var precisionGiven bool
			precision, precisionGiven, i, err = parseWidthOrPrecision(runes, i, nextArg)
			if err != nil {
				return "", err
			}
			if !precisionGiven || precision < 0 {
				precision = 0
			}
		}

		long := false
		for i < len(runes) && runes[i] == 'l' {
			long = true
			i++
		}

		if i >= len(runes) {
			return "", fmt.Errorf("%w: missing conversion specifier", ErrParse)
		}
		verb := runes[i]
		i++

		rendered, err := f.renderOne(verb, flags, width, precision, long, nextArg)
		if err != nil {
			return "", err
		}
		out.WriteString(rendered)
	}
	return out.String(), nil
}

// parseWidthOrPrecision parses a bare digit run, or pulls an integer
// argument for '*'. given is false when neither was present.
func parseWidthOrPrecision(runes []rune, i int, nextArg func() (mbproto.Ptr, error)) (value int, given bool, next int, err error) {
	if i < len(runes) && runes[i] == '*' {
		v, err := nextArg()
		if err != nil {
			return 0, false, i, err
		}
		return int(int32(uint32(v))), true, i + 1, nil
	}
	start := i
	for i < len(runes) && runes[i] >= '0' && runes[i] <= '9' {
		i++
	}
	if i == start {
		return 0, false, i, nil
	}
	n, _ := strconv.Atoi(string(runes[start:i]))
	return n, true, i, nil
}

func (f Format) signedToWidth(v mbproto.Ptr) int64 {
	if f.Width == mbproto.Width32 {
		return int64(int32(uint32(v)))
	}
	return int64(v)
}

func (f Format) unsignedToWidth(v mbproto.Ptr) uint64 {
	if f.Width == mbproto.Width32 {
		return uint64(uint32(v))
	}
	return uint64(v)
}

func goFormatSpec(flags string, width, precision int, goVerb rune) string {
	var b strings.Builder
	b.WriteByte('%')
	b.WriteString(flags)
	if width >= 0 {
		b.WriteString(strconv.Itoa(width))
	}
	if precision >= 0 {
		b.WriteByte('.')
		b.WriteString(strconv.Itoa(precision))
	}
	b.WriteRune(goVerb)
	return b.String()
}

func (f Format) renderOne(verb rune, flags string, width, precision int, long bool, nextArg func() (mbproto.Ptr, error)) (string, error) {
	switch verb {
	case 'd', 'i':
		v, err := nextArg()
		if err != nil {
			return "", err
		}
		return fmt.Sprintf(goFormatSpec(flags, width, precision, 'd'), f.signedToWidth(v)), nil

	case 'u':
		v, err := nextArg()
		if err != nil {
			return "", err
		}
		return fmt.Sprintf(goFormatSpec(flags, width, precision, 'd'), f.unsignedToWidth(v)), nil

	case 'x', 'X', 'o':
		v, err := nextArg()
		if err != nil {
			return "", err
		}
		return fmt.Sprintf(goFormatSpec(flags, width, precision, verb), f.unsignedToWidth(v)), nil

	case 'c':
		v, err := nextArg()
		if err != nil {
			return "", err
		}
		return fmt.Sprintf(goFormatSpec(flags, width, -1, 'c'), rune(byte(v))), nil

	case 's':
		v, err := nextArg()
		if err != nil {
			return "", err
		}
		if f.Resolver == nil {
			return "", fmt.Errorf("%w: %%s requires a pointer resolver", ErrWrongType)
		}
		s, err := mbptr.ReadCStr(f.Resolver, v)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf(goFormatSpec(flags, width, precision, 's'), s), nil

	case 'e', 'E', 'f', 'F', 'g', 'G':
		v, err := nextArg()
		if err != nil {
			return "", err
		}
		var fv float64
		if long && f.Width == mbproto.Width64 {
			fv = math.Float64frombits(uint64(v))
		} else {
			fv = float64(math.Float32frombits(uint32(v)))
		}
		return fmt.Sprintf(goFormatSpec(flags, width, precision, verb), fv), nil

	default:
		return "", fmt.Errorf("%w: unsupported specifier %%%c", ErrWrongType, verb)
	}
}
