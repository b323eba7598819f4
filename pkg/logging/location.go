package logging

import (
	"runtime"
	"slices"
	"strconv"
	"strings"
)

// NA marks a location fragment that could not be determined.
const NA = "?"

// LocationInfo is the call site of a logging request.
type LocationInfo struct {
	File   string `cbor:"file" json:"file"`
	Class  string `cbor:"class" json:"class"`
	Method string `cbor:"method" json:"method"`
	Line   string `cbor:"line" json:"line"`
}

// NALocation is returned when location was not captured.
var NALocation = LocationInfo{File: NA, Class: NA, Method: NA, Line: NA}

// FullInfo renders the location as Class.Method(File:Line).
func (l LocationInfo) FullInfo() string {
	var b strings.Builder
	b.WriteString(orNA(l.Class))
	b.WriteByte('.')
	b.WriteString(orNA(l.Method))
	b.WriteByte('(')
	b.WriteString(orNA(l.File))
	b.WriteByte(':')
	b.WriteString(orNA(l.Line))
	b.WriteByte(')')
	return b.String()
}

func orNA(s string) string {
	if s == "" {
		return NA
	}
	return s
}

// CallerLocation captures the frame that called into the logging facade.
// Each boundary is a function-name prefix such as "example.com/pkg.(*Logger).";
// a facade made of several layers (an emitter feeding a dispatcher) passes
// one prefix per layer. The outermost run of matching frames is located and
// the frame just outside it (the caller) is returned. When no frame matches,
// NALocation is returned.
func CallerLocation(boundaries ...string) LocationInfo {
	boundaries = slices.DeleteFunc(slices.Clone(boundaries), func(b string) bool { return b == "" })
	if len(boundaries) == 0 {
		return NALocation
	}
	pcs := make([]uintptr, 64)
	n := runtime.Callers(2, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	var (
		caller  runtime.Frame
		found   bool
		pending bool
	)
	for {
		frame, more := frames.Next()
		if withinBoundary(frame.Function, boundaries) {
			pending = true
			found = false
		} else if pending {
			caller = frame
			found = true
			pending = false
		}
		if !more {
			break
		}
	}
	if !found {
		return NALocation
	}
	return locationFromFrame(caller)
}

func withinBoundary(fn string, boundaries []string) bool {
	for _, b := range boundaries {
		if strings.HasPrefix(fn, b) {
			return true
		}
	}
	return false
}

func locationFromFrame(frame runtime.Frame) LocationInfo {
	loc := LocationInfo{File: NA, Class: NA, Method: NA, Line: NA}
	if frame.File != "" {
		loc.File = frame.File[strings.LastIndexByte(frame.File, '/')+1:]
	}
	if frame.Line > 0 {
		loc.Line = strconv.Itoa(frame.Line)
	}
	fn := frame.Function
	if fn == "" {
		return loc
	}
	// The package path may itself contain dots; split after the last slash.
	slash := strings.LastIndexByte(fn, '/')
	dot := strings.LastIndexByte(fn[slash+1:], '.')
	if dot < 0 {
		loc.Method = fn
		return loc
	}
	dot += slash + 1
	loc.Class = fn[:dot]
	loc.Method = fn[dot+1:]
	return loc
}
