package wire

import (
	"reflect"
	"slices"
	"strings"

	"github.com/jingkaihe/logdispatch/pkg/logging"
)

// trustedPrefixes are always accepted: the predeclared types, package time
// and slices of either.
var trustedPrefixes = []string{
	builtinPrefix,
	"time.",
	"[]" + builtinPrefix,
	"[]time.",
}

// AllowList is an immutable set of type names permitted on the wire.
type AllowList struct {
	names map[string]struct{}
}

// NewAllowList returns an allow-list of exactly names plus the trusted
// namespaces.
func NewAllowList(names ...string) AllowList {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return AllowList{names: set}
}

// EventAllowList permits the types that make up an event, plus extra.
func EventAllowList(extra ...string) AllowList {
	names := append([]string{
		TypeName(reflect.TypeFor[logging.Event]()),
		TypeName(reflect.TypeFor[logging.Level]()),
		TypeName(reflect.TypeFor[logging.LocationInfo]()),
		TypeName(reflect.TypeFor[logging.ThrowableInfo]()),
	}, extra...)
	return NewAllowList(names...)
}

// Allowed reports whether name may be materialized.
//
// Composite names are allowed when every component is: a map needs both its
// key and element types allowed.
func (a AllowList) Allowed(name string) bool {
	for _, p := range trustedPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	if _, ok := a.names[name]; ok {
		return true
	}
	if elem, ok := strings.CutPrefix(name, "[]"); ok {
		return a.Allowed(elem)
	}
	if key, elem, ok := splitMap(name); ok {
		return a.Allowed(key) && a.Allowed(elem)
	}
	return false
}

// Names returns the configured names in sorted order.
func (a AllowList) Names() []string {
	out := make([]string, 0, len(a.names))
	for n := range a.names {
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}

// splitMap splits "map[K]V" honouring nested brackets in K.
func splitMap(name string) (string, string, bool) {
	rest, ok := strings.CutPrefix(name, "map[")
	if !ok {
		return "", "", false
	}
	depth := 1
	for i := 0; i < len(rest); i++ {
		switch rest[i] {
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return rest[:i], rest[i+1:], true
			}
		}
	}
	return "", "", false
}

// check walks t and rejects the first reachable type name that is not
// allowed. Only exported struct fields are visited since unexported ones are
// never decoded.
func (a AllowList) check(t reflect.Type, seen map[reflect.Type]bool) error {
	if seen[t] {
		return nil
	}
	seen[t] = true

	if name := TypeName(t); !a.Allowed(name) {
		return &UnauthorizedTypeError{TypeName: name}
	}
	switch t.Kind() {
	case reflect.Pointer, reflect.Slice, reflect.Array:
		return a.check(t.Elem(), seen)
	case reflect.Map:
		if err := a.check(t.Key(), seen); err != nil {
			return err
		}
		return a.check(t.Elem(), seen)
	case reflect.Struct:
		if t.PkgPath() == "time" {
			return nil
		}
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() {
				continue
			}
			if err := a.check(f.Type, seen); err != nil {
				return err
			}
		}
	case reflect.Interface:
		// An interface field would let the peer choose the concrete type.
		return &UnauthorizedTypeError{TypeName: TypeName(t)}
	}
	return nil
}
