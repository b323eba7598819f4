package wire

import (
	"reflect"
	"sync"
	"time"
)

const builtinPrefix = "builtin."

// TypeName returns the wire name of t: "pkgpath.Name" for named types,
// "builtin.<name>" for predeclared ones, "[]<elem>" for slices and arrays,
// "map[<key>]<elem>" for maps. Pointers are named after what they point to.
func TypeName(t reflect.Type) string {
	switch t.Kind() {
	case reflect.Pointer:
		return TypeName(t.Elem())
	case reflect.Slice, reflect.Array:
		if t.Name() == "" {
			return "[]" + TypeName(t.Elem())
		}
	case reflect.Map:
		if t.Name() == "" {
			return "map[" + TypeName(t.Key()) + "]" + TypeName(t.Elem())
		}
	case reflect.Interface:
		if t.Name() == "" {
			return builtinPrefix + "any"
		}
	}
	if t.PkgPath() == "" {
		return builtinPrefix + t.Name()
	}
	return t.PkgPath() + "." + t.Name()
}

// TypeRegistry maps wire names to the Go types a decoder may materialize.
type TypeRegistry struct {
	mu    sync.RWMutex
	types map[string]reflect.Type
}

// NewTypeRegistry returns a registry holding the predeclared scalar types,
// time.Time, time.Duration and their slices, plus the types of samples.
func NewTypeRegistry(samples ...any) *TypeRegistry {
	r := &TypeRegistry{types: make(map[string]reflect.Type)}
	for _, v := range []any{
		"", false, 0, int8(0), int16(0), int32(0), int64(0),
		uint(0), uint8(0), uint16(0), uint32(0), uint64(0),
		float32(0), float64(0),
		[]string(nil), []int(nil), []int64(nil), []float64(nil), []bool(nil), []byte(nil),
		map[string]string(nil),
		time.Time{}, time.Duration(0), []time.Time(nil),
	} {
		r.Register(v)
	}
	r.Register(samples...)
	return r
}

// Register adds the type of each sample.
func (r *TypeRegistry) Register(samples ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range samples {
		t := reflect.TypeOf(v)
		if t == nil {
			continue
		}
		for t.Kind() == reflect.Pointer {
			t = t.Elem()
		}
		r.types[TypeName(t)] = t
	}
}

// Lookup resolves a wire name.
func (r *TypeRegistry) Lookup(name string) (reflect.Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.types[name]
	return t, ok
}
