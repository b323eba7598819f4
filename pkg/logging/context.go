package logging

import (
	"context"
	"maps"
	"strings"
)

// Goroutines carry no names or thread-local storage, so the per-producer
// diagnostic state travels in the caller's context instead.

type threadNameKey struct{}
type mdcKey struct{}
type ndcKey struct{}

// UnknownThread is reported for events whose producer never labelled itself.
const UnknownThread = "unknown"

// WithThreadName labels the producing goroutine.
func WithThreadName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, threadNameKey{}, name)
}

// WithMDC returns a context whose mapped diagnostic context has key set to
// value. The parent's map is never modified.
func WithMDC(ctx context.Context, key, value string) context.Context {
	parent, _ := ctx.Value(mdcKey{}).(map[string]string)
	next := make(map[string]string, len(parent)+1)
	maps.Copy(next, parent)
	next[key] = value
	return context.WithValue(ctx, mdcKey{}, next)
}

// PushNDC returns a context with msg pushed onto the nested diagnostic context.
func PushNDC(ctx context.Context, msg string) context.Context {
	stack, _ := ctx.Value(ndcKey{}).([]string)
	next := make([]string, len(stack), len(stack)+1)
	copy(next, stack)
	next = append(next, msg)
	return context.WithValue(ctx, ndcKey{}, next)
}

func threadNameFrom(ctx context.Context) string {
	if ctx == nil {
		return UnknownThread
	}
	if name, ok := ctx.Value(threadNameKey{}).(string); ok && name != "" {
		return name
	}
	return UnknownThread
}

func mdcFrom(ctx context.Context) map[string]string {
	if ctx == nil {
		return nil
	}
	m, _ := ctx.Value(mdcKey{}).(map[string]string)
	if len(m) == 0 {
		return nil
	}
	return maps.Clone(m)
}

func ndcFrom(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	stack, _ := ctx.Value(ndcKey{}).([]string)
	return strings.Join(stack, " ")
}
