// Package errx wraps package sentinel errors with call-site detail while
// keeping them matchable with errors.Is.
package errx

import "fmt"

// Wrap joins a sentinel with the underlying cause.
func Wrap(sentinel, err error) error {
	if err == nil {
		return sentinel
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}

// With appends formatted detail to a sentinel. The format usually starts
// with ": " and may itself contain %w verbs.
func With(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%w"+format, append([]any{sentinel}, args...)...)
}
