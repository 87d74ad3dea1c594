// Package require allows tests to assert state without needing a testing.T.
//
// This is a thin, allocation-light wrapper that mirrors the subset of
// github.com/stretchr/testify/require corewasm actually exercises in its
// own _test.go files, so call sites read exactly like testify while every
// corewasm package can also invoke assertions from non-test helper code
// (e.g. test fixtures shared across packages) without threading *testing.T
// through signatures that don't otherwise need it.
package require

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"syscall"
)

// TestingT is implemented by *testing.T, and by test doubles in this package's own tests.
type TestingT interface {
	Fatal(args ...interface{})
}

func fail(t TestingT, message, expected string, formatWithArgs ...interface{}) {
	msg := message
	if len(formatWithArgs) > 0 {
		msg = fmt.Sprintf("%s: %s", message, formatMsgAndArgs(formatWithArgs))
	}
	t.Fatal(msg)
}

// formatMsgAndArgs mirrors the calling convention callers use throughout this package's own
// tests: a single value (string or not) is rendered as-is, and multiple values are either
// sprintf'd (when the first is a format string containing a verb) or space-joined otherwise.
func formatMsgAndArgs(args []interface{}) string {
	if len(args) == 1 {
		if s, ok := args[0].(string); ok {
			return s
		}
		return fmt.Sprintf("%v", args[0])
	}
	first, ok := args[0].(string)
	if ok && strings.Contains(first, "%") {
		return fmt.Sprintf(first, args[1:]...)
	}
	parts := make([]string, len(args))
	for i, a := range args {
		if s, ok := a.(string); ok {
			parts[i] = s
		} else {
			parts[i] = fmt.Sprintf("%v", a)
		}
	}
	return strings.Join(parts, " ")
}

// CapturePanic returns an error recovered from a panic, or nil if fn didn't panic.
func CapturePanic(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			switch v := r.(type) {
			case error:
				err = v
			default:
				err = fmt.Errorf("%v", v)
			}
		}
	}()
	fn()
	return
}

// NoError fails if err != nil.
func NoError(t TestingT, err error, formatWithArgs ...interface{}) {
	if err != nil {
		fail(t, fmt.Sprintf("expected no error, but was %v", err), "", formatWithArgs...)
	}
}

// Error fails if err == nil.
func Error(t TestingT, err error, formatWithArgs ...interface{}) {
	if err == nil {
		fail(t, "expected an error", "", formatWithArgs...)
	}
}

// ErrorIs fails unless errors.Is(err, target).
func ErrorIs(t TestingT, err, target error, formatWithArgs ...interface{}) {
	if !errors.Is(err, target) {
		fail(t, fmt.Sprintf("expected error %v to wrap %v", err, target), "", formatWithArgs...)
	}
}

// EqualError fails unless err != nil && err.Error() == msg.
func EqualError(t TestingT, err error, msg string, formatWithArgs ...interface{}) {
	if err == nil {
		fail(t, fmt.Sprintf("expected error %q, but was nil", msg), "", formatWithArgs...)
		return
	}
	if err.Error() != msg {
		fail(t, fmt.Sprintf("expected error %q, but was %q", msg, err.Error()), "", formatWithArgs...)
	}
}

// Contains fails unless strings.Contains(s, substr).
func Contains(t TestingT, s, substr string, formatWithArgs ...interface{}) {
	if !strings.Contains(s, substr) {
		fail(t, fmt.Sprintf("expected %q to contain %q", s, substr), "", formatWithArgs...)
	}
}

// Equal fails unless reflect.DeepEqual(expected, actual).
func Equal(t TestingT, expected, actual interface{}, formatWithArgs ...interface{}) {
	if !reflect.DeepEqual(expected, actual) {
		fail(t, fmt.Sprintf("expected %v, but was %v", expected, actual), "", formatWithArgs...)
	}
}

// NotEqual fails if reflect.DeepEqual(expected, actual).
func NotEqual(t TestingT, expected, actual interface{}, formatWithArgs ...interface{}) {
	if reflect.DeepEqual(expected, actual) {
		fail(t, fmt.Sprintf("expected %v to not equal %v", expected, actual), "", formatWithArgs...)
	}
}

// Nil fails unless v is nil.
func Nil(t TestingT, v interface{}, formatWithArgs ...interface{}) {
	if v != nil && !(reflect.ValueOf(v).Kind() == reflect.Ptr && reflect.ValueOf(v).IsNil()) {
		fail(t, fmt.Sprintf("expected nil, but was %v", v), "", formatWithArgs...)
	}
}

// NotNil fails if v is nil.
func NotNil(t TestingT, v interface{}, formatWithArgs ...interface{}) {
	if v == nil {
		fail(t, "expected not nil", "", formatWithArgs...)
	}
}

// NotSame fails if x and y are the same pointer.
func NotSame(t TestingT, x, y interface{}, formatWithArgs ...interface{}) {
	if x == y {
		fail(t, "expected different pointers", "", formatWithArgs...)
	}
}

// True fails unless v.
func True(t TestingT, v bool, formatWithArgs ...interface{}) {
	if !v {
		fail(t, "expected true", "", formatWithArgs...)
	}
}

// False fails if v.
func False(t TestingT, v bool, formatWithArgs ...interface{}) {
	if v {
		fail(t, "expected false", "", formatWithArgs...)
	}
}

// EqualErrno fails unless actual is a syscall.Errno equal to expected. Used by WASI-adjacent
// host function tests that surface raw errno values rather than wrapped errors.
func EqualErrno(t TestingT, expected syscall.Errno, actual error, formatWithArgs ...interface{}) {
	if actual == nil {
		fail(t, "expected a syscall.Errno, but was nil", "", formatWithArgs...)
		return
	}
	actualErrno, ok := actual.(syscall.Errno)
	if !ok {
		fail(t, fmt.Sprintf("expected %s to be a syscall.Errno", actual), "", formatWithArgs...)
		return
	}
	if expected != actualErrno {
		fail(t, fmt.Sprintf("expected Errno %#x(%s), but was %#x(%s)", uintptr(expected), expected, uintptr(actualErrno), actualErrno), "", formatWithArgs...)
	}
}

// Zero fails unless v is the zero value for its type.
func Zero(t TestingT, v interface{}, formatWithArgs ...interface{}) {
	if v != nil && !reflect.ValueOf(v).IsZero() {
		fail(t, fmt.Sprintf("expected zero value, but was %v", v), "", formatWithArgs...)
	}
}
