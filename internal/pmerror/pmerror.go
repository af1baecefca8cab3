// Copyright 2020 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package pmerror classifies supervisor errors per spec §7 and maps each
// class to the process exit code the CLI entrypoint must use.
package pmerror

import "fmt"

// ExitCode is the process exit status associated with an error class.
type ExitCode int

const (
	ExitClean      ExitCode = 0
	ExitAbnormal   ExitCode = 1
	ExitConfigBad  ExitCode = 2
)

// Class names the kind of failure, independent of its message.
type Class int

const (
	ClassConfig Class = iota
	ClassResource
	ClassLaunch
	ClassCrash
	ClassInvariant
)

func (c Class) exitCode() ExitCode {
	switch c {
	case ClassConfig:
		return ExitConfigBad
	default:
		return ExitAbnormal
	}
}

// Error is a classified supervisor error carrying the exit code it implies.
type Error struct {
	Class Class
	Msg   string
	Err   error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// ExitCode returns the process exit status this error implies.
func (e *Error) ExitCode() ExitCode { return e.Class.exitCode() }

func newf(class Class, format string, args ...any) *Error {
	return &Error{Class: class, Msg: fmt.Sprintf(format, args...)}
}

func wrap(class Class, err error, format string, args ...any) *Error {
	return &Error{Class: class, Msg: fmt.Sprintf(format, args...), Err: err}
}

// Config reports a bad argument, missing data directory, or invalid control
// file. Logged to stderr; exit 2, before any child is launched.
func Config(format string, args ...any) *Error { return newf(ClassConfig, format, args...) }

// ConfigWrap wraps an underlying error as a configuration failure.
func ConfigWrap(err error, format string, args ...any) *Error {
	return wrap(ClassConfig, err, format, args...)
}

// Resource reports failure to create the shared segment, bind any socket,
// or create the pidfile. Logged to stderr; exit 1.
func Resource(format string, args ...any) *Error { return newf(ClassResource, format, args...) }

// ResourceWrap wraps an underlying error as a resource-acquisition failure.
func ResourceWrap(err error, format string, args ...any) *Error {
	return wrap(ClassResource, err, format, args...)
}

// Launch reports a fork/spawn failure.
func Launch(format string, args ...any) *Error { return newf(ClassLaunch, format, args...) }

// LaunchWrap wraps an underlying error as a launch failure.
func LaunchWrap(err error, format string, args ...any) *Error {
	return wrap(ClassLaunch, err, format, args...)
}

// Crash reports a child exit status that is neither 0 nor clean-fatal (1).
func Crash(format string, args ...any) *Error { return newf(ClassCrash, format, args...) }

// Invariant reports a supervisor-internal invariant violation. Never
// recoverable; the caller must log and exit 1 without attempting to
// continue.
func Invariant(format string, args ...any) *Error { return newf(ClassInvariant, format, args...) }
