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

// Package log provides the supervisor's leveled logger.
//
// The shape (Infof/Debugf/Warningf, a single process-wide target, SetLevel)
// follows the teacher's pkg/log emitter conventions, backed by logrus since
// pkg/log itself wasn't part of the retrieved pack.
package log

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

var base = newDefault()

func newDefault() *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.InfoLevel)
	return l
}

// SetLevel changes the minimum level of messages emitted.
func SetLevel(debug bool) {
	if debug {
		base.SetLevel(logrus.DebugLevel)
	} else {
		base.SetLevel(logrus.InfoLevel)
	}
}

// SetOutput redirects where log lines are written, e.g. to the log-fd
// donated into a spawned child.
func SetOutput(w io.Writer) {
	base.SetOutput(w)
}

// SetJSON switches the emitter to structured JSON output.
func SetJSON() {
	base.SetFormatter(&logrus.JSONFormatter{})
}

// WithField returns a logger carrying the given structured key, e.g. the
// child pid or kind being discussed.
func WithField(key string, value any) *logrus.Entry {
	return base.WithField(key, value)
}

func Debugf(format string, args ...any)   { base.Debugf(format, args...) }
func Infof(format string, args ...any)    { base.Infof(format, args...) }
func Warningf(format string, args ...any) { base.Warnf(format, args...) }
func Fatalf(format string, args ...any)   { base.Fatalf(format, args...) }
