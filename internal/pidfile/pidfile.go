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

// Package pidfile implements the data-directory lockfile and status word
// (spec.md §4.9, §6): an advisory lock plus an 8-line text file describing
// the running supervisor, and the systemd notify integration that rides
// alongside it.
package pidfile

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/gofrs/flock"
)

// Status is the pidfile's status word.
type Status string

const (
	StatusStarting Status = "starting"
	StatusReady    Status = "ready"
	StatusStopping Status = "stopping"
)

// Info is the 8 lines spec.md §4.9 lists, in file order.
type Info struct {
	Pid           int
	DataDir       string
	StartTime     time.Time
	Port          int
	SocketDir     string
	ListenAddress string
	SharedMemKey  string
	Status        Status
}

// permMask is the strict permission mask spec.md §4.9 requires: owner
// read/write only.
const permMask = 0o600

// File owns the lockfile: the advisory flock plus the textual contents.
type File struct {
	path string
	lock *flock.Flock
}

// Open acquires an exclusive, non-blocking lock on path, creating the file
// if it does not exist. Existing contents are left in place until the first
// Write replaces the file. It returns an error if another supervisor
// already holds the lock.
func Open(path string) (*File, error) {
	lock := flock.New(path)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("pidfile: lock %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("pidfile: %s is already locked by another supervisor", path)
	}
	f := &File{path: path, lock: lock}
	return f, nil
}

// Write rewrites the file's contents atomically (write to a temp file in
// the same directory, then rename) so a concurrent reader never observes a
// half-written pidfile.
func (f *File) Write(info Info) error {
	tmp := f.path + ".tmp"
	body := render(info)
	if err := os.WriteFile(tmp, []byte(body), permMask); err != nil {
		return fmt.Errorf("pidfile: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("pidfile: rename %s to %s: %w", tmp, f.path, err)
	}
	return nil
}

// SetStatus rewrites the whole file through Write, with info's other seven
// lines and status as the status word; it does not append to the existing
// file. It mirrors the transition to systemd via sd_notify when
// running under it (spec.md §4.9's status word, [EXPANDED] with
// go-systemd's daemon.SdNotify).
func (f *File) SetStatus(info Info, status Status) error {
	info.Status = status
	if err := f.Write(info); err != nil {
		return err
	}
	switch status {
	case StatusReady:
		_, err := daemon.SdNotify(false, daemon.SdNotifyReady)
		return err
	case StatusStopping:
		_, err := daemon.SdNotify(false, daemon.SdNotifyStopping)
		return err
	}
	return nil
}

// StillValid rereads the file from disk and reports whether it still
// matches expected's pid and start time. Used by the event loop's 1-minute
// pidfile recheck (spec.md §4.4 step 5): if the file is gone or its
// contents no longer match what this supervisor wrote, another process has
// tampered with or replaced it and the supervisor must self-signal an
// immediate shutdown.
func (f *File) StillValid(expected Info) (bool, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return false, nil
	}
	got, err := Parse(data)
	if err != nil {
		return false, nil
	}
	// The file stores whole epoch seconds, so compare at that precision.
	return got.Pid == expected.Pid && got.StartTime.Unix() == expected.StartTime.Unix(), nil
}

// Close performs the on-exit ordering spec.md §4.9 requires for the pidfile
// itself: unlink, then release the advisory lock. Closing listening sockets
// and unix-domain socket files happens first, in internal/sockets, before
// the caller reaches this.
func (f *File) Close() error {
	err := os.Remove(f.path)
	if uerr := f.lock.Unlock(); err == nil {
		err = uerr
	}
	return err
}

func render(info Info) string {
	var b strings.Builder
	fmt.Fprintln(&b, info.Pid)
	fmt.Fprintln(&b, info.DataDir)
	fmt.Fprintln(&b, info.StartTime.Unix())
	fmt.Fprintln(&b, info.Port)
	fmt.Fprintln(&b, info.SocketDir)
	fmt.Fprintln(&b, info.ListenAddress)
	fmt.Fprintln(&b, info.SharedMemKey)
	fmt.Fprintln(&b, info.Status)
	return b.String()
}

// Parse reverses render, for the 1-minute pidfile-revalidation check
// (spec.md §4.4 step 5): the event loop rereads the file it wrote and
// compares it against what it expects to still be there.
func Parse(data []byte) (Info, error) {
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != 8 {
		return Info{}, fmt.Errorf("pidfile: expected 8 lines, got %d", len(lines))
	}
	pid, err := strconv.Atoi(lines[0])
	if err != nil {
		return Info{}, fmt.Errorf("pidfile: bad pid line %q: %w", lines[0], err)
	}
	startUnix, err := strconv.ParseInt(lines[2], 10, 64)
	if err != nil {
		return Info{}, fmt.Errorf("pidfile: bad start-time line %q: %w", lines[2], err)
	}
	port, err := strconv.Atoi(lines[3])
	if err != nil {
		return Info{}, fmt.Errorf("pidfile: bad port line %q: %w", lines[3], err)
	}
	return Info{
		Pid:           pid,
		DataDir:       lines[1],
		StartTime:     time.Unix(startUnix, 0),
		Port:          port,
		SocketDir:     lines[4],
		ListenAddress: lines[5],
		SharedMemKey:  lines[6],
		Status:        Status(lines[7]),
	}, nil
}
