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

// Package shmem provisions the supervisor's single shared-memory segment
// (spec.md §4.1); it creates no semaphore pool. It is created once at boot and exactly
// once more immediately after a crash-restart (invariant 5).
package shmem

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"golang.org/x/sys/unix"
)

const (
	// headerMagic tags the segment so a reattaching child can sanity-check
	// it found the right mapping.
	headerMagic  uint32 = 0x504d5348 // "PMSH"
	headerVersion uint32 = 1
	headerSize    = 16 // magic, version, checksum, 4 unused bytes
)

// SizeFunc reports how many bytes a subsystem needs in the segment.
type SizeFunc func() uintptr

// InitFunc initializes a subsystem's region of the segment. data is the
// subsystem's own slice, already carved out of the full mapping.
type InitFunc func(data []byte) error

type subsystem struct {
	name  string
	sizer SizeFunc
	initer InitFunc
	size  uintptr
	off   uintptr
}

// Provisioner accumulates subsystem space requests and shared-init
// callbacks before a single commit point, mirroring the teacher's
// donation.Agency pattern of gathering contributions prior to exec.
//
// Subsystems must be registered in dependency order: locks before anything
// that takes them, the process array before anything that registers a slot
// in it (spec.md §4.1).
type Provisioner struct {
	subsystems []subsystem
	committed  bool
}

// New creates an empty Provisioner.
func New() *Provisioner { return &Provisioner{} }

// RegisterSubsystem is the one-shot registration callback spec.md §4.1
// describes. Calling it after SizeAndInit has run is a programming error.
func (p *Provisioner) RegisterSubsystem(name string, sizer SizeFunc, initer InitFunc) {
	if p.committed {
		panic("shmem: RegisterSubsystem called after SizeAndInit")
	}
	p.subsystems = append(p.subsystems, subsystem{name: name, sizer: sizer, initer: initer})
}

// Handle is the provisioned segment: the raw mapping plus bookkeeping a
// crash-restart needs to tear it down before re-provisioning.
//
// The segment is backed by a memfd, not a plain MAP_ANONYMOUS mapping: the
// only supported launch mode is spawn-and-reattach (exec-based), and an
// anonymous mapping's pages are not preserved across exec. A memfd is, as
// long as its file descriptor is inherited rather than closed, which is
// exactly the donation.Agency-style transfer the launcher performs.
type Handle struct {
	Data      []byte
	TotalSize uintptr
	FD        int
	pagesize  int
}

// Header returns the version tag and self-checksum written at the start of
// the segment, for diagnostic inspection.
func (h *Handle) Header() (version uint32, checksum uint32) {
	return binary.LittleEndian.Uint32(h.Data[4:8]), binary.LittleEndian.Uint32(h.Data[8:12])
}

// Destroy unmaps the segment and closes its backing memfd. Invariant 5
// requires the caller to have confirmed no child is live before calling
// this as part of a crash-restart's re-provisioning.
func (h *Handle) Destroy() error {
	if h.Data == nil {
		return nil
	}
	err := unix.Munmap(h.Data)
	h.Data = nil
	if h.FD != 0 {
		if cerr := unix.Close(h.FD); err == nil {
			err = cerr
		}
		h.FD = 0
	}
	return err
}

// SizeAndInit sums every registered subsystem's space request, rounds up to
// the page size, creates a memfd of that size (plus a small header) and
// mmaps it MAP_SHARED, writes the header, and then runs each subsystem's
// shared-init callback in registration order. Failure is always fatal to
// the caller (spec.md §4.1); callers should wrap the returned error with
// pmerror.Resource.
func (p *Provisioner) SizeAndInit() (*Handle, error) {
	p.committed = true

	var total uintptr = headerSize
	for i := range p.subsystems {
		total = roundUp(total, 8) // keep every subsystem region naturally aligned
		sz := p.subsystems[i].sizer()
		p.subsystems[i].off = total
		p.subsystems[i].size = sz
		total += sz
	}

	pagesize := unix.Getpagesize()
	rounded := roundUp(total, uintptr(pagesize))

	fd, err := unix.MemfdCreate("postmaster-shmem", 0)
	if err != nil {
		return nil, fmt.Errorf("memfd_create shared segment: %w", err)
	}
	if err := unix.Ftruncate(fd, int64(rounded)); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("ftruncate shared segment to %d bytes: %w", rounded, err)
	}

	data, err := unix.Mmap(fd, 0, int(rounded), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("mmap shared segment of %d bytes: %w", rounded, err)
	}

	writeHeader(data, uint64(rounded))

	h := &Handle{Data: data, TotalSize: rounded, FD: fd, pagesize: pagesize}

	for _, s := range p.subsystems {
		if s.initer == nil {
			continue
		}
		region := data[s.off : s.off+s.size]
		if err := s.initer(region); err != nil {
			_ = h.Destroy()
			return nil, fmt.Errorf("initializing subsystem %q: %w", s.name, err)
		}
	}
	return h, nil
}

// Reinit re-provisions the segment after a crash. The contract requires
// every child to have exited first (spec.md §4.1); the caller passes the
// number of still-live children and Reinit refuses if it is nonzero.
func (p *Provisioner) Reinit(liveChildren int) (*Handle, error) {
	if liveChildren != 0 {
		return nil, fmt.Errorf("reinit refused: %d children still live", liveChildren)
	}
	p.committed = false
	return p.SizeAndInit()
}

// Reattach maps the segment backed by an inherited memfd. A spawned child
// calls this with the fd number the launcher donated to it and the size the
// supervisor told it about (spec.md §4.1's reattach handshake); the child
// never runs SizeAndInit itself, since only the supervisor may provision.
func Reattach(fd int, size uintptr) (*Handle, error) {
	data, err := unix.Mmap(fd, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("reattach mmap of fd %d (%d bytes): %w", fd, size, err)
	}
	got := binary.LittleEndian.Uint32(data[0:4])
	if got != headerMagic {
		_ = unix.Munmap(data)
		return nil, fmt.Errorf("reattach fd %d: bad header magic %#x", fd, got)
	}
	return &Handle{Data: data, TotalSize: size, FD: fd, pagesize: unix.Getpagesize()}, nil
}

func writeHeader(data []byte, totalSize uint64) {
	binary.LittleEndian.PutUint32(data[0:4], headerMagic)
	binary.LittleEndian.PutUint32(data[4:8], headerVersion)
	sum := crc32.ChecksumIEEE(data[0:8])
	binary.LittleEndian.PutUint32(data[8:12], sum)
	_ = totalSize
}

func roundUp(v, multiple uintptr) uintptr {
	if multiple == 0 {
		return v
	}
	rem := v % multiple
	if rem == 0 {
		return v
	}
	return v + multiple - rem
}
