/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package ipc

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// DefaultShmPath is where the daemon publishes its record
const DefaultShmPath = "/dev/shm/gptp"

// Shm is a Segment backed by a memory-mapped shared memory file
type Shm struct {
	*Segment
	Path  string
	file  *os.File
	data  []byte
	owner bool
}

// CreateShm creates (or reuses) shared memory at path for writing. The file is readable by everyone.
func CreateShm(path string) (*Shm, error) {
	// otherwise umask may leave the segment unreadable by other users
	oldUmask := unix.Umask(0)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	unix.Umask(oldUmask)
	if err != nil {
		return nil, fmt.Errorf("opening shared memory %q: %w", path, err)
	}
	if err := f.Truncate(SegmentSize); err != nil {
		f.Close()
		return nil, fmt.Errorf("resizing shared memory %q: %w", path, err)
	}
	return mmapShm(path, f, unix.PROT_READ|unix.PROT_WRITE, true)
}

// OpenShm maps existing shared memory at path read-only
func OpenShm(path string) (*Shm, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening shared memory %q: %w", path, err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if st.Size() < SegmentSize {
		f.Close()
		return nil, fmt.Errorf("shared memory %q is too small: %d < %d", path, st.Size(), SegmentSize)
	}
	return mmapShm(path, f, unix.PROT_READ, false)
}

func mmapShm(path string, f *os.File, prot int, owner bool) (*Shm, error) {
	data, err := unix.Mmap(int(f.Fd()), 0, SegmentSize, prot, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mmap of %q: %w", path, err)
	}
	seg, err := NewSegment(data)
	if err != nil {
		_ = unix.Munmap(data)
		f.Close()
		return nil, err
	}
	return &Shm{Segment: seg, Path: path, file: f, data: data, owner: owner}, nil
}

// Close unmaps the memory. The creator also removes the file, so readers don't see stale data.
func (s *Shm) Close() error {
	if err := unix.Munmap(s.data); err != nil {
		return err
	}
	if err := s.file.Close(); err != nil {
		return err
	}
	if s.owner {
		return os.Remove(s.Path)
	}
	return nil
}
