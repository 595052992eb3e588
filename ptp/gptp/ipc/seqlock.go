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
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"unsafe"
)

// segment layout: sequence word, reserved word, record
const (
	headerSize = 8
	// SegmentSize is the size of memory needed to hold a Segment
	SegmentSize = headerSize + RecordSize
)

const readRetries = 1000

// ErrNoData means nothing was ever written to the segment
var ErrNoData = errors.New("no record published yet")

// ErrBusy means the writer kept updating the record during every read attempt
var ErrBusy = errors.New("record is being updated, retries exhausted")

// Segment is a single Record behind a sequence lock. The writer makes the
// sequence odd, stores the record and makes it even again. Readers retry while
// the sequence is odd or moved during the read. Memory may be shared with other
// processes, so it is accessed in 32-bit words only.
type Segment struct {
	mu    sync.Mutex
	words []uint32
}

// NewSegment places a Segment over b, which must be 4-byte aligned and at least SegmentSize long
func NewSegment(b []byte) (*Segment, error) {
	if len(b) < SegmentSize {
		return nil, fmt.Errorf("segment needs %d bytes, got %d", SegmentSize, len(b))
	}
	if uintptr(unsafe.Pointer(&b[0]))%4 != 0 {
		return nil, fmt.Errorf("segment memory is not aligned")
	}
	words := unsafe.Slice((*uint32)(unsafe.Pointer(&b[0])), SegmentSize/4)
	return &Segment{words: words}, nil
}

// Sequence returns current sequence number
func (s *Segment) Sequence() uint32 {
	return atomic.LoadUint32(&s.words[0])
}

// Write publishes r
func (s *Segment) Write(r *Record) error {
	var buf [RecordSize]byte
	if _, err := r.MarshalBinaryTo(buf[:]); err != nil {
		return err
	}
	src := unsafe.Slice((*uint32)(unsafe.Pointer(&buf[0])), RecordSize/4)

	s.mu.Lock()
	defer s.mu.Unlock()
	atomic.AddUint32(&s.words[0], 1)
	for i, w := range src {
		atomic.StoreUint32(&s.words[headerSize/4+i], w)
	}
	atomic.AddUint32(&s.words[0], 1)
	return nil
}

// Read returns a consistent copy of the published record
func (s *Segment) Read() (*Record, error) {
	var buf [RecordSize]byte
	dst := unsafe.Slice((*uint32)(unsafe.Pointer(&buf[0])), RecordSize/4)
	for i := 0; i < readRetries; i++ {
		before := atomic.LoadUint32(&s.words[0])
		if before == 0 {
			return nil, ErrNoData
		}
		if before%2 == 1 {
			runtime.Gosched()
			continue
		}
		for j := range dst {
			dst[j] = atomic.LoadUint32(&s.words[headerSize/4+j])
		}
		if atomic.LoadUint32(&s.words[0]) != before {
			continue
		}
		r := &Record{}
		if err := r.UnmarshalBinary(buf[:]); err != nil {
			return nil, err
		}
		return r, nil
	}
	return nil, ErrBusy
}
