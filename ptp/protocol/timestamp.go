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

package protocol

import (
	"fmt"
	"time"
)

const nsPerSecond = int64(time.Second)

// PTPSeconds type representing seconds
type PTPSeconds [6]uint8 // uint48

// Empty returns 0 seconds
func (s PTPSeconds) Empty() bool {
	return s == [6]uint8{0, 0, 0, 0, 0, 0}
}

// Seconds returns number of seconds as uint64
func (s PTPSeconds) Seconds() uint64 {
	return uint64(s[5]) | uint64(s[4])<<8 | uint64(s[3])<<16 | uint64(s[2])<<24 |
		uint64(s[1])<<32 | uint64(s[0])<<40
}

// NewPTPSecondsFromUint64 packs the low 48 bits of v
func NewPTPSecondsFromUint64(v uint64) PTPSeconds {
	s := PTPSeconds{}
	s[0] = byte(v >> 40)
	s[1] = byte(v >> 32)
	s[2] = byte(v >> 24)
	s[3] = byte(v >> 16)
	s[4] = byte(v >> 8)
	s[5] = byte(v)
	return s
}

/*
Timestamp type represents a positive time with respect to the epoch.
The Seconds member is the integer portion of the timestamp in units of seconds.
The Nanoseconds member is the fractional portion of the timestamp in units of nanoseconds
and is always less than 10**9.
*/
type Timestamp struct {
	Seconds     PTPSeconds
	Nanoseconds uint32
}

// Time turns Timestamp into normal Go time.Time
func (t Timestamp) Time() time.Time {
	if t.Empty() {
		return time.Time{}
	}
	return time.Unix(int64(t.Seconds.Seconds()), int64(t.Nanoseconds))
}

// Empty timestamp
func (t Timestamp) Empty() bool {
	return t.Nanoseconds == 0 && t.Seconds.Empty()
}

// UnixNanoseconds returns the timestamp as total nanoseconds since the epoch of its timescale
func (t Timestamp) UnixNanoseconds() int64 {
	return int64(t.Seconds.Seconds())*nsPerSecond + int64(t.Nanoseconds)
}

// Add returns t shifted by ns nanoseconds. Results before the epoch clamp to zero.
func (t Timestamp) Add(ns int64) Timestamp {
	return TimestampFromNanoseconds(t.UnixNanoseconds() + ns)
}

// Sub returns t-o in signed nanoseconds
func (t Timestamp) Sub(o Timestamp) int64 {
	return t.UnixNanoseconds() - o.UnixNanoseconds()
}

// String representation of the timestamp
func (t Timestamp) String() string {
	if t.Empty() {
		return "Timestamp(empty)"
	}
	return fmt.Sprintf("Timestamp(%d.%09d)", t.Seconds.Seconds(), t.Nanoseconds)
}

// TimestampFromNanoseconds builds normalised Timestamp from total nanoseconds
func TimestampFromNanoseconds(ns int64) Timestamp {
	if ns <= 0 {
		return Timestamp{}
	}
	return Timestamp{
		Seconds:     NewPTPSecondsFromUint64(uint64(ns / nsPerSecond)),
		Nanoseconds: uint32(ns % nsPerSecond),
	}
}

// NewTimestamp allows to create Timestamp from time.Time
func NewTimestamp(t time.Time) Timestamp {
	if t.IsZero() {
		return Timestamp{}
	}
	return Timestamp{
		Seconds:     NewPTPSecondsFromUint64(uint64(t.Unix())),
		Nanoseconds: uint32(t.Nanosecond()),
	}
}
