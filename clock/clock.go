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

package clock

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// PPBToTimexPPM is what we use to conver PPB to PPM.
// man clock_adjtime(2):
// In struct timex, freq, ppsfreq, and stabil are ppm (parts per million) with a 16-bit fractional part.
// To covert value where 2^16=65536 is 1 ppm to ppb or back, we need this multiplier
const PPBToTimexPPM = 65.536

// DefaultMaxFreqPPB is used when the kernel reports zero tolerance
const DefaultMaxFreqPPB = 500000.0

// clock_adjtime modes from usr/include/linux/timex.h
const (
	// frequency offset
	AdjFrequency uint32 = 0x0002
	// maximum time error
	AdjMaxError uint32 = 0x0004
	// clock status
	AdjStatus uint32 = 0x0010
	// add 'time' to current time
	AdjSetOffset uint32 = 0x0100
	// select nanosecond resolution
	AdjNano uint32 = 0x2000
)

// Clock is the local clock disciplined by the engine
type Clock interface {
	AdjFreqPPB(freq float64) error
	Step(step time.Duration) error
	FrequencyPPB() (float64, error)
	MaxFreqPPB() (float64, error)
	SetSync() error
	Now() (time.Time, error)
}

// Now reads time of the given clock
func Now(clockid int32) (time.Time, error) {
	var ts unix.Timespec
	if err := unix.ClockGettime(clockid, &ts); err != nil {
		return time.Time{}, fmt.Errorf("clock_gettime(%d): %w", clockid, err)
	}
	return time.Unix(ts.Unix()), nil
}

// FrequencyPPB reads device frequency in PPB
func FrequencyPPB(clockid int32) (freqPPB float64, state int, err error) {
	tx := &unix.Timex{}
	state, err = unix.ClockAdjtime(clockid, tx)
	// man(2) clock_adjtime
	freqPPB = float64(tx.Freq) / PPBToTimexPPM
	return freqPPB, state, err
}

// AdjFreqPPB adjusts clock frequency in PPB
func AdjFreqPPB(clockid int32, freqPPB float64) (state int, err error) {
	tx := &unix.Timex{}
	// this way we can have platform-dependent code isolated
	setFreq(tx, freqPPB)
	tx.Modes = AdjFrequency
	return unix.ClockAdjtime(clockid, tx)
}

// stepTimeval splits step into the seconds and nanoseconds fields of timex,
// nanoseconds must always be non-negative
func stepTimeval(step time.Duration) (sec, nsec int64) {
	sec = int64(step / time.Second)
	nsec = int64(step % time.Second)
	if nsec < 0 {
		sec--
		nsec += int64(time.Second)
	}
	return sec, nsec
}

// Step steps clock by given step
func Step(clockid int32, step time.Duration) (state int, err error) {
	tx := &unix.Timex{}
	tx.Modes = AdjSetOffset | AdjNano
	sec, nsec := stepTimeval(step)
	// this way we can have platform-dependent code isolated
	setTime(tx, sec, nsec)
	return unix.ClockAdjtime(clockid, tx)
}

// MaxFreqPPB returns maximum frequency adjustment supported by the clock
func MaxFreqPPB(clockid int32) (freqPPB float64, state int, err error) {
	tx := &unix.Timex{}
	state, err = unix.ClockAdjtime(clockid, tx)
	if err != nil {
		return 0.0, state, err
	}
	// man(2) clock_adjtime
	freqPPB = float64(tx.Tolerance) / PPBToTimexPPM
	if freqPPB == 0 {
		freqPPB = DefaultMaxFreqPPB
	}
	return freqPPB, state, nil
}

// SetSync sets clock status to TIME_OK
func SetSync(clockid int32) error {
	tx := &unix.Timex{}
	tx.Modes = AdjStatus | AdjMaxError
	state, err := unix.ClockAdjtime(clockid, tx)

	if err == nil && state != unix.TIME_OK {
		return fmt.Errorf("clock state %d is not TIME_OK after setting sync state", state)
	}
	return err
}

// SysClock is the CLOCK_REALTIME system clock
type SysClock struct{}

// AdjFreqPPB adjusts system clock frequency
func (c *SysClock) AdjFreqPPB(freq float64) error {
	state, err := AdjFreqPPB(unix.CLOCK_REALTIME, freq)
	if err == nil && state != unix.TIME_OK {
		return fmt.Errorf("clock state %d is not TIME_OK", state)
	}
	return err
}

// Step jumps system clock
func (c *SysClock) Step(step time.Duration) error {
	state, err := Step(unix.CLOCK_REALTIME, step)
	if err == nil && state != unix.TIME_OK {
		return fmt.Errorf("clock state %d is not TIME_OK", state)
	}
	return err
}

// FrequencyPPB returns current system clock frequency
func (c *SysClock) FrequencyPPB() (float64, error) {
	freq, _, err := FrequencyPPB(unix.CLOCK_REALTIME)
	return freq, err
}

// MaxFreqPPB returns maximum frequency adjustment supported by the system clock
func (c *SysClock) MaxFreqPPB() (float64, error) {
	freq, _, err := MaxFreqPPB(unix.CLOCK_REALTIME)
	return freq, err
}

// SetSync marks system clock as synchronized
func (c *SysClock) SetSync() error {
	return SetSync(unix.CLOCK_REALTIME)
}

// Now returns system time
func (c *SysClock) Now() (time.Time, error) {
	return Now(unix.CLOCK_REALTIME)
}

// FreeRunning is a clock that is never adjusted. Adjustments are recorded
// so offsets can still be observed.
type FreeRunning struct {
	Freq  float64
	Steps []time.Duration
}

// AdjFreqPPB records the requested frequency
func (c *FreeRunning) AdjFreqPPB(freq float64) error {
	c.Freq = freq
	return nil
}

// Step records the requested step
func (c *FreeRunning) Step(step time.Duration) error {
	c.Steps = append(c.Steps, step)
	return nil
}

// FrequencyPPB returns the last recorded frequency
func (c *FreeRunning) FrequencyPPB() (float64, error) {
	return c.Freq, nil
}

// MaxFreqPPB returns DefaultMaxFreqPPB
func (c *FreeRunning) MaxFreqPPB() (float64, error) {
	return DefaultMaxFreqPPB, nil
}

// SetSync does nothing
func (c *FreeRunning) SetSync() error {
	return nil
}

// Now returns CLOCK_REALTIME time
func (c *FreeRunning) Now() (time.Time, error) {
	return Now(unix.CLOCK_REALTIME)
}
