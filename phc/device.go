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

package phc

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/facebook/gptp/clock"
)

// Device represents a PHC device, it implements clock.Clock
type Device struct {
	f *os.File
}

// Open opens PHC device at path, like /dev/ptp0
func Open(path string) (*Device, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("opening PHC device %q: %w", path, err)
	}
	return FromFile(f), nil
}

// OpenIface opens PHC device attached to network interface
func OpenIface(iface string) (*Device, error) {
	path, err := IfaceToPHCDevice(iface)
	if err != nil {
		return nil, fmt.Errorf("failed to map iface to device: %w", err)
	}
	return Open(path)
}

// FromFile returns a *Device corresponding to an *os.File
func FromFile(file *os.File) *Device { return &Device{f: file} }

// File returns the underlying *os.File
func (dev *Device) File() *os.File { return dev.f }

// Fd returns the underlying file descriptor
func (dev *Device) Fd() uintptr { return dev.f.Fd() }

// ClockID derives the clock ID from the file descriptor number
func (dev *Device) ClockID() int32 { return FDToClockID(dev.Fd()) }

// Close closes the device
func (dev *Device) Close() error { return dev.f.Close() }

// Now returns time from the PHC
func (dev *Device) Now() (time.Time, error) {
	return clock.Now(dev.ClockID())
}

// ReadCaps reads PTP clock capabilities
func (dev *Device) ReadCaps() (*unix.PtpClockCaps, error) {
	return unix.IoctlPtpClockGetcaps(int(dev.Fd()))
}

// MaxFreqPPB returns maximum frequency adjustment supported by PHC
func (dev *Device) MaxFreqPPB() (float64, error) {
	caps, err := dev.ReadCaps()
	if err != nil {
		return DefaultMaxClockFreqPPB, err
	}
	return maxAdj(caps), nil
}

// FrequencyPPB reads PHC device frequency in PPB
func (dev *Device) FrequencyPPB() (float64, error) {
	freqPPB, state, err := clock.FrequencyPPB(dev.ClockID())
	if err == nil && state != unix.TIME_OK {
		return freqPPB, fmt.Errorf("clock %q state %d is not TIME_OK", dev.f.Name(), state)
	}
	return freqPPB, err
}

// AdjFreqPPB adjusts PHC clock frequency in PPB
func (dev *Device) AdjFreqPPB(freqPPB float64) error {
	state, err := clock.AdjFreqPPB(dev.ClockID(), freqPPB)
	if err == nil && state != unix.TIME_OK {
		return fmt.Errorf("clock %q state %d is not TIME_OK", dev.f.Name(), state)
	}
	return err
}

// Step steps PHC clock by given step
func (dev *Device) Step(step time.Duration) error {
	state, err := clock.Step(dev.ClockID(), step)
	if err == nil && state != unix.TIME_OK {
		return fmt.Errorf("clock %q state %d is not TIME_OK", dev.f.Name(), state)
	}
	return err
}

// SetSync is a no-op for PHC, status is only tracked by the system clock
func (dev *Device) SetSync() error {
	return nil
}
