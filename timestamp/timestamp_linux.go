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

package timestamp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// size of struct __kernel_timespec
const timespecSize = 16

var (
	errNoCmsgTimestamp = errors.New("no timestamp in socket control message")
	errZeroTimestamp   = errors.New("got zero timestamp")
)

// socket flags per timestamping mode. OPT_TSONLY makes the error queue carry
// the timestamp alone instead of a copy of the sent frame.
var sockFlags = map[Timestamp]int{
	HW: unix.SOF_TIMESTAMPING_TX_HARDWARE |
		unix.SOF_TIMESTAMPING_RX_HARDWARE |
		unix.SOF_TIMESTAMPING_RAW_HARDWARE |
		unix.SOF_TIMESTAMPING_OPT_TSONLY,
	SW: unix.SOF_TIMESTAMPING_TX_SOFTWARE |
		unix.SOF_TIMESTAMPING_RX_SOFTWARE |
		unix.SOF_TIMESTAMPING_SOFTWARE |
		unix.SOF_TIMESTAMPING_OPT_TSONLY,
}

// NIC receive filters to try, narrowest last
var hwFilters = []int32{
	unix.HWTSTAMP_FILTER_ALL,
	unix.HWTSTAMP_FILTER_PTP_V2_EVENT,
	unix.HWTSTAMP_FILTER_PTP_V2_L2_EVENT,
}

// Socket reads kernel timestamps of an open socket. It owns reusable buffers:
// TxTimestamp and Recv may run concurrently, but each must be serialized by the caller.
type Socket struct {
	fd      int
	scratch []byte
	oob     []byte
	toob    []byte
	roob    []byte
}

// NewSocket returns Socket reading timestamps of fd
func NewSocket(fd int) *Socket {
	return &Socket{
		fd:      fd,
		scratch: make([]byte, 1),
		oob:     make([]byte, ControlSizeBytes),
		toob:    make([]byte, ControlSizeBytes),
		roob:    make([]byte, ControlSizeBytes),
	}
}

// Fd returns the underlying file descriptor
func (s *Socket) Fd() int { return s.fd }

// Enable turns on timestamping of the requested type. Hardware timestamping also
// configures the NIC of iface.
func (s *Socket) Enable(ts Timestamp, iface string) error {
	flags, ok := sockFlags[ts]
	if !ok {
		return fmt.Errorf("unrecognized timestamp type: %s", ts)
	}
	if ts == HW {
		if err := enableNIC(s.fd, iface); err != nil {
			return fmt.Errorf("cannot enable hardware timestamps: %w", err)
		}
	}
	// kernels before 5.1 only know the old option, its layout matches on 64bit
	err := unix.SetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_TIMESTAMPING_NEW, flags)
	if errors.Is(err, unix.ENOPROTOOPT) {
		err = unix.SetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_TIMESTAMPING, flags)
	}
	if err != nil {
		return fmt.Errorf("cannot enable %s timestamps: %w", ts, err)
	}
	if err := unix.SetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_SELECT_ERR_QUEUE, 1); err != nil {
		return fmt.Errorf("setting SO_SELECT_ERR_QUEUE: %w", err)
	}
	return nil
}

func enableNIC(fd int, iface string) error {
	var err error
	for _, filter := range hwFilters {
		cfg := &unix.HwTstampConfig{Tx_type: unix.HWTSTAMP_TX_ON, Rx_filter: filter}
		if err = unix.IoctlSetHwTstamp(fd, iface, cfg); err == nil {
			return nil
		}
	}
	return fmt.Errorf("SIOCSHWTSTAMP on %s: %w", iface, err)
}

// waitErrQueue polls for an error queue event for up to a millisecond
func (s *Socket) waitErrQueue() {
	fds := []unix.PollFd{{Fd: int32(s.fd), Events: unix.POLLPRI}}
	_, _ = unix.Poll(fds, 1)
}

// TxTimestamp returns the TX timestamp of the last sent frame and how many
// reads it took. The error queue is drained so a late timestamp of an earlier
// frame is never mistaken for the current one.
func (s *Socket) TxTimestamp() (time.Time, int, error) {
	found := false
	oobn := 0
	attempts := 0
	for ; attempts < maxTXTS; attempts++ {
		if !found {
			s.waitErrQueue()
		}
		_, n, _, _, err := unix.Recvmsg(s.fd, s.scratch, s.toob, unix.MSG_ERRQUEUE|unix.MSG_DONTWAIT)
		if err != nil {
			if found {
				break
			}
			continue
		}
		found = true
		oobn = copy(s.oob, s.toob[:n])
	}
	if !found {
		return time.Time{}, attempts, fmt.Errorf("%w after %d tries", ErrNoTXTimestamp, attempts)
	}
	ts, err := cmsgTimestamp(s.oob[:oobn])
	return ts, attempts, err
}

// Recv reads one frame into buf and returns its length, sender and RX timestamp.
// A frame without timestamp is returned along with an error.
func (s *Socket) Recv(buf []byte) (int, unix.Sockaddr, time.Time, error) {
	n, oobn, _, from, err := unix.Recvmsg(s.fd, buf, s.roob, 0)
	if err != nil {
		return 0, nil, time.Time{}, fmt.Errorf("failed to read packet: %w", err)
	}
	ts, err := cmsgTimestamp(s.roob[:oobn])
	return n, from, ts, err
}

// cmsgTimestamp finds SO_TIMESTAMPING data among control messages
func cmsgTimestamp(oob []byte) (time.Time, error) {
	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing control message: %w", err)
	}
	for _, m := range msgs {
		if m.Header.Level != unix.SOL_SOCKET {
			continue
		}
		// the old type may come back even when the new one was requested
		if t := int(m.Header.Type); t == unix.SO_TIMESTAMPING_NEW || t == unix.SO_TIMESTAMPING {
			return scmTimestamping(m.Data)
		}
	}
	return time.Time{}, errNoCmsgTimestamp
}

// scmTimestamping decodes struct scm_timestamping64: software, legacy and raw
// hardware timespecs, at most one of them set. Hardware wins.
func scmTimestamping(data []byte) (time.Time, error) {
	if len(data) < 3*timespecSize {
		return time.Time{}, fmt.Errorf("timestamping data is %d bytes, want %d", len(data), 3*timespecSize)
	}
	for _, i := range []int{2, 0} {
		b := data[i*timespecSize:]
		sec := int64(binary.NativeEndian.Uint64(b))
		nsec := int64(binary.NativeEndian.Uint64(b[8:]))
		if sec != 0 || nsec != 0 {
			return time.Unix(sec, nsec), nil
		}
	}
	return time.Time{}, errZeroTimestamp
}
