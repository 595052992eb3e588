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

/*
Package netif implements gPTP network I/O over raw ethernet with hardware timestamping.
*/
package netif

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/gopacket/layers"
)

// EtherTypePTP is the IEEE 1588 / 802.1AS ethertype
const EtherTypePTP layers.EthernetType = 0x88F7

// GPTPMulticast is the 802.1AS peer-to-peer multicast address, never forwarded by bridges
var GPTPMulticast = net.HardwareAddr{0x01, 0x80, 0xC2, 0x00, 0x00, 0x0E}

// Errors reported by Conn implementations
var (
	// ErrTimestampUnavailable is a soft failure, the message is dropped and the port carries on
	ErrTimestampUnavailable = errors.New("timestamp unavailable")
	// ErrXmit means the frame was not sent
	ErrXmit = errors.New("transmit failed")
	// ErrRecv means reading from the network failed
	ErrRecv = errors.New("receive failed")
	// ErrTimeout means nothing arrived within the receive timeout
	ErrTimeout = errors.New("receive timeout")
	// ErrMalformed means a frame arrived but could not be decoded, it is dropped
	ErrMalformed = errors.New("malformed frame")
)

// Frame is a received gPTP frame
type Frame struct {
	Src     net.HardwareAddr
	Payload []byte
	// RxTime is the raw receive timestamp, zero when none was captured
	RxTime time.Time
}

// TxHandle identifies a sent frame
type TxHandle struct {
	Seq uint64
	// TxTime is the raw transmit timestamp, zero when none was captured
	TxTime time.Time
}

// Conn sends and receives gPTP messages on one link
type Conn interface {
	Send(b []byte, event bool) (TxHandle, error)
	Receive(timeout time.Duration) (*Frame, error)
	HardwareAddr() net.HardwareAddr
	Close() error
}

// Timestamper turns raw timestamps into timestamps at the reference plane
type Timestamper interface {
	TxTimestamp(h TxHandle) (time.Time, error)
	RxTimestamp(f *Frame) (time.Time, error)
}

// PhyDelay is PHY latency between the timestamping point and the wire
type PhyDelay struct {
	Tx time.Duration `yaml:"tx"`
	Rx time.Duration `yaml:"rx"`
}

// PhyDelays maps link speed in Mb/s to its PHY latency
type PhyDelays map[int]PhyDelay

// Link speeds with default PHY delay entries
const (
	Speed100M = 100
	Speed1G   = 1000
)

// PhyTimestamper applies PHY delay compensation for the current link speed
type PhyTimestamper struct {
	Delays PhyDelays
	// Speed returns current link speed in Mb/s
	Speed func() int
}

func (t *PhyTimestamper) delay() PhyDelay {
	if t.Speed == nil || t.Delays == nil {
		return PhyDelay{}
	}
	return t.Delays[t.Speed()]
}

// TxTimestamp returns TX timestamp moved forward to the wire
func (t *PhyTimestamper) TxTimestamp(h TxHandle) (time.Time, error) {
	if h.TxTime.IsZero() {
		return time.Time{}, ErrTimestampUnavailable
	}
	return h.TxTime.Add(t.delay().Tx), nil
}

// RxTimestamp returns RX timestamp moved back to the wire
func (t *PhyTimestamper) RxTimestamp(f *Frame) (time.Time, error) {
	if f.RxTime.IsZero() {
		return time.Time{}, ErrTimestampUnavailable
	}
	return f.RxTime.Add(-t.delay().Rx), nil
}

// sysClassNet is where the kernel exposes link attributes
var sysClassNet = "/sys/class/net"

// LinkSpeed returns link speed in Mb/s as reported by the kernel
func LinkSpeed(iface string) (int, error) {
	b, err := os.ReadFile(fmt.Sprintf("%s/%s/speed", sysClassNet, iface))
	if err != nil {
		return 0, fmt.Errorf("reading link speed of %s: %w", iface, err)
	}
	speed, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return 0, fmt.Errorf("parsing link speed of %s: %w", iface, err)
	}
	return speed, nil
}
