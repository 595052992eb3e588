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

package netif

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/facebook/gptp/timestamp"
)

func htons(v uint16) uint16 {
	return v<<8 | v>>8
}

// RawConn is a Conn over AF_PACKET sockets.
// Event messages go through the timestamping socket which also receives everything,
// general messages go through a send-only socket so they don't pollute the TX timestamp queue.
type RawConn struct {
	iface   *net.Interface
	eventFd int
	genFd   int
	ts      *timestamp.Socket

	sendMu sync.Mutex
	seq    uint64

	recvMu sync.Mutex
	buf    []byte
}

func openPacketSocket(proto uint16) (int, error) {
	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, int(htons(proto)))
	if err != nil {
		return -1, fmt.Errorf("creating packet socket: %w", err)
	}
	return fd, nil
}

// Listen opens gPTP sockets on iface with requested timestamping
func Listen(iface string, ts timestamp.Timestamp) (*RawConn, error) {
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		return nil, fmt.Errorf("looking up %s: %w", iface, err)
	}
	eventFd, err := openPacketSocket(uint16(EtherTypePTP))
	if err != nil {
		return nil, err
	}
	c := &RawConn{
		iface:   ifi,
		eventFd: eventFd,
		genFd:   -1,
		ts:      timestamp.NewSocket(eventFd),
		buf:     make([]byte, timestamp.PayloadSizeBytes),
	}
	if err := c.setup(ts); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *RawConn) setup(ts timestamp.Timestamp) error {
	sa := &unix.SockaddrLinklayer{Protocol: htons(uint16(EtherTypePTP)), Ifindex: c.iface.Index}
	if err := unix.Bind(c.eventFd, sa); err != nil {
		return fmt.Errorf("binding to %s: %w", c.iface.Name, err)
	}
	mreq := &unix.PacketMreq{
		Ifindex: int32(c.iface.Index),
		Type:    unix.PACKET_MR_MULTICAST,
		Alen:    uint16(len(GPTPMulticast)),
	}
	copy(mreq.Address[:], GPTPMulticast)
	if err := unix.SetsockoptPacketMreq(c.eventFd, unix.SOL_PACKET, unix.PACKET_ADD_MEMBERSHIP, mreq); err != nil {
		return fmt.Errorf("joining %s on %s: %w", GPTPMulticast, c.iface.Name, err)
	}
	if err := c.ts.Enable(ts, c.iface.Name); err != nil {
		return err
	}
	// protocol 0 means the socket never receives
	genFd, err := openPacketSocket(0)
	if err != nil {
		return err
	}
	c.genFd = genFd
	log.Debugf("listening on %s (%s) with %s timestamps", c.iface.Name, c.iface.HardwareAddr, ts)
	return nil
}

// HardwareAddr returns MAC address of the interface
func (c *RawConn) HardwareAddr() net.HardwareAddr {
	return c.iface.HardwareAddr
}

// Send sends gPTP message to the gPTP multicast address. For event messages it
// waits for the TX timestamp, a missing one is not an error: TxHandle.TxTime stays zero.
func (c *RawConn) Send(b []byte, event bool) (TxHandle, error) {
	frame, err := EncodeFrame(c.iface.HardwareAddr, GPTPMulticast, b)
	if err != nil {
		return TxHandle{}, fmt.Errorf("%w: %w", ErrXmit, err)
	}
	sa := &unix.SockaddrLinklayer{
		Protocol: htons(uint16(EtherTypePTP)),
		Ifindex:  c.iface.Index,
		Halen:    uint8(len(GPTPMulticast)),
	}
	copy(sa.Addr[:], GPTPMulticast)

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	c.seq++
	h := TxHandle{Seq: c.seq}
	fd := c.genFd
	if event {
		fd = c.eventFd
	}
	if err := unix.Sendto(fd, frame, 0, sa); err != nil {
		return h, fmt.Errorf("%w: %w", ErrXmit, err)
	}
	if !event {
		return h, nil
	}
	txts, attempts, err := c.ts.TxTimestamp()
	if err != nil {
		log.Debugf("no TX timestamp for frame %d after %d attempts: %v", h.Seq, attempts, err)
		return h, nil
	}
	h.TxTime = txts
	return h, nil
}

// Receive waits up to timeout for a gPTP frame
func (c *RawConn) Receive(timeout time.Duration) (*Frame, error) {
	c.recvMu.Lock()
	defer c.recvMu.Unlock()

	fds := []unix.PollFd{{Fd: int32(c.eventFd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, int(timeout.Milliseconds()))
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("%w: %w", ErrRecv, err)
	}
	if n == 0 {
		return nil, ErrTimeout
	}
	n, _, rxts, err := c.ts.Recv(c.buf)
	if n == 0 && err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRecv, err)
	}
	if err != nil {
		// frame arrived without timestamp
		rxts = time.Time{}
	}
	src, _, payload, err := DecodeFrame(c.buf[:n])
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	f := &Frame{
		Src:     append(net.HardwareAddr(nil), src...),
		Payload: append([]byte(nil), payload...),
		RxTime:  rxts,
	}
	return f, nil
}

// Close closes both sockets
func (c *RawConn) Close() error {
	var errs []error
	if c.eventFd >= 0 {
		errs = append(errs, unix.Close(c.eventFd))
		c.eventFd = -1
	}
	if c.genFd >= 0 {
		errs = append(errs, unix.Close(c.genFd))
		c.genFd = -1
	}
	return errors.Join(errs...)
}
