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
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	log "github.com/sirupsen/logrus"
)

// snapLen covers the biggest ethernet frame
const snapLen = 1518

type captureSink struct {
	mu sync.Mutex
	w  *pcapgo.Writer
}

// CaptureConn is a Conn that writes every frame it sends or receives to a pcap stream
type CaptureConn struct {
	Conn
	sink *captureSink
	now  func() time.Time
}

// NewCaptureConn wraps conn and writes pcap file header to w
func NewCaptureConn(conn Conn, w io.Writer) (*CaptureConn, error) {
	pw := pcapgo.NewWriterNanos(w)
	if err := pw.WriteFileHeader(snapLen, layers.LinkTypeEthernet); err != nil {
		return nil, fmt.Errorf("writing pcap header: %w", err)
	}
	return &CaptureConn{Conn: conn, sink: &captureSink{w: pw}, now: time.Now}, nil
}

// Wrap returns a CaptureConn over conn recording into the same pcap stream
func (c *CaptureConn) Wrap(conn Conn) *CaptureConn {
	return &CaptureConn{Conn: conn, sink: c.sink, now: c.now}
}

func (c *CaptureConn) write(ts time.Time, src, dst net.HardwareAddr, payload []byte) {
	if ts.IsZero() {
		ts = c.now()
	}
	frame, err := EncodeFrame(src, dst, payload)
	if err != nil {
		log.Warningf("capture: %v", err)
		return
	}
	ci := gopacket.CaptureInfo{
		Timestamp:     ts,
		CaptureLength: len(frame),
		Length:        len(frame),
	}
	c.sink.mu.Lock()
	defer c.sink.mu.Unlock()
	if err := c.sink.w.WritePacket(ci, frame); err != nil {
		log.Warningf("capture: writing packet: %v", err)
	}
}

// Send sends and records the frame
func (c *CaptureConn) Send(b []byte, event bool) (TxHandle, error) {
	h, err := c.Conn.Send(b, event)
	if err == nil {
		c.write(h.TxTime, c.HardwareAddr(), GPTPMulticast, b)
	}
	return h, err
}

// Receive receives and records the frame
func (c *CaptureConn) Receive(timeout time.Duration) (*Frame, error) {
	f, err := c.Conn.Receive(timeout)
	if err == nil {
		c.write(f.RxTime, f.Src, GPTPMulticast, f.Payload)
	}
	return f, err
}
