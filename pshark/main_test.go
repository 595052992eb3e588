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

package main

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/require"

	"github.com/facebook/gptp/ptp/gptp/netif"
	ptp "github.com/facebook/gptp/ptp/protocol"
)

var testSrc = net.HardwareAddr{0x00, 0x1b, 0x21, 0x11, 0x22, 0x33}

func writeCapture(t *testing.T, packets ...ptp.Packet) string {
	path := filepath.Join(t.TempDir(), "gptp.pcap")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	w := pcapgo.NewWriterNanos(f)
	require.NoError(t, w.WriteFileHeader(1518, layers.LinkTypeEthernet))
	for _, p := range packets {
		b, err := ptp.Bytes(p)
		require.NoError(t, err)
		frame, err := netif.EncodeFrame(testSrc, netif.GPTPMulticast, b)
		require.NoError(t, err)
		require.NoError(t, w.WritePacket(gopacket.CaptureInfo{
			Timestamp:     time.Unix(0, 0),
			CaptureLength: len(frame),
			Length:        len(frame),
		}, frame))
	}
	return path
}

func TestDecodeFile(t *testing.T) {
	source := ptp.PortIdentity{ClockIdentity: 0x001b21fffe112233, PortNumber: 1}
	req := &ptp.PDelayReq{Header: ptp.NewHeader(ptp.MessagePDelayReq, 0, source)}
	req.SequenceID = 3
	sync := &ptp.Sync{Header: ptp.NewHeader(ptp.MessageSync, 0, source)}
	path := writeCapture(t, req, sync)

	var msgTypes MultiMessageType
	msgTypes.SetDefault()
	got := []decoded{}
	require.NoError(t, decodeFile(path, msgTypes, func(d decoded) { got = append(got, d) }))
	require.Len(t, got, 2)
	require.Equal(t, testSrc, got[0].Src)
	require.Equal(t, netif.GPTPMulticast, got[0].Dst)
	require.Equal(t, ptp.MessagePDelayReq, got[0].Packet.MessageType())
	require.Equal(t, uint16(3), got[0].Packet.PTPHeader().SequenceID)
	require.Equal(t, ptp.MessageSync, got[1].Packet.MessageType())

	got = got[:0]
	filter := MultiMessageType{}
	require.NoError(t, filter.Set("sync"))
	require.NoError(t, decodeFile(path, filter, func(d decoded) { got = append(got, d) }))
	require.Len(t, got, 1)
	require.Equal(t, "SYNC", filter.String())

	require.NoError(t, run(path, filter))
}

func TestMultiMessageTypeSet(t *testing.T) {
	var m MultiMessageType
	require.Error(t, m.Set("delay_req_bogus"))
	require.NoError(t, m.Set("PDELAY_REQ"))
	m.SetDefault()
	require.Len(t, m, 1)
}

func TestDecodeFileMissing(t *testing.T) {
	require.Error(t, decodeFile(filepath.Join(t.TempDir(), "nope.pcap"), nil, func(decoded) {}))
}
