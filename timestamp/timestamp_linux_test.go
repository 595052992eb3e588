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
	"net"
	"testing"
	"time"
	"unsafe"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func timespecs(sw, hw time.Time) []byte {
	b := make([]byte, 3*timespecSize)
	put := func(i int, t time.Time) {
		if t.IsZero() {
			return
		}
		binary.NativeEndian.PutUint64(b[i*timespecSize:], uint64(t.Unix()))
		binary.NativeEndian.PutUint64(b[i*timespecSize+8:], uint64(t.Nanosecond()))
	}
	put(0, sw)
	put(2, hw)
	return b
}

func cmsg(level, typ int, data []byte) []byte {
	b := make([]byte, unix.CmsgSpace(len(data)))
	h := (*unix.Cmsghdr)(unsafe.Pointer(&b[0]))
	h.Level = int32(level)
	h.Type = int32(typ)
	h.SetLen(unix.CmsgLen(len(data)))
	copy(b[unix.CmsgLen(0):], data)
	return b
}

func TestScmTimestamping(t *testing.T) {
	sw := time.Unix(1700000000, 123456789)
	hw := time.Unix(1700000001, 987654321)

	ts, err := scmTimestamping(timespecs(sw, hw))
	require.NoError(t, err)
	require.Equal(t, hw, ts)

	ts, err = scmTimestamping(timespecs(sw, time.Time{}))
	require.NoError(t, err)
	require.Equal(t, sw, ts)

	_, err = scmTimestamping(timespecs(time.Time{}, time.Time{}))
	require.ErrorIs(t, err, errZeroTimestamp)

	_, err = scmTimestamping(make([]byte, 16))
	require.Error(t, err)
}

func TestCmsgTimestamp(t *testing.T) {
	hw := time.Unix(1700000001, 42)
	data := timespecs(time.Time{}, hw)

	// unrelated message first
	oob := append(cmsg(unix.SOL_SOCKET, unix.SO_MARK, []byte{1, 0, 0, 0}), cmsg(unix.SOL_SOCKET, unix.SO_TIMESTAMPING_NEW, data)...)
	ts, err := cmsgTimestamp(oob)
	require.NoError(t, err)
	require.Equal(t, hw, ts)

	ts, err = cmsgTimestamp(cmsg(unix.SOL_SOCKET, unix.SO_TIMESTAMPING, data))
	require.NoError(t, err)
	require.Equal(t, hw, ts)

	_, err = cmsgTimestamp(cmsg(unix.SOL_IP, unix.SO_TIMESTAMPING_NEW, data))
	require.ErrorIs(t, err, errNoCmsgTimestamp)

	_, err = cmsgTimestamp(nil)
	require.ErrorIs(t, err, errNoCmsgTimestamp)
}

func connFd(t *testing.T, conn *net.UDPConn) int {
	sc, err := conn.SyscallConn()
	require.NoError(t, err)
	var fd int
	require.NoError(t, sc.Control(func(f uintptr) { fd = int(f) }))
	return fd
}

func TestSocketEnableErrors(t *testing.T) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer conn.Close()
	s := NewSocket(connFd(t, conn))

	require.Error(t, s.Enable(Timestamp(42), "lo"))
	// loopback has no hardware timestamping
	require.Error(t, s.Enable(HW, "lo"))
}

func TestSocketSoftwareTimestamps(t *testing.T) {
	rconn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer rconn.Close()
	sconn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer sconn.Close()

	rs := NewSocket(connFd(t, rconn))
	require.NoError(t, rs.Enable(SW, "lo"))
	ss := NewSocket(connFd(t, sconn))
	require.NoError(t, ss.Enable(SW, "lo"))
	require.Equal(t, connFd(t, sconn), ss.Fd())

	// nothing sent yet
	_, _, err = ss.TxTimestamp()
	require.ErrorIs(t, err, ErrNoTXTimestamp)

	before := time.Now()
	_, err = sconn.WriteTo([]byte("gptp"), rconn.LocalAddr())
	require.NoError(t, err)

	txts, attempts, err := ss.TxTimestamp()
	require.NoError(t, err)
	require.Greater(t, attempts, 0)
	require.WithinDuration(t, before, txts, time.Second)

	buf := make([]byte, PayloadSizeBytes)
	n, from, rxts, err := rs.Recv(buf)
	require.NoError(t, err)
	require.Equal(t, "gptp", string(buf[:n]))
	require.Equal(t, sconn.LocalAddr().(*net.UDPAddr).Port, from.(*unix.SockaddrInet4).Port)
	require.WithinDuration(t, before, rxts, time.Second)
}
