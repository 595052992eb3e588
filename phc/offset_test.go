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
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestSysoffEstimateBasic(t *testing.T) {
	ts1 := time.Unix(0, 1667818190552297411)
	rt := time.Unix(0, 1667818153552297462)
	ts2 := time.Unix(0, 1667818190552297522)
	got := sysoffEstimateBasic(ts1, rt, ts2)
	want := SysoffResult{
		SysTime: time.Unix(0, 1667818190552297466),
		PHCTime: rt,
		Offset:  37000000005 * time.Nanosecond,
		Delay:   111,
	}
	require.Equal(t, want, got)
}

func TestBestSysoff(t *testing.T) {
	results := []SysoffResult{
		{Offset: 10, Delay: 300},
		{Offset: 20, Delay: 100},
		{Offset: 30, Delay: 200},
	}
	require.Equal(t, SysoffResult{Offset: 20, Delay: 100}, bestSysoff(results))
}

func TestMaxAdj(t *testing.T) {
	require.InEpsilon(t, 1000000000.0, maxAdj(&unix.PtpClockCaps{Max_adj: 1000000000}), 0.00001)
	require.InEpsilon(t, DefaultMaxClockFreqPPB, maxAdj(&unix.PtpClockCaps{}), 0.00001)
	require.InEpsilon(t, DefaultMaxClockFreqPPB, maxAdj(nil), 0.00001)
}

func TestFDToClockID(t *testing.T) {
	require.Equal(t, int32(-29), FDToClockID(3))
	require.Equal(t, int32(-5), FDToClockID(0))
}

func TestHardwareTimestamping(t *testing.T) {
	info := &unix.EthtoolTsInfo{So_timestamping: unix.SOF_TIMESTAMPING_TX_HARDWARE | unix.SOF_TIMESTAMPING_RX_HARDWARE | unix.SOF_TIMESTAMPING_RAW_HARDWARE}
	require.True(t, HardwareTimestamping(info))
	info.So_timestamping = unix.SOF_TIMESTAMPING_TX_SOFTWARE | unix.SOF_TIMESTAMPING_RX_SOFTWARE
	require.False(t, HardwareTimestamping(info))
}

func TestIfaceToPHCDeviceNotFound(t *testing.T) {
	dev, err := IfaceToPHCDevice("lol-does-not-exist")
	require.Error(t, err)
	require.Equal(t, "", dev)
}
