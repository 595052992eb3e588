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
	"time"

	"golang.org/x/sys/unix"

	"github.com/facebook/gptp/clock"
)

// SysoffResult is a result of PHC time measurement with related data
type SysoffResult struct {
	Offset  time.Duration
	Delay   time.Duration
	SysTime time.Time
	PHCTime time.Time
}

// based on calculate_offset from ptp4l phc_ctl.c
func sysoffEstimateBasic(ts1, rt, ts2 time.Time) SysoffResult {
	interval := ts2.Sub(ts1)
	sysTime := ts1.Add(interval / 2)
	offset := ts2.Sub(rt) - (interval / 2)

	return SysoffResult{
		SysTime: sysTime,
		PHCTime: rt,
		Delay:   ts2.Sub(ts1),
		Offset:  offset,
	}
}

// bestSysoff picks the measurement with the shortest sys-phc-sys window
func bestSysoff(results []SysoffResult) SysoffResult {
	best := results[0]
	for _, r := range results[1:] {
		if r.Delay < best.Delay {
			best = r
		}
	}
	return best
}

// SysOffset measures offset between CLOCK_REALTIME and the PHC, taking the best of samples readings
func (dev *Device) SysOffset(samples int) (SysoffResult, error) {
	if samples < 1 {
		return SysoffResult{}, fmt.Errorf("need at least one sample, got %d", samples)
	}
	results := make([]SysoffResult, 0, samples)
	for i := 0; i < samples; i++ {
		ts1, err := clock.Now(unix.CLOCK_REALTIME)
		if err != nil {
			return SysoffResult{}, err
		}
		rt, err := dev.Now()
		if err != nil {
			return SysoffResult{}, err
		}
		ts2, err := clock.Now(unix.CLOCK_REALTIME)
		if err != nil {
			return SysoffResult{}, err
		}
		results = append(results, sysoffEstimateBasic(ts1, rt, ts2))
	}
	return bestSysoff(results), nil
}
