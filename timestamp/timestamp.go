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
Package timestamp enables kernel timestamping on raw gPTP sockets and reads
TX timestamps from the socket error queue and RX timestamps from ancillary data.
*/
package timestamp

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// ControlSizeBytes fits a socket control message with a timestamp.
	// A few may pile up in the error queue, so there is room for more than one.
	ControlSizeBytes = 128
	// PayloadSizeBytes fits a whole ethernet frame, gPTP frames are well below
	PayloadSizeBytes = 1518
	// maxTXTS bounds how many error queue reads one TX timestamp may take
	maxTXTS = 100
)

// ErrNoTXTimestamp is returned when the error queue did not yield a TX timestamp
var ErrNoTXTimestamp = errors.New("no TX timestamp found")

// Timestamp is a timestamping mode
type Timestamp int

const (
	// SW is software timestamping
	SW Timestamp = iota
	// HW is hardware timestamping
	HW
)

var timestampToString = map[Timestamp]string{
	SW: "software",
	HW: "hardware",
}

func (t Timestamp) String() string {
	if s, ok := timestampToString[t]; ok {
		return s
	}
	return fmt.Sprintf("timestamp(%d)", int(t))
}

// Set parses s into the timestamping mode, flag.Value interface
func (t *Timestamp) Set(s string) error {
	for k, v := range timestampToString {
		if v == strings.ToLower(s) {
			*t = k
			return nil
		}
	}
	return fmt.Errorf("unknown timestamp type %q", s)
}

// Type is required by cobra/pflag Value interface
func (t *Timestamp) Type() string {
	return "timestamp"
}

// MarshalText is used by yaml marshaling
func (t Timestamp) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText is used by yaml unmarshaling
func (t *Timestamp) UnmarshalText(b []byte) error {
	return t.Set(string(b))
}
