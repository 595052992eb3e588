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

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

var errNotPTP = errors.New("not a PTP frame")

// EncodeFrame wraps gPTP payload into an ethernet frame
func EncodeFrame(src, dst net.HardwareAddr, payload []byte) ([]byte, error) {
	eth := &layers.Ethernet{
		SrcMAC:       src,
		DstMAC:       dst,
		EthernetType: EtherTypePTP,
	}
	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{}, eth, gopacket.Payload(payload)); err != nil {
		return nil, fmt.Errorf("serializing ethernet frame: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeFrame extracts source, destination and gPTP payload from an ethernet frame, 802.1Q tagged frames included
func DecodeFrame(b []byte) (src, dst net.HardwareAddr, payload []byte, err error) {
	var eth layers.Ethernet
	if err := eth.DecodeFromBytes(b, gopacket.NilDecodeFeedback); err != nil {
		return nil, nil, nil, fmt.Errorf("decoding ethernet header: %w", err)
	}
	etherType, payload := eth.EthernetType, eth.Payload
	if etherType == layers.EthernetTypeDot1Q {
		var tag layers.Dot1Q
		if err := tag.DecodeFromBytes(payload, gopacket.NilDecodeFeedback); err != nil {
			return nil, nil, nil, fmt.Errorf("decoding 802.1Q tag: %w", err)
		}
		etherType, payload = tag.Type, tag.Payload
	}
	if etherType != EtherTypePTP {
		return nil, nil, nil, fmt.Errorf("%w: ethertype %s", errNotPTP, etherType)
	}
	return eth.SrcMAC, eth.DstMAC, payload, nil
}
