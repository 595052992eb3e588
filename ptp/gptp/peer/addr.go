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

package peer

import (
	"bytes"
	"fmt"
	"net"
	"net/netip"

	ptp "github.com/facebook/gptp/ptp/protocol"
)

// Kind tells which address family Addr carries
type Kind uint8

// Address kinds
const (
	KindMAC Kind = iota
	KindIP
)

func (k Kind) String() string {
	switch k {
	case KindMAC:
		return "mac"
	case KindIP:
		return "ip"
	}
	return fmt.Sprintf("kind(%d)", k)
}

// Addr is a peer address, either link-layer or IP with port. Addr is comparable and usable as a map key.
type Addr struct {
	kind Kind
	mac  [6]byte
	ip   netip.AddrPort
}

// MACAddr returns link-layer peer address
func MACAddr(hw net.HardwareAddr) Addr {
	a := Addr{kind: KindMAC}
	copy(a.mac[:], hw)
	return a
}

// IPAddr returns IP peer address
func IPAddr(ap netip.AddrPort) Addr {
	return Addr{kind: KindIP, ip: ap}
}

// ParseAddr parses MAC address (00:1b:21:00:00:01) or IP:port (192.168.0.1:319, [::1]:319)
func ParseAddr(s string) (Addr, error) {
	if hw, err := net.ParseMAC(s); err == nil && len(hw) == 6 {
		return MACAddr(hw), nil
	}
	if ap, err := netip.ParseAddrPort(s); err == nil {
		return IPAddr(ap), nil
	}
	return Addr{}, fmt.Errorf("can't parse peer address %q", s)
}

// Kind returns address kind
func (a Addr) Kind() Kind { return a.kind }

// MAC returns link-layer address, nil for IP peers
func (a Addr) MAC() net.HardwareAddr {
	if a.kind != KindMAC {
		return nil
	}
	return net.HardwareAddr(a.mac[:])
}

// AddrPort returns IP address with port, zero value for link-layer peers
func (a Addr) AddrPort() netip.AddrPort { return a.ip }

// ClockIdentity derives EUI-64 identity from a link-layer address
func (a Addr) ClockIdentity() (ptp.ClockIdentity, error) {
	if a.kind != KindMAC {
		return 0, fmt.Errorf("%s is not a link-layer address", a)
	}
	return ptp.NewClockIdentity(a.MAC())
}

func (a Addr) String() string {
	if a.kind == KindMAC {
		return a.MAC().String()
	}
	return a.ip.String()
}

// Compare orders addresses by kind, then by address bytes, then by port
func (a Addr) Compare(b Addr) int {
	if a.kind != b.kind {
		if a.kind < b.kind {
			return -1
		}
		return 1
	}
	if a.kind == KindMAC {
		return bytes.Compare(a.mac[:], b.mac[:])
	}
	if c := a.ip.Addr().Compare(b.ip.Addr()); c != 0 {
		return c
	}
	switch {
	case a.ip.Port() < b.ip.Port():
		return -1
	case a.ip.Port() > b.ip.Port():
		return 1
	}
	return 0
}

// MarshalText implements encoding.TextMarshaler
func (a Addr) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (a *Addr) UnmarshalText(b []byte) error {
	p, err := ParseAddr(string(b))
	if err != nil {
		return err
	}
	*a = p
	return nil
}
