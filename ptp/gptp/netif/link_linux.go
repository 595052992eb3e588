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
	"context"
	"fmt"
	"net"

	"github.com/jsimonetti/rtnetlink"
	"github.com/mdlayher/netlink"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// LinkEvent reports link state change of an interface
type LinkEvent struct {
	Index int
	Name  string
	Up    bool
}

// LinkMonitor watches link state of one interface over rtnetlink
type LinkMonitor struct {
	conn  *rtnetlink.Conn
	iface *net.Interface
}

// NewLinkMonitor subscribes to link notifications
func NewLinkMonitor(iface *net.Interface) (*LinkMonitor, error) {
	conn, err := rtnetlink.Dial(&netlink.Config{Groups: unix.RTMGRP_LINK})
	if err != nil {
		return nil, fmt.Errorf("can't establish netlink connection: %w", err)
	}
	return &LinkMonitor{conn: conn, iface: iface}, nil
}

func linkUp(msg *rtnetlink.LinkMessage) bool {
	if msg.Attributes != nil && msg.Attributes.OperationalState != rtnetlink.OperStateUnknown {
		return msg.Attributes.OperationalState == rtnetlink.OperStateUp
	}
	return msg.Flags&unix.IFF_RUNNING != 0
}

// Up returns current link state
func (m *LinkMonitor) Up() (bool, error) {
	msg, err := m.conn.Link.Get(uint32(m.iface.Index))
	if err != nil {
		return false, fmt.Errorf("getting link %s: %w", m.iface.Name, err)
	}
	return linkUp(&msg), nil
}

// Run sends an event to events on every link state change until ctx is done
func (m *LinkMonitor) Run(ctx context.Context, events chan<- LinkEvent) error {
	up, err := m.Up()
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		m.conn.Close()
	}()
	for {
		msgs, _, err := m.conn.Receive()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("receiving netlink messages: %w", err)
		}
		for _, msg := range msgs {
			lm, ok := msg.(*rtnetlink.LinkMessage)
			if !ok || int(lm.Index) != m.iface.Index {
				continue
			}
			now := linkUp(lm)
			if now == up {
				continue
			}
			up = now
			log.Infof("link %s is now up=%v", m.iface.Name, up)
			select {
			case events <- LinkEvent{Index: m.iface.Index, Name: m.iface.Name, Up: up}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}
