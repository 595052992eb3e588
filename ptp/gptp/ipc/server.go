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

package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/facebook/gptp/ptp/gptp/peer"
)

// DefaultControlSocket is where the daemon listens for control messages
const DefaultControlSocket = "/var/run/gptp.sock"

// Server answers queries and applies peer changes received over a unixgram socket
type Server struct {
	conn   *net.UnixConn
	path   string
	peers  *peer.List
	offset func() *OffsetMessage
}

// Listen binds control socket at path, removing a stale one
func Listen(path string, peers *peer.List, offset func() *OffsetMessage) (*Server, error) {
	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("removing stale socket %q: %w", path, err)
	}
	addr, err := net.ResolveUnixAddr("unixgram", path)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUnixgram("unixgram", addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %q: %w", path, err)
	}
	if err := os.Chmod(path, 0666); err != nil {
		conn.Close()
		return nil, err
	}
	return &Server{conn: conn, path: path, peers: peers, offset: offset}, nil
}

// Serve handles messages until ctx is done
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.conn.Close()
	}()
	defer os.RemoveAll(s.path)
	buf := make([]byte, MaxMessageSize)
	for {
		n, from, err := s.conn.ReadFromUnix(buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			log.Warningf("control socket read: %v", err)
			continue
		}
		msg, err := DecodeMessage(buf[:n])
		if err != nil {
			log.Warningf("bad control message from %v: %v", from, err)
			continue
		}
		resp := s.handle(msg)
		if resp == nil {
			continue
		}
		if from == nil || from.Name == "" {
			log.Warningf("can't answer %s from unbound client", msg.Type())
			continue
		}
		b, err := resp.MarshalBinary()
		if err != nil {
			log.Errorf("encoding %s reply: %v", resp.Type(), err)
			continue
		}
		if _, err := s.conn.WriteToUnix(b, from); err != nil {
			log.Warningf("replying to %v: %v", from, err)
		}
	}
}

// Close stops the server and removes the socket
func (s *Server) Close() error {
	err := s.conn.Close()
	os.RemoveAll(s.path)
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (s *Server) handle(msg Message) Message {
	switch m := msg.(type) {
	case *CtrlMessage:
		switch m.Action {
		case AddPeer:
			if s.peers.Add(m.Addr, peer.State{}) {
				log.Infof("peer %s added", m.Addr)
			}
		case RemovePeer:
			if s.peers.Remove(m.Addr) {
				log.Infof("peer %s removed", m.Addr)
			}
		}
	case *QueryMessage:
		return s.offset()
	default:
		log.Warningf("unexpected %s message on control socket", msg.Type())
	}
	return nil
}

// Client talks to the control socket of a running daemon
type Client struct {
	conn  *net.UnixConn
	local string
}

// Dial connects to the control socket at path. Replies come to a socket bound at local.
func Dial(path, local string) (*Client, error) {
	raddr, err := net.ResolveUnixAddr("unixgram", path)
	if err != nil {
		return nil, err
	}
	laddr, err := net.ResolveUnixAddr("unixgram", local)
	if err != nil {
		return nil, err
	}
	conn, err := net.DialUnix("unixgram", laddr, raddr)
	if err != nil {
		return nil, fmt.Errorf("connecting to %q: %w", path, err)
	}
	return &Client{conn: conn, local: local}, nil
}

// Close closes connection and removes the reply socket
func (c *Client) Close() error {
	err := c.conn.Close()
	os.RemoveAll(c.local)
	return err
}

func (c *Client) send(m Message) error {
	b, err := m.MarshalBinary()
	if err != nil {
		return err
	}
	_, err = c.conn.Write(b)
	return err
}

// AddPeer asks the daemon to add a peer
func (c *Client) AddPeer(a peer.Addr) error {
	return c.send(&CtrlMessage{Action: AddPeer, Addr: a})
}

// RemovePeer asks the daemon to remove a peer
func (c *Client) RemovePeer(a peer.Addr) error {
	return c.send(&CtrlMessage{Action: RemovePeer, Addr: a})
}

// Query fetches current offsets
func (c *Client) Query(timeout time.Duration) (*OffsetMessage, error) {
	if err := c.send(&QueryMessage{}); err != nil {
		return nil, err
	}
	if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}
	buf := make([]byte, MaxMessageSize)
	n, err := c.conn.Read(buf)
	if err != nil {
		return nil, fmt.Errorf("reading reply: %w", err)
	}
	msg, err := DecodeMessage(buf[:n])
	if err != nil {
		return nil, err
	}
	off, ok := msg.(*OffsetMessage)
	if !ok {
		return nil, fmt.Errorf("unexpected %s reply", msg.Type())
	}
	return off, nil
}
