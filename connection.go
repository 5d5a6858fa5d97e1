/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package ircd

import (
	"bufio"
	"bytes"
	"crypto/tls"
	"net"
	"runtime"
	"sync"
	"time"

	"github.com/btnmasher/random"
	"github.com/sirupsen/logrus"
)

// Conn is the server-side transport for one client session: the socket,
// its read/write loops, and the per-connection heartbeat/penalty state
// from spec.md 4.3.
type Conn struct {
	mu sync.RWMutex

	server *Server
	sock   net.Conn

	remAddr string

	user *User
	pass string

	capabilities  *Capabilities
	capRequested  bool
	capNegotiated bool

	incoming *bufio.Scanner
	outgoing *bufio.Writer

	writeQueue chan *bytes.Buffer

	heartbeat *time.Timer

	lastPingSent string
	lastPingRecv string

	kill chan bool

	timeoutForced bool
}

// NewConn initializes a Conn bound to the given server and accepted
// socket, minting a fresh User/UID pair for it.
func NewConn(srv *Server, sck net.Conn) *Conn {
	cfg := srv.Config()
	conn := &Conn{
		server:       srv,
		sock:         sck,
		heartbeat:    time.NewTimer(cfg.PingInterval),
		incoming:     bufio.NewScanner(sck),
		outgoing:     bufio.NewWriter(sck),
		writeQueue:   make(chan *bytes.Buffer, WriteQueueLength),
		kill:         make(chan bool, 5),
		capabilities: &Capabilities{},
	}
	conn.user = NewUser(srv.NextUID(), conn, cfg.NickMax)
	return conn
}

func serve(conn *Conn) {
	defer conn.cleanup()
	conn.start()

	defer func() {
		if err := recover(); err != nil {
			const size = 64 << 10
			buf := make([]byte, size)
			buf = buf[:runtime.Stack(buf, false)]
			conn.log().Errorf("panic serving %v: %v\n%s", conn.remAddr, err, buf)
			conn.doQuit("Server Error.")
		}
		conn.sock.Close()
	}()

	if tlsConn, ok := conn.sock.(*tls.Conn); ok {
		conn.setDeadlines()
		if err := tlsConn.Handshake(); err != nil {
			conn.log().Errorf("TLS handshake error from [%s]: %s", conn.remAddr, err)
			return
		}
	}

	go conn.writeLoop()
	conn.readLoop()
}

func (conn *Conn) log() *logrus.Entry {
	return conn.server.log.WithField("remote", conn.remAddr)
}

func (conn *Conn) start() {
	conn.mu.Lock()
	conn.remAddr = conn.sock.RemoteAddr().String()
	conn.mu.Unlock()

	host, _, err := net.SplitHostPort(conn.remAddr)
	if err != nil {
		host = conn.remAddr
	}
	conn.user.SetIP(host)
	conn.user.SetRealHost(host)

	conn.log().Debug("accepted connection")
}

func (conn *Conn) readLoop() {
	cfg := conn.server.Config()
	for {
		conn.setReadDeadline(cfg)

		if conn.user.Throttled(cfg.PenaltyThreshold) {
			time.Sleep(10 * time.Millisecond)
			continue
		}

		if !conn.incoming.Scan() {
			defer func() { conn.kill <- true }()

			if err := conn.incoming.Err(); err != nil {
				if neterr, ok := err.(net.Error); ok && neterr.Timeout() {
					if !conn.timeoutForced {
						conn.log().Info("connection timed out")
						conn.doQuit("Connection timeout.")
					}
				} else {
					conn.log().Error(err)
				}
			}
			conn.sock.Close()
			return
		}

		data := conn.incoming.Text()
		conn.heartbeat.Reset(cfg.PingInterval)
		conn.server.router.ProcessBuffer(conn, data)

		cfg = conn.server.Config()
	}
}

func (conn *Conn) writeLoop() {
	for {
		select {
		case <-conn.kill:
			conn.forceTimeout()
			return

		case buf := <-conn.writeQueue:
			conn.write(buf)

		case <-conn.heartbeat.C:
			conn.doHeartbeat()
		}
	}
}

// Write enqueues buffer for the write loop. The queue holds at most
// WriteQueueLength buffers; when it is full the connection is dropped
// with ErrSendQExceeded. Config.SendQueueLimit is not consulted.
func (conn *Conn) Write(buffer *bytes.Buffer) {
	if buffer.Len() > MaxMsgLength+2 {
		conn.log().Error("outgoing message too long, dropping")
		return
	}

	select {
	case conn.writeQueue <- buffer:
	default:
		conn.log().Warn("sendq exceeded, disconnecting")
		conn.doQuit(string(ErrSendQExceeded))
	}
}

func (conn *Conn) write(buffer *bytes.Buffer) {
	defer func() {
		bufpool.Recycle(buffer)
		if err := recover(); err != nil {
			const size = 64 << 10
			buf := make([]byte, size)
			buf = buf[:runtime.Stack(buf, false)]
			conn.log().Errorf("panic writing socket: %v\n%s", err, buf)
			conn.doQuit("Socket Error.")
		}
	}()

	conn.setWriteDeadline(conn.server.Config())

	if _, err := conn.outgoing.Write(buffer.Bytes()); err != nil {
		conn.log().Errorf("write error: %s", err)
		conn.doQuit("Socket Error.")
		return
	}
	if err := conn.outgoing.Flush(); err != nil {
		conn.log().Errorf("flush error: %s", err)
		conn.doQuit("Socket Error.")
		return
	}
}

func (conn *Conn) doHeartbeat() {
	cfg := conn.server.Config()

	conn.user.DecayPenalty(cfg.PingInterval)

	conn.mu.Lock()
	mismatch := conn.lastPingRecv != conn.lastPingSent
	conn.mu.Unlock()

	if mismatch && conn.lastPingSent != "" {
		conn.heartbeat.Stop()
		conn.log().Debug("PING timeout")
		conn.doQuit("Ping timeout.")
		return
	}

	str := random.String(10)
	msg := msgPool.New()
	msg.Command = CmdPing
	msg.Text = str

	conn.mu.Lock()
	conn.lastPingSent = str
	conn.mu.Unlock()

	conn.heartbeat.Reset(cfg.PingInterval)
	conn.Write(msg.RenderBuffer())
}

// ReceivePong records a PONG's token, clearing the outstanding PING.
func (conn *Conn) ReceivePong(token string) {
	conn.mu.Lock()
	defer conn.mu.Unlock()
	conn.lastPingRecv = token
}

// doQuit broadcasts QUIT to every channel the user occupies, erases its
// memberships, and signals the write loop to close the socket.
func (conn *Conn) doQuit(reason string) {
	if reason == "" {
		reason = "Client issued QUIT command."
	}

	if conn.user.FullyConnected() {
		msg := msgPool.New()
		msg.Sender = conn.user.Hostmask()
		msg.Command = CmdQuit
		msg.Text = reason

		cm := conn.server.Config().CaseMap
		conn.user.EachMembership(func(m *Membership) {
			m.Channel.Broadcast(msg, RankNone, nil, cm)
			m.Channel.Remove(FoldString(cm, conn.user.Nick()))
			if m.Channel.Empty() {
				conn.server.store.RemoveChannel(m.Channel)
			}
		})
		msgPool.Recycle(msg)

		conn.server.hooks.FireAll(EventUserQuit, conn.user)
	}

	select {
	case conn.kill <- true:
	default:
	}
}

func (conn *Conn) cleanup() {
	if conn.user.FullyConnected() {
		conn.server.store.RemoveUser(conn.user)
	}
}

func (conn *Conn) setWriteDeadline(cfg *Config) {
	if cfg.WriteTimeout != 0 {
		conn.sock.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
	}
}

func (conn *Conn) setReadDeadline(cfg *Config) {
	if cfg.ReadTimeout != 0 {
		conn.sock.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
	}
}

func (conn *Conn) forceTimeout() {
	conn.mu.Lock()
	defer conn.mu.Unlock()
	conn.timeoutForced = true
	conn.sock.SetReadDeadline(time.Now().Add(time.Microsecond))
}

func (conn *Conn) setDeadlines() {
	cfg := conn.server.Config()
	conn.setReadDeadline(cfg)
	conn.setWriteDeadline(cfg)
}

// newMessage returns a pooled Message pre-addressed from this server.
func (conn *Conn) newMessage() *Message {
	msg := msgPool.New()
	msg.Sender = conn.server.Hostname()
	return msg
}
