/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package ircd

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	formatter "github.com/antonfisher/nested-logrus-formatter"
	"github.com/sirupsen/logrus"
)

// MessagePoolMax sets the message pool buffer length.
const MessagePoolMax = 1000

// BufferPoolMax sets the bytes.Buffer pool length.
const BufferPoolMax = 1000

// WriteQueueLength sets the length of each connection's write queue channel.
const WriteQueueLength = 10

// Server holds the state of one IRC server instance: the frozen Config
// snapshot, the C3 entity store, the C9 hook bus, and the listener.
type Server struct {
	hostname string // immutable identity, set at construction

	cfg atomic.Pointer[Config]

	store  *EntityStore
	hooks  *HookBus
	router *Router
	sidGen func() string
	sid    string
	uidSeq atomic.Uint64

	listenAddr string
	TLSConfig  *tls.Config
	listener   net.Listener

	log *logrus.Logger

	shutdownCtx     context.Context
	shutdownCancel  context.CancelFunc
	shutdownTimeout time.Duration
}

// Option configures a Server at construction time, mirroring the
// functional-options pattern cmd/ircd/main.go expects.
type Option func(*Server) error

// WithHostname sets the server's advertised hostname.
func WithHostname(host string) Option {
	return func(s *Server) error {
		s.hostname = host
		return nil
	}
}

// WithNetwork sets the network name advertised in RPL_ISUPPORT/welcome.
func WithNetwork(network string) Option {
	return func(s *Server) error {
		cfg := s.cfg.Load().clone()
		cfg.Network = network
		s.cfg.Store(cfg)
		return nil
	}
}

// WithListenAddr sets the default listen address used by ListenAndServe.
func WithListenAddr(addr string) Option {
	return func(s *Server) error {
		s.listenAddr = addr
		return nil
	}
}

// WithConfig replaces the default Config snapshot outright.
func WithConfig(cfg *Config) Option {
	return func(s *Server) error {
		s.cfg.Store(cfg)
		return nil
	}
}

// WithLogger sets the logrus logger the server and its connections log
// through.
func WithLogger(logger *logrus.Logger) Option {
	return func(s *Server) error {
		s.log = logger
		return nil
	}
}

// WithLogLevel sets the logger's minimum level.
func WithLogLevel(level logrus.Level) Option {
	return func(s *Server) error {
		if s.log == nil {
			return ErrNoLogger
		}
		s.log.SetLevel(level)
		return nil
	}
}

// WithDefaultLogFormatter installs the nested-field text formatter the
// daemon uses by default.
func WithDefaultLogFormatter() Option {
	return func(s *Server) error {
		if s.log == nil {
			return ErrNoLogger
		}
		s.log.SetFormatter(&formatter.Formatter{
			TimestampFormat: time.StampMilli,
			HideKeys:        true,
			FieldsOrder:     []string{"component", "remote"},
		})
		return nil
	}
}

// WithGracefulShutdown wires a cancellation context derived from ctx and
// records timeout as shutdownTimeout. Canceling the context closes the
// listener; the timeout is stored but not read by any shutdown path,
// and open connections are not closed by it.
func WithGracefulShutdown(ctx context.Context, timeout time.Duration) Option {
	return func(s *Server) error {
		s.shutdownCtx, s.shutdownCancel = context.WithCancel(ctx)
		s.shutdownTimeout = timeout
		return nil
	}
}

// NewServer constructs a Server from the given options, defaulting to
// DefaultConfig() and a discard logger if none is supplied.
func NewServer(opts ...Option) (*Server, error) {
	server := &Server{
		store:  NewEntityStore(CaseMapRFC1459),
		hooks:  NewHookBus(),
		log:    logrus.New(),
		sidGen: defaultSIDGenerator(),
	}
	server.cfg.Store(DefaultConfig())
	server.router = NewRouter(server.log.WithField("component", "router"))
	server.router.SetHooks(server.hooks)
	registerCoreCommands(server.router)

	for _, opt := range opts {
		if err := opt(server); err != nil {
			return nil, err
		}
	}

	server.sid = server.sidGen()

	if server.hostname == "" {
		server.hostname = server.cfg.Load().Hostname
	}
	if server.shutdownCtx == nil {
		server.shutdownCtx, server.shutdownCancel = context.WithCancel(context.Background())
	}

	return server, nil
}

// Config returns the currently published, immutable Config snapshot.
func (s *Server) Config() *Config {
	return s.cfg.Load()
}

// Store returns the C3 entity store.
func (s *Server) Store() *EntityStore {
	return s.store
}

// Hooks returns the C9 hook bus.
func (s *Server) Hooks() *HookBus {
	return s.hooks
}

// SID returns the server's 3-character identifier used in UID prefixes.
func (s *Server) SID() string {
	return s.sid
}

// NextUID mints a new per-session opaque identifier, unique cluster-wide,
// per the glossary's "UID" entry: the server's SID followed by a
// monotonically increasing base-36 counter.
func (s *Server) NextUID() string {
	return s.sid + base36(s.uidSeq.Add(1))
}

func base36(n uint64) string {
	const alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	if n == 0 {
		return "0"
	}
	var buf [16]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = alphabet[n%36]
		n /= 36
	}
	return string(buf[i:])
}

// Hostname returns the server's advertised hostname.
func (s *Server) Hostname() string {
	if s.hostname != "" {
		return s.hostname
	}
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return "irc.localhost.net"
}

// Rehash publishes a new Config snapshot, atomically per spec.md 5. If
// the casemap changed, the entity store's indices are rebuilt before
// the new Config becomes visible to new lookups, satisfying spec.md
// 4.1's atomicity requirement.
func (s *Server) Rehash(next *Config) {
	prev := s.cfg.Load()
	if prev.CaseMap != next.CaseMap {
		s.store.RebuildIndices(next.CaseMap)
	}
	s.cfg.Store(next)
}

// ISupport renders the current Config as RPL_ISUPPORT tokens, per
// spec.md 6.
func (s *Server) ISupport() []string {
	cfg := s.cfg.Load()
	return []string{
		"CHANMODES=beI,k,l,imnpstOrCc",
		"PREFIX=(qaohv)~&@%+",
		fmt.Sprintf("MAXPARA=%d", MaxMsgParams),
		fmt.Sprintf("MODES=%d", cfg.MaxModesPerLine),
		fmt.Sprintf("CHANLIMIT=%s:%d", cfg.Sigils, cfg.MaxJoinedChannels),
		fmt.Sprintf("NICKLEN=%d", cfg.NickMax),
		fmt.Sprintf("MAXLIST=beI:%d", cfg.MaxListEntries),
		fmt.Sprintf("CASEMAPPING=%s", cfg.CaseMap),
		fmt.Sprintf("TOPICLEN=%d", cfg.TopicMax),
		fmt.Sprintf("KICKLEN=%d", cfg.KickMax),
		fmt.Sprintf("CHANLEN=%d", cfg.ChanMax),
		fmt.Sprintf("AWAYLEN=%d", cfg.AwayMax),
		fmt.Sprintf("NETWORK=%s", cfg.Network),
		fmt.Sprintf("CHANTYPES=%s", cfg.Sigils),
	}
}

// ListenAndServe listens on the server's configured address (default
// ":6667") and serves connections until the listener errors or shutdown
// is requested.
func (s *Server) ListenAndServe() error {
	addr := s.listenAddr
	if addr == "" {
		addr = ":6667"
	}
	listen, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(tcpKeepAliveListener{listen.(*net.TCPListener)})
}

// ListenAndServeTLS is as ListenAndServe but wraps the listener in TLS,
// loading certFile/keyFile when either is given or when the server's
// TLSConfig has no certificate configured yet.
func (s *Server) ListenAndServeTLS(certFile, keyFile string) error {
	addr := s.listenAddr
	if addr == "" {
		addr = ":6697"
	}

	config := cloneTLSConfig(s.TLSConfig)
	hasCert := len(config.Certificates) > 0 || config.GetCertificate != nil
	if !hasCert || certFile != "" || keyFile != "" {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return err
		}
		config.Certificates = []tls.Certificate{cert}
	}

	listen, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(tls.NewListener(tcpKeepAliveListener{listen.(*net.TCPListener)}, config))
}

// Serve accepts connections from listen until it errors or the server's
// shutdown context is canceled.
func (s *Server) Serve(listen net.Listener) error {
	s.listener = listen
	defer listen.Close()

	go func() {
		<-s.shutdownCtx.Done()
		listen.Close()
	}()

	s.log.Infof("ircd: listening on %s", listen.Addr())

	var tempDelay time.Duration
	for {
		sock, err := listen.Accept()
		if err != nil {
			select {
			case <-s.shutdownCtx.Done():
				return ErrServerClosed
			default:
			}
			if neterr, ok := err.(net.Error); ok && neterr.Timeout() {
				if tempDelay == 0 {
					tempDelay = 5 * time.Millisecond
				} else {
					tempDelay *= 2
				}
				if max := time.Second; tempDelay > max {
					tempDelay = max
				}
				s.log.Errorf("ircd: accept error: %v; retrying in %s", err, tempDelay)
				time.Sleep(tempDelay)
				continue
			}
			return err
		}

		tempDelay = 0
		conn := NewConn(s, sock)
		go serve(conn)
	}
}

// Shutdown requests a stop: the listener is closed immediately. In-flight
// connections are left open, and shutdownTimeout is not consulted.
func (s *Server) Shutdown() {
	if s.shutdownCancel != nil {
		s.shutdownCancel()
	}
}

func defaultSIDGenerator() func() string {
	const alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	return func() string {
		// A single-server deployment needs only a fixed SID; link-aware
		// deployments would draw from the network's assigned pool.
		return string([]byte{alphabet[0], alphabet[0], alphabet[0]})
	}
}

// cloneTLSConfig returns a shallow clone of the exported fields of cfg,
// ignoring the unexported sync.Once which must not be copied.
func cloneTLSConfig(cfg *tls.Config) *tls.Config {
	if cfg == nil {
		return &tls.Config{}
	}
	return cfg.Clone()
}

// tcpKeepAliveListener sets TCP keep-alive timeouts on accepted
// connections so dead peers eventually go away.
type tcpKeepAliveListener struct {
	*net.TCPListener
}

func (listen tcpKeepAliveListener) Accept() (net.Conn, error) {
	conn, err := listen.AcceptTCP()
	if err != nil {
		return nil, err
	}
	conn.SetKeepAlive(true)
	conn.SetKeepAlivePeriod(2 * time.Minute)
	return conn, nil
}
