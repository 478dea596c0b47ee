// Package server implements the session/presence coordinator: the TCP
// control listener, session lifecycle, the friend-request handshake,
// presence-based push routing and the NAT reachability probe.
package server

import (
	"bufio"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"pshare/protocol"
	"pshare/store"
)

type Config struct {
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ProbeTimeout    time.Duration
	SessionTTL      time.Duration
	JanitorInterval time.Duration
}

// Stores groups the repositories injected into the coordinator.
type Stores struct {
	Users     store.UserStore
	Sessions  store.SessionStore
	Requests  store.FriendRequestStore
	Transfers store.TransferStore
}

type Server struct {
	config  *Config
	log     *logrus.Logger
	users   store.UserStore
	clients *ClientRegistry

	registry *SessionRegistry
	presence *PresenceRouter
	friends  *FriendRequestService
	offline  *OfflineTransferService
	nat      *NATClassifier

	mu       sync.Mutex
	listener net.Listener
	done     chan struct{}
	closed   bool
}

func New(config *Config, stores Stores, log *logrus.Logger) *Server {
	if config.ReadTimeout == 0 {
		config.ReadTimeout = 120 * time.Second
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = 30 * time.Second
	}
	if config.ProbeTimeout == 0 {
		config.ProbeTimeout = 5 * time.Second
	}
	if config.SessionTTL == 0 {
		config.SessionTTL = 7 * 24 * time.Hour
	}
	if config.JanitorInterval == 0 {
		config.JanitorInterval = time.Minute
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	clients := NewClientRegistry()
	registry := NewSessionRegistry(stores.Sessions, log)
	presence := NewPresenceRouter(registry, clients)
	friends := NewFriendRequestService(stores.Users, stores.Requests, presence, log)
	offline := NewOfflineTransferService(stores.Users, stores.Transfers, log)
	nat := NewNATClassifier(stores.Sessions, config.ProbeTimeout, log)

	return &Server{
		config:   config,
		log:      log,
		users:    stores.Users,
		clients:  clients,
		registry: registry,
		presence: presence,
		friends:  friends,
		offline:  offline,
		nat:      nat,
		done:     make(chan struct{}),
	}
}

// Start listens on addr and serves control connections until Shutdown.
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(listener)
}

// Serve accepts control connections on an existing listener.
func (s *Server) Serve(listener net.Listener) error {
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	go s.janitor()

	s.log.WithField("addr", listener.Addr().String()).Info("control listener started")

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return nil
			default:
			}
			s.log.WithError(err).Error("accept failed")
			continue
		}

		go s.handleConnection(conn)
	}
}

// Addr returns the bound listener address.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown stops the listener and closes every control connection.
func (s *Server) Shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.done)
	listener := s.listener
	s.mu.Unlock()

	if listener != nil {
		listener.Close()
	}
	for _, c := range s.clients.All() {
		c.Close()
	}
	s.log.Info("server stopped")
}

func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()

	address, controlPort, err := splitEndpoint(conn.RemoteAddr().String())
	if err != nil {
		s.log.WithError(err).Warn("rejecting connection with unusable remote address")
		return
	}

	client := newClient(conn, address, controlPort, s.config.WriteTimeout, s.log)
	s.clients.Add(client)

	log := s.log.WithField("remote", client.Endpoint())
	log.Debug("client connected")

	defer func() {
		s.clients.Remove(client)
		s.markDisconnected(client)
		log.Debug("client disconnected")
	}()

	reader := bufio.NewReader(conn)
	for {
		conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		line, err := reader.ReadString('\n')
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				// Idle control connection; keep waiting.
				continue
			}
			if err != io.EOF && !strings.Contains(err.Error(), "use of closed network connection") {
				log.WithError(err).Warn("read failed")
			}
			return
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		req, err := protocol.ParseRequest(line)
		if err != nil {
			log.WithError(err).Warn("malformed request")
			client.Reply("", protocol.StatusUnknownError, nil)
			continue
		}

		s.dispatch(client, req)
	}
}

// markDisconnected is the connection-close liveness hook: the session
// itself survives for token resume, but the owner's lastSeen is
// stamped so friends see an honest timestamp.
func (s *Server) markDisconnected(c *Client) {
	sess, err := s.registry.LookupByEndpoint(c.address, c.controlPort)
	if err != nil {
		return
	}
	if err := s.users.UpdateLastSeen(sess.UserID, time.Now().UTC()); err != nil {
		s.log.WithError(err).WithField("userId", sess.UserID).Warn("failed to update lastSeen")
	}
}

// janitor deletes ghost sessions whose endpoint has been dead longer
// than the session TTL. Sessions with a live control connection are
// never touched.
func (s *Server) janitor() {
	ticker := time.NewTicker(s.config.JanitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.sweepSessions()
		}
	}
}

func (s *Server) sweepSessions() {
	cutoff := time.Now().Add(-s.config.SessionTTL)
	idle, err := s.registry.IdleSessions(cutoff)
	if err != nil {
		s.log.WithError(err).Warn("session sweep failed")
		return
	}

	for _, sess := range idle {
		if _, ok := s.clients.Get(sess.Address, sess.ControlPort); ok {
			continue
		}
		if err := s.registry.Delete(sess.ID); err != nil {
			s.log.WithError(err).WithField("sessionId", sess.ID).Warn("failed to delete stale session")
			continue
		}
		s.log.WithFields(logrus.Fields{
			"sessionId": sess.ID,
			"userId":    sess.UserID,
		}).Info("expired stale session")
	}
}

// Stats returns a short operator-facing summary line.
func (s *Server) Stats() string {
	clients := s.clients.All()
	var endpoints []string
	for _, c := range clients {
		endpoints = append(endpoints, c.Endpoint())
	}
	return "connections=" + strconv.Itoa(len(clients)) + ",clients=" + strings.Join(endpoints, ";")
}

func splitEndpoint(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, err
	}
	return host, port, nil
}
