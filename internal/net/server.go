package net

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Server accepts peer connections and turns them into Sessions. The tick
// loop learns about new sessions through NewSessions and hands finished ones
// back with NotifyDead, which also frees their admission slot.
type Server struct {
	listener net.Listener
	nextID   atomic.Uint64
	newConns chan *Session
	deadCh   chan uint64
	limits   Limits
	log      *zap.Logger
	closing  atomic.Bool

	mu     sync.Mutex
	live   map[uint64]string // session id -> ip
	perIP  map[string]int
	reject atomic.Uint64
}

func NewServer(bindAddr string, lim Limits, log *zap.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", bindAddr)
	if err != nil {
		return nil, err
	}
	return &Server{
		listener: ln,
		newConns: make(chan *Session, 64),
		deadCh:   make(chan uint64, 64),
		limits:   lim,
		log:      log,
		live:     make(map[uint64]string),
		perIP:    make(map[string]int),
	}, nil
}

// AcceptLoop runs in its own goroutine until Shutdown.
func (s *Server) AcceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.closing.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Error("accept failed", zap.Error(err))
			continue
		}

		id := s.nextID.Add(1)
		ip := remoteIP(conn)
		if reason := s.admit(id, ip); reason != "" {
			s.reject.Add(1)
			s.log.Warn("peer rejected", zap.String("ip", ip), zap.String("reason", reason))
			conn.Close()
			continue
		}

		sess := NewSession(conn, id, s.limits, s.log)
		sess.Start()
		s.log.Info("peer connected", zap.Uint64("session", id), zap.String("ip", sess.IP))

		select {
		case s.newConns <- sess:
		default:
			s.log.Warn("connection queue full, rejecting peer", zap.Uint64("session", id))
			sess.Close()
			s.release(id)
		}
	}
}

// admit reserves a slot for the peer, or returns why it cannot have one.
func (s *Server) admit(id uint64, ip string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.limits.MaxPeers > 0 && len(s.live) >= s.limits.MaxPeers {
		return "server full"
	}
	if s.limits.MaxPerIP > 0 && s.perIP[ip] >= s.limits.MaxPerIP {
		return "too many connections from address"
	}
	s.live[id] = ip
	s.perIP[ip]++
	return ""
}

func (s *Server) release(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ip, ok := s.live[id]
	if !ok {
		return
	}
	delete(s.live, id)
	if s.perIP[ip] <= 1 {
		delete(s.perIP, ip)
	} else {
		s.perIP[ip]--
	}
}

// NewSessions returns the channel of newly connected sessions.
func (s *Server) NewSessions() <-chan *Session {
	return s.newConns
}

// NotifyDead frees the session's admission slot and reports its id on
// DeadSessions.
func (s *Server) NotifyDead(sessionID uint64) {
	s.release(sessionID)
	select {
	case s.deadCh <- sessionID:
	default:
	}
}

// DeadSessions returns the channel of dead session IDs.
func (s *Server) DeadSessions() <-chan uint64 {
	return s.deadCh
}

// Live returns the number of admitted sessions.
func (s *Server) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

// Rejected returns how many connections were turned away by the limits.
func (s *Server) Rejected() uint64 { return s.reject.Load() }

// Shutdown stops accepting new connections.
func (s *Server) Shutdown() {
	if s.closing.Swap(true) {
		return
	}
	s.listener.Close()
}

// Addr returns the listener's address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

func remoteIP(conn net.Conn) string {
	addr := conn.RemoteAddr().String()
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
