// Package observer pushes fleet notifications to websocket clients: the
// instance list whenever it changes and every focus change. Clients may send
// control commands back; they are queued for the tick goroutine.
package observer

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/simfleet/server/internal/core/event"
)

// Instance is one row of the instance list message.
type Instance struct {
	Slot      int    `json:"slot"`
	Asset     string `json:"asset"`
	State     string `json:"state"`
	Origin    int32  `json:"origin"`
	Stream    int32  `json:"stream"`
	Networked bool   `json:"networked"`
	Focus     bool   `json:"focus,omitempty"`
}

type listMsg struct {
	Type      string     `json:"type"`
	Instances []Instance `json:"instances"`
}

type focusMsg struct {
	Type string `json:"type"`
	Prev int    `json:"prev"`
	Next int    `json:"next"`
}

// Command ops accepted from clients.
const (
	OpFocus           = "focus"
	OpRemoveCurrent   = "remove_current"
	OpRescue          = "rescue"
	OpActivateAll     = "activate_all"
	OpSendAllSleeping = "send_all_sleeping"
	OpRepairRegion    = "repair_region"
	OpRemoveRegion    = "remove_region"
)

// Command is a control request from an observer. Instance and Region name a
// trigger region for the region ops.
type Command struct {
	Op           string `json:"op"`
	Slot         int    `json:"slot"`
	Instance     string `json:"instance,omitempty"`
	Region       string `json:"region,omitempty"`
	KeepPosition bool   `json:"keep_position,omitempty"`
}

type commandMsg struct {
	Type string `json:"type"`
	Command
}

// Lister returns the current instance list. Called on the tick goroutine.
type Lister func() []Instance

type client struct {
	out     chan []byte
	dropped atomic.Int64
}

// Server fans notifications out to every connected websocket.
type Server struct {
	log         *zap.Logger
	list        Lister
	sendQueue   int
	allowRemote bool

	upgrader websocket.Upgrader
	nextID   atomic.Uint64

	commands chan Command
	rejected atomic.Int64

	mu      sync.Mutex
	clients map[uint64]*client
	last    []byte // latest instance list, sent to new clients
	httpSrv *http.Server
}

type Options struct {
	SendQueue int
	// CommandQueue bounds the commands waiting for the tick goroutine.
	CommandQueue int
	// AllowRemote accepts clients from non-loopback addresses.
	AllowRemote bool
}

func NewServer(list Lister, opts Options, log *zap.Logger) *Server {
	if opts.SendQueue <= 0 {
		opts.SendQueue = 64
	}
	if opts.CommandQueue <= 0 {
		opts.CommandQueue = 16
	}
	return &Server{
		log:         log,
		list:        list,
		sendQueue:   opts.SendQueue,
		allowRemote: opts.AllowRemote,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients:  make(map[uint64]*client),
		commands: make(chan Command, opts.CommandQueue),
	}
}

// DrainCommands hands every queued command to fn without blocking.
func (s *Server) DrainCommands(fn func(Command)) {
	for {
		select {
		case c := <-s.commands:
			fn(c)
		default:
			return
		}
	}
}

// Rejected returns the number of client messages that were not queued.
func (s *Server) Rejected() int64 { return s.rejected.Load() }

func (s *Server) enqueue(id uint64, raw []byte) {
	var m commandMsg
	if err := json.Unmarshal(raw, &m); err != nil || m.Type != "command" || !knownOp(m.Op) {
		s.rejected.Add(1)
		s.log.Debug("observer message ignored", zap.Uint64("observer", id), zap.ByteString("msg", raw))
		return
	}
	select {
	case s.commands <- m.Command:
	default:
		s.rejected.Add(1)
		s.log.Warn("observer command dropped: queue full", zap.Uint64("observer", id), zap.String("op", m.Op))
	}
}

func knownOp(op string) bool {
	switch op {
	case OpFocus, OpRemoveCurrent, OpRescue, OpActivateAll, OpSendAllSleeping, OpRepairRegion, OpRemoveRegion:
		return true
	}
	return false
}

// Subscribe wires the server to the fleet's notifications.
func (s *Server) Subscribe(bus *event.Bus) {
	event.Subscribe(bus, func(event.InstanceListChanged) { s.PublishList() })
	event.Subscribe(bus, func(ev event.FocusChanged) {
		s.publish(focusMsg{Type: "focus", Prev: ev.Prev, Next: ev.Next}, false)
	})
}

// PublishList sends the current instance list to every client. A list equal
// to the last one sent is skipped.
func (s *Server) PublishList() {
	insts := s.list()
	if insts == nil {
		insts = []Instance{}
	}
	s.publish(listMsg{Type: "instance_list", Instances: insts}, true)
}

func (s *Server) publish(v any, isList bool) {
	b, err := json.Marshal(v)
	if err != nil {
		s.log.Error("observer encode failed", zap.Error(err))
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if isList {
		if string(b) == string(s.last) {
			return
		}
		s.last = b
	}
	for _, c := range s.clients {
		select {
		case c.out <- b:
		default:
			c.dropped.Add(1)
		}
	}
}

// Clients returns the number of connected observers.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) join() (uint64, *client) {
	id := s.nextID.Add(1)
	c := &client{out: make(chan []byte, s.sendQueue)}
	s.mu.Lock()
	s.clients[id] = c
	if s.last != nil {
		c.out <- s.last
	}
	s.mu.Unlock()
	return id, c
}

func (s *Server) leave(id uint64) {
	s.mu.Lock()
	c := s.clients[id]
	delete(s.clients, id)
	s.mu.Unlock()
	if c != nil && c.dropped.Load() > 0 {
		s.log.Info("observer left with dropped messages",
			zap.Uint64("observer", id),
			zap.Int64("dropped", c.dropped.Load()),
		)
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !s.allowRemote && !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		id, c := s.join()
		defer s.leave(id)
		s.log.Debug("observer joined", zap.Uint64("observer", id), zap.String("ip", r.RemoteAddr))

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		writeErr := make(chan error, 1)
		go func() {
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b := <-c.out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						writeErr <- err
						return
					}
				}
			}
		}()

		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			typ, b, err := conn.ReadMessage()
			if err != nil {
				break
			}
			if typ == websocket.TextMessage {
				s.enqueue(id, b)
			}
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// ListenAndServe serves the websocket endpoint at path until Shutdown.
func (s *Server) ListenAndServe(addr, path string) error {
	mux := http.NewServeMux()
	mux.HandleFunc(path, s.WSHandler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	s.mu.Lock()
	s.httpSrv = srv
	s.mu.Unlock()
	s.log.Info("observer listening", zap.String("addr", addr), zap.String("path", path))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpSrv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
