package packet

import (
	"fmt"

	"go.uber.org/zap"
)

// SessionState represents the session's current protocol phase.
type SessionState int

const (
	StateHandshake     SessionState = iota
	StateAuthenticated              // hello accepted, streams may flow
	StateDisconnecting
)

func (s SessionState) String() string {
	switch s {
	case StateHandshake:
		return "Handshake"
	case StateAuthenticated:
		return "Authenticated"
	case StateDisconnecting:
		return "Disconnecting"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// HandlerFunc is the callback signature for packet handlers.
// The session pointer is passed as an opaque interface to avoid import cycles.
type HandlerFunc func(sess any, r *Reader)

type handlerEntry struct {
	fn            HandlerFunc
	allowedStates map[SessionState]bool
}

// OpStats counts what happened to one opcode's packets.
type OpStats struct {
	Handled  uint64
	Rejected uint64 // wrong session state
	Panics   uint64
}

// Registry maps opcodes to handlers with state-based access control. It is
// used from the tick goroutine only.
type Registry struct {
	handlers map[byte]*handlerEntry
	stats    map[byte]*OpStats
	unknown  uint64
	log      *zap.Logger
}

func NewRegistry(log *zap.Logger) *Registry {
	return &Registry{
		handlers: make(map[byte]*handlerEntry),
		stats:    make(map[byte]*OpStats),
		log:      log,
	}
}

// Register maps an opcode to a handler, restricted to the given session states.
func (reg *Registry) Register(opcode byte, states []SessionState, fn HandlerFunc) {
	allowed := make(map[SessionState]bool, len(states))
	for _, s := range states {
		allowed[s] = true
	}
	reg.handlers[opcode] = &handlerEntry{
		fn:            fn,
		allowedStates: allowed,
	}
	reg.stats[opcode] = &OpStats{}
}

// Stats returns a copy of the counters of a registered opcode.
func (reg *Registry) Stats(opcode byte) (OpStats, bool) {
	st, ok := reg.stats[opcode]
	if !ok {
		return OpStats{}, false
	}
	return *st, true
}

// Unknown returns how many packets carried an unregistered opcode.
func (reg *Registry) Unknown() uint64 { return reg.unknown }

// Dispatch finds the handler for the opcode in data[0], validates the session
// state, and calls the handler. Unknown opcodes are ignored; a disallowed
// state or a handler panic is returned as an error.
func (reg *Registry) Dispatch(sess any, state SessionState, data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("empty packet")
	}
	opcode := data[0]
	reg.log.Debug("packet received",
		zap.String("opcode", OpcodeName(opcode)),
		zap.Int("size", len(data)),
		zap.String("state", state.String()),
	)

	entry, ok := reg.handlers[opcode]
	if !ok {
		reg.unknown++
		reg.log.Debug("unknown opcode", zap.Uint8("opcode", opcode), zap.String("state", state.String()))
		return nil
	}

	st := reg.stats[opcode]
	if !entry.allowedStates[state] {
		st.Rejected++
		reg.log.Warn("opcode not allowed in state",
			zap.String("opcode", OpcodeName(opcode)),
			zap.String("state", state.String()),
		)
		return fmt.Errorf("%s not allowed in state %s", OpcodeName(opcode), state)
	}

	r := NewReader(data)
	if err := reg.safeCall(entry.fn, sess, r, opcode); err != nil {
		st.Panics++
		return err
	}
	st.Handled++
	return nil
}

// safeCall executes a handler with panic recovery so a single bad packet
// cannot take down the tick loop.
func (reg *Registry) safeCall(fn HandlerFunc, sess any, r *Reader, opcode byte) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			reg.log.Error("handler panic recovered",
				zap.String("opcode", OpcodeName(opcode)),
				zap.Any("panic", rec),
			)
			err = fmt.Errorf("handler panic for %s: %v", OpcodeName(opcode), rec)
		}
	}()
	fn(sess, r)
	return nil
}
