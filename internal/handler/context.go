package handler

import (
	"go.uber.org/zap"

	"github.com/simfleet/server/internal/config"
	"github.com/simfleet/server/internal/fleet"
	"github.com/simfleet/server/internal/net"
	"github.com/simfleet/server/internal/net/packet"
)

// UIDBase offsets session ids into participant ids so they never collide
// with the server's own id.
const UIDBase int32 = 1000

// Deps holds shared dependencies injected into all packet handlers.
type Deps struct {
	Config   *config.Config
	Log      *zap.Logger
	Fleet    *fleet.Factory
	Sessions *net.SessionStore
}

// LocalID is the participant id this server's own streams are published
// under.
func (d *Deps) LocalID() int32 { return int32(d.Config.Server.ID) }

// RegisterAll registers all packet handlers into the registry.
func RegisterAll(reg *packet.Registry, deps *Deps) {
	reg.Register(packet.C_OPCODE_HELLO,
		[]packet.SessionState{packet.StateHandshake},
		func(sess any, r *packet.Reader) {
			HandleHello(sess.(*net.Session), r, deps)
		},
	)

	authStates := []packet.SessionState{packet.StateAuthenticated}

	reg.Register(packet.C_OPCODE_STREAM_REGISTER, authStates,
		func(sess any, r *packet.Reader) {
			HandleStreamRegister(sess.(*net.Session), r, deps)
		},
	)
	reg.Register(packet.C_OPCODE_STREAM_DELETE, authStates,
		func(sess any, r *packet.Reader) {
			HandleStreamDelete(sess.(*net.Session), r, deps)
		},
	)
	reg.Register(packet.C_OPCODE_STREAM_DATA, authStates,
		func(sess any, r *packet.Reader) {
			HandleStreamData(sess.(*net.Session), r, deps)
		},
	)
	reg.Register(packet.C_OPCODE_USER_ATTRIBUTES, authStates,
		func(sess any, r *packet.Reader) {
			HandleUserAttributes(sess.(*net.Session), r, deps)
		},
	)
	reg.Register(packet.C_OPCODE_QUIT,
		[]packet.SessionState{packet.StateHandshake, packet.StateAuthenticated},
		func(sess any, r *packet.Reader) {
			HandleQuit(sess.(*net.Session), r, deps)
		},
	)
}
