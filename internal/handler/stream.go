package handler

import (
	"go.uber.org/zap"

	"github.com/simfleet/server/internal/fleet"
	"github.com/simfleet/server/internal/net"
	"github.com/simfleet/server/internal/net/packet"
	"github.com/simfleet/server/internal/vehicle"
)

// ownOrigin reports whether the peer speaks for origin. Peers may only
// register, delete or feed their own streams.
func ownOrigin(sess *net.Session, origin int32, deps *Deps) bool {
	if origin == sess.UID {
		return true
	}
	deps.Log.Warn("peer used foreign origin",
		zap.Uint64("session", sess.ID),
		zap.Int32("uid", sess.UID),
		zap.Int32("origin", origin),
	)
	return false
}

// HandleStreamRegister processes C_STREAM_REGISTER.
// Format: [D origin][D stream][asset\0][C count][count × config\0][DU flags].
// The registration is applied at the next stream sync.
func HandleStreamRegister(sess *net.Session, r *packet.Reader, deps *Deps) {
	origin := r.ReadD()
	stream := r.ReadD()
	asset := r.ReadS()
	config := r.ReadStrings(fleet.MaxConfigStrings)
	flags := r.ReadDU()

	if !ownOrigin(sess, origin, deps) {
		return
	}
	if r.Truncated() || stream < 0 || asset == "" {
		deps.Log.Debug("malformed stream registration",
			zap.Uint64("session", sess.ID),
			zap.Int32("stream", stream),
		)
		return
	}
	deps.Fleet.QueueRegister(fleet.Registration{
		Origin: origin,
		Stream: stream,
		Asset:  asset,
		Config: config,
		Flags:  flags,
	})
}

// HandleStreamDelete processes C_STREAM_DELETE.
// Format: [D origin][D stream], stream -1 meaning every stream of origin.
func HandleStreamDelete(sess *net.Session, r *packet.Reader, deps *Deps) {
	origin := r.ReadD()
	stream := r.ReadD()
	if r.Truncated() || !ownOrigin(sess, origin, deps) {
		return
	}
	deps.Fleet.QueueDelete(fleet.Deletion{Origin: origin, Stream: stream})
}

// HandleStreamData processes C_STREAM_DATA.
// Format: [D origin][D stream][F time][F x][F y][F z][F vx][F vy][F vz][F heading].
func HandleStreamData(sess *net.Session, r *packet.Reader, deps *Deps) {
	s := vehicle.StreamState{
		Origin: r.ReadD(),
		Stream: r.ReadD(),
		Time:   r.ReadF(),
	}
	s.Position = r.ReadVec3()
	s.Velocity = r.ReadVec3()
	s.Heading = r.ReadF()

	if r.Truncated() || !ownOrigin(sess, s.Origin, deps) {
		return
	}
	v, ok := deps.Fleet.Resolve(s.Origin, s.Stream)
	if !ok {
		// Unusable, not yet synced, or already gone.
		return
	}
	if rr, ok := v.Body.(vehicle.RemoteReceiver); ok {
		rr.PushRemote(s)
	}
}

// HandleUserAttributes processes C_USER_ATTRIBUTES.
// Format: [D origin][D stream].
func HandleUserAttributes(sess *net.Session, r *packet.Reader, deps *Deps) {
	origin := r.ReadD()
	stream := r.ReadD()
	if r.Truncated() || !ownOrigin(sess, origin, deps) {
		return
	}
	deps.Fleet.NetUserAttributesChanged(origin, stream)
}

// HandleQuit processes C_QUIT. Cleanup happens in HandleDisconnect once the
// input system sees the closed session.
func HandleQuit(sess *net.Session, _ *packet.Reader, deps *Deps) {
	deps.Log.Info("peer quit", zap.Uint64("session", sess.ID), zap.String("name", sess.PeerName))
	sess.Close()
}

// HandleDisconnect drops every stream the peer registered.
func HandleDisconnect(sess *net.Session, deps *Deps) {
	if sess.UID == 0 {
		return
	}
	deps.Fleet.QueueDelete(fleet.Deletion{Origin: sess.UID, Stream: fleet.AllStreams})
	deps.Log.Info("peer left", zap.Uint64("session", sess.ID), zap.Int32("uid", sess.UID))
}
