package handler

import (
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/simfleet/server/internal/net"
	"github.com/simfleet/server/internal/net/packet"
	"github.com/simfleet/server/internal/vehicle"
)

// HandleHello processes C_HELLO.
// Format: [opcode][name\0][password\0][D protocol version].
// On success the peer gets S_WELCOME and one S_STREAM_REGISTER per local
// instance.
func HandleHello(sess *net.Session, r *packet.Reader, deps *Deps) {
	name := r.ReadS()
	password := r.ReadS()
	version := r.ReadD()

	if version != packet.ProtocolVersion {
		deps.Log.Info("peer protocol mismatch",
			zap.Uint64("session", sess.ID),
			zap.Int32("version", version),
		)
		sendReject(sess, "protocol version mismatch")
		sess.Close()
		return
	}
	if hash := deps.Config.Network.PasswordHash; hash != "" {
		if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
			deps.Log.Info("peer password rejected", zap.Uint64("session", sess.ID), zap.String("ip", sess.IP))
			sendReject(sess, "wrong password")
			sess.Close()
			return
		}
	}

	sess.PeerName = name
	sess.UID = UIDBase + int32(sess.ID)
	sess.SetState(packet.StateAuthenticated)

	w := packet.NewWriterWithOpcode(packet.S_OPCODE_WELCOME)
	w.WriteD(sess.UID)
	w.WriteD(deps.LocalID())
	w.WriteS(deps.Config.Server.Name)
	sess.Send(w.Bytes())

	announced := 0
	deps.Fleet.Registry().Each(func(v *vehicle.Instance) {
		if v.Networked || v.SourceID != vehicle.LocalOrigin {
			return
		}
		sess.Send(registrationPacket(deps.LocalID(), v.StreamID, v.Asset, v.Config, 0))
		announced++
	})

	deps.Log.Info("peer joined",
		zap.Uint64("session", sess.ID),
		zap.String("name", name),
		zap.Int32("uid", sess.UID),
		zap.Int("announced", announced),
	)
}

func sendReject(sess *net.Session, reason string) {
	w := packet.NewWriterWithOpcode(packet.S_OPCODE_REJECT)
	w.WriteS(reason)
	sess.Send(w.Bytes())
	sess.FlushOutput()
}

// registrationPacket builds S_STREAM_REGISTER.
// Format: [D origin][D stream][asset\0][C count][count × config\0][DU flags].
func registrationPacket(origin, stream int32, asset string, config []string, flags uint32) []byte {
	w := packet.NewWriterWithOpcode(packet.S_OPCODE_STREAM_REGISTER)
	w.WriteD(origin)
	w.WriteD(stream)
	w.WriteS(asset)
	w.WriteStrings(config)
	w.WriteDU(flags)
	return w.Bytes()
}
