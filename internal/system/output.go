package system

import (
	"time"

	coresys "github.com/simfleet/server/internal/core/system"
	"github.com/simfleet/server/internal/net"
)

// OutputSystem hands every session's buffered packets to its writer
// goroutine. Phase 6 (Output).
type OutputSystem struct {
	store *net.SessionStore
}

func NewOutputSystem(store *net.SessionStore) *OutputSystem {
	return &OutputSystem{store: store}
}

func (s *OutputSystem) Phase() coresys.Phase { return coresys.PhaseOutput }

func (s *OutputSystem) Update(_ time.Duration) {
	s.store.ForEach(func(sess *net.Session) {
		sess.FlushOutput()
	})
}
