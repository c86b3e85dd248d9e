package transport

import (
	"fmt"
	"net"
	"net/rpc"

	"github.com/sirupsen/logrus"

	"github.com/krantius/raftcore/raft"
)

// rpcServer is registered as "Raft" on the net/rpc server.
type rpcServer struct {
	id      raft.ServerID
	handler Handler
	logger  logrus.FieldLogger
}

// Deliver is the one-way RPC. The reply carries nothing: responses travel as
// their own Deliver calls in the opposite direction.
func (r *rpcServer) Deliver(env raft.Envelope, ack *bool) error {
	if env.To != r.id {
		return fmt.Errorf("envelope for %q delivered to %q", env.To, r.id)
	}
	if env.Msg == nil {
		return fmt.Errorf("empty envelope from %q", env.From)
	}
	r.handler(env)
	*ack = true
	return nil
}

func (r *rpcServer) serve(l net.Listener) {
	s := rpc.NewServer()
	if err := s.RegisterName("Raft", r); err != nil {
		r.logger.WithError(err).Error("Register rpc server")
		return
	}

	r.logger.WithField("addr", l.Addr().String()).Info("Listening for raft rpc")

	// Accept returns once the listener is closed.
	s.Accept(l)

	r.logger.Debug("Listen ending")
}
