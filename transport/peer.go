package transport

import (
	"net"
	"net/rpc"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/krantius/raftcore/raft"
)

const (
	dialTimeout  = 500 * time.Millisecond
	callTimeout  = time.Second
	peerQueueLen = 256
)

// peer owns the connection to one member and sends its queue in order.
type peer struct {
	id     raft.ServerID
	addr   string
	queue  chan raft.Envelope
	done   chan struct{}
	client *rpc.Client
	logger logrus.FieldLogger
}

func newPeer(id raft.ServerID, addr string, logger logrus.FieldLogger) *peer {
	p := &peer{
		id:     id,
		addr:   addr,
		queue:  make(chan raft.Envelope, peerQueueLen),
		done:   make(chan struct{}),
		logger: logger.WithFields(logrus.Fields{"peer": id, "addr": addr}),
	}
	go p.run()
	return p
}

func (p *peer) enqueue(env raft.Envelope) error {
	select {
	case p.queue <- env:
		return nil
	default:
		return ErrQueueFull
	}
}

func (p *peer) run() {
	defer p.disconnect()

	for {
		select {
		case env := <-p.queue:
			if err := p.deliver(env); err != nil {
				p.logger.WithError(err).WithField("msg", env.String()).Debug("Delivery failed")
				p.disconnect()
			}
		case <-p.done:
			return
		}
	}
}

func (p *peer) deliver(env raft.Envelope) error {
	if p.client == nil {
		conn, err := net.DialTimeout("tcp", p.addr, dialTimeout)
		if err != nil {
			return err
		}
		p.client = rpc.NewClient(conn)
	}

	var ack bool
	call := p.client.Go("Raft.Deliver", env, &ack, make(chan *rpc.Call, 1))
	select {
	case c := <-call.Done:
		return c.Error
	case <-time.After(callTimeout):
		return errCallTimeout
	case <-p.done:
		return ErrClosed
	}
}

func (p *peer) disconnect() {
	if p.client != nil {
		p.client.Close()
		p.client = nil
	}
}

func (p *peer) stop() {
	close(p.done)
}
