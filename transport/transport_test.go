package transport

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/krantius/raftcore/raft"
)

func testLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetLevel(logrus.DebugLevel)
	return l
}

func collect() (Handler, chan raft.Envelope) {
	ch := make(chan raft.Envelope, 16)
	return func(env raft.Envelope) { ch <- env }, ch
}

func receive(t *testing.T, ch chan raft.Envelope) raft.Envelope {
	t.Helper()
	select {
	case env := <-ch:
		return env
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for envelope")
		return raft.Envelope{}
	}
}

func TestRPCTransportDelivers(t *testing.T) {
	hb, inbox := collect()
	b, err := NewRPCTransport("b", "127.0.0.1:0", nil, hb, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	a, err := NewRPCTransport("a", "127.0.0.1:0", map[raft.ServerID]string{"b": b.Addr().String()}, func(raft.Envelope) {}, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	msgs := []raft.Message{
		raft.RequestVoteArgs{Term: 2, CandidateID: "a", LastLogIndex: 3, LastLogTerm: 1},
		raft.AppendEntriesArgs{Term: 2, LeaderID: "a", PrevLogIndex: 1, PrevLogTerm: 1, Entries: []raft.LogEntry{{Term: 2, Index: 2, Data: []byte("x")}}, LeaderCommit: 1},
		raft.AppendEntriesResponse{Term: 2, ConflictTerm: 1, ConflictIndex: 4},
		raft.RequestVoteResponse{Term: 2, VoteGranted: true},
	}

	for _, m := range msgs {
		if err := a.Send(raft.Envelope{From: "a", To: "b", Msg: m}); err != nil {
			t.Fatal(err)
		}
	}

	for _, m := range msgs {
		got := receive(t, inbox)
		expected := raft.Envelope{From: "a", To: "b", Msg: m}
		if !reflect.DeepEqual(got, expected) {
			t.Errorf("Envelope incorrect.\nExpected = %v\nGot=%v", expected, got)
		}
	}
}

func TestRPCTransportUnknownPeer(t *testing.T) {
	a, err := NewRPCTransport("a", "127.0.0.1:0", nil, func(raft.Envelope) {}, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	err = a.Send(raft.Envelope{From: "a", To: "z", Msg: raft.RequestVoteResponse{Term: 1}})
	if !errors.Is(err, ErrUnknownPeer) {
		t.Errorf("expected ErrUnknownPeer, got %v", err)
	}

	a.Close()
	if err := a.Send(raft.Envelope{From: "a", To: "z"}); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestRPCServerRejectsMisaddressed(t *testing.T) {
	s := &rpcServer{id: "b", handler: func(raft.Envelope) { t.Error("handler called") }, logger: testLogger()}

	var ack bool
	if err := s.Deliver(raft.Envelope{From: "a", To: "c", Msg: raft.RequestVoteResponse{Term: 1}}, &ack); err == nil {
		t.Error("expected error for envelope addressed elsewhere")
	}
	if err := s.Deliver(raft.Envelope{From: "a", To: "b"}, &ack); err == nil {
		t.Error("expected error for empty envelope")
	}
}

func TestMemoryTransport(t *testing.T) {
	n := NewNetwork()
	hb, inbox := collect()
	a := n.Join("a", func(raft.Envelope) {})
	n.Join("b", hb)

	env := raft.Envelope{From: "a", To: "b", Msg: raft.RequestVoteResponse{Term: 1}}
	if err := a.Send(env); err != nil {
		t.Fatal(err)
	}
	if got := receive(t, inbox); !reflect.DeepEqual(got, env) {
		t.Errorf("got %v", got)
	}

	n.Disconnect("b")
	if err := a.Send(env); err != nil {
		t.Fatal(err)
	}
	select {
	case got := <-inbox:
		t.Errorf("delivered %v across a partition", got)
	default:
	}

	n.Reconnect("b")
	a.Send(env)
	receive(t, inbox)

	if err := a.Send(raft.Envelope{From: "a", To: "z"}); !errors.Is(err, ErrUnknownPeer) {
		t.Errorf("expected ErrUnknownPeer, got %v", err)
	}

	a.Close()
	if err := a.Send(env); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}
