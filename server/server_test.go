package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/krantius/raftcore/kv"
	"github.com/krantius/raftcore/raft"
	"github.com/krantius/raftcore/storage"
	"github.com/krantius/raftcore/transport"
)

const testTick = 2 * time.Millisecond

type testNode struct {
	id     raft.ServerID
	srv    *Server
	store  *kv.MapStore
	stor   storage.Storage
	http   *httptest.Server
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func testLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetLevel(logrus.WarnLevel)
	return l
}

func startNode(t *testing.T, net *transport.Network, id raft.ServerID, members []raft.ServerID, stor storage.Storage, seed int64) *testNode {
	t.Helper()

	var peers []raft.ServerID
	for _, m := range members {
		if m != id {
			peers = append(peers, m)
		}
	}

	store := kv.NewMapStore()
	srv, err := New(Config{
		Raft: raft.Config{
			ID:             id,
			Peers:          peers,
			ElectionTicks:  10,
			HeartbeatTicks: 2,
			Rand:           rand.New(rand.NewSource(seed)),
		},
		TickInterval: testTick,
		Storage:      stor,
		Store:        store,
		Logger:       testLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	n := &testNode{id: id, srv: srv, store: store, stor: stor, cancel: cancel, done: make(chan struct{})}
	tr := net.Join(id, srv.Deliver)
	go func() {
		srv.Run(ctx, tr)
		tr.Close()
		close(n.done)
	}()
	n.http = httptest.NewServer(srv.Router())

	t.Cleanup(n.stop)
	return n
}

func (n *testNode) stop() {
	n.once.Do(func() {
		n.cancel()
		<-n.done
		n.http.Close()
	})
}

func startCluster(t *testing.T, size int) ([]*testNode, *transport.Network) {
	t.Helper()
	return startClusterWith(t, size, func(raft.ServerID) storage.Storage { return storage.NewMemoryStorage() })
}

func startClusterWith(t *testing.T, size int, stor func(raft.ServerID) storage.Storage) ([]*testNode, *transport.Network) {
	t.Helper()
	net := transport.NewNetwork()
	var ids []raft.ServerID
	for i := 1; i <= size; i++ {
		ids = append(ids, raft.ServerID(fmt.Sprintf("n%d", i)))
	}
	nodes := make([]*testNode, size)
	for i, id := range ids {
		nodes[i] = startNode(t, net, id, ids, stor(id), int64(i+1))
	}
	return nodes, net
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitLeader(t *testing.T, nodes []*testNode) *testNode {
	t.Helper()
	var lead *testNode
	eventually(t, "a leader", func() bool {
		for _, n := range nodes {
			st, err := n.srv.Status(context.Background())
			if err == nil && st.State == raft.Leader {
				lead = n
				return true
			}
		}
		return false
	})
	return lead
}

func request(t *testing.T, method, url, body string) (int, string) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	b, _ := io.ReadAll(res.Body)
	return res.StatusCode, string(b)
}

func TestSingleNodeWriteAndRead(t *testing.T) {
	nodes, _ := startCluster(t, 1)
	n := waitLeader(t, nodes)

	if code, body := request(t, "PUT", n.http.URL+"/api/kv/greeting", "hello"); code != http.StatusNoContent {
		t.Fatalf("PUT = %d %s", code, body)
	}
	if code, body := request(t, "GET", n.http.URL+"/api/kv/greeting", ""); code != http.StatusOK || body != "hello" {
		t.Errorf("GET = %d %q", code, body)
	}

	if code, _ := request(t, "DELETE", n.http.URL+"/api/kv/greeting", ""); code != http.StatusNoContent {
		t.Fatalf("DELETE = %d", code)
	}
	if code, _ := request(t, "GET", n.http.URL+"/api/kv/greeting", ""); code != http.StatusNotFound {
		t.Errorf("GET after delete = %d", code)
	}
}

func TestStatusEndpoint(t *testing.T) {
	nodes, _ := startCluster(t, 1)
	n := waitLeader(t, nodes)

	code, body := request(t, "GET", n.http.URL+"/api/status", "")
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	var st raft.Status
	if err := json.Unmarshal([]byte(body), &st); err != nil {
		t.Fatal(err)
	}
	if st.ID != n.id || st.State != raft.Leader || st.Term == 0 {
		t.Errorf("status = %+v", st)
	}
}

func TestClusterReplicatesWrites(t *testing.T) {
	nodes, _ := startCluster(t, 3)
	lead := waitLeader(t, nodes)

	for i := 0; i < 5; i++ {
		key := fmt.Sprintf("k%d", i)
		if code, body := request(t, "PUT", lead.http.URL+"/api/kv/"+key, key); code != http.StatusNoContent {
			t.Fatalf("PUT %s = %d %s", key, code, body)
		}
	}

	for _, n := range nodes {
		n := n
		eventually(t, fmt.Sprintf("%s to apply", n.id), func() bool { return n.store.Len() == 5 })
	}
}

func TestFollowerRedirects(t *testing.T) {
	nodes, _ := startCluster(t, 3)
	lead := waitLeader(t, nodes)

	var follower *testNode
	eventually(t, "a follower that knows the leader", func() bool {
		for _, n := range nodes {
			st, _ := n.srv.Status(context.Background())
			if n != lead && st.Leader == lead.id {
				follower = n
				return true
			}
		}
		return false
	})

	code, body := request(t, "PUT", follower.http.URL+"/api/kv/a", "1")
	if code != http.StatusMisdirectedRequest {
		t.Fatalf("PUT on follower = %d %s", code, body)
	}
	var res errorResponse
	if err := json.Unmarshal([]byte(body), &res); err != nil {
		t.Fatal(err)
	}
	if res.Leader != lead.id {
		t.Errorf("redirect to %q, expected %q", res.Leader, lead.id)
	}
}

func TestWriteWithoutQuorumTimesOut(t *testing.T) {
	nodes, net := startCluster(t, 3)
	lead := waitLeader(t, nodes)

	for _, n := range nodes {
		if n != lead {
			net.Disconnect(n.id)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := lead.srv.Write(ctx, kv.NewCommand(kv.Set, "a", []byte("1")))
	var nle *raft.NotLeaderError
	if !errors.Is(err, context.DeadlineExceeded) && !errors.As(err, &nle) {
		t.Fatalf("expected timeout or redirect, got %v", err)
	}
	if _, ok := lead.store.Get("a"); ok {
		t.Error("write applied without a majority")
	}
}

func TestRestartReplaysLog(t *testing.T) {
	net := transport.NewNetwork()
	stor, err := storage.NewFileStorage(t.TempDir(), testLogger())
	if err != nil {
		t.Fatal(err)
	}
	members := []raft.ServerID{"solo"}

	n := startNode(t, net, "solo", members, stor, 1)
	waitLeader(t, []*testNode{n})
	if err := n.srv.Write(context.Background(), kv.NewCommand(kv.Set, "a", []byte("1"))); err != nil {
		t.Fatal(err)
	}
	n.stop()

	restarted := startNode(t, net, "solo", members, stor, 2)
	waitLeader(t, []*testNode{restarted})

	st, _ := restarted.srv.Status(context.Background())
	if st.Term < 2 || st.LastIndex != 1 {
		t.Errorf("restored status = %+v", st)
	}

	// Entries from the previous term commit with the first entry of the new one.
	if err := restarted.srv.Write(context.Background(), kv.NewCommand(kv.Set, "b", []byte("2"))); err != nil {
		t.Fatal(err)
	}
	for _, k := range []string{"a", "b"} {
		if _, ok := restarted.store.Get(k); !ok {
			t.Errorf("%s missing after restart", k)
		}
	}
}

func TestCallsAfterStop(t *testing.T) {
	nodes, _ := startCluster(t, 1)
	n := nodes[0]
	n.stop()

	if _, err := n.srv.Status(context.Background()); !errors.Is(err, ErrStopped) {
		t.Errorf("expected ErrStopped, got %v", err)
	}
	if err := n.srv.Write(context.Background(), kv.NewCommand(kv.Set, "a", nil)); !errors.Is(err, ErrStopped) {
		t.Errorf("expected ErrStopped, got %v", err)
	}
}
