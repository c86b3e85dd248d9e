// Package config loads a node's cluster file and environment overrides.
package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/krantius/raftcore/raft"
)

const (
	DefaultTickMS   = 100
	DefaultHTTPAddr = ":8000"
	DefaultDataDir  = "data"
	DefaultLogLevel = "info"
)

type NodeConfig struct {
	ID   string `json:"id"`
	Addr string `json:"address"`
}

type Config struct {
	// ID is this node's id; it must appear in Nodes.
	ID    string       `json:"id"`
	Nodes []NodeConfig `json:"nodes"`

	DataDir        string `json:"data_dir"`
	TickMS         int    `json:"tick_ms"`
	ElectionTicks  int    `json:"election_ticks"`
	HeartbeatTicks int    `json:"heartbeat_ticks"`
	HTTPAddr       string `json:"http_addr"`
	LogLevel       string `json:"log_level"`
}

// Load reads the JSON file at path, applies environment overrides and
// defaults, and validates the result. An empty path starts from the
// environment alone.
func Load(path string) (*Config, error) {
	c := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, c); err != nil {
			return nil, fmt.Errorf("parse %s: %v: %w", path, err, raft.ErrInvalidConfig)
		}
	}

	if err := c.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	c.setDefaults()

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// applyEnv reads NODE_ID, NODE_PORT, NODE_PEERS, NODE_DATA_DIR and LOG_LEVEL.
// NODE_PEERS is a comma separated list of id=address pairs and replaces the
// other members from the file.
func (c *Config) applyEnv(getenv func(string) string) error {
	if id := getenv("NODE_ID"); id != "" {
		c.ID = id
	}

	if peers := getenv("NODE_PEERS"); peers != "" {
		self, _ := c.self()
		nodes := []NodeConfig{}
		if self.ID != "" {
			nodes = append(nodes, self)
		}
		for _, p := range strings.Split(peers, ",") {
			id, addr, ok := strings.Cut(strings.TrimSpace(p), "=")
			if !ok || id == "" || addr == "" {
				return fmt.Errorf("NODE_PEERS entry %q is not id=address: %w", p, raft.ErrInvalidConfig)
			}
			nodes = append(nodes, NodeConfig{ID: id, Addr: addr})
		}
		c.Nodes = nodes
	}

	if port := getenv("NODE_PORT"); port != "" {
		if _, err := strconv.Atoi(port); err != nil {
			return fmt.Errorf("NODE_PORT %q: %w", port, raft.ErrInvalidConfig)
		}
		addr := ":" + port
		if self, i := c.self(); i >= 0 {
			if host, _, err := net.SplitHostPort(self.Addr); err == nil {
				addr = net.JoinHostPort(host, port)
			}
			c.Nodes[i].Addr = addr
		} else if c.ID != "" {
			c.Nodes = append(c.Nodes, NodeConfig{ID: c.ID, Addr: addr})
		}
	}

	if dir := getenv("NODE_DATA_DIR"); dir != "" {
		c.DataDir = dir
	}
	if lvl := getenv("LOG_LEVEL"); lvl != "" {
		c.LogLevel = lvl
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.TickMS == 0 {
		c.TickMS = DefaultTickMS
	}
	if c.ElectionTicks == 0 {
		c.ElectionTicks = raft.DefaultElectionTicks
	}
	if c.HeartbeatTicks == 0 {
		c.HeartbeatTicks = raft.DefaultHeartbeatTicks
	}
	if c.HTTPAddr == "" {
		c.HTTPAddr = DefaultHTTPAddr
	}
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
}

func (c *Config) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("node id not set: %w", raft.ErrInvalidConfig)
	}
	if _, i := c.self(); i < 0 {
		return fmt.Errorf("node %q not in cluster: %w", c.ID, raft.ErrInvalidConfig)
	}

	seen := map[string]bool{}
	for _, n := range c.Nodes {
		if n.ID == "" || n.Addr == "" {
			return fmt.Errorf("node %+v missing id or address: %w", n, raft.ErrInvalidConfig)
		}
		if seen[n.ID] {
			return fmt.Errorf("duplicate node %q: %w", n.ID, raft.ErrInvalidConfig)
		}
		seen[n.ID] = true
	}

	if c.TickMS <= 0 {
		return fmt.Errorf("tick_ms %d: %w", c.TickMS, raft.ErrInvalidConfig)
	}
	if c.HeartbeatTicks <= 0 || c.HeartbeatTicks >= c.ElectionTicks {
		return fmt.Errorf("heartbeat_ticks %d must be in [1, election_ticks %d): %w", c.HeartbeatTicks, c.ElectionTicks, raft.ErrInvalidConfig)
	}
	return nil
}

func (c *Config) self() (NodeConfig, int) {
	for i, n := range c.Nodes {
		if n.ID == c.ID {
			return n, i
		}
	}
	return NodeConfig{}, -1
}

// ListenAddr is this node's rpc address.
func (c *Config) ListenAddr() string {
	n, _ := c.self()
	return n.Addr
}

// Peers maps every other member to its rpc address.
func (c *Config) Peers() map[raft.ServerID]string {
	out := make(map[raft.ServerID]string, len(c.Nodes))
	for _, n := range c.Nodes {
		if n.ID != c.ID {
			out[raft.ServerID(n.ID)] = n.Addr
		}
	}
	return out
}

func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.TickMS) * time.Millisecond
}

// Raft builds the core configuration. Storage state is filled in by the caller.
func (c *Config) Raft() raft.Config {
	rc := raft.Config{
		ID:             raft.ServerID(c.ID),
		ElectionTicks:  c.ElectionTicks,
		HeartbeatTicks: c.HeartbeatTicks,
	}
	for id := range c.Peers() {
		rc.Peers = append(rc.Peers, id)
	}
	return rc
}
