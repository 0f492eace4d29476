// internal/blockchain/solbc/pool.go
package solbc

import (
	"errors"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go/rpc"
)

// ErrNoActiveNodes is returned when every RPC node is marked inactive.
var ErrNoActiveNodes = errors.New("no active RPC nodes available")

// node is a single RPC endpoint with its health bookkeeping.
type node struct {
	client *rpc.Client
	url    string

	mu        sync.RWMutex
	active    bool
	successes uint64
	failures  uint64
	latency   time.Duration
}

func (n *node) isActive() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.active
}

func (n *node) setActive(state bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.active = state
}

func (n *node) record(success bool, latency time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if success {
		n.successes++
	} else {
		n.failures++
	}
	if n.latency == 0 {
		n.latency = latency
		return
	}
	n.latency = (n.latency + latency) / 2
}

// NodeStats is a snapshot of one node's counters.
type NodeStats struct {
	URL        string
	Active     bool
	Successes  uint64
	Failures   uint64
	AvgLatency time.Duration
}

// pool rotates over nodes, skipping inactive ones.
type pool struct {
	mu    sync.Mutex
	nodes []*node
	next  int
}

func newPool(urls []string) *pool {
	p := &pool{nodes: make([]*node, 0, len(urls))}
	for _, u := range urls {
		p.nodes = append(p.nodes, &node{client: rpc.New(u), url: u, active: true})
	}
	return p
}

// pick returns the next active node. When all nodes are inactive they are
// reactivated once so a transient outage does not wedge the client.
func (p *pool) pick() (*node, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.nodes) == 0 {
		return nil, ErrNoActiveNodes
	}

	for i := 0; i < len(p.nodes); i++ {
		n := p.nodes[p.next]
		p.next = (p.next + 1) % len(p.nodes)
		if n.isActive() {
			return n, nil
		}
	}

	for _, n := range p.nodes {
		n.setActive(true)
	}
	n := p.nodes[p.next]
	p.next = (p.next + 1) % len(p.nodes)
	return n, nil
}

func (p *pool) stats() []NodeStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]NodeStats, 0, len(p.nodes))
	for _, n := range p.nodes {
		n.mu.RLock()
		out = append(out, NodeStats{
			URL:        n.url,
			Active:     n.active,
			Successes:  n.successes,
			Failures:   n.failures,
			AvgLatency: n.latency,
		})
		n.mu.RUnlock()
	}
	return out
}
