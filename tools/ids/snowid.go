// Package ids issues connection ids. An id packs milliseconds since Epoch,
// the relay node and a per-millisecond sequence, so ids from different nodes
// sharing one bus never collide and sort by connect time.
package ids

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	nodeBits = 10
	seqBits  = 12

	MaxNode = 1<<nodeBits - 1
	maxSeq  = 1<<seqBits - 1
)

// Epoch is the zero point of the time part.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type Generator struct {
	node int64

	mu     sync.Mutex
	lastMS int64
	seq    int64
	now    func() time.Time
}

func NewGenerator(node int64) (*Generator, error) {
	if node < 0 || node > MaxNode {
		return nil, fmt.Errorf("ids: node %d out of range 0..%d", node, MaxNode)
	}
	return &Generator{node: node, now: time.Now}, nil
}

func (g *Generator) Node() int64 { return g.node }

// Next returns a new id. It waits out a backwards clock step or an exhausted
// millisecond rather than reuse a sequence.
func (g *Generator) Next() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := g.now().Sub(Epoch).Milliseconds()
	for ms < g.lastMS {
		time.Sleep(time.Duration(g.lastMS-ms) * time.Millisecond)
		ms = g.now().Sub(Epoch).Milliseconds()
	}
	if ms == g.lastMS {
		g.seq = (g.seq + 1) & maxSeq
		if g.seq == 0 {
			for ms <= g.lastMS {
				ms = g.now().Sub(Epoch).Milliseconds()
			}
		}
	} else {
		g.seq = 0
	}
	g.lastMS = ms
	return ms<<(nodeBits+seqBits) | g.node<<seqBits | g.seq
}

// ConnID is Next rendered for logs: "<node>-<base36 id>".
func (g *Generator) ConnID() string {
	return strconv.FormatInt(g.node, 10) + "-" + strconv.FormatInt(g.Next(), 36)
}

// ParseConnID reverses ConnID.
func ParseConnID(s string) (node int64, at time.Time, err error) {
	n, raw, ok := strings.Cut(s, "-")
	if !ok {
		return 0, time.Time{}, fmt.Errorf("ids: malformed conn id %q", s)
	}
	id, err := strconv.ParseInt(raw, 36, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("ids: conn id %q: %w", s, err)
	}
	node = id >> seqBits & MaxNode
	if prefix, err := strconv.ParseInt(n, 10, 64); err != nil || prefix != node {
		return 0, time.Time{}, fmt.Errorf("ids: conn id %q: node prefix does not match", s)
	}
	return node, Epoch.Add(time.Duration(id>>(nodeBits+seqBits)) * time.Millisecond), nil
}
