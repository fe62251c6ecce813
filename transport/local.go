package transport

import (
	"context"
	"sync"

	"accord"
)

// LocalNetwork is an in-process transport for tests and simulation: instead
// of marshaling onto a socket, it hands a Message straight to the target
// node's inbound queue. It has no teacher analogue — network/coordinator's
// Commu is TCP-only — but the spec calls for a substrate lighter than real
// sockets for exercising multi-node scenarios (spec §4.1 "Ambient
// Transport").
type LocalNetwork[K comparable] struct {
	mu     sync.RWMutex
	inbox  map[accord.NodeId]*accord.UnboundedChan[accord.Message[K]]
}

func NewLocalNetwork[K comparable]() *LocalNetwork[K] {
	return &LocalNetwork[K]{inbox: make(map[accord.NodeId]*accord.UnboundedChan[accord.Message[K]])}
}

// Register associates a node's inbound queue with its NodeId so other
// nodes' outbound sends can reach it.
func (n *LocalNetwork[K]) Register(id accord.NodeId, inbound *accord.UnboundedChan[accord.Message[K]]) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.inbox[id] = inbound
}

// Pump drains outbound and fans each message to its destination's inbound
// queue until outbound is closed or ctx is cancelled.
func (n *LocalNetwork[K]) Pump(ctx context.Context, outbound *accord.UnboundedChan[accord.Message[K]]) {
	for {
		msg, ok := outbound.Recv()
		if !ok {
			return
		}
		n.mu.RLock()
		dst, ok := n.inbox[msg.To.To]
		n.mu.RUnlock()
		if !ok {
			continue
		}
		dst.Send(msg)
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}
