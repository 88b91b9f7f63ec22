package cluster

import (
	"net"

	"tessera/internal/gossip"
	"tessera/internal/logging"
	"tessera/internal/peerwire"
)

// storeHint buffers a write destined for an unreachable peer, to be
// replayed when gossip reports the peer live again. Reads are never hinted.
func (n *Node) storeHint(nodeID string, msg *peerwire.Message) {
	n.hintsMu.Lock()
	n.hints[nodeID] = append(n.hints[nodeID], msg)
	total := 0
	for _, queue := range n.hints {
		total += len(queue)
	}
	n.hintsMu.Unlock()

	n.metrics.SetHintsQueued(total)
}

// hintsFor returns a copy of the queue for one peer; used by tests.
func (n *Node) hintsFor(nodeID string) []*peerwire.Message {
	n.hintsMu.RLock()
	defer n.hintsMu.RUnlock()
	return append([]*peerwire.Message(nil), n.hints[nodeID]...)
}

// replayHints drains the queue for a peer that came back, in order.
// Successfully delivered hints are removed; failures stay queued for the
// next revival. The hints lock is held across the drain so a queue is never
// replayed twice concurrently.
func (n *Node) replayHints(peer gossip.Entry) {
	n.hintsMu.Lock()
	defer n.hintsMu.Unlock()

	queue := n.hints[peer.NodeID]
	if len(queue) == 0 {
		return
	}
	logging.Info("[%s] node %s is live again, replaying %d hints", n.cfg.ID, peer.NodeID, len(queue))

	var remaining []*peerwire.Message
	for _, hint := range queue {
		if err := n.deliverHint(peerAddress(peer), hint); err != nil {
			logging.Warn("[%s] hint replay to %s failed: %v", n.cfg.ID, peer.NodeID, err)
			remaining = append(remaining, hint)
			continue
		}
	}
	if len(remaining) == 0 {
		delete(n.hints, peer.NodeID)
	} else {
		n.hints[peer.NodeID] = remaining
	}

	total := 0
	for _, q := range n.hints {
		total += len(q)
	}
	n.metrics.SetHintsQueued(total)
}

func (n *Node) deliverHint(addr string, hint *peerwire.Message) error {
	conn, err := net.DialTimeout("tcp", addr, n.cfg.DialTimeout)
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := hint.WriteTo(conn); err != nil {
		return err
	}
	// The reply is best-effort; a written hint counts as delivered.
	_, _ = peerwire.Read(conn)
	return nil
}
