package cluster

import (
	"fmt"
	"net"

	"tessera/internal/gossip"
	"tessera/internal/logging"
	"tessera/internal/peerwire"
)

// Bootstrap introduces this node to the cluster through a seed peer: it
// sends the new-node gossip handshake with the local table and merges the
// seed's reply before the periodic ticker takes over.
func (n *Node) Bootstrap(seedAddr string) error {
	body, err := gossip.Encode(n.gossip.Snapshot())
	if err != nil {
		return err
	}

	conn, err := net.DialTimeout("tcp", seedAddr, n.cfg.DialTimeout)
	if err != nil {
		return fmt.Errorf("connecting to seed %s: %w", seedAddr, err)
	}
	defer conn.Close()

	msg := peerwire.NewGossip(peerwire.GossipNewNode, body)
	if err := msg.WriteTo(conn); err != nil {
		return err
	}

	reply, err := peerwire.Read(conn)
	if err != nil {
		return fmt.Errorf("reading seed reply: %w", err)
	}
	if reply.Kind != peerwire.KindResponse || reply.Opcode != peerwire.ResponseOK {
		return fmt.Errorf("seed rejected the handshake: %s", reply.Body)
	}

	entries, err := gossip.Decode(reply.Body)
	if err != nil {
		return err
	}
	n.mergeGossip(entries)
	logging.Info("[%s] bootstrapped from %s, %d nodes known", n.cfg.ID, seedAddr, n.gossip.Len())
	return nil
}
