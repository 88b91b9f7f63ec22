package cluster

import (
	"strings"

	"tessera/internal/cql"
	"tessera/internal/gossip"
	"tessera/internal/logging"
	"tessera/internal/peerwire"
	"tessera/internal/ring"
	"tessera/internal/table"
)

// reassignData runs after gossip detects new nodes. Schema statements are
// forwarded first so the newcomers can hold rows, then every partition this
// node no longer replicates is copied to each newly detected replica that
// should own it and dropped locally.
func (n *Node) reassignData(newNodes []gossip.Entry) {
	logging.Info("[%s] new node detected, reassigning data", n.cfg.ID)

	n.forwardSchema(newNodes)

	live := n.gossip.LiveIDs()

	type outgoing struct {
		qualifiedName string
		partitionKeys []string
	}

	n.dataMu.RLock()
	snapshots := make(map[string]*table.Table, len(n.data))
	for name, enc := range n.data {
		t, err := enc.Snapshot()
		if err != nil {
			logging.Error("[%s] reassign: decoding %s: %v", n.cfg.ID, name, err)
			continue
		}
		snapshots[name] = t
	}
	n.dataMu.RUnlock()

	var toDrop []outgoing
	for name, t := range snapshots {
		keyspace := t.KeyspaceName()
		repl, ok := n.replication(keyspace)
		if !ok {
			continue
		}
		for _, partitionKeys := range t.PartitionKeys() {
			replicas := repl.ReplicaNodes(partitionKeys, live)
			if containsString(replicas, n.cfg.ID) {
				continue
			}
			// Ownership moved away: copy each row to every newly
			// detected replica that should hold the partition.
			for _, row := range t.RowsInPartition(partitionKeys) {
				statement := cql.FormatInsert(tableNameOnly(t.Name), row)
				msg := peerwire.NewQuery(peerwire.QueryInsert, statement, keyspace)
				for _, entry := range newNodes {
					if !containsString(replicas, entry.NodeID) {
						continue
					}
					if _, err := n.sendMessage(peerAddress(entry), msg); err != nil {
						logging.Warn("[%s] reassigning row to %s failed: %v", n.cfg.ID, entry.NodeID, err)
					} else {
						logging.Info("[%s] data reassigned to %s", n.cfg.ID, entry.NodeID)
					}
				}
			}
			toDrop = append(toDrop, outgoing{qualifiedName: name, partitionKeys: partitionKeys})
		}
	}

	if len(toDrop) == 0 {
		return
	}
	n.dataMu.Lock()
	defer n.dataMu.Unlock()
	for _, drop := range toDrop {
		enc, ok := n.data[drop.qualifiedName]
		if !ok {
			continue
		}
		if err := enc.DeletePartition(drop.partitionKeys); err != nil {
			logging.Debug("[%s] partition already dropped: %v", n.cfg.ID, err)
		}
	}
}

// forwardSchema sends CREATE KEYSPACE and CREATE TABLE statements to each
// new node so the schema exists before rows arrive.
func (n *Node) forwardSchema(newNodes []gossip.Entry) {
	n.ksMu.RLock()
	keyspaces := make(map[string]ring.Replication, len(n.keyspaces))
	for name, repl := range n.keyspaces {
		keyspaces[name] = repl
	}
	n.ksMu.RUnlock()

	n.dataMu.RLock()
	tables := make([]*table.Table, 0, len(n.data))
	for _, enc := range n.data {
		if t, err := enc.Snapshot(); err == nil {
			tables = append(tables, t)
		}
	}
	n.dataMu.RUnlock()

	for name, repl := range keyspaces {
		statement := cql.FormatCreateKeyspace(name, string(repl.Strategy), repl.Factor)
		msg := peerwire.NewQuery(peerwire.QueryCreateKeyspace, statement, "")
		for _, entry := range newNodes {
			if _, err := n.sendMessage(peerAddress(entry), msg); err != nil {
				logging.Warn("[%s] forwarding keyspace %s to %s: %v", n.cfg.ID, name, entry.NodeID, err)
			}
		}
	}
	for _, t := range tables {
		statement := cql.FormatCreateTable(t)
		msg := peerwire.NewQuery(peerwire.QueryCreateTable, statement, t.KeyspaceName())
		for _, entry := range newNodes {
			if _, err := n.sendMessage(peerAddress(entry), msg); err != nil {
				logging.Warn("[%s] forwarding table %s to %s: %v", n.cfg.ID, t.Name, entry.NodeID, err)
			}
		}
	}
}

func tableNameOnly(qualifiedName string) string {
	if _, name, ok := strings.Cut(qualifiedName, "."); ok {
		return name
	}
	return qualifiedName
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
