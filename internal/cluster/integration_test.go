package cluster

import (
	"fmt"
	"net"
	"testing"
	"time"

	"tessera/internal/cql"
	"tessera/internal/gossip"
	"tessera/internal/ring"
	"tessera/internal/table"
	"tessera/pkg/client"
)

func freePort(t *testing.T) uint16 {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()
	return uint16(port)
}

func clusterConfig(t *testing.T, dir string, index int) Config {
	return Config{
		ID:             fmt.Sprintf("node-%d", index),
		IP:             "127.0.0.1",
		ClientPort:     freePort(t),
		PeerPort:       freePort(t),
		DataDir:        dir,
		DataKey:        testDataKey,
		GossipInterval: 200 * time.Millisecond,
		FlushInterval:  time.Hour, // keep disk noise out of timing-sensitive tests
	}
}

// startCluster boots size in-process nodes on loopback ports and waits for
// gossip to converge.
func startCluster(t *testing.T, size int) []*Node {
	t.Helper()
	dir := t.TempDir()

	nodes := make([]*Node, size)
	for i := range nodes {
		nodes[i] = New(clusterConfig(t, dir, i))
	}
	for i, n := range nodes {
		if err := n.Start(); err != nil {
			t.Fatal(err)
		}
		t.Cleanup(n.Stop)
		if i > 0 {
			seed := fmt.Sprintf("127.0.0.1:%d", nodes[0].cfg.PeerPort)
			if err := n.Bootstrap(seed); err != nil {
				t.Fatal(err)
			}
		}
	}
	waitForMembership(t, nodes, size)
	return nodes
}

func waitForMembership(t *testing.T, nodes []*Node, size int) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		converged := true
		for _, n := range nodes {
			if n.gossip.Len() != size {
				converged = false
				break
			}
		}
		if converged {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("gossip did not converge")
}

func dialNode(t *testing.T, n *Node) *client.Client {
	t.Helper()
	c, err := client.Dial([]string{fmt.Sprintf("127.0.0.1:%d", n.cfg.ClientPort)})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func mustQuery(t *testing.T, c *client.Client, statement, consistency string) {
	t.Helper()
	if _, err := c.Query(statement, consistency); err != nil {
		t.Fatalf("query %q: %v", statement, err)
	}
}

func setupSchema(t *testing.T, c *client.Client, factor int) {
	t.Helper()
	mustQuery(t, c, fmt.Sprintf(
		"CREATE KEYSPACE ks WITH REPLICATION = {'class': 'SimpleStrategy', 'replication_factor': %d};", factor), "one")
	if err := c.UseKeyspace("ks"); err != nil {
		t.Fatal(err)
	}
	mustQuery(t, c, "CREATE TABLE t (id INT, v TEXT, PRIMARY KEY ((id)));", "one")
}

// hasRow reports whether the node holds a row matching every given column.
func hasRow(n *Node, keyspace, tableName string, subset table.Row) bool {
	snapshot, ok := n.TableSnapshot(keyspace, tableName)
	if !ok {
		return false
	}
	for _, row := range snapshot.Rows() {
		match := true
		for k, v := range subset {
			if row[k] != v {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

func countHolders(nodes []*Node, subset table.Row) int {
	count := 0
	for _, n := range nodes {
		if hasRow(n, "ks", "t", subset) {
			count++
		}
	}
	return count
}

// Scenario: RF=1, a single key lives on exactly one of two nodes.
func TestReplicationFactorOne(t *testing.T) {
	nodes := startCluster(t, 2)
	c := dialNode(t, nodes[0])
	setupSchema(t, c, 1)

	mustQuery(t, c, "INSERT INTO t (id, v) VALUES (1, 'x');", "one")
	time.Sleep(500 * time.Millisecond)

	if got := countHolders(nodes, table.Row{"id": "1", "v": "x"}); got != 1 {
		t.Errorf("row held by %d nodes, want exactly 1", got)
	}
}

// Scenario: RF=2 at QUORUM lands the row on both replicas, not the third
// node.
func TestQuorumWriteLandsOnBothReplicas(t *testing.T) {
	nodes := startCluster(t, 3)
	c := dialNode(t, nodes[0])
	setupSchema(t, c, 2)

	mustQuery(t, c, "INSERT INTO t (id, v) VALUES (7, 'q');", "quorum")
	time.Sleep(500 * time.Millisecond)

	if got := countHolders(nodes, table.Row{"id": "7", "v": "q"}); got != 2 {
		t.Errorf("row held by %d nodes, want exactly 2", got)
	}
}

// Scenario: same primary key written twice keeps only the second value.
func TestOverwriteByPrimaryKey(t *testing.T) {
	nodes := startCluster(t, 1)
	c := dialNode(t, nodes[0])
	setupSchema(t, c, 1)

	mustQuery(t, c, "INSERT INTO t (id, v) VALUES (5, 'first');", "one")
	mustQuery(t, c, "INSERT INTO t (id, v) VALUES (5, 'second');", "one")
	time.Sleep(200 * time.Millisecond)

	if hasRow(nodes[0], "ks", "t", table.Row{"id": "5", "v": "first"}) {
		t.Error("first value survived the overwrite")
	}
	if !hasRow(nodes[0], "ks", "t", table.Row{"id": "5", "v": "second"}) {
		t.Error("second value missing")
	}
	snapshot, _ := nodes[0].TableSnapshot("ks", "t")
	if snapshot.Len() != 1 {
		t.Errorf("row count = %d, want 1", snapshot.Len())
	}
}

// Scenario: a SELECT at ALL returns the newest version and repairs the
// stale replicas in the background.
func TestReadRepairPropagatesNewestRow(t *testing.T) {
	nodes := startCluster(t, 3)
	c := dialNode(t, nodes[0])
	setupSchema(t, c, 3)

	mustQuery(t, c, "INSERT INTO t (id, v) VALUES (10, 'a');", "all")
	time.Sleep(300 * time.Millisecond)

	// Out of band, node 2 gets a newer version.
	newer := table.Row{"id": "10", "v": "b", table.TimestampColumn: "2030-01-01 12:00:00"}
	if err := nodes[2].insertRow("ks", "t", newer); err != nil {
		t.Fatal(err)
	}

	result, err := c.Query("SELECT * FROM t WHERE id = 10;", "all")
	if err != nil {
		t.Fatal(err)
	}
	vIdx := -1
	for i, col := range result.Columns {
		if col == "v" {
			vIdx = i
		}
	}
	if vIdx < 0 || len(result.Rows) != 1 || result.Rows[0][vIdx] != "b" {
		t.Fatalf("select returned %v / %v, want v=b", result.Columns, result.Rows)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if countHolders(nodes, newer) == 3 {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Errorf("stale replicas not repaired: %d/3 hold the newest row", countHolders(nodes, newer))
}

// Scenario: a write to a down peer is buffered as a hint and replayed
// exactly once when gossip reports the peer live again.
func TestHintedHandoff(t *testing.T) {
	nodes := startCluster(t, 2)
	a, b := nodes[0], nodes[1]
	c := dialNode(t, a)
	setupSchema(t, c, 2)
	time.Sleep(300 * time.Millisecond)

	b.Stop()
	time.Sleep(200 * time.Millisecond)

	mustQuery(t, c, "INSERT INTO t (id, v) VALUES (3, 'h');", "one")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && len(a.hintsFor(b.cfg.ID)) == 0 {
		time.Sleep(50 * time.Millisecond)
	}
	if len(a.hintsFor(b.cfg.ID)) != 1 {
		t.Fatalf("hints for %s = %d, want 1", b.cfg.ID, len(a.hintsFor(b.cfg.ID)))
	}

	// A's φ sweep would take tens of seconds to notice; mark the peer dead
	// the same way the sweep would.
	entry, _ := a.gossip.Lookup(b.cfg.ID)
	entry.Status = gossip.StatusDead
	entry.LastHeartbeat++
	a.gossip.Merge([]gossip.Entry{entry})

	// Heartbeats have second granularity; make sure the restarted node's
	// heartbeat lands strictly after the dead mark.
	time.Sleep(2 * time.Second)

	// Restart the peer on the same ports with the schema in place.
	restarted := New(b.cfg)
	if err := restarted.createKeyspace("ks", mustReplication(t, a)); err != nil {
		t.Fatal(err)
	}
	snapshot, _ := a.TableSnapshot("ks", "t")
	restartTable(t, restarted, snapshot)
	if err := restarted.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(restarted.Stop)
	if err := restarted.Bootstrap(fmt.Sprintf("127.0.0.1:%d", a.cfg.PeerPort)); err != nil {
		t.Fatal(err)
	}

	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hasRow(restarted, "ks", "t", table.Row{"id": "3", "v": "h"}) && len(a.hintsFor(b.cfg.ID)) == 0 {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Errorf("hint not replayed: row present = %v, queued hints = %d",
		hasRow(restarted, "ks", "t", table.Row{"id": "3", "v": "h"}), len(a.hintsFor(b.cfg.ID)))
}

// Scenario: a joining node takes over the partitions the ring now assigns
// to it; the old holders drop them.
func TestRingRebalanceOnJoin(t *testing.T) {
	dir := t.TempDir()
	nodes := []*Node{New(clusterConfig(t, dir, 0)), New(clusterConfig(t, dir, 1))}
	for i, n := range nodes {
		if err := n.Start(); err != nil {
			t.Fatal(err)
		}
		t.Cleanup(n.Stop)
		if i > 0 {
			if err := n.Bootstrap(fmt.Sprintf("127.0.0.1:%d", nodes[0].cfg.PeerPort)); err != nil {
				t.Fatal(err)
			}
		}
	}
	waitForMembership(t, nodes, 2)

	c := dialNode(t, nodes[0])
	setupSchema(t, c, 1)
	for id := 1; id <= 12; id++ {
		mustQuery(t, c, fmt.Sprintf("INSERT INTO t (id, v) VALUES (%d, 'p%d');", id, id), "one")
	}
	time.Sleep(500 * time.Millisecond)

	joiner := New(clusterConfig(t, dir, 2))
	if err := joiner.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(joiner.Stop)
	if err := joiner.Bootstrap(fmt.Sprintf("127.0.0.1:%d", nodes[0].cfg.PeerPort)); err != nil {
		t.Fatal(err)
	}

	all := append(append([]*Node(nil), nodes...), joiner)
	waitForMembership(t, all, 3)
	time.Sleep(2 * time.Second) // let both old nodes reassign

	repl, _ := nodes[0].replication("ks")
	live := nodes[0].gossip.LiveIDs()
	moved := 0
	for id := 1; id <= 12; id++ {
		key := fmt.Sprintf("%d", id)
		owners := repl.ReplicaNodes([]string{key}, live)
		if len(owners) != 1 || owners[0] != joiner.cfg.ID {
			continue
		}
		moved++
		subset := table.Row{"id": key, "v": "p" + key}
		if !hasRow(joiner, "ks", "t", subset) {
			t.Errorf("partition %s missing on the joiner", key)
		}
		for _, old := range nodes {
			if hasRow(old, "ks", "t", subset) {
				t.Errorf("partition %s not dropped from %s", key, old.cfg.ID)
			}
		}
	}
	if moved == 0 {
		t.Skip("no partition mapped to the joiner; hash layout left nothing to assert")
	}
}

func mustReplication(t *testing.T, n *Node) ring.Replication {
	t.Helper()
	r, ok := n.replication("ks")
	if !ok {
		t.Fatal("keyspace ks missing")
	}
	return r
}

func restartTable(t *testing.T, n *Node, snapshot *table.Table) {
	t.Helper()
	if snapshot == nil {
		t.Fatal("no table snapshot to restore")
	}
	stmt := &cql.CreateTable{Table: "t", PartitionKey: snapshot.PartitionKeyColumns, ClusteringKey: snapshot.ClusteringKeyColumns}
	for _, col := range snapshot.Columns {
		if col.Name == table.TimestampColumn {
			continue
		}
		stmt.Columns = append(stmt.Columns, cql.ColumnDef{Name: col.Name, Type: col.Type})
	}
	if err := n.createTable("ks", stmt); err != nil {
		t.Fatal(err)
	}
}
