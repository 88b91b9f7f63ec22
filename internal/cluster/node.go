// Package cluster ties the node together: process-wide state (gossip table,
// keyspace catalog, partition data, hint buffer), the coordinator request
// path, both listeners and the background loops.
//
// Lock order, to prevent deadlock: gossip -> keyspaces -> data -> hints.
package cluster

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"tessera/internal/cql"
	"tessera/internal/gossip"
	"tessera/internal/logging"
	"tessera/internal/ops"
	"tessera/internal/peerwire"
	"tessera/internal/ring"
	"tessera/internal/table"
)

// Config carries one node's identity and tuning.
type Config struct {
	ID         string
	IP         string
	ClientPort uint16
	PeerPort   uint16

	DataDir        string // parent of the per-node directory
	DataKey        uint64 // at-rest table key
	GossipInterval time.Duration
	FlushInterval  time.Duration
	DialTimeout    time.Duration
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.DataDir == "" {
		out.DataDir = "./data"
	}
	if out.GossipInterval <= 0 {
		out.GossipInterval = time.Second
	}
	if out.FlushInterval <= 0 {
		out.FlushInterval = 5 * time.Second
	}
	if out.DialTimeout <= 0 {
		out.DialTimeout = 2 * time.Second
	}
	return out
}

// Node is the per-process singleton holding all shared state. Share it by
// pointer; it is never freed during the process lifetime.
type Node struct {
	cfg Config

	gossip *gossip.Table

	ksMu      sync.RWMutex
	keyspaces map[string]ring.Replication

	dataMu sync.RWMutex
	data   map[string]*table.Encrypted // keyspace.table -> encrypted table

	hintsMu sync.RWMutex
	hints   map[string][]*peerwire.Message

	metrics *ops.Metrics

	peerListener   net.Listener
	clientListener net.Listener
	stop           chan struct{}
	stopOnce       sync.Once
}

func New(cfg Config) *Node {
	cfg = cfg.withDefaults()
	self := gossip.Entry{
		NodeID:        cfg.ID,
		IP:            cfg.IP,
		ClientPort:    cfg.ClientPort,
		PeerPort:      cfg.PeerPort,
		LastHeartbeat: time.Now().Unix(),
		Status:        gossip.StatusLive,
	}
	return &Node{
		cfg:       cfg,
		gossip:    gossip.NewTable(self),
		keyspaces: make(map[string]ring.Replication),
		data:      make(map[string]*table.Encrypted),
		hints:     make(map[string][]*peerwire.Message),
		stop:      make(chan struct{}),
	}
}

func (n *Node) ID() string { return n.cfg.ID }

// SetMetrics attaches the Prometheus instruments. Optional; a nil receiver
// on the ops side makes every observation a no-op.
func (n *Node) SetMetrics(m *ops.Metrics) { n.metrics = m }

func (n *Node) dataDir() string {
	return filepath.Join(n.cfg.DataDir, n.cfg.ID)
}

func (n *Node) gossipTablePath() string {
	return filepath.Join(n.dataDir(), "gossip_table")
}

func (n *Node) keyspacesPath() string {
	return filepath.Join(n.dataDir(), "keyspaces")
}

// ---------------------- keyspaces ----------------------

func (n *Node) createKeyspace(name string, repl ring.Replication) error {
	n.ksMu.Lock()
	defer n.ksMu.Unlock()
	n.keyspaces[name] = repl
	return nil
}

func (n *Node) KeyspaceExists(name string) bool {
	n.ksMu.RLock()
	defer n.ksMu.RUnlock()
	_, ok := n.keyspaces[name]
	return ok
}

func (n *Node) replication(keyspace string) (ring.Replication, bool) {
	n.ksMu.RLock()
	defer n.ksMu.RUnlock()
	repl, ok := n.keyspaces[keyspace]
	return repl, ok
}

// ---------------------- tables ----------------------

func qualified(keyspace, tableName string) string {
	if strings.Contains(tableName, ".") {
		return tableName
	}
	return keyspace + "." + tableName
}

func (n *Node) createTable(keyspace string, stmt *cql.CreateTable) error {
	if !n.KeyspaceExists(keyspace) {
		return fmt.Errorf("%w: keyspace %s", table.ErrSchemaNotFound, keyspace)
	}

	columns := make([]table.Column, 0, len(stmt.Columns))
	for _, col := range stmt.Columns {
		if col.Name == table.TimestampColumn {
			continue // added implicitly
		}
		columns = append(columns, table.Column{Name: col.Name, Type: col.Type})
	}

	name := qualified(keyspace, stmt.Table)

	n.dataMu.Lock()
	defer n.dataMu.Unlock()
	if _, ok := n.data[name]; ok {
		return nil // schema is append-only; re-creation is a no-op
	}
	t := table.New(name, stmt.PartitionKey, stmt.ClusteringKey, columns)
	n.data[name] = table.NewEncrypted(t, n.cfg.DataKey)
	return nil
}

func (n *Node) insertRow(keyspace, tableName string, row table.Row) error {
	n.dataMu.Lock()
	defer n.dataMu.Unlock()
	enc, ok := n.data[qualified(keyspace, tableName)]
	if !ok {
		return fmt.Errorf("%w: table %s", table.ErrSchemaNotFound, qualified(keyspace, tableName))
	}
	return enc.Insert(row)
}

func (n *Node) updateRows(keyspace, tableName string, values table.Row, cond table.Expression) error {
	n.dataMu.Lock()
	defer n.dataMu.Unlock()
	enc, ok := n.data[qualified(keyspace, tableName)]
	if !ok {
		return fmt.Errorf("%w: table %s", table.ErrSchemaNotFound, qualified(keyspace, tableName))
	}
	return enc.Update(values, cond)
}

func (n *Node) deleteRows(keyspace, tableName string, cond table.Expression) error {
	n.dataMu.Lock()
	defer n.dataMu.Unlock()
	enc, ok := n.data[qualified(keyspace, tableName)]
	if !ok {
		return fmt.Errorf("%w: table %s", table.ErrSchemaNotFound, qualified(keyspace, tableName))
	}
	return enc.Delete(cond)
}

func (n *Node) selectRows(keyspace, tableName string, cond table.Expression) ([]table.Row, error) {
	n.dataMu.RLock()
	defer n.dataMu.RUnlock()
	enc, ok := n.data[qualified(keyspace, tableName)]
	if !ok {
		return nil, fmt.Errorf("%w: table %s", table.ErrSchemaNotFound, qualified(keyspace, tableName))
	}
	return enc.Select(cond)
}

// TableSnapshot decodes the named table for inspection; used by tests and
// the admin surface.
func (n *Node) TableSnapshot(keyspace, tableName string) (*table.Table, bool) {
	n.dataMu.RLock()
	defer n.dataMu.RUnlock()
	enc, ok := n.data[qualified(keyspace, tableName)]
	if !ok {
		return nil, false
	}
	t, err := enc.Snapshot()
	if err != nil {
		return nil, false
	}
	return t, true
}

// ---------------------- replica selection ----------------------

// LiveNodes returns the sorted ids of every live gossip entry.
func (n *Node) LiveNodes() []string {
	return n.gossip.LiveIDs()
}

func (n *Node) replicasFor(keyspace string, partitionKeys []string) []string {
	live := n.gossip.LiveIDs()
	repl, ok := n.replication(keyspace)
	if !ok {
		return nil
	}
	return repl.ReplicaNodes(partitionKeys, live)
}

// partitionKeysFromRow projects the table's partition-key columns out of a
// row, in schema order.
func (n *Node) partitionKeysFromRow(keyspace, tableName string, row table.Row) ([]string, error) {
	t, ok := n.TableSnapshot(keyspace, tableName)
	if !ok {
		return nil, fmt.Errorf("%w: table %s", table.ErrSchemaNotFound, qualified(keyspace, tableName))
	}
	keys := make([]string, 0, len(t.PartitionKeyColumns))
	for _, pk := range t.PartitionKeyColumns {
		value, ok := row[pk]
		if !ok {
			return nil, fmt.Errorf("%w: %s", table.ErrMissingPartitionKey, pk)
		}
		keys = append(keys, value)
	}
	return keys, nil
}

// ---------------------- lifecycle ----------------------

// Start binds both listeners and launches the gossip and flush loops.
func (n *Node) Start() error {
	peerAddr := fmt.Sprintf("%s:%d", n.cfg.IP, n.cfg.PeerPort)
	peerListener, err := net.Listen("tcp", peerAddr)
	if err != nil {
		return fmt.Errorf("binding peer endpoint %s: %w", peerAddr, err)
	}
	clientAddr := fmt.Sprintf("%s:%d", n.cfg.IP, n.cfg.ClientPort)
	clientListener, err := net.Listen("tcp", clientAddr)
	if err != nil {
		peerListener.Close()
		return fmt.Errorf("binding client endpoint %s: %w", clientAddr, err)
	}
	n.peerListener = peerListener
	n.clientListener = clientListener

	go n.acceptPeers(peerListener)
	go n.acceptClients(clientListener)
	go n.gossipLoop()
	go n.flushLoop()

	logging.Info("[%s] node started (client %s, peer %s)", n.cfg.ID, clientAddr, peerAddr)
	return nil
}

// Stop closes the listeners and stops the background loops.
func (n *Node) Stop() {
	n.stopOnce.Do(func() {
		close(n.stop)
		if n.peerListener != nil {
			n.peerListener.Close()
		}
		if n.clientListener != nil {
			n.clientListener.Close()
		}
		logging.Info("[%s] node stopped", n.cfg.ID)
	})
}

func (n *Node) gossipLoop() {
	ticker := time.NewTicker(n.cfg.GossipInterval)
	defer ticker.Stop()
	for {
		select {
		case <-n.stop:
			return
		case <-ticker.C:
			n.gossipOnce()
		}
	}
}

// gossipOnce is one tick: refresh self, run the φ sweep, then push the full
// table to one random live peer without awaiting a reply.
func (n *Node) gossipOnce() {
	lambda := n.cfg.GossipInterval.Seconds()
	n.gossip.Tick(n.cfg.ID, time.Now().Unix(), lambda)

	live := len(n.gossip.Live())
	n.metrics.SetPeerCounts(live, n.gossip.Len()-live)

	peer, ok := n.gossip.RandomLivePeer(n.cfg.ID)
	if !ok {
		return
	}
	body, err := gossip.Encode(n.gossip.Snapshot())
	if err != nil {
		logging.Error("[%s] encoding gossip table: %v", n.cfg.ID, err)
		return
	}
	msg := peerwire.NewGossip(peerwire.GossipPeriodic, body)
	if err := n.sendNoReply(peerAddress(peer), msg); err != nil {
		logging.Debug("[%s] gossip to %s failed: %v", n.cfg.ID, peer.NodeID, err)
	}
}

func (n *Node) flushLoop() {
	ticker := time.NewTicker(n.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-n.stop:
			return
		case <-ticker.C:
			n.Flush()
		}
	}
}

// Flush persists the keyspace catalog and every table blob.
func (n *Node) Flush() {
	n.flushKeyspaces()
	n.flushData()
}

func (n *Node) flushKeyspaces() {
	n.ksMu.RLock()
	lines := make([]string, 0, len(n.keyspaces))
	for name, repl := range n.keyspaces {
		lines = append(lines, fmt.Sprintf("%s,%s,%d", name, repl.Strategy, repl.Factor))
	}
	n.ksMu.RUnlock()

	if err := os.MkdirAll(n.dataDir(), 0o755); err != nil {
		logging.Error("[%s] creating data directory: %v", n.cfg.ID, err)
		return
	}
	content := strings.Join(lines, "\n")
	if len(lines) > 0 {
		content += "\n"
	}
	if err := os.WriteFile(n.keyspacesPath(), []byte(content), 0o644); err != nil {
		logging.Error("[%s] writing keyspaces: %v", n.cfg.ID, err)
	}
}

func (n *Node) flushData() {
	n.dataMu.RLock()
	tables := make([]*table.Encrypted, 0, len(n.data))
	for _, enc := range n.data {
		tables = append(tables, enc)
	}
	n.dataMu.RUnlock()

	for _, enc := range tables {
		if err := enc.WriteToDisk(n.dataDir()); err != nil {
			logging.Error("[%s] flushing table: %v", n.cfg.ID, err)
		}
	}
}

// LoadFromDisk restores keyspaces, tables and the gossip table written by a
// previous run. Missing files are not an error on first boot.
func (n *Node) LoadFromDisk() {
	n.loadKeyspaces()
	n.loadTables()
	if err := n.gossip.Load(n.gossipTablePath()); err != nil {
		logging.Debug("[%s] no gossip table recovered: %v", n.cfg.ID, err)
	}
}

func (n *Node) loadKeyspaces() {
	content, err := os.ReadFile(n.keyspacesPath())
	if err != nil {
		return
	}
	n.ksMu.Lock()
	defer n.ksMu.Unlock()
	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.Split(line, ",")
		if len(parts) != 3 {
			logging.Warn("[%s] malformed keyspace line %q", n.cfg.ID, line)
			continue
		}
		repl, err := ring.ParseReplication(parts[1], parts[2])
		if err != nil {
			logging.Warn("[%s] keyspace %s: %v", n.cfg.ID, parts[0], err)
			continue
		}
		n.keyspaces[parts[0]] = repl
	}
}

func (n *Node) loadTables() {
	entries, err := os.ReadDir(n.dataDir())
	if err != nil {
		return
	}
	n.dataMu.Lock()
	defer n.dataMu.Unlock()
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || name == "keyspaces" || name == "gossip_table" || strings.HasSuffix(name, ".tmp") {
			continue
		}
		enc, err := table.LoadEncrypted(filepath.Join(n.dataDir(), name), n.cfg.DataKey)
		if err != nil {
			logging.Error("[%s] loading table %s: %v", n.cfg.ID, name, err)
			continue
		}
		n.data[enc.Name()] = enc
	}
}

// QueuedHints counts hints buffered across all peers.
func (n *Node) QueuedHints() int {
	n.hintsMu.RLock()
	defer n.hintsMu.RUnlock()
	total := 0
	for _, queue := range n.hints {
		total += len(queue)
	}
	return total
}

func peerAddress(e gossip.Entry) string {
	return fmt.Sprintf("%s:%d", e.IP, e.PeerPort)
}
