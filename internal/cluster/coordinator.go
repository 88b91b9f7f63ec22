package cluster

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"time"

	"tessera/internal/cql"
	"tessera/internal/logging"
	"tessera/internal/peerwire"
	"tessera/internal/ring"
	"tessera/internal/table"
	"tessera/internal/wire"
)

// Execute is the coordinator entry point for one client statement. It
// parses, plans the fan-out for the statement kind, dispatches to the
// replica set under the requested consistency level and shapes the reply.
// currentKeyspace is the per-connection keyspace context; a successful USE
// updates it through the returned SetKeyspace result.
func (n *Node) Execute(query *wire.Query, currentKeyspace string) (*wire.Result, error) {
	logging.Debug("[%s] received query: %s", n.cfg.ID, query.Statement)

	parsed, err := cql.Parse(query.Statement)
	if err != nil {
		n.metrics.StatementObserved("unknown", "syntax_error")
		return nil, wire.NewCodedError(wire.ErrSyntaxError, "%v", err)
	}

	switch parsed.(type) {
	case *cql.CreateKeyspace, *cql.Use:
	default:
		if currentKeyspace == "" {
			return nil, wire.NewCodedError(wire.ErrInvalid, "no keyspace set")
		}
	}

	cl := FromLevel(query.Consistency)

	switch stmt := parsed.(type) {
	case *cql.CreateKeyspace:
		res, err := n.executeCreateKeyspace(query.Statement, stmt)
		return n.observed("create_keyspace", res, err)
	case *cql.CreateTable:
		res, err := n.executeCreateTable(query.Statement, currentKeyspace, stmt)
		return n.observed("create_table", res, err)
	case *cql.Use:
		res, err := n.executeUse(stmt)
		return n.observed("use", res, err)
	case *cql.Insert:
		res, err := n.executeInsert(query.Statement, stmt, currentKeyspace, cl)
		return n.observed("insert", res, err)
	case *cql.Select:
		res, err := n.executeSelect(query.Statement, stmt, currentKeyspace, cl)
		return n.observed("select", res, err)
	case *cql.Update:
		res, err := n.executeUpdate(query.Statement, stmt, currentKeyspace, cl)
		return n.observed("update", res, err)
	case *cql.Delete:
		res, err := n.executeDelete(query.Statement, stmt, currentKeyspace, cl)
		return n.observed("delete", res, err)
	default:
		return nil, wire.NewCodedError(wire.ErrServerError, "unhandled statement kind")
	}
}

func (n *Node) observed(kind string, res *wire.Result, err error) (*wire.Result, error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	n.metrics.StatementObserved(kind, outcome)
	return res, err
}

// executeCreateKeyspace fans the statement out to every live node and
// succeeds when at least one node accepted it.
func (n *Node) executeCreateKeyspace(statement string, stmt *cql.CreateKeyspace) (*wire.Result, error) {
	if _, err := parseReplication(stmt); err != nil {
		return nil, wire.NewCodedError(wire.ErrInvalid, "%v", err)
	}

	msg := peerwire.NewQuery(peerwire.QueryCreateKeyspace, statement, "")
	if err := n.fanToAllNodes(msg); err != nil {
		return nil, wire.NewCodedError(wire.ErrInvalid, "%v", err)
	}
	return wire.SchemaChangeResult("CREATED", "KEYSPACE", stmt.Keyspace), nil
}

func (n *Node) executeCreateTable(statement, keyspace string, stmt *cql.CreateTable) (*wire.Result, error) {
	msg := peerwire.NewQuery(peerwire.QueryCreateTable, statement, keyspace)
	if err := n.fanToAllNodes(msg); err != nil {
		return nil, wire.NewCodedError(wire.ErrInvalid, "%v", err)
	}
	return wire.SchemaChangeResult("CREATED", "TABLE", keyspace+"."+stmt.Table), nil
}

// fanToAllNodes sends a schema statement to every live node sequentially
// and succeeds if any node accepted it.
func (n *Node) fanToAllNodes(msg *peerwire.Message) error {
	nodes := n.LiveNodes()
	logging.Debug("[%s] nodes to resend query: %v", n.cfg.ID, nodes)

	var firstErr error
	succeeded := false
	for _, nodeID := range nodes {
		if _, err := n.resend(msg, nodeID); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		succeeded = true
	}
	if !succeeded {
		if firstErr == nil {
			firstErr = errors.New("no live nodes")
		}
		return firstErr
	}
	return nil
}

func (n *Node) executeUse(stmt *cql.Use) (*wire.Result, error) {
	if !n.KeyspaceExists(stmt.Keyspace) {
		return nil, wire.NewCodedError(wire.ErrInvalid, "keyspace %s not found", stmt.Keyspace)
	}
	return wire.SetKeyspaceResult(stmt.Keyspace), nil
}

func (n *Node) executeInsert(statement string, stmt *cql.Insert, keyspace string, cl Consistency) (*wire.Result, error) {
	stamped, err := cql.AddTimestampToInsert(statement, time.Now())
	if err != nil {
		return nil, wire.NewCodedError(wire.ErrInvalid, "%v", err)
	}

	rows := stmt.Rows()
	if len(rows) == 0 {
		return nil, wire.NewCodedError(wire.ErrInvalid, "no rows to insert")
	}
	snapshot, ok := n.TableSnapshot(keyspace, stmt.Table)
	if !ok {
		return nil, wire.NewCodedError(wire.ErrInvalid, "table %s not found", stmt.Table)
	}
	for _, column := range stmt.Columns {
		if !hasSchemaColumn(snapshot, column) {
			return nil, wire.NewCodedError(wire.ErrInvalid, "unknown column: %s", column)
		}
	}
	partitionKeys, err := n.partitionKeysFromRow(keyspace, stmt.Table, rows[0])
	if err != nil {
		return nil, wire.NewCodedError(wire.ErrInvalid, "%v", err)
	}

	replicas := n.replicasFor(keyspace, partitionKeys)
	msg := peerwire.NewQuery(peerwire.QueryInsert, stamped, keyspace)

	if _, ok := n.dispatch(msg, replicas, cl, true); !ok {
		logging.Warn("[%s] insert did not meet %s on %v", n.cfg.ID, cl, replicas)
		return nil, wire.NewCodedError(wire.ErrUnavailableException, "consistency level %s not met", cl)
	}
	logging.Debug("[%s] consistency %s met on %v", n.cfg.ID, cl, replicas)
	return wire.VoidResult(), nil
}

func (n *Node) executeSelect(statement string, stmt *cql.Select, keyspace string, cl Consistency) (*wire.Result, error) {
	if _, ok := n.TableSnapshot(keyspace, stmt.Table); !ok {
		return nil, wire.NewCodedError(wire.ErrInvalid, "table %s not found", stmt.Table)
	}
	partitionKey, ok := table.ExtractPartitionKey(stmt.Where)
	if !ok {
		return nil, wire.NewCodedError(wire.ErrInvalid, "predicate must be pk = value [AND ...]")
	}

	replicas := n.replicasFor(keyspace, []string{partitionKey})
	msg := peerwire.NewQuery(peerwire.QuerySelect, statement, keyspace)

	responses, ok := n.dispatch(msg, replicas, cl, false)
	if !ok {
		logging.Warn("[%s] select did not meet %s on %v", n.cfg.ID, cl, replicas)
		return nil, wire.NewCodedError(wire.ErrUnavailableException, "consistency level %s not met", cl)
	}

	newest := n.readRepair(responses, keyspace, stmt.Table)
	return n.shapeRows(newest, stmt, keyspace)
}

func (n *Node) executeUpdate(statement string, stmt *cql.Update, keyspace string, cl Consistency) (*wire.Result, error) {
	partitionKey, ok := table.ExtractPartitionKey(stmt.Where)
	if !ok {
		return nil, wire.NewCodedError(wire.ErrInvalid, "predicate must be pk = value [AND ...]")
	}

	stamped, err := cql.AddTimestampToUpdate(statement, time.Now())
	if err != nil {
		return nil, wire.NewCodedError(wire.ErrInvalid, "%v", err)
	}

	replicas := n.replicasFor(keyspace, []string{partitionKey})
	msg := peerwire.NewQuery(peerwire.QueryUpdate, stamped, keyspace)

	if _, ok := n.dispatch(msg, replicas, cl, true); !ok {
		logging.Warn("[%s] update did not meet %s on %v", n.cfg.ID, cl, replicas)
		return nil, wire.NewCodedError(wire.ErrUnavailableException, "consistency level %s not met", cl)
	}
	return wire.VoidResult(), nil
}

func (n *Node) executeDelete(statement string, stmt *cql.Delete, keyspace string, cl Consistency) (*wire.Result, error) {
	partitionKey, ok := table.ExtractPartitionKey(stmt.Where)
	if !ok {
		return nil, wire.NewCodedError(wire.ErrInvalid, "predicate must be pk = value [AND ...]")
	}

	replicas := n.replicasFor(keyspace, []string{partitionKey})
	msg := peerwire.NewQuery(peerwire.QueryDelete, statement, keyspace)

	if _, ok := n.dispatch(msg, replicas, cl, true); !ok {
		logging.Warn("[%s] delete did not meet %s on %v", n.cfg.ID, cl, replicas)
		return nil, wire.NewCodedError(wire.ErrUnavailableException, "consistency level %s not met", cl)
	}
	return wire.VoidResult(), nil
}

// dispatch spawns one worker per replica, executing in-process when the
// coordinator itself is in the set, and collects responses until the
// consistency level is met or every replica has answered. Hints are stored
// for unreachable peers only when hintOnFailure is set (writes, not reads).
func (n *Node) dispatch(msg *peerwire.Message, replicas []string, cl Consistency, hintOnFailure bool) ([]string, bool) {
	if len(replicas) == 0 {
		return nil, false
	}
	required := cl.Required(len(replicas))
	ch := make(chan replicaResult, len(replicas))

	for _, nodeID := range replicas {
		nodeID := nodeID
		go func() {
			var body string
			var err error
			if hintOnFailure {
				body, err = n.resend(msg, nodeID)
			} else {
				body, err = n.resendWithoutHint(msg, nodeID)
			}
			ch <- replicaResult{body: body, err: err}
		}()
	}

	return collect(ch, len(replicas), required)
}

// resend delivers an internal message to one node, executing locally when
// the target is this node. Connection or write failures buffer the message
// as a hint for the peer.
func (n *Node) resend(msg *peerwire.Message, nodeID string) (string, error) {
	if nodeID == n.cfg.ID {
		return n.handleQueryLocally(msg)
	}
	entry, ok := n.gossip.Lookup(nodeID)
	if !ok {
		return "", fmt.Errorf("node %s not in gossip table", nodeID)
	}
	body, err := n.sendMessage(peerAddress(entry), msg)
	if err != nil {
		logging.Warn("[%s] resend to %s failed, storing hint: %v", n.cfg.ID, nodeID, err)
		n.storeHint(nodeID, msg)
		return "", err
	}
	return body, nil
}

// resendWithoutHint is the read path: reads are idempotent and stateless,
// so an unreachable peer just counts as a failed response.
func (n *Node) resendWithoutHint(msg *peerwire.Message, nodeID string) (string, error) {
	if nodeID == n.cfg.ID {
		return n.handleQueryLocally(msg)
	}
	entry, ok := n.gossip.Lookup(nodeID)
	if !ok {
		return "", fmt.Errorf("node %s not in gossip table", nodeID)
	}
	return n.sendMessage(peerAddress(entry), msg)
}

// sendMessage opens a fresh connection, writes one frame and reads the
// response frame.
func (n *Node) sendMessage(addr string, msg *peerwire.Message) (string, error) {
	conn, err := net.DialTimeout("tcp", addr, n.cfg.DialTimeout)
	if err != nil {
		return "", fmt.Errorf("connecting to %s: %w", addr, err)
	}
	defer conn.Close()

	if err := msg.WriteTo(conn); err != nil {
		return "", err
	}
	reply, err := peerwire.Read(conn)
	if err != nil {
		return "", fmt.Errorf("reading response from %s: %w", addr, err)
	}
	if reply.Kind != peerwire.KindResponse {
		return "", fmt.Errorf("unexpected reply kind %d from %s", reply.Kind, addr)
	}
	if reply.Opcode != peerwire.ResponseOK {
		return "", errors.New(reply.Body)
	}
	return reply.Body, nil
}

// sendNoReply writes one frame and returns without awaiting a response;
// used for periodic gossip.
func (n *Node) sendNoReply(addr string, msg *peerwire.Message) error {
	conn, err := net.DialTimeout("tcp", addr, n.cfg.DialTimeout)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", addr, err)
	}
	defer conn.Close()
	return msg.WriteTo(conn)
}

// shapeRows converts a replica's JSON row payload into a RESULT Rows body,
// applying the statement's projection and ORDER BY.
func (n *Node) shapeRows(payload string, stmt *cql.Select, keyspace string) (*wire.Result, error) {
	var rows []table.Row
	if err := json.Unmarshal([]byte(payload), &rows); err != nil {
		return nil, wire.NewCodedError(wire.ErrServerError, "decoding replica rows: %v", err)
	}

	// Later ORDER BY keys are applied first so the leading key dominates
	// under the stable sort.
	for k := len(stmt.OrderBy) - 1; k >= 0; k-- {
		ordering := stmt.OrderBy[k]
		sort.SliceStable(rows, func(i, j int) bool {
			a, b := rows[i][ordering.Column], rows[j][ordering.Column]
			less := orderedLess(a, b)
			if ordering.Descending {
				return a != b && !less
			}
			return less
		})
	}

	columns := stmt.Columns
	if columns == nil {
		if t, ok := n.TableSnapshot(keyspace, stmt.Table); ok {
			for _, col := range t.Columns {
				columns = append(columns, col.Name)
			}
		} else {
			columns = columnsFromRows(rows)
		}
	}

	out := make([][]string, 0, len(rows))
	for _, row := range rows {
		values := make([]string, len(columns))
		for i, col := range columns {
			values[i] = row[col]
		}
		out = append(out, values)
	}
	return wire.RowsResult(columns, out), nil
}

func hasSchemaColumn(t *table.Table, name string) bool {
	for _, col := range t.Columns {
		if col.Name == name {
			return true
		}
	}
	return false
}

// orderedLess compares numerically when both sides parse as integers,
// lexicographically otherwise, matching predicate comparison semantics.
func orderedLess(a, b string) bool {
	if an, err := strconv.ParseInt(a, 10, 64); err == nil {
		if bn, err := strconv.ParseInt(b, 10, 64); err == nil {
			return an < bn
		}
	}
	return a < b
}

func columnsFromRows(rows []table.Row) []string {
	seen := map[string]bool{}
	var columns []string
	for _, row := range rows {
		for col := range row {
			if !seen[col] {
				seen[col] = true
				columns = append(columns, col)
			}
		}
	}
	sort.Strings(columns)
	return columns
}

func parseReplication(stmt *cql.CreateKeyspace) (ring.Replication, error) {
	return ring.ParseReplication(stmt.Class, stmt.Factor)
}
