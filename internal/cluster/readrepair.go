package cluster

import (
	"encoding/json"
	"time"

	"tessera/internal/cql"
	"tessera/internal/logging"
	"tessera/internal/peerwire"
	"tessera/internal/table"
)

// readRepair compares the _timestamp of the rows in each replica response
// and returns the newest one. If any replica answered with an older or
// missing version, every row of the winning response is re-sent as a
// synthetic INSERT to the partition's replicas in the background. A
// timestamp that fails to parse aborts the repair but not the client
// response.
func (n *Node) readRepair(responses []string, keyspace, tableName string) string {
	if len(responses) == 0 {
		return "[]"
	}

	type parsedResponse struct {
		rows  []table.Row
		maxTs int64 // -1 when the response has no timestamped rows
	}

	parsed := make([]parsedResponse, 0, len(responses))
	for _, response := range responses {
		var rows []table.Row
		if err := json.Unmarshal([]byte(response), &rows); err != nil {
			logging.Warn("[%s] read repair: undecodable response: %v", n.cfg.ID, err)
			parsed = append(parsed, parsedResponse{maxTs: -1})
			continue
		}
		entry := parsedResponse{rows: rows, maxTs: -1}
		for _, row := range rows {
			stamp, ok := row[table.TimestampColumn]
			if !ok {
				continue
			}
			ts, err := time.Parse(cql.TimestampLayout, stamp)
			if err != nil {
				logging.Warn("[%s] read repair aborted: bad timestamp %q", n.cfg.ID, stamp)
				return responses[0]
			}
			if unix := ts.Unix(); unix > entry.maxTs {
				entry.maxTs = unix
			}
		}
		parsed = append(parsed, entry)
	}

	newest := 0
	for i, entry := range parsed {
		if entry.maxTs > parsed[newest].maxTs {
			newest = i
		}
	}

	divergent := false
	for _, entry := range parsed {
		if entry.maxTs < parsed[newest].maxTs {
			divergent = true
			break
		}
	}
	if !divergent || parsed[newest].maxTs < 0 {
		return responses[newest]
	}

	n.metrics.ReadRepairTriggered()
	go n.propagateNewest(parsed[newest].rows, keyspace, tableName)
	return responses[newest]
}

// propagateNewest re-inserts each winning row (full column set, winning
// _timestamp included) on every replica of its partition.
func (n *Node) propagateNewest(rows []table.Row, keyspace, tableName string) {
	for _, row := range rows {
		partitionKeys, err := n.partitionKeysFromRow(keyspace, tableName, row)
		if err != nil {
			logging.Warn("[%s] read repair: %v", n.cfg.ID, err)
			continue
		}
		replicas := n.replicasFor(keyspace, partitionKeys)
		logging.Info("[%s] read repair on %v", n.cfg.ID, replicas)

		statement := cql.FormatInsert(tableName, row)
		msg := peerwire.NewQuery(peerwire.QueryInsert, statement, keyspace)
		for _, nodeID := range replicas {
			nodeID := nodeID
			go func() {
				if _, err := n.resend(msg, nodeID); err != nil {
					logging.Warn("[%s] read repair write to %s failed: %v", n.cfg.ID, nodeID, err)
				}
			}()
		}
	}
}
