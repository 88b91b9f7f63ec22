package cql

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"tessera/internal/table"
)

// TimestampLayout is the wall-clock format of the _timestamp column.
const TimestampLayout = "2006-01-02 15:04:05"

// FormatCreateKeyspace rebuilds a CREATE KEYSPACE statement, used when
// forwarding schema to a newly detected node.
func FormatCreateKeyspace(keyspace, class string, factor int) string {
	return fmt.Sprintf(
		"CREATE KEYSPACE %s WITH REPLICATION = {'class': '%s', 'replication_factor': %d};",
		keyspace, class, factor,
	)
}

// FormatCreateTable rebuilds a CREATE TABLE statement from an in-memory
// table. The implicit _timestamp column is skipped; the receiving node adds
// its own.
func FormatCreateTable(t *table.Table) string {
	name := t.Name
	if _, unqualified, ok := strings.Cut(t.Name, "."); ok {
		name = unqualified
	}

	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE %s (", name)
	for _, col := range t.Columns {
		if col.Name == table.TimestampColumn {
			continue
		}
		fmt.Fprintf(&b, "%s %s, ", col.Name, strings.ToUpper(col.Type))
	}
	b.WriteString("PRIMARY KEY ((")
	b.WriteString(strings.Join(t.PartitionKeyColumns, ", "))
	b.WriteString(")")
	if len(t.ClusteringKeyColumns) > 0 {
		b.WriteString(", ")
		b.WriteString(strings.Join(t.ClusteringKeyColumns, ", "))
	}
	b.WriteString("));")
	return b.String()
}

// FormatInsert rebuilds an INSERT statement from a full row, column order
// sorted for determinism. Used by read repair and reassignment.
func FormatInsert(tableName string, row table.Row) string {
	columns := make([]string, 0, len(row))
	for col := range row {
		columns = append(columns, col)
	}
	sort.Strings(columns)

	values := make([]string, 0, len(columns))
	for _, col := range columns {
		values = append(values, "'"+row[col]+"'")
	}
	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s);",
		tableName, strings.Join(columns, ", "), strings.Join(values, ", "),
	)
}

// AddTimestampToInsert rewrites an INSERT so every row carries a _timestamp
// column bound to now (UTC).
func AddTimestampToInsert(statement string, now time.Time) (string, error) {
	parsed, err := Parse(statement)
	if err != nil {
		return "", err
	}
	ins, ok := parsed.(*Insert)
	if !ok {
		return "", fmt.Errorf("not an INSERT statement")
	}

	stamp := now.UTC().Format(TimestampLayout)
	ins.Columns = append(ins.Columns, table.TimestampColumn)
	for i := range ins.Values {
		ins.Values[i] = append(ins.Values[i], stamp)
	}
	return RenderInsert(ins), nil
}

// AddTimestampToUpdate rewrites an UPDATE so the SET clause also assigns
// _timestamp = now (UTC).
func AddTimestampToUpdate(statement string, now time.Time) (string, error) {
	parsed, err := Parse(statement)
	if err != nil {
		return "", err
	}
	upd, ok := parsed.(*Update)
	if !ok {
		return "", fmt.Errorf("not an UPDATE statement")
	}
	upd.Set[table.TimestampColumn] = now.UTC().Format(TimestampLayout)
	return RenderUpdate(upd), nil
}

// RenderInsert prints an Insert back to statement text.
func RenderInsert(ins *Insert) string {
	var tuples []string
	for _, tuple := range ins.Values {
		quoted := make([]string, len(tuple))
		for i, v := range tuple {
			quoted[i] = "'" + v + "'"
		}
		tuples = append(tuples, "("+strings.Join(quoted, ", ")+")")
	}
	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES %s;",
		ins.Table, strings.Join(ins.Columns, ", "), strings.Join(tuples, ", "),
	)
}

// RenderUpdate prints an Update back to statement text.
func RenderUpdate(upd *Update) string {
	columns := make([]string, 0, len(upd.Set))
	for col := range upd.Set {
		columns = append(columns, col)
	}
	sort.Strings(columns)

	assignments := make([]string, 0, len(columns))
	for _, col := range columns {
		assignments = append(assignments, fmt.Sprintf("%s = '%s'", col, upd.Set[col]))
	}
	return fmt.Sprintf(
		"UPDATE %s SET %s WHERE %s;",
		upd.Table, strings.Join(assignments, ", "), RenderExpression(upd.Where),
	)
}

// RenderExpression prints a predicate tree back to statement text.
func RenderExpression(expr table.Expression) string {
	switch e := expr.(type) {
	case table.True:
		return "1 = 1"
	case table.Not:
		return "NOT (" + RenderExpression(e.Expr) + ")"
	case table.And:
		return "(" + RenderExpression(e.Left) + " AND " + RenderExpression(e.Right) + ")"
	case table.Or:
		return "(" + RenderExpression(e.Left) + " OR " + RenderExpression(e.Right) + ")"
	case table.Comparison:
		return renderOperand(e.Left) + " " + e.Op + " " + renderOperand(e.Right)
	default:
		return ""
	}
}

func renderOperand(o table.Operand) string {
	switch o.Kind {
	case table.OperandColumn:
		return o.Value
	case table.OperandString:
		return "'" + o.Value + "'"
	default:
		return o.Value
	}
}
