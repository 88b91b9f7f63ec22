package cql

import (
	"errors"
	"reflect"
	"testing"

	"tessera/internal/table"
)

func parseOne(t *testing.T, input string) Statement {
	t.Helper()
	stmt, err := Parse(input)
	if err != nil {
		t.Fatalf("Parse(%q): %v", input, err)
	}
	return stmt
}

func TestParseCreateKeyspace(t *testing.T) {
	stmt := parseOne(t, "CREATE KEYSPACE flights WITH REPLICATION = { 'class' : 'SimpleStrategy', 'replication_factor' : 2 };")
	ks, ok := stmt.(*CreateKeyspace)
	if !ok {
		t.Fatalf("got %T", stmt)
	}
	want := &CreateKeyspace{Keyspace: "flights", Class: "SimpleStrategy", Factor: "2"}
	if !reflect.DeepEqual(ks, want) {
		t.Errorf("got %+v, want %+v", ks, want)
	}
}

func TestParseCreateTable(t *testing.T) {
	stmt := parseOne(t, `CREATE TABLE status_by_origin (
		flight_id BIGINT,
		origin TEXT,
		departure_time TIMESTAMP,
		status TEXT,
		PRIMARY KEY ((origin), departure_time)
	);`)
	ct, ok := stmt.(*CreateTable)
	if !ok {
		t.Fatalf("got %T", stmt)
	}
	if ct.Table != "status_by_origin" {
		t.Errorf("table = %q", ct.Table)
	}
	if !reflect.DeepEqual(ct.PartitionKey, []string{"origin"}) {
		t.Errorf("partition key = %v", ct.PartitionKey)
	}
	if !reflect.DeepEqual(ct.ClusteringKey, []string{"departure_time"}) {
		t.Errorf("clustering key = %v", ct.ClusteringKey)
	}
	if len(ct.Columns) != 4 || ct.Columns[0] != (ColumnDef{Name: "flight_id", Type: "BIGINT"}) {
		t.Errorf("columns = %v", ct.Columns)
	}
}

func TestParseCreateTableCompositeKeys(t *testing.T) {
	stmt := parseOne(t, "CREATE TABLE t (a TEXT, b TEXT, c TEXT, d TEXT, PRIMARY KEY ((a, b), c, d));")
	ct := stmt.(*CreateTable)
	if !reflect.DeepEqual(ct.PartitionKey, []string{"a", "b"}) {
		t.Errorf("partition key = %v", ct.PartitionKey)
	}
	if !reflect.DeepEqual(ct.ClusteringKey, []string{"c", "d"}) {
		t.Errorf("clustering key = %v", ct.ClusteringKey)
	}
}

func TestParseUse(t *testing.T) {
	stmt := parseOne(t, "USE flights;")
	if use, ok := stmt.(*Use); !ok || use.Keyspace != "flights" {
		t.Errorf("got %+v", stmt)
	}
}

func TestParseInsert(t *testing.T) {
	stmt := parseOne(t, "INSERT INTO vuelos (id, city) VALUES (1010, 'Rio'), (1011, 'Bariloche');")
	ins, ok := stmt.(*Insert)
	if !ok {
		t.Fatalf("got %T", stmt)
	}
	if !reflect.DeepEqual(ins.Columns, []string{"id", "city"}) {
		t.Errorf("columns = %v", ins.Columns)
	}
	if !reflect.DeepEqual(ins.Values, [][]string{{"1010", "Rio"}, {"1011", "Bariloche"}}) {
		t.Errorf("values = %v", ins.Values)
	}

	rows := ins.Rows()
	if len(rows) != 2 || rows[0]["city"] != "Rio" || rows[1]["id"] != "1011" {
		t.Errorf("rows = %v", rows)
	}
}

func TestParseInsertArityMismatch(t *testing.T) {
	_, err := Parse("INSERT INTO t (a, b) VALUES (1);")
	if !errors.Is(err, ErrSyntax) {
		t.Errorf("got %v", err)
	}
}

func TestParseSelectStar(t *testing.T) {
	stmt := parseOne(t, "SELECT * FROM vuelos;")
	sel := stmt.(*Select)
	if sel.Columns != nil {
		t.Errorf("columns = %v", sel.Columns)
	}
	if _, ok := sel.Where.(table.True); !ok {
		t.Errorf("where = %#v", sel.Where)
	}
}

func TestParseSelectWithWhereAndOrder(t *testing.T) {
	stmt := parseOne(t, "SELECT id, city FROM vuelos WHERE id = 10 AND city > 'B' ORDER BY city DESC, id;")
	sel := stmt.(*Select)
	if !reflect.DeepEqual(sel.Columns, []string{"id", "city"}) {
		t.Errorf("columns = %v", sel.Columns)
	}
	want := table.And{
		Left:  table.Comparison{Left: table.ColumnRef("id"), Op: "=", Right: table.IntegerLit("10")},
		Right: table.Comparison{Left: table.ColumnRef("city"), Op: ">", Right: table.StringLit("B")},
	}
	if !reflect.DeepEqual(sel.Where, want) {
		t.Errorf("where = %#v", sel.Where)
	}
	wantOrder := []Ordering{{Column: "city", Descending: true}, {Column: "id"}}
	if !reflect.DeepEqual(sel.OrderBy, wantOrder) {
		t.Errorf("order by = %v", sel.OrderBy)
	}
}

func TestParsePredicateComposition(t *testing.T) {
	stmt := parseOne(t, "SELECT * FROM t WHERE NOT (a = 1 OR b <= 'x');")
	sel := stmt.(*Select)
	not, ok := sel.Where.(table.Not)
	if !ok {
		t.Fatalf("where = %#v", sel.Where)
	}
	if _, ok := not.Expr.(table.Or); !ok {
		t.Errorf("inner = %#v", not.Expr)
	}
}

func TestParseUpdate(t *testing.T) {
	stmt := parseOne(t, "UPDATE vuelos SET status = 'delayed', gate = '7' WHERE id = 10;")
	upd := stmt.(*Update)
	if upd.Table != "vuelos" {
		t.Errorf("table = %q", upd.Table)
	}
	if upd.Set["status"] != "delayed" || upd.Set["gate"] != "7" {
		t.Errorf("set = %v", upd.Set)
	}
}

func TestParseDelete(t *testing.T) {
	stmt := parseOne(t, "DELETE FROM vuelos WHERE id = 10;")
	del := stmt.(*Delete)
	if del.Table != "vuelos" {
		t.Errorf("table = %q", del.Table)
	}
}

func TestParseCaseInsensitiveKeywords(t *testing.T) {
	parseOne(t, "select * from t;")
	parseOne(t, "Insert Into t (a) Values (1);")
}

func TestParseSyntaxErrors(t *testing.T) {
	bad := []string{
		"",
		"SELECT * FROM t",               // missing semicolon
		"DROP TABLE t;",                 // unsupported statement
		"CREATE TABLE t (a BLOB, PRIMARY KEY ((a)));", // unknown type
		"INSERT INTO t (a) VALUES 'x';",
		"SELECT * FROM t WHERE a ! 1;",
		"UPDATE t SET a = 'x';", // missing WHERE
	}
	for _, input := range bad {
		if _, err := Parse(input); !errors.Is(err, ErrSyntax) {
			t.Errorf("Parse(%q) = %v, want ErrSyntax", input, err)
		}
	}
}
