package table

import (
	"reflect"
	"testing"
)

func populated() *Table {
	tbl := New(
		"flights.status_by_origin",
		[]string{"origin"},
		[]string{"departure"},
		[]Column{{"origin", "text"}, {"departure", "timestamp"}, {"status", "text"}},
	)
	rows := []Row{
		{"origin": "EZE", "departure": "09:00", "status": "on_time"},
		{"origin": "EZE", "departure": "11:30", "status": "delayed"},
		{"origin": "AEP", "departure": "08:15", "status": "boarding"},
	}
	for _, r := range rows {
		if err := tbl.Insert(r); err != nil {
			panic(err)
		}
	}
	return tbl
}

func tablesEqual(a, b *Table) bool {
	return a.Name == b.Name &&
		reflect.DeepEqual(a.PartitionKeyColumns, b.PartitionKeyColumns) &&
		reflect.DeepEqual(a.ClusteringKeyColumns, b.ClusteringKeyColumns) &&
		reflect.DeepEqual(a.Columns, b.Columns) &&
		reflect.DeepEqual(a.Rows(), b.Rows())
}

func TestCodecRoundTripIsIdentity(t *testing.T) {
	tbl := populated()
	got, err := FromBytes(tbl.ToBytes())
	if err != nil {
		t.Fatal(err)
	}
	if !tablesEqual(got, tbl) {
		t.Errorf("round trip diverged:\n got %v\nwant %v", got.Rows(), tbl.Rows())
	}
}

func TestCodecEmptyTable(t *testing.T) {
	tbl := New("ks.empty", []string{"id"}, nil, []Column{{"id", "int"}})
	got, err := FromBytes(tbl.ToBytes())
	if err != nil {
		t.Fatal(err)
	}
	if !tablesEqual(got, tbl) {
		t.Error("empty table round trip diverged")
	}
}

func TestCodecDeterministic(t *testing.T) {
	a := populated().ToBytes()
	b := populated().ToBytes()
	if !reflect.DeepEqual(a, b) {
		t.Error("encoding the same table twice produced different bytes")
	}
}

func TestCodecRejectsGarbage(t *testing.T) {
	if _, err := FromBytes([]byte{0xFF}); err == nil {
		t.Error("expected an error decoding garbage")
	}
}
