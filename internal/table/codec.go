package table

import (
	"bytes"
	"fmt"
	"io"

	"tessera/internal/wire"
)

// ToBytes serializes the full table (schema plus every partition and row)
// into the length-prefixed binary layout used for at-rest blobs:
//
//	[string table_name][string list pk_cols][string list ck_cols]
//	[string map columns]
//	[short partition_count]{
//	    [string list pk_values][string list ck_cols][short row_count]{
//	        [string list ck_values][string map row]
//	    }
//	}
//
// Partitions are written in sorted key order so the encoding is
// deterministic.
func (t *Table) ToBytes() []byte {
	var buf bytes.Buffer
	wire.WriteString(&buf, t.Name)
	wire.WriteStringList(&buf, t.PartitionKeyColumns)
	wire.WriteStringList(&buf, t.ClusteringKeyColumns)

	columns := make([][2]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		columns = append(columns, [2]string{c.Name, c.Type})
	}
	wire.WriteStringMap(&buf, columns)

	sorted := t.sortedPartitionKeys()
	wire.WriteShort(&buf, uint16(len(sorted)))
	for _, mapKey := range sorted {
		partition := t.partitions[mapKey]
		wire.WriteStringList(&buf, partition.Keys)
		writePartition(&buf, partition)
	}
	return buf.Bytes()
}

func writePartition(buf *bytes.Buffer, p *Partition) {
	wire.WriteStringList(buf, p.ClusteringKeyColumns)
	wire.WriteShort(buf, uint16(p.rows.Len()))
	p.rows.Ascend(func(e *rowEntry) bool {
		wire.WriteStringList(buf, e.key)
		pairs := make([][2]string, 0, len(e.row))
		for _, col := range sortedColumns(e.row) {
			pairs = append(pairs, [2]string{col, e.row[col]})
		}
		wire.WriteStringMap(buf, pairs)
		return true
	})
}

func sortedColumns(row Row) []string {
	cols := make([]string, 0, len(row))
	for c := range row {
		cols = append(cols, c)
	}
	for i := 1; i < len(cols); i++ {
		for j := i; j > 0 && cols[j] < cols[j-1]; j-- {
			cols[j], cols[j-1] = cols[j-1], cols[j]
		}
	}
	return cols
}

// FromBytes reverses ToBytes.
func FromBytes(data []byte) (*Table, error) {
	r := bytes.NewReader(data)

	name, err := wire.ReadString(r)
	if err != nil {
		return nil, fmt.Errorf("reading table name: %w", err)
	}
	partitionKeys, err := wire.ReadStringList(r)
	if err != nil {
		return nil, fmt.Errorf("reading partition key columns: %w", err)
	}
	clusteringKeys, err := wire.ReadStringList(r)
	if err != nil {
		return nil, fmt.Errorf("reading clustering key columns: %w", err)
	}
	if len(clusteringKeys) == 0 {
		clusteringKeys = nil // as New stores a table without clustering columns
	}
	columnPairs, err := wire.ReadStringMap(r)
	if err != nil {
		return nil, fmt.Errorf("reading columns: %w", err)
	}

	columns := make([]Column, 0, len(columnPairs))
	for _, kv := range columnPairs {
		columns = append(columns, Column{Name: kv[0], Type: kv[1]})
	}

	t := &Table{
		Name:                 name,
		PartitionKeyColumns:  partitionKeys,
		ClusteringKeyColumns: clusteringKeys,
		Columns:              columns,
		partitions:           make(map[string]*Partition),
	}

	partitionCount, err := wire.ReadShort(r)
	if err != nil {
		return nil, fmt.Errorf("reading partition count: %w", err)
	}
	for i := 0; i < int(partitionCount); i++ {
		keys, err := wire.ReadStringList(r)
		if err != nil {
			return nil, fmt.Errorf("reading partition keys: %w", err)
		}
		partition, err := readPartition(r, keys)
		if err != nil {
			return nil, err
		}
		t.partitions[partitionMapKey(keys)] = partition
	}
	return t, nil
}

func readPartition(r io.Reader, keys []string) (*Partition, error) {
	clusteringKeys, err := wire.ReadStringList(r)
	if err != nil {
		return nil, fmt.Errorf("reading partition clustering columns: %w", err)
	}
	partition := newPartition(keys, clusteringKeys)

	rowCount, err := wire.ReadShort(r)
	if err != nil {
		return nil, fmt.Errorf("reading row count: %w", err)
	}
	for i := 0; i < int(rowCount); i++ {
		key, err := wire.ReadStringList(r)
		if err != nil {
			return nil, fmt.Errorf("reading clustering key values: %w", err)
		}
		pairs, err := wire.ReadStringMap(r)
		if err != nil {
			return nil, fmt.Errorf("reading row: %w", err)
		}
		row := make(Row, len(pairs))
		for _, kv := range pairs {
			row[kv[0]] = kv[1]
		}
		partition.rows.ReplaceOrInsert(&rowEntry{key: key, row: row})
	}
	return partition, nil
}
