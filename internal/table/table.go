package table

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/btree"
)

// TimestampColumn is added implicitly to every table and stamped by the
// coordinator on writes.
const TimestampColumn = "_timestamp"

// Row maps column names to string values.
type Row map[string]string

func (r Row) clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

type Column struct {
	Name string
	Type string
}

// Table is an in-memory partitioned table. Partitions are keyed by the
// partition-key-value vector; rows within a partition are ordered by
// lexicographic comparison of their clustering-key-value vectors.
type Table struct {
	Name                 string // keyspace.table
	PartitionKeyColumns  []string
	ClusteringKeyColumns []string
	Columns              []Column

	partitions map[string]*Partition
}

// Partition holds all rows sharing one partition-key vector.
type Partition struct {
	Keys                 []string
	ClusteringKeyColumns []string
	rows                 *btree.BTreeG[*rowEntry]
}

type rowEntry struct {
	key []string
	row Row
}

func lessKeyVectors(a, b []string) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

func partitionMapKey(keys []string) string {
	return strings.Join(keys, "\x1f")
}

// New builds a table, appending the implicit _timestamp column.
func New(name string, partitionKeys, clusteringKeys []string, columns []Column) *Table {
	cols := make([]Column, 0, len(columns)+1)
	cols = append(cols, columns...)
	cols = append(cols, Column{Name: TimestampColumn, Type: "text"})
	return &Table{
		Name:                 name,
		PartitionKeyColumns:  partitionKeys,
		ClusteringKeyColumns: clusteringKeys,
		Columns:              cols,
		partitions:           make(map[string]*Partition),
	}
}

// KeyspaceName returns the prefix of the qualified table name.
func (t *Table) KeyspaceName() string {
	name, _, _ := strings.Cut(t.Name, ".")
	return name
}

func (t *Table) hasColumn(name string) bool {
	for _, c := range t.Columns {
		if c.Name == name {
			return true
		}
	}
	return false
}

// Insert adds a row, overwriting any existing row with the same partition
// and clustering keys. The partition is created lazily.
func (t *Table) Insert(row Row) error {
	for column := range row {
		if !t.hasColumn(column) {
			return fmt.Errorf("%w: %s", ErrUnknownColumn, column)
		}
	}

	keys := make([]string, 0, len(t.PartitionKeyColumns))
	for _, pk := range t.PartitionKeyColumns {
		value, ok := row[pk]
		if !ok || value == "" {
			return fmt.Errorf("%w: %s", ErrMissingPartitionKey, pk)
		}
		keys = append(keys, value)
	}

	mapKey := partitionMapKey(keys)
	partition, ok := t.partitions[mapKey]
	if !ok {
		partition = newPartition(keys, t.ClusteringKeyColumns)
		if err := partition.insert(row); err != nil {
			return err
		}
		t.partitions[mapKey] = partition
		return nil
	}
	return partition.insert(row)
}

// Update overwrites the listed columns on every row the predicate selects.
func (t *Table) Update(values Row, cond Expression) error {
	for column := range values {
		if !t.hasColumn(column) {
			return fmt.Errorf("%w: %s", ErrUnknownColumn, column)
		}
	}
	for _, partition := range t.partitions {
		var failed error
		partition.rows.Ascend(func(e *rowEntry) bool {
			match, err := cond.Evaluate(e.row)
			if err != nil {
				failed = err
				return false
			}
			if match {
				for column, value := range values {
					e.row[column] = value
				}
			}
			return true
		})
		if failed != nil {
			return failed
		}
	}
	return nil
}

// Delete removes every row the predicate selects.
func (t *Table) Delete(cond Expression) error {
	for _, partition := range t.partitions {
		var toDelete [][]string
		var failed error
		partition.rows.Ascend(func(e *rowEntry) bool {
			match, err := cond.Evaluate(e.row)
			if err != nil {
				failed = err
				return false
			}
			if match {
				toDelete = append(toDelete, e.key)
			}
			return true
		})
		if failed != nil {
			return failed
		}
		for _, key := range toDelete {
			partition.rows.Delete(&rowEntry{key: key})
		}
	}
	return nil
}

// DeletePartition drops a whole partition by its key vector.
func (t *Table) DeletePartition(keys []string) error {
	mapKey := partitionMapKey(keys)
	if _, ok := t.partitions[mapKey]; !ok {
		return fmt.Errorf("%w: %v", ErrPartitionNotFound, keys)
	}
	delete(t.partitions, mapKey)
	return nil
}

// Select returns copies of every row the predicate selects.
func (t *Table) Select(cond Expression) ([]Row, error) {
	var selected []Row
	for _, key := range t.sortedPartitionKeys() {
		partition := t.partitions[key]
		var failed error
		partition.rows.Ascend(func(e *rowEntry) bool {
			match, err := cond.Evaluate(e.row)
			if err != nil {
				failed = err
				return false
			}
			if match {
				selected = append(selected, e.row.clone())
			}
			return true
		})
		if failed != nil {
			return nil, failed
		}
	}
	return selected, nil
}

// RowsInPartition returns copies of the rows under one partition-key
// vector, in clustering order.
func (t *Table) RowsInPartition(keys []string) []Row {
	partition, ok := t.partitions[partitionMapKey(keys)]
	if !ok {
		return nil
	}
	return partition.Rows()
}

// Contains reports whether an identical row exists anywhere in the table.
func (t *Table) Contains(row Row) bool {
	for _, partition := range t.partitions {
		found := false
		partition.rows.Ascend(func(e *rowEntry) bool {
			if rowsEqual(e.row, row) {
				found = true
				return false
			}
			return true
		})
		if found {
			return true
		}
	}
	return false
}

// Rows returns copies of every row in the table.
func (t *Table) Rows() []Row {
	var rows []Row
	for _, key := range t.sortedPartitionKeys() {
		rows = append(rows, t.partitions[key].Rows()...)
	}
	return rows
}

// PartitionKeys returns every partition-key vector currently present.
func (t *Table) PartitionKeys() [][]string {
	keys := make([][]string, 0, len(t.partitions))
	for _, mapKey := range t.sortedPartitionKeys() {
		keys = append(keys, t.partitions[mapKey].Keys)
	}
	return keys
}

// Len counts all rows across partitions.
func (t *Table) Len() int {
	n := 0
	for _, partition := range t.partitions {
		n += partition.rows.Len()
	}
	return n
}

func (t *Table) sortedPartitionKeys() []string {
	keys := make([]string, 0, len(t.partitions))
	for k := range t.partitions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func rowsEqual(a, b Row) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

func newPartition(keys, clusteringKeys []string) *Partition {
	return &Partition{
		Keys:                 keys,
		ClusteringKeyColumns: clusteringKeys,
		rows: btree.NewG(2, func(a, b *rowEntry) bool {
			return lessKeyVectors(a.key, b.key)
		}),
	}
}

func (p *Partition) insert(row Row) error {
	clusteringKeys := make([]string, 0, len(p.ClusteringKeyColumns))
	for _, ck := range p.ClusteringKeyColumns {
		value, ok := row[ck]
		if !ok || value == "" {
			return fmt.Errorf("%w: %s", ErrMissingClusteringKey, ck)
		}
		clusteringKeys = append(clusteringKeys, value)
	}
	p.rows.ReplaceOrInsert(&rowEntry{key: clusteringKeys, row: row})
	return nil
}

// Rows returns copies of the partition's rows in clustering order.
func (p *Partition) Rows() []Row {
	rows := make([]Row, 0, p.rows.Len())
	p.rows.Ascend(func(e *rowEntry) bool {
		rows = append(rows, e.row.clone())
		return true
	})
	return rows
}

// Len returns the number of rows in the partition.
func (p *Partition) Len() int { return p.rows.Len() }
