package table

import (
	"fmt"
	"os"
	"path/filepath"

	"tessera/internal/secure"
)

// Encrypted keeps a table serialized and symmetrically transformed with the
// node's data key. Every operation decodes the blob, runs against the plain
// table and re-encodes, so the in-memory representation is never held in the
// clear longer than one operation.
type Encrypted struct {
	blob []byte
	key  uint64
}

func NewEncrypted(t *Table, key uint64) *Encrypted {
	return &Encrypted{blob: secure.Transform(t.ToBytes(), key), key: key}
}

// Do decodes the table, applies op and stores the re-encoded result even
// when op fails, mirroring partial mutations the way a direct table would.
func (e *Encrypted) Do(op func(*Table) error) error {
	t, err := e.decode()
	if err != nil {
		return err
	}
	opErr := op(t)
	e.blob = secure.Transform(t.ToBytes(), e.key)
	return opErr
}

// Snapshot decodes and returns the current table state.
func (e *Encrypted) Snapshot() (*Table, error) {
	return e.decode()
}

func (e *Encrypted) decode() (*Table, error) {
	t, err := FromBytes(secure.Untransform(e.blob, e.key))
	if err != nil {
		return nil, fmt.Errorf("decoding encrypted table: %w", err)
	}
	return t, nil
}

// Insert, Update, Delete, DeletePartition and the read accessors wrap Do /
// Snapshot so callers never touch the plain table directly.

func (e *Encrypted) Insert(row Row) error {
	return e.Do(func(t *Table) error { return t.Insert(row) })
}

func (e *Encrypted) Update(values Row, cond Expression) error {
	return e.Do(func(t *Table) error { return t.Update(values, cond) })
}

func (e *Encrypted) Delete(cond Expression) error {
	return e.Do(func(t *Table) error { return t.Delete(cond) })
}

func (e *Encrypted) DeletePartition(keys []string) error {
	return e.Do(func(t *Table) error { return t.DeletePartition(keys) })
}

func (e *Encrypted) Select(cond Expression) ([]Row, error) {
	t, err := e.decode()
	if err != nil {
		return nil, err
	}
	return t.Select(cond)
}

func (e *Encrypted) RowsInPartition(keys []string) []Row {
	t, err := e.decode()
	if err != nil {
		return nil
	}
	return t.RowsInPartition(keys)
}

func (e *Encrypted) Contains(row Row) bool {
	t, err := e.decode()
	if err != nil {
		return false
	}
	return t.Contains(row)
}

func (e *Encrypted) PartitionKeyColumns() []string {
	t, err := e.decode()
	if err != nil {
		return nil
	}
	return t.PartitionKeyColumns
}

func (e *Encrypted) Name() string {
	t, err := e.decode()
	if err != nil {
		return ""
	}
	return t.Name
}

func (e *Encrypted) KeyspaceName() string {
	t, err := e.decode()
	if err != nil {
		return ""
	}
	return t.KeyspaceName()
}

// WriteToDisk persists the encrypted blob atomically (write-tmp + rename)
// under dir, named by the qualified table name.
func (e *Encrypted) WriteToDisk(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	name, err := e.decode()
	if err != nil {
		return err
	}
	final := filepath.Join(dir, name.Name)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, e.blob, 0o644); err != nil {
		return fmt.Errorf("writing table blob: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("renaming table blob: %w", err)
	}
	return nil
}

// LoadEncrypted reads a previously persisted blob back.
func LoadEncrypted(path string, key uint64) (*Encrypted, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading table blob: %w", err)
	}
	e := &Encrypted{blob: blob, key: key}
	if _, err := e.decode(); err != nil {
		return nil, err
	}
	return e, nil
}
