package gossip

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Encode serializes an entry list to the JSON form carried in gossip frames
// and persisted on disk.
func Encode(entries []Entry) (string, error) {
	data, err := json.Marshal(entries)
	if err != nil {
		return "", fmt.Errorf("encoding gossip table: %w", err)
	}
	return string(data), nil
}

// Decode parses a JSON gossip table whole; partial or prefixed payloads are
// rejected.
func Decode(data string) ([]Entry, error) {
	var entries []Entry
	if err := json.Unmarshal([]byte(data), &entries); err != nil {
		return nil, fmt.Errorf("decoding gossip table: %w", err)
	}
	return entries, nil
}

// Save writes the table to path so membership survives a restart.
func (t *Table) Save(path string) error {
	data, err := Encode(t.Snapshot())
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating gossip table directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		return fmt.Errorf("writing gossip table: %w", err)
	}
	return nil
}

// Load replaces the table with a previously saved one.
func (t *Table) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading gossip table: %w", err)
	}
	entries, err := Decode(string(data))
	if err != nil {
		return err
	}
	if len(entries) > 0 {
		t.Replace(entries)
	}
	return nil
}
