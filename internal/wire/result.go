package wire

import (
	"bytes"
	"fmt"
	"io"
)

// ResultKind is the [int] discriminator at the start of a RESULT body.
type ResultKind int32

const (
	ResultVoid         ResultKind = 0x0001
	ResultRows         ResultKind = 0x0002
	ResultSetKeyspace  ResultKind = 0x0003
	ResultPrepared     ResultKind = 0x0004
	ResultSchemaChange ResultKind = 0x0005
)

// Result is the RESULT frame body. Exactly one of the payload fields is
// meaningful, selected by Kind.
type Result struct {
	Kind ResultKind

	// Rows payload: column names followed by row values aligned to them.
	Columns []string
	Rows    [][]string

	// SetKeyspace payload.
	Keyspace string

	// SchemaChange payload.
	ChangeType string
	Target     string
	ChangeName string
}

func VoidResult() *Result { return &Result{Kind: ResultVoid} }

func RowsResult(columns []string, rows [][]string) *Result {
	return &Result{Kind: ResultRows, Columns: columns, Rows: rows}
}

func SetKeyspaceResult(keyspace string) *Result {
	return &Result{Kind: ResultSetKeyspace, Keyspace: keyspace}
}

func SchemaChangeResult(changeType, target, name string) *Result {
	return &Result{Kind: ResultSchemaChange, ChangeType: changeType, Target: target, ChangeName: name}
}

func (res *Result) Opcode() Opcode { return OpResult }

func (res *Result) serialize() []byte {
	var buf bytes.Buffer
	WriteInt(&buf, int32(res.Kind))
	switch res.Kind {
	case ResultVoid, ResultPrepared:
	case ResultRows:
		WriteStringList(&buf, res.Columns)
		WriteInt(&buf, int32(len(res.Rows)))
		for _, row := range res.Rows {
			for _, v := range row {
				WriteString(&buf, v)
			}
		}
	case ResultSetKeyspace:
		WriteString(&buf, res.Keyspace)
	case ResultSchemaChange:
		WriteString(&buf, res.ChangeType)
		WriteString(&buf, res.Target)
		WriteString(&buf, res.ChangeName)
	}
	return buf.Bytes()
}

func readResult(r io.Reader) (*Result, error) {
	kind, err := ReadInt(r)
	if err != nil {
		return nil, err
	}
	res := &Result{Kind: ResultKind(kind)}
	switch res.Kind {
	case ResultVoid, ResultPrepared:
		return res, nil
	case ResultRows:
		if res.Columns, err = ReadStringList(r); err != nil {
			return nil, err
		}
		count, err := ReadInt(r)
		if err != nil {
			return nil, err
		}
		res.Rows = make([][]string, 0, count)
		for i := 0; i < int(count); i++ {
			row := make([]string, len(res.Columns))
			for j := range row {
				if row[j], err = ReadString(r); err != nil {
					return nil, err
				}
			}
			res.Rows = append(res.Rows, row)
		}
		return res, nil
	case ResultSetKeyspace:
		if res.Keyspace, err = ReadString(r); err != nil {
			return nil, err
		}
		return res, nil
	case ResultSchemaChange:
		if res.ChangeType, err = ReadString(r); err != nil {
			return nil, err
		}
		if res.Target, err = ReadString(r); err != nil {
			return nil, err
		}
		if res.ChangeName, err = ReadString(r); err != nil {
			return nil, err
		}
		return res, nil
	default:
		return nil, fmt.Errorf("unknown result kind 0x%04X", kind)
	}
}
