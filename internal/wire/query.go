package wire

import (
	"bytes"
	"io"
)

type queryFlag byte

const (
	flagValues                queryFlag = 0x01
	flagSkipMetadata          queryFlag = 0x02
	flagPageSize              queryFlag = 0x04
	flagWithPagingState       queryFlag = 0x08
	flagWithSerialConsistency queryFlag = 0x10
	flagWithDefaultTimestamp  queryFlag = 0x20
	flagWithNamesForValues    queryFlag = 0x40
)

func (f queryFlag) isSet(flags byte) bool { return flags&byte(f) != 0 }

// QueryValue is an optionally named bound value.
type QueryValue struct {
	Name  string
	Named bool
	Value []byte
}

// Query is the QUERY frame body: [long string] statement, [consistency],
// a flags byte and the optional trailing sections the flags enable.
type Query struct {
	Statement         string
	Consistency       ConsistencyLevel
	Values            []QueryValue
	SkipMetadata      bool
	PageSize          *int32
	PagingState       []byte
	SerialConsistency *ConsistencyLevel
	Timestamp         *int64
}

// NewQuery builds a plain query with the defaults a simple client sends.
func NewQuery(statement string, cl ConsistencyLevel) *Query {
	return &Query{Statement: statement, Consistency: cl, SkipMetadata: true}
}

func (q *Query) Opcode() Opcode { return OpQuery }

func (q *Query) flags() byte {
	var flags byte
	if q.Values != nil {
		flags |= byte(flagValues)
		for _, v := range q.Values {
			if v.Named {
				flags |= byte(flagWithNamesForValues)
				break
			}
		}
	}
	if q.SkipMetadata {
		flags |= byte(flagSkipMetadata)
	}
	if q.PageSize != nil {
		flags |= byte(flagPageSize)
	}
	if q.PagingState != nil {
		flags |= byte(flagWithPagingState)
	}
	if q.SerialConsistency != nil {
		flags |= byte(flagWithSerialConsistency)
	}
	if q.Timestamp != nil {
		flags |= byte(flagWithDefaultTimestamp)
	}
	return flags
}

func (q *Query) serialize() []byte {
	var buf bytes.Buffer
	WriteLongString(&buf, q.Statement)
	WriteConsistency(&buf, q.Consistency)
	flags := q.flags()
	WriteByte(&buf, flags)

	if q.Values != nil {
		WriteShort(&buf, uint16(len(q.Values)))
		for _, v := range q.Values {
			if flagWithNamesForValues.isSet(flags) {
				WriteString(&buf, v.Name)
			}
			WriteBytes(&buf, v.Value)
		}
	}
	if q.PageSize != nil {
		WriteInt(&buf, *q.PageSize)
	}
	if q.PagingState != nil {
		WriteBytes(&buf, q.PagingState)
	}
	if q.SerialConsistency != nil {
		WriteConsistency(&buf, *q.SerialConsistency)
	}
	if q.Timestamp != nil {
		WriteLong(&buf, *q.Timestamp)
	}
	return buf.Bytes()
}

func readQuery(r io.Reader) (*Query, error) {
	statement, err := ReadLongString(r)
	if err != nil {
		return nil, err
	}
	cl, err := ReadConsistency(r)
	if err != nil {
		return nil, err
	}
	flags, err := ReadByte(r)
	if err != nil {
		return nil, err
	}

	q := &Query{Statement: statement, Consistency: cl}

	if flagValues.isSet(flags) {
		n, err := ReadShort(r)
		if err != nil {
			return nil, err
		}
		named := flagWithNamesForValues.isSet(flags)
		q.Values = make([]QueryValue, 0, n)
		for i := 0; i < int(n); i++ {
			var v QueryValue
			if named {
				if v.Name, err = ReadString(r); err != nil {
					return nil, err
				}
				v.Named = true
			}
			if v.Value, err = ReadBytes(r); err != nil {
				return nil, err
			}
			q.Values = append(q.Values, v)
		}
	}
	q.SkipMetadata = flagSkipMetadata.isSet(flags)
	if flagPageSize.isSet(flags) {
		size, err := ReadInt(r)
		if err != nil {
			return nil, err
		}
		q.PageSize = &size
	}
	if flagWithPagingState.isSet(flags) {
		if q.PagingState, err = ReadBytes(r); err != nil {
			return nil, err
		}
	}
	if flagWithSerialConsistency.isSet(flags) {
		sc, err := ReadConsistency(r)
		if err != nil {
			return nil, err
		}
		q.SerialConsistency = &sc
	}
	if flagWithDefaultTimestamp.isSet(flags) {
		ts, err := ReadLong(r)
		if err != nil {
			return nil, err
		}
		q.Timestamp = &ts
	}
	return q, nil
}
