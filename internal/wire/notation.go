package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Primitive notations of the client protocol. All integers are big-endian.
// [short] is a u16, [int] an i32, [long] an i64. [string] is a [short]
// length followed by UTF-8 bytes; [long string] uses an [int] length.
// [bytes] uses an [int] length where a negative length means nil.

func WriteByte(buf *bytes.Buffer, v byte) {
	buf.WriteByte(v)
}

func WriteShort(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func WriteInt(buf *bytes.Buffer, v int32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(v))
	buf.Write(b[:])
}

func WriteLong(buf *bytes.Buffer, v int64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	buf.Write(b[:])
}

func WriteString(buf *bytes.Buffer, s string) {
	WriteShort(buf, uint16(len(s)))
	buf.WriteString(s)
}

func WriteLongString(buf *bytes.Buffer, s string) {
	WriteInt(buf, int32(len(s)))
	buf.WriteString(s)
}

func WriteStringList(buf *bytes.Buffer, list []string) {
	WriteShort(buf, uint16(len(list)))
	for _, s := range list {
		WriteString(buf, s)
	}
}

func WriteStringMap(buf *bytes.Buffer, pairs [][2]string) {
	WriteShort(buf, uint16(len(pairs)))
	for _, kv := range pairs {
		WriteString(buf, kv[0])
		WriteString(buf, kv[1])
	}
}

func WriteStringMultimap(buf *bytes.Buffer, entries []MultimapEntry) {
	WriteShort(buf, uint16(len(entries)))
	for _, e := range entries {
		WriteString(buf, e.Key)
		WriteStringList(buf, e.Values)
	}
}

func WriteBytes(buf *bytes.Buffer, b []byte) {
	if b == nil {
		WriteInt(buf, -1)
		return
	}
	WriteInt(buf, int32(len(b)))
	buf.Write(b)
}

func WriteShortBytes(buf *bytes.Buffer, b []byte) {
	WriteShort(buf, uint16(len(b)))
	buf.Write(b)
}

type MultimapEntry struct {
	Key    string
	Values []string
}

func ReadByte(r io.Reader) (byte, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

func ReadShort(r io.Reader) (uint16, error) {
	var b [2]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b[:]), nil
}

func ReadInt(r io.Reader) (int32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(b[:])), nil
}

func ReadLong(r io.Reader) (int64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(b[:])), nil
}

func ReadString(r io.Reader) (string, error) {
	n, err := ReadShort(r)
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

func ReadLongString(r io.Reader) (string, error) {
	n, err := ReadInt(r)
	if err != nil {
		return "", err
	}
	if n < 0 {
		return "", fmt.Errorf("negative long string length %d", n)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

func ReadStringList(r io.Reader) ([]string, error) {
	n, err := ReadShort(r)
	if err != nil {
		return nil, err
	}
	list := make([]string, 0, n)
	for i := 0; i < int(n); i++ {
		s, err := ReadString(r)
		if err != nil {
			return nil, err
		}
		list = append(list, s)
	}
	return list, nil
}

func ReadStringMap(r io.Reader) ([][2]string, error) {
	n, err := ReadShort(r)
	if err != nil {
		return nil, err
	}
	pairs := make([][2]string, 0, n)
	for i := 0; i < int(n); i++ {
		k, err := ReadString(r)
		if err != nil {
			return nil, err
		}
		v, err := ReadString(r)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, [2]string{k, v})
	}
	return pairs, nil
}

func ReadStringMultimap(r io.Reader) ([]MultimapEntry, error) {
	n, err := ReadShort(r)
	if err != nil {
		return nil, err
	}
	entries := make([]MultimapEntry, 0, n)
	for i := 0; i < int(n); i++ {
		k, err := ReadString(r)
		if err != nil {
			return nil, err
		}
		vs, err := ReadStringList(r)
		if err != nil {
			return nil, err
		}
		entries = append(entries, MultimapEntry{Key: k, Values: vs})
	}
	return entries, nil
}

func ReadBytes(r io.Reader) ([]byte, error) {
	n, err := ReadInt(r)
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, nil
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

func ReadShortBytes(r io.Reader) ([]byte, error) {
	n, err := ReadShort(r)
	if err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}
