package wire

import (
	"bytes"
	"io"
	"strings"
)

// ConsistencyLevel is the [consistency] notation, a [short].
type ConsistencyLevel uint16

const (
	ConsistencyAny         ConsistencyLevel = 0x0000
	ConsistencyOne         ConsistencyLevel = 0x0001
	ConsistencyTwo         ConsistencyLevel = 0x0002
	ConsistencyThree       ConsistencyLevel = 0x0003
	ConsistencyQuorum      ConsistencyLevel = 0x0004
	ConsistencyAll         ConsistencyLevel = 0x0005
	ConsistencyLocalQuorum ConsistencyLevel = 0x0006
	ConsistencyEachQuorum  ConsistencyLevel = 0x0007
	ConsistencySerial      ConsistencyLevel = 0x0008
	ConsistencyLocalSerial ConsistencyLevel = 0x0009
	ConsistencyLocalOne    ConsistencyLevel = 0x000A
)

func ParseConsistency(s string) ConsistencyLevel {
	switch strings.ToLower(s) {
	case "one":
		return ConsistencyOne
	case "two":
		return ConsistencyTwo
	case "three":
		return ConsistencyThree
	case "quorum":
		return ConsistencyQuorum
	case "all":
		return ConsistencyAll
	case "localquorum":
		return ConsistencyLocalQuorum
	case "eachquorum":
		return ConsistencyEachQuorum
	case "serial":
		return ConsistencySerial
	case "localserial":
		return ConsistencyLocalSerial
	case "localone":
		return ConsistencyLocalOne
	default:
		return ConsistencyAny
	}
}

func (c ConsistencyLevel) String() string {
	switch c {
	case ConsistencyOne:
		return "one"
	case ConsistencyTwo:
		return "two"
	case ConsistencyThree:
		return "three"
	case ConsistencyQuorum:
		return "quorum"
	case ConsistencyAll:
		return "all"
	case ConsistencyLocalQuorum:
		return "localquorum"
	case ConsistencyEachQuorum:
		return "eachquorum"
	case ConsistencySerial:
		return "serial"
	case ConsistencyLocalSerial:
		return "localserial"
	case ConsistencyLocalOne:
		return "localone"
	default:
		return "any"
	}
}

func WriteConsistency(buf *bytes.Buffer, c ConsistencyLevel) {
	WriteShort(buf, uint16(c))
}

func ReadConsistency(r io.Reader) (ConsistencyLevel, error) {
	v, err := ReadShort(r)
	if err != nil {
		return ConsistencyAny, err
	}
	return ConsistencyLevel(v), nil
}
