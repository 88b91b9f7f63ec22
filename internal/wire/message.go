package wire

import (
	"bytes"
	"fmt"
)

type Opcode byte

const (
	OpError         Opcode = 0x00
	OpStartup       Opcode = 0x01
	OpReady         Opcode = 0x02
	OpAuthenticate  Opcode = 0x03
	OpOptions       Opcode = 0x05
	OpSupported     Opcode = 0x06
	OpQuery         Opcode = 0x07
	OpResult        Opcode = 0x08
	OpAuthChallenge Opcode = 0x0E
	OpAuthResponse  Opcode = 0x0F
	OpAuthSuccess   Opcode = 0x10
)

// Body is the payload of a frame. Concrete bodies serialize themselves and
// report the opcode that goes in the header.
type Body interface {
	Opcode() Opcode
	serialize() []byte
}

// Startup carries the client's selected options; CQL_VERSION must match.
type Startup struct {
	Options [][2]string
}

func (s *Startup) Opcode() Opcode { return OpStartup }

func (s *Startup) serialize() []byte {
	var buf bytes.Buffer
	WriteStringMap(&buf, s.Options)
	return buf.Bytes()
}

type Ready struct{}

func (*Ready) Opcode() Opcode    { return OpReady }
func (*Ready) serialize() []byte { return nil }

// Authenticate names the authenticator the server requires.
type Authenticate struct {
	Name string
}

func (a *Authenticate) Opcode() Opcode { return OpAuthenticate }

func (a *Authenticate) serialize() []byte {
	var buf bytes.Buffer
	WriteString(&buf, a.Name)
	return buf.Bytes()
}

type Options struct{}

func (*Options) Opcode() Opcode    { return OpOptions }
func (*Options) serialize() []byte { return nil }

// Supported answers OPTIONS with the server's supported startup options.
type Supported struct {
	Entries []MultimapEntry
}

func (s *Supported) Opcode() Opcode { return OpSupported }

func (s *Supported) serialize() []byte {
	var buf bytes.Buffer
	WriteStringMultimap(&buf, s.Entries)
	return buf.Bytes()
}

type AuthSuccess struct{}

func (*AuthSuccess) Opcode() Opcode    { return OpAuthSuccess }
func (*AuthSuccess) serialize() []byte { return nil }

func readBody(op Opcode, body []byte) (Body, error) {
	r := bytes.NewReader(body)
	switch op {
	case OpError:
		return readErrorBody(r)
	case OpStartup:
		options, err := ReadStringMap(r)
		if err != nil {
			return nil, err
		}
		return &Startup{Options: options}, nil
	case OpReady:
		return &Ready{}, nil
	case OpAuthenticate:
		name, err := ReadString(r)
		if err != nil {
			return nil, err
		}
		return &Authenticate{Name: name}, nil
	case OpOptions:
		return &Options{}, nil
	case OpSupported:
		entries, err := ReadStringMultimap(r)
		if err != nil {
			return nil, err
		}
		return &Supported{Entries: entries}, nil
	case OpQuery:
		return readQuery(r)
	case OpResult:
		return readResult(r)
	case OpAuthChallenge:
		return readAuthChallenge(r)
	case OpAuthResponse:
		return readAuthResponse(body)
	case OpAuthSuccess:
		return &AuthSuccess{}, nil
	default:
		return nil, fmt.Errorf("unknown opcode 0x%02X", byte(op))
	}
}
