package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// AuthChallenge carries the server's Diffie-Hellman parameters as three
// big-endian u64 fields.
type AuthChallenge struct {
	PublicKey uint64
	Prime     uint64
	Base      uint64
}

func (c *AuthChallenge) Opcode() Opcode { return OpAuthChallenge }

func (c *AuthChallenge) serialize() []byte {
	buf := make([]byte, 24)
	binary.BigEndian.PutUint64(buf[0:8], c.PublicKey)
	binary.BigEndian.PutUint64(buf[8:16], c.Prime)
	binary.BigEndian.PutUint64(buf[16:24], c.Base)
	return buf
}

func readAuthChallenge(r io.Reader) (*AuthChallenge, error) {
	buf := make([]byte, 24)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return &AuthChallenge{
		PublicKey: binary.BigEndian.Uint64(buf[0:8]),
		Prime:     binary.BigEndian.Uint64(buf[8:16]),
		Base:      binary.BigEndian.Uint64(buf[16:24]),
	}, nil
}

// AuthResponse is sent by the client twice: first with an empty body to
// request a challenge, then with its public key and the claimed shared
// secret as two big-endian u64 fields.
type AuthResponse struct {
	Empty        bool
	PublicKey    uint64
	SharedSecret uint64
}

func EmptyAuthResponse() *AuthResponse { return &AuthResponse{Empty: true} }

func (a *AuthResponse) Opcode() Opcode { return OpAuthResponse }

func (a *AuthResponse) serialize() []byte {
	if a.Empty {
		return nil
	}
	buf := make([]byte, 16)
	binary.BigEndian.PutUint64(buf[0:8], a.PublicKey)
	binary.BigEndian.PutUint64(buf[8:16], a.SharedSecret)
	return buf
}

func readAuthResponse(body []byte) (*AuthResponse, error) {
	if len(body) == 0 {
		return &AuthResponse{Empty: true}, nil
	}
	if len(body) < 16 {
		return nil, fmt.Errorf("auth response body too short: %d bytes", len(body))
	}
	r := bytes.NewReader(body)
	buf := make([]byte, 16)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return &AuthResponse{
		PublicKey:    binary.BigEndian.Uint64(buf[0:8]),
		SharedSecret: binary.BigEndian.Uint64(buf[8:16]),
	}, nil
}
