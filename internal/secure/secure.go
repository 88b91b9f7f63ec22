package secure

import (
	"crypto/rand"
	"encoding/binary"
	"math/bits"
)

// Default Diffie-Hellman group parameters. The prime fits in 31 bits so that
// intermediate products in modExp never overflow a uint64.
const (
	DefaultPrime uint64 = 2147483647 // 2^31 - 1
	DefaultBase  uint64 = 5
)

// Transform applies the symmetric byte transform shared by the post-auth
// client stream and the at-rest table blobs: per-byte XOR with the low byte
// of the key, bitwise complement, then a rotate-left by key mod 8 and a
// rotate-right by half that amount.
func Transform(data []byte, key uint64) []byte {
	shift := int(key % 8)
	out := make([]byte, len(data))
	for i, b := range data {
		c := b ^ byte(key)
		c = ^c
		c = bits.RotateLeft8(c, shift)
		c = bits.RotateLeft8(c, -(shift / 2))
		out[i] = c
	}
	return out
}

// Untransform reverses Transform with the same key.
func Untransform(data []byte, key uint64) []byte {
	shift := int(key % 8)
	out := make([]byte, len(data))
	for i, b := range data {
		c := bits.RotateLeft8(b, shift/2)
		c = bits.RotateLeft8(c, -shift)
		c = ^c
		c ^= byte(key)
		out[i] = c
	}
	return out
}

// Handshake holds one side's Diffie-Hellman state for a connection. The
// server constructs it with NewHandshake and answers the client's challenge
// via Attempt; the client constructs it with NewInitiated from the server's
// public parameters.
type Handshake struct {
	prime      uint64
	base       uint64
	publicKey  uint64
	privateKey uint64
	shared     uint64
	ready      bool
}

func NewHandshake(prime, base uint64) *Handshake {
	private := randomPrivateKey()
	return &Handshake{
		prime:      prime,
		base:       base,
		publicKey:  modExp(base, private, prime),
		privateKey: private,
	}
}

// NewInitiated builds a handshake that has already derived the shared secret
// from the peer's public key. It returns the handshake, the local public key
// and the shared secret to be claimed in the auth response.
func NewInitiated(prime, base, peerPublicKey uint64) (*Handshake, uint64, uint64) {
	h := NewHandshake(prime, base)
	h.shared = modExp(peerPublicKey, h.privateKey, prime)
	h.ready = true
	return h, h.publicKey, h.shared
}

// Attempt derives the shared secret from the peer's public key and compares
// it with the claimed value. On a match the handshake becomes established.
func (h *Handshake) Attempt(peerPublicKey, claimedSecret uint64) bool {
	shared := modExp(peerPublicKey, h.privateKey, h.prime)
	if shared != claimedSecret {
		return false
	}
	h.shared = shared
	h.ready = true
	return true
}

// Params returns the public key, prime and base for an AUTH_CHALLENGE.
func (h *Handshake) Params() (publicKey, prime, base uint64) {
	return h.publicKey, h.prime, h.base
}

func (h *Handshake) Established() bool { return h.ready }

// Secret returns the negotiated key. Only valid once Established.
func (h *Handshake) Secret() uint64 { return h.shared }

// Encrypt transforms data with the shared secret, or returns it unchanged
// before the handshake completes.
func (h *Handshake) Encrypt(data []byte) []byte {
	if !h.ready {
		return data
	}
	return Transform(data, h.shared)
}

// Decrypt is the inverse of Encrypt.
func (h *Handshake) Decrypt(data []byte) []byte {
	if !h.ready {
		return data
	}
	return Untransform(data, h.shared)
}

func randomPrivateKey() uint64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 40961 // deterministic fallback, still a valid exponent
	}
	return binary.BigEndian.Uint64(buf[:])%99999 + 1
}

func modExp(base, exp, modulus uint64) uint64 {
	var result uint64 = 1
	base %= modulus
	for exp > 0 {
		if exp%2 == 1 {
			result = (result * base) % modulus
		}
		exp >>= 1
		base = (base * base) % modulus
	}
	return result
}
