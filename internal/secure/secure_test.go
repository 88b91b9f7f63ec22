package secure

import (
	"bytes"
	"testing"
)

func TestTransformRoundTrip(t *testing.T) {
	payloads := [][]byte{
		[]byte("hello"),
		{0x00, 0xFF, 0x7F, 0x80},
		[]byte(""),
		bytes.Repeat([]byte{0xAB}, 1024),
	}
	keys := []uint64{0, 1, 7, 8, 255, 18446744073709551615}

	for _, key := range keys {
		for _, payload := range payloads {
			got := Untransform(Transform(payload, key), key)
			if !bytes.Equal(got, payload) {
				t.Errorf("round trip with key %d mangled %v -> %v", key, payload, got)
			}
		}
	}
}

func TestTransformChangesBytes(t *testing.T) {
	payload := []byte("the quick brown fox")
	if bytes.Equal(Transform(payload, 42), payload) {
		t.Error("transform left payload unchanged")
	}
}

func TestHandshakeAgreement(t *testing.T) {
	server := NewHandshake(DefaultPrime, DefaultBase)
	public, prime, base := server.Params()

	client, clientPublic, claimed := NewInitiated(prime, base, public)

	if !server.Attempt(clientPublic, claimed) {
		t.Fatal("server rejected a correctly derived shared secret")
	}
	if server.Secret() != client.Secret() {
		t.Fatalf("secrets diverged: server %d, client %d", server.Secret(), client.Secret())
	}
}

func TestHandshakeRejectsWrongSecret(t *testing.T) {
	server := NewHandshake(DefaultPrime, DefaultBase)
	public, prime, base := server.Params()

	_, clientPublic, claimed := NewInitiated(prime, base, public)

	if server.Attempt(clientPublic, claimed+1) {
		t.Fatal("server accepted a wrong shared secret")
	}
	if server.Established() {
		t.Fatal("handshake established after a failed attempt")
	}
}

func TestEncryptBeforeEstablishedIsIdentity(t *testing.T) {
	h := NewHandshake(DefaultPrime, DefaultBase)
	payload := []byte("plaintext")
	if !bytes.Equal(h.Encrypt(payload), payload) {
		t.Error("pre-handshake encrypt modified data")
	}
}

func TestEncryptDecryptAfterHandshake(t *testing.T) {
	server := NewHandshake(DefaultPrime, DefaultBase)
	public, prime, base := server.Params()
	client, clientPublic, claimed := NewInitiated(prime, base, public)
	if !server.Attempt(clientPublic, claimed) {
		t.Fatal("handshake failed")
	}

	payload := []byte("framed message body")
	if got := client.Decrypt(server.Encrypt(payload)); !bytes.Equal(got, payload) {
		t.Errorf("decrypt(encrypt(%q)) = %q", payload, got)
	}
}
