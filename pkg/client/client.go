// Package client is the library shipped with the repo for talking to a
// cluster: it dials a shuffled address list, performs the STARTUP and
// Diffie-Hellman handshake, and retries with reconnection and query replay
// on connection failures.
package client

import (
	"fmt"
	"io"
	"math/rand"
	"net"
	"time"

	"tessera/internal/secure"
	"tessera/internal/wire"
)

const retries = 3

// Client is a single-connection cluster client. Not safe for concurrent
// use; open one per goroutine.
type Client struct {
	addresses   []string
	conn        net.Conn
	stream      int16
	handshake   *secure.Handshake
	keyspace    string
	unanswered  []*wire.Frame
	dialTimeout time.Duration
}

// Dial connects to the first reachable address (tried in shuffled order)
// and authenticates.
func Dial(addresses []string) (*Client, error) {
	c := &Client{
		addresses:   append([]string(nil), addresses...),
		dialTimeout: 5 * time.Second,
	}
	if err := c.connect(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// UseKeyspace issues a USE statement and remembers the keyspace so it can
// be restored after a reconnect.
func (c *Client) UseKeyspace(keyspace string) error {
	result, err := c.Query(fmt.Sprintf("USE %s;", keyspace), "one")
	if err != nil {
		return err
	}
	if result.Kind != wire.ResultSetKeyspace {
		return fmt.Errorf("unexpected result kind 0x%02X", int32(result.Kind))
	}
	c.keyspace = result.Keyspace
	return nil
}

// Query executes one statement at the given consistency level ("one",
// "quorum", "all").
func (c *Client) Query(statement, consistency string) (*wire.Result, error) {
	c.stream++
	frame := wire.NewRequest(c.stream, wire.NewQuery(statement, wire.ParseConsistency(consistency)))

	if err := c.write(frame); err != nil {
		return nil, err
	}
	reply, err := c.read()
	if err != nil {
		return nil, err
	}

	switch body := reply.Body.(type) {
	case *wire.Result:
		return body, nil
	case *wire.ErrorBody:
		return nil, fmt.Errorf("server error 0x%04X: %s", int32(body.Code), body.Message)
	default:
		return nil, fmt.Errorf("unexpected reply opcode 0x%02X", byte(reply.Body.Opcode()))
	}
}

// write sends a frame, reconnecting through the shuffled address list after
// three failed attempts. Sent-but-unanswered frames are tracked for replay.
func (c *Client) write(frame *wire.Frame) error {
	for {
		err := c.withRetries(func() error {
			return wire.WriteFrame(c.conn, frame, c.handshake.Encrypt)
		})
		if err == nil {
			c.unanswered = append(c.unanswered, frame)
			return nil
		}
		if err := c.reconnect(); err != nil {
			return err
		}
	}
}

// read receives a frame, reconnecting and replaying the most recent
// unanswered query on failure.
func (c *Client) read() (*wire.Frame, error) {
	for {
		var frame *wire.Frame
		err := c.withRetries(func() error {
			var readErr error
			frame, readErr = wire.ReadFrame(c.conn, c.handshake.Decrypt)
			return readErr
		})
		if err == nil {
			if len(c.unanswered) > 0 {
				c.unanswered = c.unanswered[:len(c.unanswered)-1]
			}
			return frame, nil
		}
		if err := c.reconnect(); err != nil {
			return nil, err
		}
		if err := c.replayPending(); err != nil {
			return nil, err
		}
	}
}

func (c *Client) withRetries(op func() error) error {
	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		if err := op(); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("failed after %d attempts: %w", retries, lastErr)
}

func (c *Client) replayPending() error {
	if len(c.unanswered) == 0 {
		return nil
	}
	frame := c.unanswered[len(c.unanswered)-1]
	c.unanswered = c.unanswered[:len(c.unanswered)-1]
	return c.write(frame)
}

func (c *Client) reconnect() error {
	if c.conn != nil {
		c.conn.Close()
	}
	if err := c.connect(); err != nil {
		return err
	}
	if c.keyspace != "" {
		return c.UseKeyspace(c.keyspace)
	}
	return nil
}

// connect dials the shuffled address list and runs the authentication
// handshake on the first address that answers.
func (c *Client) connect() error {
	shuffled := append([]string(nil), c.addresses...)
	rand.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	var lastErr error
	for _, addr := range shuffled {
		conn, err := net.DialTimeout("tcp", addr, c.dialTimeout)
		if err != nil {
			lastErr = err
			continue
		}
		handshake, err := authenticate(conn)
		if err != nil {
			conn.Close()
			lastErr = err
			continue
		}
		c.conn = conn
		c.handshake = handshake
		c.stream = 0
		return nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no addresses configured")
	}
	return fmt.Errorf("could not connect to any node: %w", lastErr)
}

// authenticate runs STARTUP, the empty AUTH_RESPONSE, the DH challenge and
// the final AUTH_RESPONSE. Frames after AUTH_SUCCESS are transformed with
// the shared secret; the server already encrypts AUTH_SUCCESS itself.
func authenticate(conn io.ReadWriter) (*secure.Handshake, error) {
	startup := wire.NewRequest(0, wire.DefaultStartup())
	if err := wire.WriteFrame(conn, startup, wire.Identity); err != nil {
		return nil, err
	}

	reply, err := wire.ReadFrame(conn, wire.Identity)
	if err != nil {
		return nil, err
	}
	auth, ok := reply.Body.(*wire.Authenticate)
	if !ok {
		return nil, fmt.Errorf("expected AUTHENTICATE, got opcode 0x%02X", byte(reply.Body.Opcode()))
	}
	if auth.Name != "PLAIN" {
		return nil, fmt.Errorf("unsupported authenticator %q", auth.Name)
	}

	empty := wire.NewRequest(0, wire.EmptyAuthResponse())
	if err := wire.WriteFrame(conn, empty, wire.Identity); err != nil {
		return nil, err
	}

	reply, err = wire.ReadFrame(conn, wire.Identity)
	if err != nil {
		return nil, err
	}
	challenge, ok := reply.Body.(*wire.AuthChallenge)
	if !ok {
		return nil, fmt.Errorf("expected AUTH_CHALLENGE, got opcode 0x%02X", byte(reply.Body.Opcode()))
	}

	handshake, publicKey, shared := secure.NewInitiated(challenge.Prime, challenge.Base, challenge.PublicKey)
	answer := wire.NewRequest(0, &wire.AuthResponse{PublicKey: publicKey, SharedSecret: shared})
	if err := wire.WriteFrame(conn, answer, wire.Identity); err != nil {
		return nil, err
	}

	reply, err = wire.ReadFrame(conn, handshake.Decrypt)
	if err != nil {
		return nil, err
	}
	if _, ok := reply.Body.(*wire.AuthSuccess); !ok {
		return nil, fmt.Errorf("authentication failed")
	}
	return handshake, nil
}
