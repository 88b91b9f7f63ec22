package cluster

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"

	"tessera/internal/cql"
	"tessera/internal/gossip"
	"tessera/internal/logging"
	"tessera/internal/peerwire"
	"tessera/internal/secure"
	"tessera/internal/table"
	"tessera/internal/wire"
)

// ---------------------- peer endpoint ----------------------

func (n *Node) acceptPeers(listener net.Listener) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-n.stop:
				return
			default:
				logging.Warn("[%s] peer accept: %v", n.cfg.ID, err)
				continue
			}
		}
		go n.handlePeerConn(conn)
	}
}

// handlePeerConn serves one internal frame: read the message, process it,
// write the response. Periodic gossip senders do not read the reply; the
// write then fails harmlessly.
func (n *Node) handlePeerConn(conn net.Conn) {
	defer conn.Close()

	msg, err := peerwire.Read(conn)
	if err != nil {
		if !isClosedError(err) {
			logging.Warn("[%s] reading peer message: %v", n.cfg.ID, err)
		}
		return
	}

	body, err := n.HandlePeerMessage(msg)
	var reply *peerwire.Message
	if err != nil {
		reply = peerwire.ErrorResponse(err.Error())
	} else {
		reply = peerwire.OKResponse(body)
	}
	if err := reply.WriteTo(conn); err != nil && !isClosedError(err) {
		logging.Debug("[%s] writing peer response: %v", n.cfg.ID, err)
	}
}

// HandlePeerMessage processes one internal message against local state.
func (n *Node) HandlePeerMessage(msg *peerwire.Message) (string, error) {
	switch msg.Kind {
	case peerwire.KindGossip:
		return n.handleGossipMessage(msg)
	case peerwire.KindQuery:
		return n.handleQueryLocally(msg)
	default:
		return "", errors.New("received response when a request was expected")
	}
}

func (n *Node) handleGossipMessage(msg *peerwire.Message) (string, error) {
	entries, err := gossip.Decode(msg.Body)
	if err != nil {
		return "", err
	}
	n.mergeGossip(entries)

	switch msg.Opcode {
	case peerwire.GossipPeriodic:
		return "gossip received", nil
	case peerwire.GossipNewNode:
		return gossip.Encode(n.gossip.Snapshot())
	default:
		return "", fmt.Errorf("invalid gossip opcode %d", msg.Opcode)
	}
}

// mergeGossip folds a received table in, persists the result, replays hints
// to revived peers and reassigns data when new nodes appeared.
func (n *Node) mergeGossip(entries []gossip.Entry) {
	newNodes, revived := n.gossip.Merge(entries)

	if err := n.gossip.Save(n.gossipTablePath()); err != nil {
		logging.Error("[%s] persisting gossip table: %v", n.cfg.ID, err)
	}

	for _, peer := range revived {
		peer := peer
		go n.replayHints(peer)
	}
	if len(newNodes) > 0 {
		n.reassignData(newNodes)
	}
}

// handleQueryLocally executes a forwarded statement against this node's
// storage and returns the response body (JSON rows for SELECT).
func (n *Node) handleQueryLocally(msg *peerwire.Message) (string, error) {
	logging.Debug("[%s] received internal query: %s", n.cfg.ID, msg.Body)

	parsed, err := cql.Parse(msg.Body)
	if err != nil {
		return "", fmt.Errorf("parsing internal query: %w", err)
	}

	switch msg.Opcode {
	case peerwire.QueryCreateKeyspace:
		stmt, ok := parsed.(*cql.CreateKeyspace)
		if !ok {
			return "", errors.New("opcode does not match statement")
		}
		repl, err := parseReplication(stmt)
		if err != nil {
			return "", err
		}
		if err := n.createKeyspace(stmt.Keyspace, repl); err != nil {
			return "", err
		}
		logging.Info("[%s] keyspace created: %s", n.cfg.ID, stmt.Keyspace)
		return "keyspace created", nil

	case peerwire.QueryCreateTable:
		stmt, ok := parsed.(*cql.CreateTable)
		if !ok {
			return "", errors.New("opcode does not match statement")
		}
		if err := n.createTable(msg.Keyspace, stmt); err != nil {
			return "", err
		}
		logging.Info("[%s] table created: %s", n.cfg.ID, stmt.Table)
		return "table created", nil

	case peerwire.QueryInsert:
		stmt, ok := parsed.(*cql.Insert)
		if !ok {
			return "", errors.New("opcode does not match statement")
		}
		for _, row := range stmt.Rows() {
			if err := n.insertRow(msg.Keyspace, stmt.Table, row); err != nil {
				return "", err
			}
		}
		return "rows inserted", nil

	case peerwire.QuerySelect:
		stmt, ok := parsed.(*cql.Select)
		if !ok {
			return "", errors.New("opcode does not match statement")
		}
		rows, err := n.selectRows(msg.Keyspace, stmt.Table, stmt.Where)
		if err != nil {
			return "", err
		}
		if rows == nil {
			rows = []table.Row{}
		}
		payload, err := json.Marshal(rows)
		if err != nil {
			return "", fmt.Errorf("encoding rows: %w", err)
		}
		return string(payload), nil

	case peerwire.QueryUpdate:
		stmt, ok := parsed.(*cql.Update)
		if !ok {
			return "", errors.New("opcode does not match statement")
		}
		if err := n.updateRows(msg.Keyspace, stmt.Table, stmt.Set, stmt.Where); err != nil {
			return "", err
		}
		return "rows updated", nil

	case peerwire.QueryDelete:
		stmt, ok := parsed.(*cql.Delete)
		if !ok {
			return "", errors.New("opcode does not match statement")
		}
		if err := n.deleteRows(msg.Keyspace, stmt.Table, stmt.Where); err != nil {
			return "", err
		}
		return "rows deleted", nil

	default:
		return "", fmt.Errorf("invalid query opcode %d", msg.Opcode)
	}
}

// ---------------------- client endpoint ----------------------

func (n *Node) acceptClients(listener net.Listener) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-n.stop:
				return
			default:
				logging.Warn("[%s] client accept: %v", n.cfg.ID, err)
				continue
			}
		}
		logging.Debug("[%s] new client connection from %s", n.cfg.ID, conn.RemoteAddr())
		go n.handleClientConn(conn)
	}
}

type connState int

const (
	stateUninitialized connState = iota
	stateUnAuthenticated
	stateAuthenticating
	stateReady
)

// handleClientConn runs one connection's state machine: Uninitialized ->
// UnAuthenticated -> Authenticating -> Ready. Every frame after the
// handshake succeeds is transformed with the negotiated shared secret.
func (n *Node) handleClientConn(conn net.Conn) {
	defer conn.Close()

	state := stateUninitialized
	handshake := secure.NewHandshake(secure.DefaultPrime, secure.DefaultBase)
	keyspace := ""

	for {
		frame, err := wire.ReadFrame(conn, handshake.Decrypt)
		if err != nil {
			if !isClosedError(err) {
				logging.Warn("[%s] client read: %v", n.cfg.ID, err)
			}
			return
		}

		// A frame the reader already flagged as malformed is echoed back
		// as-is and the connection continues.
		if body, ok := frame.Body.(*wire.ErrorBody); ok {
			n.writeClientFrame(conn, handshake, wire.NewErrorFrame(frame.Stream, body.Code, body.Message))
			continue
		}

		var reply *wire.Frame
		switch state {
		case stateUninitialized:
			reply = n.handleUninitialized(frame, &state)
		case stateUnAuthenticated, stateAuthenticating:
			reply = n.handleAuthentication(frame, &state, handshake)
		case stateReady:
			reply = n.handleReady(frame, &keyspace)
		}
		if !n.writeClientFrame(conn, handshake, reply) {
			return
		}
	}
}

func (n *Node) writeClientFrame(conn net.Conn, handshake *secure.Handshake, frame *wire.Frame) bool {
	if err := wire.WriteFrame(conn, frame, handshake.Encrypt); err != nil {
		if !isClosedError(err) {
			logging.Warn("[%s] client write: %v", n.cfg.ID, err)
		}
		return false
	}
	return true
}

func (n *Node) handleUninitialized(frame *wire.Frame, state *connState) *wire.Frame {
	switch body := frame.Body.(type) {
	case *wire.Startup:
		if !wire.ValidateStartup(body.Options) {
			return wire.NewProtocolError(frame.Stream)
		}
		*state = stateUnAuthenticated
		return wire.NewResponse(frame.Stream, &wire.Authenticate{Name: "PLAIN"})
	case *wire.Options:
		return wire.NewResponse(frame.Stream, wire.DefaultSupported())
	default:
		return wire.NewProtocolError(frame.Stream)
	}
}

func (n *Node) handleAuthentication(frame *wire.Frame, state *connState, handshake *secure.Handshake) *wire.Frame {
	response, ok := frame.Body.(*wire.AuthResponse)
	if !ok {
		return wire.NewProtocolError(frame.Stream)
	}

	switch *state {
	case stateUnAuthenticated:
		*state = stateAuthenticating
		publicKey, prime, base := handshake.Params()
		challenge := &wire.AuthChallenge{PublicKey: publicKey, Prime: prime, Base: base}
		return wire.NewResponse(frame.Stream, challenge)

	case stateAuthenticating:
		if handshake.Attempt(response.PublicKey, response.SharedSecret) {
			*state = stateReady
			// The handshake is established, so AUTH_SUCCESS already goes
			// out transformed.
			return wire.NewResponse(frame.Stream, &wire.AuthSuccess{})
		}
		*state = stateUninitialized
		return wire.NewErrorFrame(frame.Stream, wire.ErrBadCredentials, "")

	default:
		return wire.NewErrorFrame(frame.Stream, wire.ErrServerError, "")
	}
}

func (n *Node) handleReady(frame *wire.Frame, keyspace *string) *wire.Frame {
	query, ok := frame.Body.(*wire.Query)
	if !ok {
		return wire.NewProtocolError(frame.Stream)
	}

	result, err := n.Execute(query, *keyspace)
	if err != nil {
		var coded *wire.CodedError
		if errors.As(err, &coded) {
			return wire.NewErrorFrame(frame.Stream, coded.Code, coded.Message)
		}
		return wire.NewErrorFrame(frame.Stream, wire.ErrServerError, err.Error())
	}
	if result.Kind == wire.ResultSetKeyspace {
		*keyspace = result.Keyspace
		logging.Debug("[%s] keyspace set to %s", n.cfg.ID, result.Keyspace)
	}
	return wire.NewResponse(frame.Stream, result)
}

// isClosedError reports the transient socket conditions treated as a
// graceful close.
func isClosedError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNABORTED)
}
