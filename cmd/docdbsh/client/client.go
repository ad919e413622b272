// Package client is the shell's wire-protocol client: it speaks the same
// framed TCP protocol (internal/wire) the server accepts and decodes
// replies into router.Response, grounded on the teacher's own
// docdbsh/client.go request/response round-trip shape (sendRequest,
// readFrame/writeFrame), now over internal/wire instead of the teacher's
// length-prefixed RequestFrame and without the multi-database OpenDB/CloseDB
// lifecycle this engine doesn't have.
package client

import (
	"encoding/json"
	"errors"
	"net"
	"sync"

	"github.com/kartikbazzad/docdb/internal/router"
	"github.com/kartikbazzad/docdb/internal/wire"
)

var (
	ErrConnectionFailed = errors.New("failed to connect to server")
	ErrNotConnected      = errors.New("client: not connected")
)

// Client is a single-connection wire-protocol client. It serializes
// requests the way the teacher's Client did (one in-flight request at a
// time, guarded by mu), since the wire protocol has no request IDs to
// demultiplex concurrent replies.
type Client struct {
	addr string
	mu   sync.Mutex
	conn net.Conn
}

func New(addr string) *Client {
	return &Client{addr: addr}
}

func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return nil
	}
	conn, err := net.Dial("tcp", c.addr)
	if err != nil {
		return ErrConnectionFailed
	}
	c.conn = conn
	return nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// envelope mirrors internal/server's unexported commandEnvelope so the
// shell can speak the same wire.TypeCommand payload shape.
type envelope struct {
	Command    router.Command  `json:"command"`
	Collection string          `json:"collection,omitempty"`
	DocID      string          `json:"doc_id,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	TxID       *uint64         `json:"tx_id,omitempty"`
}

// Do sends one command and returns the decoded router response.
func (c *Client) Do(cmd router.Command, collection, docID string, payload json.RawMessage, txID *uint64) (router.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return router.Response{}, ErrNotConnected
	}

	body, err := json.Marshal(envelope{
		Command:    cmd,
		Collection: collection,
		DocID:      docID,
		Payload:    payload,
		TxID:       txID,
	})
	if err != nil {
		return router.Response{}, err
	}

	req := &wire.Message{Version: wire.ProtocolVersion, Type: wire.TypeCommand, Payload: body}
	if err := wire.WriteMessage(c.conn, req); err != nil {
		return router.Response{}, err
	}

	reply, err := wire.ReadMessage(c.conn, wire.DefaultMaxPayload)
	if err != nil {
		return router.Response{}, err
	}

	var resp router.Response
	if err := json.Unmarshal(reply.Payload, &resp); err != nil {
		return router.Response{}, err
	}
	return resp, nil
}

// Ping round-trips a bare TypePing frame, bypassing the router entirely.
func (c *Client) Ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	if err := wire.WriteMessage(c.conn, &wire.Message{Version: wire.ProtocolVersion, Type: wire.TypePing}); err != nil {
		return err
	}
	_, err := wire.ReadMessage(c.conn, wire.DefaultMaxPayload)
	return err
}
