package protocol

import (
	"fmt"
	"net"
	"sync"

	"github.com/gorilla/websocket"
)

// ServerDuplex is what the session manager (C6) sees regardless of which
// transport the agent picked: recv the next MessageToServer, send a
// MessageToAgent, close the underlying connection. Transports supply only
// framing and byte transport; message semantics live above this interface.
type ServerDuplex interface {
	Recv() (*MessageToServer, error)
	Send(*MessageToAgent) error
	Close() error
}

// AgentDuplex is the mirror image, used by cmd/agent.
type AgentDuplex interface {
	Recv() (*MessageToAgent, error)
	Send(*MessageToServer) error
	Close() error
}

// tcpServerDuplex frames MessageToServer/MessageToAgent directly over a raw
// net.Conn (the "RPC-stream" transport).
type tcpServerDuplex struct {
	conn net.Conn
	mu   sync.Mutex // serializes concurrent Send calls
}

// NewTCPServerDuplex wraps a raw stream connection for the server side.
func NewTCPServerDuplex(conn net.Conn) ServerDuplex {
	return &tcpServerDuplex{conn: conn}
}

func (d *tcpServerDuplex) Recv() (*MessageToServer, error) {
	payload, err := readFrame(d.conn)
	if err != nil {
		return nil, err
	}
	return DecodeServerMessage(payload)
}

func (d *tcpServerDuplex) Send(msg *MessageToAgent) error {
	payload, err := EncodeAgentMessage(msg)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return writeFrame(d.conn, payload)
}

func (d *tcpServerDuplex) Close() error {
	return d.conn.Close()
}

// tcpAgentDuplex is the agent-side mirror of tcpServerDuplex.
type tcpAgentDuplex struct {
	conn net.Conn
	mu   sync.Mutex
}

// NewTCPAgentDuplex wraps a raw stream connection for the agent side.
func NewTCPAgentDuplex(conn net.Conn) AgentDuplex {
	return &tcpAgentDuplex{conn: conn}
}

func (d *tcpAgentDuplex) Recv() (*MessageToAgent, error) {
	payload, err := readFrame(d.conn)
	if err != nil {
		return nil, err
	}
	return DecodeAgentMessage(payload)
}

func (d *tcpAgentDuplex) Send(msg *MessageToServer) error {
	payload, err := EncodeServerMessage(msg)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return writeFrame(d.conn, payload)
}

func (d *tcpAgentDuplex) Close() error {
	return d.conn.Close()
}

// wsServerDuplex frames messages as binary WebSocket messages. Each WS
// message carries one encoded envelope with no length prefix: the WS frame
// boundary delimits the message. Both transports use the same
// Encode/Decode functions from codec.go; only the TCP transport adds the
// 4-byte length prefix (writeFrame/readFrame).
type wsServerDuplex struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// NewWSServerDuplex wraps an upgraded WebSocket connection for the server
// side.
func NewWSServerDuplex(conn *websocket.Conn) ServerDuplex {
	return &wsServerDuplex{conn: conn}
}

func (d *wsServerDuplex) Recv() (*MessageToServer, error) {
	kind, data, err := d.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	if kind != websocket.BinaryMessage && kind != websocket.TextMessage {
		return nil, fmt.Errorf("unexpected websocket frame kind %d", kind)
	}
	return DecodeServerMessage(data)
}

func (d *wsServerDuplex) Send(msg *MessageToAgent) error {
	payload, err := EncodeAgentMessage(msg)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conn.WriteMessage(websocket.BinaryMessage, payload)
}

func (d *wsServerDuplex) Close() error {
	return d.conn.Close()
}

// wsAgentDuplex is the agent-side mirror of wsServerDuplex.
type wsAgentDuplex struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// NewWSAgentDuplex wraps an established WebSocket connection for the agent
// side.
func NewWSAgentDuplex(conn *websocket.Conn) AgentDuplex {
	return &wsAgentDuplex{conn: conn}
}

func (d *wsAgentDuplex) Recv() (*MessageToAgent, error) {
	kind, data, err := d.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	if kind != websocket.BinaryMessage && kind != websocket.TextMessage {
		return nil, fmt.Errorf("unexpected websocket frame kind %d", kind)
	}
	return DecodeAgentMessage(data)
}

func (d *wsAgentDuplex) Send(msg *MessageToServer) error {
	payload, err := EncodeServerMessage(msg)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conn.WriteMessage(websocket.BinaryMessage, payload)
}

func (d *wsAgentDuplex) Close() error {
	return d.conn.Close()
}
