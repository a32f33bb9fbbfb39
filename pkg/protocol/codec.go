package protocol

import (
	"encoding/binary"
	"fmt"
	"io"

	jsoniter "github.com/json-iterator/go"
)

// json is configured once for speed and to mirror the stdlib's field
// matching rules closely enough that struct tags behave as documented.
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// maxFrameBytes guards against a corrupt or hostile length prefix allocating
// an unbounded buffer.
const maxFrameBytes = 16 << 20 // 16 MiB

// writeFrame writes a length-delimited frame: a 4-byte big-endian length
// followed by payload.
func writeFrame(w io.Writer, payload []byte) error {
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("write frame header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write frame payload: %w", err)
	}
	return nil
}

// readFrame reads one length-delimited frame from r.
func readFrame(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(header[:])
	if n > maxFrameBytes {
		return nil, fmt.Errorf("frame too large: %d bytes", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("read frame payload: %w", err)
	}
	return buf, nil
}

// EncodeServerMessage serializes a MessageToServer to a frame payload,
// without the length prefix (the TCP transport adds it in writeFrame).
func EncodeServerMessage(msg *MessageToServer) ([]byte, error) {
	return json.Marshal(msg)
}

// DecodeServerMessage parses a length-delimited frame's payload into a
// MessageToServer.
func DecodeServerMessage(payload []byte) (*MessageToServer, error) {
	var msg MessageToServer
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("decode MessageToServer: %w", err)
	}
	return &msg, nil
}

// EncodeAgentMessage serializes a MessageToAgent to a frame payload,
// without the length prefix (the TCP transport adds it in writeFrame).
func EncodeAgentMessage(msg *MessageToAgent) ([]byte, error) {
	return json.Marshal(msg)
}

// DecodeAgentMessage parses a length-delimited frame's payload into a
// MessageToAgent.
func DecodeAgentMessage(payload []byte) (*MessageToAgent, error) {
	var msg MessageToAgent
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("decode MessageToAgent: %w", err)
	}
	return &msg, nil
}
