package protocol

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	msg := &MessageToServer{
		ClientMessageID: 7,
		VPSDBID:         "host-1",
		AgentSecret:     "secret",
		Heartbeat:       &Heartbeat{TimestampUnixMS: 123},
	}
	payload, err := EncodeServerMessage(msg)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, writeFrame(&buf, payload))

	got, err := readFrame(&buf)
	require.NoError(t, err)

	decoded, err := DecodeServerMessage(got)
	require.NoError(t, err)
	require.Equal(t, "heartbeat", decoded.Variant())
	require.Equal(t, "host-1", decoded.VPSDBID)
	require.EqualValues(t, 123, decoded.Heartbeat.TimestampUnixMS)
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	_, err := readFrame(&buf)
	require.Error(t, err)
}
