package protocol

import (
	"bytes"
	"encoding/binary"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrame_RoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
	}{
		{name: "empty", payload: []byte{}},
		{name: "short json", payload: []byte(`{"type":"LOGIN"}`)},
		{name: "raw string", payload: []byte("READY")},
		{name: "max size", payload: bytes.Repeat([]byte{'x'}, MaxFrameSize)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, WriteFrame(&buf, tt.payload))

			got, err := ReadFrame(&buf)
			require.NoError(t, err)
			assert.Equal(t, tt.payload, got)
		})
	}
}

func TestWriteFrame_TooLarge(t *testing.T) {
	var buf bytes.Buffer
	err := WriteFrame(&buf, make([]byte, MaxFrameSize+1))
	require.Error(t, err)
	assert.Zero(t, buf.Len(), "nothing should be written for an oversized frame")
}

func TestReadFrame_DeclaredLengthTooLarge(t *testing.T) {
	var header [FrameHeaderSize]byte
	binary.BigEndian.PutUint32(header[:], MaxFrameSize+1)

	_, err := ReadFrame(bytes.NewReader(header[:]))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds limit")
}

func TestReadFrame_EOFOnHeaderIsGracefulDisconnect(t *testing.T) {
	_, err := ReadFrame(strings.NewReader(""))
	assert.Equal(t, io.EOF, err)
}

func TestReadFrame_ShortReadIsProtocolViolation(t *testing.T) {
	// Header promises 10 bytes, stream carries 3.
	var buf bytes.Buffer
	var header [FrameHeaderSize]byte
	binary.BigEndian.PutUint32(header[:], 10)
	buf.Write(header[:])
	buf.WriteString("abc")

	_, err := ReadFrame(&buf)
	require.Error(t, err)
	assert.NotEqual(t, io.EOF, err)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestReadFrame_PartialHeaderIsProtocolViolation(t *testing.T) {
	_, err := ReadFrame(strings.NewReader("\x00\x00"))
	require.Error(t, err)
	assert.NotEqual(t, io.EOF, err)
}

func TestJSON_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, map[string]any{"type": "LOGIN", "user": "bob"}))

	var got struct {
		Type string `json:"type"`
		User string `json:"user"`
	}
	require.NoError(t, ReadJSON(&buf, &got))
	assert.Equal(t, "LOGIN", got.Type)
	assert.Equal(t, "bob", got.User)
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    any
	}{
		{name: "object", payload: `{"ok":true}`, want: map[string]any{"ok": true}},
		{name: "array", payload: `[1,2]`, want: []any{float64(1), float64(2)}},
		{name: "raw string fallback", payload: "not json at all", want: "not json at all"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Decode([]byte(tt.payload)))
		})
	}
}
