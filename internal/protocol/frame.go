package protocol

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// MaxFrameSize is the hard cap on a single frame payload.
// A peer declaring a larger length is violating the protocol and the
// connection must be closed.
const MaxFrameSize = 1 << 20 // 1 MiB

// FrameHeaderSize is the length prefix size: 4-byte big-endian uint32.
const FrameHeaderSize = 4

// WriteFrame writes one length-prefixed frame to w.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("frame too large: %d > %d", len(payload), MaxFrameSize)
	}

	var header [FrameHeaderSize]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))

	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("writing frame header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("writing frame payload: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame from r and returns the payload.
// io.EOF on the length prefix is returned as-is: it signals a graceful
// peer disconnect, not a protocol violation. A short read anywhere else
// surfaces as io.ErrUnexpectedEOF wrapped with context.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [FrameHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("reading frame header: %w", err)
	}

	length := binary.BigEndian.Uint32(header[:])
	if length > MaxFrameSize {
		return nil, fmt.Errorf("declared frame length %d exceeds limit %d", length, MaxFrameSize)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("reading frame payload (%d bytes): %w", length, err)
	}
	return payload, nil
}

// WriteJSON marshals v and sends it as one frame.
func WriteJSON(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling frame payload: %w", err)
	}
	return WriteFrame(w, data)
}

// ReadJSON reads one frame and unmarshals its payload into v.
func ReadJSON(r io.Reader, v any) error {
	payload, err := ReadFrame(r)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("unmarshaling frame payload: %w", err)
	}
	return nil
}

// Decode interprets a frame payload: JSON document first, raw UTF-8
// string on decode failure.
func Decode(payload []byte) any {
	var v any
	if err := json.Unmarshal(payload, &v); err != nil {
		return string(payload)
	}
	return v
}
