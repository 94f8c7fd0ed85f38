package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"
)

// MaxFrameSize bounds a single framed message; a 4K RGBA frame compressed
// at quality 100 stays well below it.
const MaxFrameSize = 16 << 20

var ErrFrameTooLarge = errors.New("frame exceeds maximum size")

// MarshalEnvelope encodes the message type and payload as one record.
func MarshalEnvelope(msg Message) []byte {
	b := make([]byte, 0, len(msg.Payload)+8)
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(msg.Type))
	b = appendBytes(b, 2, msg.Payload)
	return b
}

func UnmarshalEnvelope(b []byte) (Message, error) {
	var (
		msg Message
		typ uint64
	)
	err := consumeFields(b, func(num protowire.Number, wt protowire.Type, b []byte) int {
		switch num {
		case 1:
			return readUint(wt, b, &typ)
		case 2:
			return readBytes(wt, b, &msg.Payload)
		}
		return 0
	})
	if err != nil {
		return Message{}, fmt.Errorf("decode envelope: %w", err)
	}
	msg.Type = MessageType(typ)
	if !msg.Type.Valid() {
		return Message{}, fmt.Errorf("unknown message type %d", typ)
	}
	return msg, nil
}

// WriteFrame writes msg with a 4-byte big-endian length prefix in a single
// Write call so concurrent writers on a locked stream never interleave.
func WriteFrame(w io.Writer, msg Message) error {
	env := MarshalEnvelope(msg)
	if len(env) > MaxFrameSize {
		return ErrFrameTooLarge
	}

	buf := make([]byte, 4+len(env))
	binary.BigEndian.PutUint32(buf, uint32(len(env)))
	copy(buf[4:], env)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}

	if flusher, ok := w.(interface{ Flush() error }); ok {
		if err := flusher.Flush(); err != nil {
			return fmt.Errorf("failed to flush frame: %w", err)
		}
	}
	return nil
}

// ReadFrame reads one length-prefixed message.
func ReadFrame(r io.Reader) (Message, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Message{}, err
	}

	size := binary.BigEndian.Uint32(hdr[:])
	if size > MaxFrameSize {
		return Message{}, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, size)
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return Message{}, fmt.Errorf("failed to read frame body: %w", err)
	}
	return UnmarshalEnvelope(body)
}
