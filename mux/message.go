package mux

import (
	"encoding/binary"
	"errors"
)

// RelKind is the discriminant of a reliable-stream frame. Only Syn and Rst
// are interpreted by the multiplex actor; the others are opaque payloads it
// forwards verbatim to the owning stream's back-handle.
type RelKind byte

const (
	KindSyn RelKind = iota
	KindSynAck
	KindData
	KindFin
	KindFinAck
	KindRst
)

func (k RelKind) String() string {
	switch k {
	case KindSyn:
		return "Syn"
	case KindSynAck:
		return "SynAck"
	case KindData:
		return "Data"
	case KindFin:
		return "Fin"
	case KindFinAck:
		return "FinAck"
	case KindRst:
		return "Rst"
	default:
		return "Unknown"
	}
}

// messageTag discriminates the two Message variants on the wire.
type messageTag byte

const (
	tagUrel messageTag = iota
	tagRel
)

// Message is the tagged union carried between the multiplex actor and the
// underlying session: either an unreliable datagram payload, or a frame of
// the reliable-stream sub-protocol addressed to a particular stream.
type Message struct {
	// Urel is set (non-nil) when this is an unreliable datagram payload;
	// the Rel fields below are then zero.
	Urel []byte

	// Rel fields, meaningful only when Urel == nil.
	Kind     RelKind
	StreamID uint16
	Seqno    uint64
	Payload  []byte
}

// IsUrel reports whether this message is the unreliable-datagram variant.
func (m Message) IsUrel() bool { return m.Urel != nil }

// NewUrel constructs an unreliable-payload message.
func NewUrel(payload []byte) Message {
	if payload == nil {
		payload = []byte{}
	}
	return Message{Urel: payload}
}

// NewRel constructs a reliable-frame message.
func NewRel(kind RelKind, streamID uint16, seqno uint64, payload []byte) Message {
	return Message{Kind: kind, StreamID: streamID, Seqno: seqno, Payload: payload}
}

var errShortMessage = errors.New("mux: message truncated")

// Marshal encodes a Message using the same fixed-width, length-prefixed
// framing style the corpus's own stream multiplexer (smux's frame.go) uses
// for its wire headers — a tag/command byte followed by fixed integers and
// an explicit length prefix, rather than a general-purpose serialization
// library (none of the retrieved repos reach for one at this layer).
func (m Message) Marshal() []byte {
	if m.Urel != nil {
		buf := make([]byte, 1+2+len(m.Urel))
		buf[0] = byte(tagUrel)
		binary.LittleEndian.PutUint16(buf[1:], uint16(len(m.Urel)))
		copy(buf[3:], m.Urel)
		return buf
	}

	buf := make([]byte, 1+1+2+8+2+len(m.Payload))
	buf[0] = byte(tagRel)
	buf[1] = byte(m.Kind)
	binary.LittleEndian.PutUint16(buf[2:], m.StreamID)
	binary.LittleEndian.PutUint64(buf[4:], m.Seqno)
	binary.LittleEndian.PutUint16(buf[12:], uint16(len(m.Payload)))
	copy(buf[14:], m.Payload)
	return buf
}

// Unmarshal decodes a Message previously produced by Marshal. A malformed
// or truncated buffer yields an error; the multiplex actor's contract is to
// drop such frames silently rather than surface the error further.
func Unmarshal(buf []byte) (Message, error) {
	if len(buf) < 1 {
		return Message{}, errShortMessage
	}
	switch messageTag(buf[0]) {
	case tagUrel:
		if len(buf) < 3 {
			return Message{}, errShortMessage
		}
		n := int(binary.LittleEndian.Uint16(buf[1:]))
		if len(buf) < 3+n {
			return Message{}, errShortMessage
		}
		payload := make([]byte, n)
		copy(payload, buf[3:3+n])
		return NewUrel(payload), nil
	case tagRel:
		if len(buf) < 14 {
			return Message{}, errShortMessage
		}
		kind := RelKind(buf[1])
		sid := binary.LittleEndian.Uint16(buf[2:])
		seqno := binary.LittleEndian.Uint64(buf[4:])
		n := int(binary.LittleEndian.Uint16(buf[12:]))
		if len(buf) < 14+n {
			return Message{}, errShortMessage
		}
		payload := make([]byte, n)
		copy(payload, buf[14:14+n])
		return NewRel(kind, sid, seqno, payload), nil
	default:
		return Message{}, errShortMessage
	}
}
