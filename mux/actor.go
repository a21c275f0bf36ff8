// Package mux implements the stream multiplexer actor: a single
// cooperative event loop that demultiplexes framed messages into
// per-stream reliable-connection state machines and opens new streams on
// demand, handling SYN/SYN-ACK/RST handshakes against a concurrent stream
// table (spec.md §4.3).
package mux

import (
	"context"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// globSendCapacity is the bounded outbound channel's size (spec.md §4.3).
const globSendCapacity = 1000

// Session is the underlying obfuscated datagram channel the multiplexer
// frames messages over. It is an external collaborator (spec.md §6) —
// the actor never interprets its contents beyond Message framing.
type Session interface {
	// RecvBytes blocks for the next inbound datagram. A returned error
	// means the session is dead and the actor must terminate.
	RecvBytes(ctx context.Context) ([]byte, error)
	// SendBytes is fire-and-forget; errors are logged, not surfaced.
	SendBytes(b []byte)
}

// OpenRequest is what a caller sends on the open-request channel to start
// a new locally-initiated stream (spec.md §4.3, "open request").
type OpenRequest struct {
	AdditionalInfo string
	Result         chan<- *RelConn
}

// Multiplex is the multiplex actor. Construct with NewMultiplex and run
// its event loop with Run.
type Multiplex struct {
	session Session
	table   *connTable

	globSend chan Message
	deadRecv chan uint16

	urelRecvSend chan<- []byte
	connOpenRecv <-chan OpenRequest
	connAccept   chan<- *RelConn

	log   *logrus.Entry
	Stats Stats
}

// NewMultiplex wires a Multiplex actor to its session and external
// channels. urelRecvSend, connOpenRecv and connAccept are the "external
// channels" of spec.md §4.3; the caller owns their other ends.
func NewMultiplex(session Session, urelRecvSend chan<- []byte, connOpenRecv <-chan OpenRequest, connAccept chan<- *RelConn) *Multiplex {
	return &Multiplex{
		session:      session,
		table:        newConnTable(),
		globSend:     make(chan Message, globSendCapacity),
		deadRecv:     make(chan uint16, 64),
		urelRecvSend: urelRecvSend,
		connOpenRecv: connOpenRecv,
		connAccept:   connAccept,
		log:          logrus.WithField("component", "mux"),
	}
}

// Send queues an outbound message for the actor's relay loop. Stream
// state machines call this through the outbound channel handed to
// NewRelConn; it is exposed here so the actor itself can emit handshake
// replies (SYN-ACK re-sends, RST).
func (m *Multiplex) Send(msg Message) {
	select {
	case m.globSend <- msg:
	default:
		m.log.Warn("outbound queue full, dropping frame")
	}
}

// recvLoop is split out so it can run as its own goroutine feeding a
// channel the Run select reads from — the idiomatic Go equivalent of the
// Rust actor's `session.recv_bytes()` awaitable branch.
func (m *Multiplex) recvLoop(ctx context.Context, inbound chan<- []byte, fatal chan<- error) {
	for {
		b, err := m.session.RecvBytes(ctx)
		if err != nil {
			select {
			case fatal <- errors.Wrap(err, "mux: session died"):
			case <-ctx.Done():
			}
			return
		}
		select {
		case inbound <- b:
		case <-ctx.Done():
			return
		}
	}
}

// Run executes the actor's event loop until ctx is cancelled or the
// session dies, returning the terminal error (nil on clean cancellation).
func (m *Multiplex) Run(ctx context.Context) error {
	inbound := make(chan []byte, 1)
	fatal := make(chan error, 1)
	go m.recvLoop(ctx, inbound, fatal)

	for {
		select {
		case raw := <-inbound:
			m.handleInbound(raw)

		case out := <-m.globSend:
			m.session.SendBytes(out.Marshal())

		case req := <-m.connOpenRecv:
			m.handleOpenRequest(req)

		case sid := <-m.deadRecv:
			m.table.del(sid)
			atomic.AddUint64(&m.Stats.StreamsClosed, 1)
			m.log.WithField("stream_id", sid).Debug("removing stream from table")

		case err := <-fatal:
			return err

		case <-ctx.Done():
			return nil
		}
	}
}

// handleInbound implements spec.md §4.3 event 1.
func (m *Multiplex) handleInbound(raw []byte) {
	msg, err := Unmarshal(raw)
	if err != nil {
		return // malformed frame: silently dropped
	}

	if msg.IsUrel() {
		select {
		case m.urelRecvSend <- msg.Urel:
			atomic.AddUint64(&m.Stats.UrelDelivered, 1)
		default:
			atomic.AddUint64(&m.Stats.UrelDropped, 1)
			m.log.Warn("urel recv overflow, dropping datagram")
		}
		return
	}

	switch msg.Kind {
	case KindSyn:
		m.handleSyn(msg)
	default:
		back, ok := m.table.get(msg.StreamID)
		if !ok {
			if msg.Kind != KindRst {
				atomic.AddUint64(&m.Stats.RstSent, 1)
				m.Send(NewRel(KindRst, msg.StreamID, 0, nil))
			} else {
				atomic.AddUint64(&m.Stats.RstSuppressed, 1)
			}
			return
		}
		back.Process(msg)
	}
}

func (m *Multiplex) handleSyn(msg Message) {
	atomic.AddUint64(&m.Stats.SynReceived, 1)
	if _, ok := m.table.get(msg.StreamID); ok {
		// idempotent handshake under retransmission: re-send SYN-ACK,
		// do not create a second stream.
		atomic.AddUint64(&m.Stats.SynAckSent, 1)
		m.Send(NewRel(KindSynAck, msg.StreamID, 0, nil))
		return
	}

	var info *string
	if len(msg.Payload) > 0 {
		s := string(msg.Payload)
		info = &s
	}

	front, back := NewRelConn(msg.StreamID, stateSynReceived, m.globSend, m.onDeath, info)
	m.table.set(msg.StreamID, back)
	atomic.AddUint64(&m.Stats.SynAckSent, 1)
	atomic.AddUint64(&m.Stats.StreamsAccepted, 1)

	// Blocks the actor loop while connAccept has no free buffer slot
	// (spec.md §4.3: "awaitable; may block, which back-pressures accepts but
	// not the session").
	m.connAccept <- front
}

// handleOpenRequest implements spec.md §4.3 event 3.
func (m *Multiplex) handleOpenRequest(req OpenRequest) {
	go func() {
		sid, ok := m.table.findID()
		if !ok {
			return // stream-id exhaustion: silently fails
		}

		info := req.AdditionalInfo
		front, back := NewRelConn(sid, stateSynSent, m.globSend, m.onDeath, &info)
		m.table.set(sid, back)
		atomic.AddUint64(&m.Stats.StreamsOpened, 1)

		go func() {
			if front.WaitEstablished() {
				req.Result <- front
			}
		}()
	}()
}

func (m *Multiplex) onDeath(sid uint16) {
	select {
	case m.deadRecv <- sid:
	default:
		// dead_recv is conceptually unbounded (spec.md §4.3); a full
		// buffer here means more in-flight terminations than the
		// backstop capacity, which only throttles cleanup latency.
		go func() { m.deadRecv <- sid }()
	}
}
