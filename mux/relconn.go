package mux

import (
	"sync"
	"time"

	"github.com/nyxnet/sosistab/ring"
)

// relConnState is the handshake state of a reliable-stream state machine.
// Spec §3 names SynReceived and SynSent as the two handshake states, with
// "established/closing" treated as opaque to the multiplexer; this
// reference implementation collapses that opaque half into a single
// established state since nothing in the mux package inspects it further.
type relConnState int

const (
	stateSynReceived relConnState = iota
	stateSynSent
	stateEstablished
	stateClosed
)

// synRetryInterval and maxSynRetries bound the SynSent retry loop. The
// spec leaves retransmission policy to this external collaborator; a
// fixed-interval retry with a small cap is enough to exercise the actor's
// handshake path without building a full reliable-stream protocol (out of
// scope per spec.md §1).
const (
	synRetryInterval = 300 * time.Millisecond
	maxSynRetries    = 5
)

// RelConn is the front-handle a caller uses to read and write a reliable
// stream. Its internals are a deliberately thin stand-in for the real
// retransmission/flow-control state machine the spec treats as an external
// collaborator (spec.md §1, §4.3's "RelConn/RelConnBack" contract) — just
// enough handshake and buffering behavior to drive the multiplex actor.
type RelConn struct {
	streamID       uint16
	additionalInfo string

	mu    sync.Mutex
	state relConnState
	recv  *ring.Buffer[byte]

	readReady  chan struct{}
	closed     chan struct{}
	closeOnce  sync.Once
	onDeath    func(uint16)
	deathOnce  sync.Once
	outbound   chan<- Message
	synAcked   chan struct{}
	synAckOnce sync.Once
}

// RelConnBack is the back-handle registered in the connection table; the
// multiplex actor calls Process to hand the stream its next inbound frame.
// It is cheaply cloneable (a stream id and one pointer), matching the spec's
// "shared stream back-handle" note in §9.
type RelConnBack struct {
	streamID uint16
	front    *RelConn
}

// NewRelConn constructs the (front, back) pair for a new stream. additionalInfo
// is the SYN payload: for remote-initiated (SynReceived) streams it is nil
// when the received SYN carried no payload; for locally-initiated (SynSent)
// streams it is the info sent in the SYN. A nil pointer reads as "".
func NewRelConn(streamID uint16, initial relConnState, outbound chan<- Message, onDeath func(uint16), additionalInfo *string) (*RelConn, *RelConnBack) {
	info := ""
	if additionalInfo != nil {
		info = *additionalInfo
	}
	front := &RelConn{
		streamID:       streamID,
		additionalInfo: info,
		state:          initial,
		recv:           &ring.Buffer[byte]{},
		readReady:      make(chan struct{}, 1),
		closed:         make(chan struct{}),
		onDeath:        onDeath,
		outbound:       outbound,
		synAcked:       make(chan struct{}),
	}
	back := &RelConnBack{streamID: streamID, front: front}

	switch initial {
	case stateSynReceived:
		front.sendFrame(KindSynAck, nil)
		front.mu.Lock()
		front.state = stateEstablished
		front.mu.Unlock()
	case stateSynSent:
		go front.runSynRetry()
	}

	return front, back
}

// AdditionalInfo returns the UTF-8 payload carried by the SYN that created
// this stream: the received one for remote-initiated streams, the sent one
// for locally-initiated streams (empty if the SYN carried none).
func (c *RelConn) AdditionalInfo() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.additionalInfo
}

// StreamID returns the stream's identifier in the connection table.
func (c *RelConn) StreamID() uint16 { return c.streamID }

// WaitEstablished blocks until the SYN-ACK arrives (SynSent streams only)
// or the stream closes first, returning false in the latter case.
func (c *RelConn) WaitEstablished() bool {
	select {
	case <-c.synAcked:
		return true
	case <-c.closed:
		return false
	}
}

func (c *RelConn) runSynRetry() {
	c.sendFrame(KindSyn, []byte(c.additionalInfo))
	ticker := time.NewTicker(synRetryInterval)
	defer ticker.Stop()
	tries := 0
	for {
		select {
		case <-c.synAcked:
			return
		case <-c.closed:
			return
		case <-ticker.C:
			tries++
			if tries >= maxSynRetries {
				c.Close()
				return
			}
			c.sendFrame(KindSyn, []byte(c.additionalInfo))
		}
	}
}

func (c *RelConn) sendFrame(kind RelKind, payload []byte) {
	select {
	case c.outbound <- NewRel(kind, c.streamID, 0, payload):
	case <-c.closed:
	}
}

// Read copies buffered stream bytes into p, blocking until at least one
// byte is available or the stream has closed.
func (c *RelConn) Read(p []byte) (int, error) {
	for {
		c.mu.Lock()
		if !c.recv.Empty() {
			n := 0
			for n < len(p) {
				b, ok := c.recv.Pop()
				if !ok {
					break
				}
				p[n] = b
				n++
			}
			c.mu.Unlock()
			return n, nil
		}
		c.mu.Unlock()
		select {
		case <-c.readReady:
		case <-c.closed:
			return 0, errStreamClosed
		}
	}
}

// Write queues payload as a Data frame for the multiplex actor's outbound
// relay to serialise and send.
func (c *RelConn) Write(p []byte) (int, error) {
	select {
	case <-c.closed:
		return 0, errStreamClosed
	default:
	}
	buf := make([]byte, len(p))
	copy(buf, p)
	c.sendFrame(KindData, buf)
	return len(p), nil
}

// Close tears the stream down, emits a Fin frame, and invokes the death
// callback exactly once.
func (c *RelConn) Close() error {
	c.sendFrame(KindFin, nil)
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.state = stateClosed
		c.mu.Unlock()
		close(c.closed)
	})
	c.deathOnce.Do(func() {
		if c.onDeath != nil {
			c.onDeath(c.streamID)
		}
	})
	return nil
}

var errStreamClosed = &streamClosedError{}

type streamClosedError struct{}

func (*streamClosedError) Error() string { return "mux: stream closed" }

// Process delivers one inbound frame already addressed to this stream. It
// is the sole entry point the multiplex actor uses to forward traffic
// (spec.md §4.3, "look up the back-handle; if present, forward the frame").
func (b *RelConnBack) Process(msg Message) {
	c := b.front
	switch msg.Kind {
	case KindSynAck:
		c.mu.Lock()
		if c.state == stateSynSent {
			c.state = stateEstablished
		}
		c.mu.Unlock()
		c.synAckOnce.Do(func() { close(c.synAcked) })
	case KindSyn:
		// duplicate SYN for an already-registered stream; re-emit SYN-ACK
		// (spec.md §4.3's idempotent-handshake rule is enforced by the
		// actor before Process is ever called for this case, but a
		// directly-addressed duplicate is handled the same way here).
		c.sendFrame(KindSynAck, nil)
	case KindData:
		c.mu.Lock()
		for _, b := range msg.Payload {
			c.recv.Push(b)
		}
		c.mu.Unlock()
		select {
		case c.readReady <- struct{}{}:
		default:
		}
	case KindFin, KindFinAck:
		c.Close()
	case KindRst:
		c.mu.Lock()
		c.state = stateClosed
		c.mu.Unlock()
		c.closeOnce.Do(func() { close(c.closed) })
		c.deathOnce.Do(func() {
			if c.onDeath != nil {
				c.onDeath(c.streamID)
			}
		})
	}
}
