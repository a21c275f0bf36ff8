// Package session implements the Session collaborator the multiplex actor
// depends on (spec.md §6): a UDP datagram channel exposing RecvBytes and
// SendBytes, with the adaptive FEC codec wired in at the wire boundary.
// The multiplexer and FEC codec treat this layer as opaque; its internals
// are this module's own domain-stack addition (SPEC_FULL.md §4, "Session
// transport"), grounded on the teacher's batchconn.go/tx.go.
package session

import (
	"context"
	"encoding/binary"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nyxnet/sosistab/fec"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/ipv4"
)

const (
	mtuLimit = 1500

	// fecHeaderSize is this module's own minimal shard-addressing header:
	// block id, shard index, and the (k, m) the block was encoded with.
	// Reassembling shards into blocks is glue specific to this session
	// layer, not the generic "binary serialization" spec.md places out of
	// scope for the FEC/mux subsystems themselves.
	fecHeaderSize = 4 + 2 + 1 + 1

	// maxFECEncodingLatency bounds how long a partially-filled FEC batch
	// waits before it is flushed regardless of size, matching the
	// teacher's session.go constant of the same name and purpose.
	maxFECEncodingLatency = 500 * time.Millisecond

	defaultBatchSize = 16

	// maxInFlightBlocks bounds the decoder cache kept for not-yet-complete
	// receive blocks, evicted oldest-first once exceeded.
	maxInFlightBlocks = 64

	recvQueueDepth = 256
)

// Config holds the runtime options for a Session (spec.md §6 names only
// the FEC encoder's target_loss; BatchSize/FlushInterval are this layer's
// own tuning knobs for how packets are grouped into FEC blocks).
type Config struct {
	TargetLoss    uint8
	BatchSize     int
	FlushInterval time.Duration
}

func (c *Config) setDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = maxFECEncodingLatency
	}
}

// Session wraps a net.PacketConn with FEC-coded batching. It satisfies the
// RecvBytes/SendBytes contract mux.Session expects.
type Session struct {
	conn   net.PacketConn
	xconn  batchConn
	remote net.Addr
	cfg    Config

	enc *fec.Encoder

	mu         sync.Mutex
	pending    [][]byte
	blockID    uint32
	flushSet   bool
	flushTimer *time.Timer

	decMu       sync.Mutex
	decoders    map[uint32]*fec.Decoder
	decodeOrder []uint32

	measuredLoss atomic.Uint32

	recvQueue chan []byte
	die       chan struct{}
	dieOnce   sync.Once
	dieErr    atomic.Value

	Stats Stats

	log *logrus.Entry
}

// NewSession constructs a Session over an already-connected or
// already-bound conn. remote is the peer address for SendBytes; if conn
// implements batchConn (ipv4.NewPacketConn on Linux) batch I/O is used.
func NewSession(conn net.PacketConn, remote net.Addr, cfg Config) *Session {
	cfg.setDefaults()
	s := &Session{
		conn:      conn,
		remote:    remote,
		cfg:       cfg,
		enc:       fec.NewEncoder(cfg.TargetLoss),
		decoders:  make(map[uint32]*fec.Decoder),
		recvQueue: make(chan []byte, recvQueueDepth),
		die:       make(chan struct{}),
		log:       logrus.WithField("component", "session"),
	}
	if xc, ok := conn.(batchConn); ok {
		s.xconn = xc
	}
	go s.recvLoop()
	return s
}

// Addr returns the local socket address the session is bound to.
func (s *Session) Addr() net.Addr { return s.conn.LocalAddr() }

// RemoteAddr returns the peer address this session sends to.
func (s *Session) RemoteAddr() net.Addr { return s.remote }

// SetMeasuredLoss updates the loss estimate fed to the adaptive FEC rate
// table on the next flush (spec.md §4.1's measured_loss input).
func (s *Session) SetMeasuredLoss(loss uint8) {
	s.measuredLoss.Store(uint32(loss))
}

// SendBytes queues one packet into the current FEC batch, flushing
// immediately if the batch is now full; otherwise a timer (scheduled once
// per batch) guarantees it flushes within FlushInterval regardless.
func (s *Session) SendBytes(b []byte) {
	if len(b) > 65535 {
		s.log.WithField("len", len(b)).Warn("oversize packet dropped")
		return
	}
	cp := make([]byte, len(b))
	copy(cp, b)

	s.mu.Lock()
	s.pending = append(s.pending, cp)
	full := len(s.pending) >= s.cfg.BatchSize
	if !s.flushSet && !full {
		s.flushSet = true
		if s.flushTimer == nil {
			s.flushTimer = time.AfterFunc(s.cfg.FlushInterval, s.flushOnTimer)
		} else {
			s.flushTimer.Reset(s.cfg.FlushInterval)
		}
	}
	s.mu.Unlock()

	if full {
		s.flush()
	}
}

func (s *Session) flushOnTimer() {
	s.mu.Lock()
	s.flushSet = false
	s.mu.Unlock()
	s.flush()
}

// flush encodes whatever is currently pending as one FEC block and
// transmits every shard.
func (s *Session) flush() {
	s.mu.Lock()
	if len(s.pending) == 0 {
		s.mu.Unlock()
		return
	}
	pkts := s.pending
	s.pending = nil
	s.flushSet = false
	blockID := s.blockID
	s.blockID++
	s.mu.Unlock()

	loss := uint8(s.measuredLoss.Load())
	shards := s.enc.Encode(loss, pkts)
	k := len(pkts)
	m := len(shards) - k

	msgs := make([]ipv4.Message, len(shards))
	for i, shard := range shards {
		datagram := make([]byte, fecHeaderSize+len(shard))
		binary.LittleEndian.PutUint32(datagram, blockID)
		binary.LittleEndian.PutUint16(datagram[4:], uint16(i))
		datagram[6] = byte(k)
		datagram[7] = byte(m)
		copy(datagram[fecHeaderSize:], shard)
		msgs[i] = ipv4.Message{Buffers: [][]byte{datagram}, Addr: s.remote}
	}
	if m > 0 {
		atomic.AddUint64(&s.Stats.FECParityShards, uint64(m))
	}
	s.tx(msgs)
}

func (s *Session) tx(msgs []ipv4.Message) {
	if s.xconn != nil {
		if _, err := s.xconn.WriteBatch(msgs, 0); err == nil {
			for _, m := range msgs {
				s.Stats.addOutPkt(len(m.Buffers[0]))
			}
			return
		}
		// fall back to per-packet sends below
	}
	for _, m := range msgs {
		var err error
		if m.Addr != nil {
			_, err = s.conn.WriteTo(m.Buffers[0], m.Addr)
		} else {
			_, err = s.conn.WriteTo(m.Buffers[0], s.remote)
		}
		if err != nil {
			atomic.AddUint64(&s.Stats.WriteErrs, 1)
			s.log.WithError(err).Warn("write failed")
			continue
		}
		s.Stats.addOutPkt(len(m.Buffers[0]))
	}
}

// RecvBytes returns the next fully-recovered application packet, or an
// error once the underlying conn has died (spec.md §4.3's "session death"
// failure mode).
func (s *Session) RecvBytes(ctx context.Context) ([]byte, error) {
	select {
	case b := <-s.recvQueue:
		return b, nil
	case <-s.die:
		if err, _ := s.dieErr.Load().(error); err != nil {
			return nil, err
		}
		return nil, errors.New("session: closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Session) recvLoop() {
	if s.xconn != nil {
		s.recvLoopBatch()
		return
	}
	s.recvLoopSingle()
}

func (s *Session) recvLoopSingle() {
	buf := make([]byte, mtuLimit)
	for {
		n, _, err := s.conn.ReadFrom(buf)
		if err != nil {
			s.failWith(errors.Wrap(err, "session: read failed"))
			return
		}
		if n < fecHeaderSize {
			continue
		}
		s.Stats.addInPkt(n)
		s.handleDatagram(buf[:n])
	}
}

// recvLoopBatch mirrors tx's WriteBatch path: it reads up to batchSize
// datagrams per syscall via xconn.ReadBatch, falling back to the
// per-packet path for the rest of the session's lifetime the first time
// ReadBatch errors (a conn that advertises batchConn but fails at runtime
// is treated the same as one that never implemented it).
func (s *Session) recvLoopBatch() {
	bufs := make([][]byte, batchSize)
	msgs := make([]ipv4.Message, batchSize)
	for i := range msgs {
		bufs[i] = make([]byte, mtuLimit)
		msgs[i].Buffers = [][]byte{bufs[i]}
	}
	for {
		n, err := s.xconn.ReadBatch(msgs, 0)
		if err != nil {
			s.log.WithError(err).Warn("ReadBatch failed, falling back to ReadFrom")
			s.recvLoopSingle()
			return
		}
		for i := 0; i < n; i++ {
			mn := msgs[i].N
			if mn < fecHeaderSize {
				continue
			}
			s.Stats.addInPkt(mn)
			dg := make([]byte, mn)
			copy(dg, msgs[i].Buffers[0][:mn])
			s.handleDatagram(dg)
		}
	}
}

func (s *Session) handleDatagram(dg []byte) {
	blockID := binary.LittleEndian.Uint32(dg)
	idx := int(binary.LittleEndian.Uint16(dg[4:]))
	k := int(dg[6])
	m := int(dg[7])
	shard := dg[fecHeaderSize:]

	dec := s.decoderFor(blockID, k, m)
	recovered, ok := dec.Decode(shard, idx)
	if !ok {
		return
	}
	if len(recovered) > 0 {
		atomic.AddUint64(&s.Stats.FECShardSet, 1)
		rebuilt := len(recovered)
		if idx < k {
			rebuilt-- // the data shard's own packet, delivered directly
		}
		if rebuilt > 0 {
			atomic.AddUint64(&s.Stats.FECRecovered, uint64(rebuilt))
		}
	}
	for _, pkt := range recovered {
		select {
		case s.recvQueue <- pkt:
		default:
			s.log.Warn("recv queue full, dropping recovered packet")
		}
	}
}

func (s *Session) decoderFor(blockID uint32, k, m int) *fec.Decoder {
	s.decMu.Lock()
	defer s.decMu.Unlock()
	dec, ok := s.decoders[blockID]
	if ok {
		return dec
	}
	dec = fec.NewDecoder(k, m)
	s.decoders[blockID] = dec
	s.decodeOrder = append(s.decodeOrder, blockID)
	if len(s.decodeOrder) > maxInFlightBlocks {
		stale := s.decodeOrder[0]
		s.decodeOrder = s.decodeOrder[1:]
		delete(s.decoders, stale)
	}
	return dec
}

func (s *Session) failWith(err error) {
	s.dieOnce.Do(func() {
		s.dieErr.Store(err)
		close(s.die)
	})
}

// Close shuts the session down; pending RecvBytes calls return an error.
func (s *Session) Close() error {
	s.failWith(errors.New("session: closed"))
	s.mu.Lock()
	if s.flushTimer != nil {
		s.flushTimer.Stop()
	}
	s.mu.Unlock()
	return s.conn.Close()
}
