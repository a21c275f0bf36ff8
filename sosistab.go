// Package sosistab wires the FEC codec (package fec), the stream
// multiplexer (package mux) and the UDP session transport (package
// session) together behind a Dial/Listen surface, mirroring the
// teacher's top-level safeudp.go.
package sosistab

import (
	"context"
	"net"
	"time"

	"github.com/nyxnet/sosistab/mux"
	"github.com/nyxnet/sosistab/session"
	"github.com/pkg/errors"
)

// Config holds the options exposed across the stack: the FEC target loss
// rate (spec.md §6's only named configuration option) plus the session
// batching knobs it sits on top of.
type Config struct {
	// TargetLoss is the FEC encoder's post-reconstruction residual loss
	// target, fixed-point with denominator 256 (spec.md §6).
	TargetLoss uint8

	BatchSize     int
	FlushInterval time.Duration

	// OpenTimeout bounds how long Dial waits for the SYN-ACK handshake.
	OpenTimeout time.Duration
}

func (c *Config) sessionConfig() session.Config {
	return session.Config{TargetLoss: c.TargetLoss, BatchSize: c.BatchSize, FlushInterval: c.FlushInterval}
}

func (c *Config) openTimeout() time.Duration {
	if c.OpenTimeout <= 0 {
		return 5 * time.Second
	}
	return c.OpenTimeout
}

const muxChannelDepth = 128

// endpoint bundles one session with the multiplex actor running over it,
// shared by both Dial (one remote) and each per-client entry a Listener
// maintains.
type endpoint struct {
	sess   *session.Session
	mx     *mux.Multiplex
	cancel context.CancelFunc

	urelRecv chan []byte
	openReq  chan mux.OpenRequest
	accept   chan *mux.RelConn

	// demux is set only for server-side endpoints created by a Listener,
	// so incoming datagrams addressed to this peer can be routed into
	// its private virtual connection.
	demux *demuxConn
}

func newEndpoint(sess *session.Session, demux *demuxConn) *endpoint {
	ctx, cancel := context.WithCancel(context.Background())
	ep := &endpoint{
		sess:     sess,
		cancel:   cancel,
		urelRecv: make(chan []byte, muxChannelDepth),
		openReq:  make(chan mux.OpenRequest, muxChannelDepth),
		accept:   make(chan *mux.RelConn, muxChannelDepth),
		demux:    demux,
	}
	ep.mx = mux.NewMultiplex(sess, ep.urelRecv, ep.openReq, ep.accept)
	go ep.mx.Run(ctx)
	return ep
}

func (ep *endpoint) close() {
	ep.cancel()
	ep.sess.Close()
}

// open spawns a locally-initiated stream and waits up to timeout for its
// SYN-ACK.
func (ep *endpoint) open(additionalInfo string, timeout time.Duration) (*Conn, error) {
	result := make(chan *mux.RelConn, 1)
	ep.openReq <- mux.OpenRequest{AdditionalInfo: additionalInfo, Result: result}
	select {
	case front := <-result:
		return &Conn{front: front, ep: ep}, nil
	case <-time.After(timeout):
		return nil, errors.New("sosistab: open timed out")
	}
}

// Dial opens a UDP session to addr and establishes one reliable stream
// over it, waiting for the handshake to complete.
func Dial(addr string, config *Config) (*Conn, error) {
	if config == nil {
		config = &Config{TargetLoss: 1}
	}
	remote, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, errors.Wrap(err, "sosistab: resolve remote")
	}
	conn, err := net.ListenPacket("udp", "0.0.0.0:0")
	if err != nil {
		return nil, errors.Wrap(err, "sosistab: listen")
	}

	sess := session.NewSession(conn, remote, config.sessionConfig())
	ep := newEndpoint(sess, nil)
	c, err := ep.open("", config.openTimeout())
	if err != nil {
		ep.close()
		return nil, err
	}
	return c, nil
}

// Listen starts accepting sessions on addr, demultiplexing by UDP source
// address (one session + multiplex actor per remote peer).
func Listen(addr string, config *Config) (*Listener, error) {
	if config == nil {
		config = &Config{TargetLoss: 1}
	}
	pc, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, errors.Wrap(err, "sosistab: listen")
	}
	l := &Listener{
		pc:       pc,
		config:   config,
		clients:  make(map[string]*endpoint),
		accept:   make(chan *Conn, muxChannelDepth),
		die:      make(chan struct{}),
	}
	go l.readLoop()
	return l, nil
}
