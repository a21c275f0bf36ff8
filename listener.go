package sosistab

import (
	"net"
	"sync"

	"github.com/nyxnet/sosistab/session"
	"github.com/pkg/errors"
)

// Listener accepts inbound reliable streams from any number of remote
// peers multiplexed over a single shared UDP socket, mirroring the
// teacher's listener.go shape but fanning out per-source-address instead
// of delegating to smux.
type Listener struct {
	pc     net.PacketConn
	config *Config

	mu      sync.Mutex
	clients map[string]*endpoint

	accept  chan *Conn
	die     chan struct{}
	dieOnce sync.Once
}

func (l *Listener) readLoop() {
	buf := make([]byte, 65536)
	for {
		n, addr, err := l.pc.ReadFrom(buf)
		if err != nil {
			l.dieOnce.Do(func() { close(l.die) })
			return
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		l.dispatch(addr, data)
	}
}

func (l *Listener) dispatch(addr net.Addr, data []byte) {
	key := addr.String()

	l.mu.Lock()
	ep, ok := l.clients[key]
	if !ok {
		dc := newDemuxConn(l.pc, addr)
		sess := session.NewSession(dc, addr, l.config.sessionConfig())
		ep = newEndpoint(sess, dc)
		l.clients[key] = ep
		go l.forwardAccepts(ep)
	}
	l.mu.Unlock()

	select {
	case ep.demux.inbound <- data:
	default:
		// per-peer inbound backlog full: matches the unreliable-path
		// drop-on-overflow contract (spec.md §7), applied here one layer
		// below FEC reassembly rather than inside it.
	}
}

func (l *Listener) forwardAccepts(ep *endpoint) {
	for {
		select {
		case front := <-ep.accept:
			select {
			case l.accept <- &Conn{front: front, ep: ep}:
			case <-l.die:
				return
			}
		case <-l.die:
			return
		}
	}
}

// Accept returns the next inbound reliable stream, from any peer.
func (l *Listener) Accept() (*Conn, error) {
	select {
	case c := <-l.accept:
		return c, nil
	case <-l.die:
		return nil, errors.New("sosistab: listener closed")
	}
}

// Close shuts down the listener and every per-peer endpoint it spawned.
func (l *Listener) Close() error {
	l.dieOnce.Do(func() { close(l.die) })
	l.mu.Lock()
	for _, ep := range l.clients {
		ep.close()
	}
	l.mu.Unlock()
	return l.pc.Close()
}

// Addr returns the shared UDP socket's local address.
func (l *Listener) Addr() net.Addr {
	return l.pc.LocalAddr()
}
