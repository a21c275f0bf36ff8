package sosistab

import (
	"net"
	"time"

	"github.com/nyxnet/sosistab/mux"
)

// Conn is the public handle for one reliable stream, wrapping the
// multiplexer's RelConn front-handle together with a reference to the
// endpoint it belongs to, from whose session LocalAddr and RemoteAddr are
// taken. Close closes only the stream, not the endpoint or its session.
type Conn struct {
	front *mux.RelConn
	ep    *endpoint
}

func (c *Conn) Read(b []byte) (int, error)  { return c.front.Read(b) }
func (c *Conn) Write(b []byte) (int, error) { return c.front.Write(b) }
func (c *Conn) Close() error                { return c.front.Close() }

func (c *Conn) LocalAddr() net.Addr  { return c.ep.sess.Addr() }
func (c *Conn) RemoteAddr() net.Addr { return c.ep.sess.RemoteAddr() }

// AdditionalInfo returns the UTF-8 string carried by the stream's SYN, if
// any (spec.md §4.3).
func (c *Conn) AdditionalInfo() string { return c.front.AdditionalInfo() }

// Deadlines are not meaningful at this layer: retransmission and
// flow-control timing belong to RelConn's internals, which spec.md §1
// places out of scope for this module.
func (c *Conn) SetDeadline(t time.Time) error      { return nil }
func (c *Conn) SetReadDeadline(t time.Time) error  { return nil }
func (c *Conn) SetWriteDeadline(t time.Time) error { return nil }
