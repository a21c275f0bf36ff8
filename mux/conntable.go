package mux

import (
	"math/rand"
	"sync"
)

// maxStreamIDs is one less than the 65536-value uint16 stream-id key
// space; the table refuses to allocate once it holds this many entries.
const maxStreamIDs = 65535

// connTable maps stream ids to the back-handle used to inject received
// frames into that stream's state machine. All hot traffic passes through
// the single multiplex actor goroutine, so a plain mutex-protected map is
// sufficient — the same trade-off the corpus's own stream multiplexer
// (smux's Session) makes for its streams map, rather than reaching for a
// sharded concurrent map.
type connTable struct {
	mu      sync.Mutex
	streams map[uint16]*RelConnBack
}

func newConnTable() *connTable {
	return &connTable{streams: make(map[uint16]*RelConnBack)}
}

func (t *connTable) get(sid uint16) (*RelConnBack, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.streams[sid]
	return b, ok
}

func (t *connTable) set(sid uint16, back *RelConnBack) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.streams[sid] = back
}

func (t *connTable) del(sid uint16) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.streams, sid)
}

func (t *connTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.streams)
}

// findID picks a random unused stream id, retrying on collision. It
// returns false once the table is full — steady-state fleet sizes are far
// below the 16-bit key space, so collisions are rare and exhaustion is the
// only real failure mode.
func (t *connTable) findID() (uint16, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.streams) >= maxStreamIDs {
		return 0, false
	}
	for {
		id := uint16(rand.Intn(1 << 16))
		if _, exists := t.streams[id]; !exists {
			return id, true
		}
	}
}
