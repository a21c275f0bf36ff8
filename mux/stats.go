package mux

import "sync/atomic"

// Stats holds atomic counters for one Multiplex actor, following the
// teacher's package-wide Snmp counter block (snmp.go) scoped to the
// handshake and table events this package observes.
type Stats struct {
	SynReceived     uint64
	SynAckSent      uint64
	RstSent         uint64
	RstSuppressed   uint64
	UrelDelivered   uint64
	UrelDropped     uint64
	StreamsAccepted uint64
	StreamsOpened   uint64
	StreamsClosed   uint64
}

// Snapshot returns a consistent point-in-time copy of the counters.
func (s *Stats) Snapshot() Stats {
	return Stats{
		SynReceived:     atomic.LoadUint64(&s.SynReceived),
		SynAckSent:      atomic.LoadUint64(&s.SynAckSent),
		RstSent:         atomic.LoadUint64(&s.RstSent),
		RstSuppressed:   atomic.LoadUint64(&s.RstSuppressed),
		UrelDelivered:   atomic.LoadUint64(&s.UrelDelivered),
		UrelDropped:     atomic.LoadUint64(&s.UrelDropped),
		StreamsAccepted: atomic.LoadUint64(&s.StreamsAccepted),
		StreamsOpened:   atomic.LoadUint64(&s.StreamsOpened),
		StreamsClosed:   atomic.LoadUint64(&s.StreamsClosed),
	}
}
