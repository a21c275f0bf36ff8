package session

import "sync/atomic"

// Stats holds atomic traffic and FEC counters for one Session, following
// the teacher's package-wide Snmp counter block (snmp.go) but scoped down
// to what a single session actually observes.
type Stats struct {
	InPkts  uint64
	OutPkts uint64
	InBytes uint64

	OutBytes uint64

	FECShardSet     uint64 // shard admissions that yielded at least one packet
	FECRecovered    uint64 // data shards recovered via reconstruction
	FECErrs         uint64 // not incremented anywhere in this package
	FECParityShards uint64 // parity shards transmitted

	WriteErrs uint64
}

func (s *Stats) addInPkt(n int) {
	atomic.AddUint64(&s.InPkts, 1)
	atomic.AddUint64(&s.InBytes, uint64(n))
}

func (s *Stats) addOutPkt(n int) {
	atomic.AddUint64(&s.OutPkts, 1)
	atomic.AddUint64(&s.OutBytes, uint64(n))
}

// Snapshot returns a consistent point-in-time copy of the counters.
func (s *Stats) Snapshot() Stats {
	return Stats{
		InPkts:          atomic.LoadUint64(&s.InPkts),
		OutPkts:         atomic.LoadUint64(&s.OutPkts),
		InBytes:         atomic.LoadUint64(&s.InBytes),
		OutBytes:        atomic.LoadUint64(&s.OutBytes),
		FECShardSet:     atomic.LoadUint64(&s.FECShardSet),
		FECRecovered:    atomic.LoadUint64(&s.FECRecovered),
		FECErrs:         atomic.LoadUint64(&s.FECErrs),
		FECParityShards: atomic.LoadUint64(&s.FECParityShards),
		WriteErrs:       atomic.LoadUint64(&s.WriteErrs),
	}
}
