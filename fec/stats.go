package fec

import "sync/atomic"

// Stats holds atomic FEC counters for one Encoder or Decoder, following
// the teacher's package-wide Snmp counter block (snmp.go) but scoped to
// just the FEC-level events this package itself observes.
type Stats struct {
	ShardsEncoded   uint64
	ParityProduced  uint64
	ShardsAdmitted  uint64
	Reconstructions uint64
	ReconstructErrs uint64
}

func (s *Stats) addEncoded(data, parity int) {
	atomic.AddUint64(&s.ShardsEncoded, uint64(data))
	atomic.AddUint64(&s.ParityProduced, uint64(parity))
}

func (s *Stats) addAdmitted() {
	atomic.AddUint64(&s.ShardsAdmitted, 1)
}

func (s *Stats) addReconstruction(ok bool) {
	if ok {
		atomic.AddUint64(&s.Reconstructions, 1)
	} else {
		atomic.AddUint64(&s.ReconstructErrs, 1)
	}
}

// Snapshot returns a consistent point-in-time copy of the counters.
func (s *Stats) Snapshot() Stats {
	return Stats{
		ShardsEncoded:   atomic.LoadUint64(&s.ShardsEncoded),
		ParityProduced:  atomic.LoadUint64(&s.ParityProduced),
		ShardsAdmitted:  atomic.LoadUint64(&s.ShardsAdmitted),
		Reconstructions: atomic.LoadUint64(&s.Reconstructions),
		ReconstructErrs: atomic.LoadUint64(&s.ReconstructErrs),
	}
}
