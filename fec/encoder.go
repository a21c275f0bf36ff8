package fec

import (
	"github.com/klauspost/reedsolomon"
)

// rateKey indexes the per-encoder memoisation table mapping a measured loss
// rate and data-shard count to the chosen parity count.
type rateKey struct {
	measuredLoss uint8
	k            int
}

// codecKey indexes the per-encoder Reed-Solomon codec cache.
type codecKey struct {
	k, m int
}

// Encoder adaptively sizes Reed-Solomon parity against a measured
// packet-loss rate and encodes batches of packets into shards. An Encoder
// retains memoisation state and is meant to be reused for the lifetime of a
// connection; it is not safe for concurrent use.
type Encoder struct {
	targetLoss uint8 // fixed-point, denominator 256

	rateTable map[rateKey]int
	rsCodecs  map[codecKey]reedsolomon.Encoder

	Stats Stats
}

// NewEncoder creates an Encoder targeting the given fixed-point loss rate
// (interpreted as targetLoss/256).
func NewEncoder(targetLoss uint8) *Encoder {
	return &Encoder{
		targetLoss: targetLoss,
		rateTable:  make(map[rateKey]int),
		rsCodecs:   make(map[codecKey]reedsolomon.Encoder),
	}
}

// Encode turns pkts into k+m shards, where k = len(pkts) and m is the
// adaptively-chosen parity count for the given measured loss rate. The
// first k returned shards are the padded data shards in order; the
// remaining m are parity. All shards share the same length.
//
// Encode panics if pkts is empty or any packet exceeds 65535 bytes — both
// are programmer errors, not recoverable runtime conditions.
func (e *Encoder) Encode(measuredLoss uint8, pkts [][]byte) [][]byte {
	if len(pkts) == 0 {
		panic("fec: Encode called with no packets")
	}
	k := len(pkts)
	if k > 255 {
		panic("fec: Encode called with more than 255 packets")
	}

	maxLen := 0
	for _, p := range pkts {
		if len(p) > maxPacketSize {
			panic("fec: packet exceeds 65535 bytes")
		}
		if len(p) > maxLen {
			maxLen = len(p)
		}
	}
	shardLen := maxLen + shardHeaderSize

	m := e.repairLen(measuredLoss, k)

	shards := make([][]byte, 0, k+m)
	for _, p := range pkts {
		shards = append(shards, padShard(p, shardLen))
	}
	for i := 0; i < m; i++ {
		shards = append(shards, make([]byte, shardLen))
	}

	if m > 0 {
		codec := e.codecFor(k, m)
		if err := codec.Encode(shards); err != nil {
			panic("fec: reed-solomon encode failed: " + err.Error())
		}
	}

	e.Stats.addEncoded(k, m)

	return shards
}

// codecFor returns (creating and caching if necessary) the Reed-Solomon
// codec for the given (k, m) pair. Encoder-side caches are unbounded
// because they live for the lifetime of a single connection, where the
// realistic set of (k, m) pairs in play is small.
func (e *Encoder) codecFor(k, m int) reedsolomon.Encoder {
	key := codecKey{k, m}
	if c, ok := e.rsCodecs[key]; ok {
		return c
	}
	c, err := reedsolomon.New(k, m)
	if err != nil {
		panic("fec: could not construct reed-solomon codec: " + err.Error())
	}
	e.rsCodecs[key] = c
	return c
}

// repairLen returns the memoised parity-shard count for the given measured
// loss rate and data-shard run length, computing and caching it on first
// use. The search dominates encode cost at steady state, which is why the
// teacher's own rate table (fec.go's rate_table) is mirrored here rather
// than recomputed per call.
func (e *Encoder) repairLen(measuredLoss uint8, k int) int {
	key := rateKey{measuredLoss, k}
	if m, ok := e.rateTable[key]; ok {
		return m
	}

	p := clampProbability(float64(measuredLoss) / 256.0)
	target := float64(e.targetLoss) / 256.0

	additional := 0
	for {
		n := k + additional
		// probability that at most k of the n shards survive, each shard
		// surviving independently with probability 1-p
		if binomialCDF(n, 1-p, k) <= target {
			break
		}
		additional++
		// n grows without bound only if p and target are pathological;
		// the clamp on p above guarantees termination well before this.
		if additional > 100000 {
			break
		}
	}
	m := additional - 1
	if m < 0 {
		m = 0
	}

	if maxParity := 255 - k; m > maxParity {
		m = maxParity
	}
	if m > k {
		m = k
	}

	e.rateTable[key] = m
	return m
}
