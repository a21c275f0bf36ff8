package fec

import (
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/klauspost/reedsolomon"
)

// maxReconstructShards is the library ceiling beyond which Reed-Solomon
// reconstruction is disabled; larger blocks still admit shards but only
// ever return the systematic data shards they directly saw.
const maxReconstructShards = 128

// decoderCacheSize bounds the process-wide codec cache. Decoder instances
// are single-use and frequently allocated, so constructing a fresh
// Vandermonde-derived matrix per decode would dominate cost; the realistic
// set of (k, m) pairs at runtime is tiny, so a small LRU suffices.
const decoderCacheSize = 10

var decoderCodecCache, _ = lru.New[codecKey, reedsolomon.Encoder](decoderCacheSize)

func decoderCodecFor(k, m int) (reedsolomon.Encoder, bool) {
	key := codecKey{k, m}
	if c, ok := decoderCodecCache.Get(key); ok {
		return c, true
	}
	c, err := reedsolomon.New(k, m)
	if err != nil {
		return nil, false
	}
	decoderCodecCache.Add(key, c)
	return c, true
}

// Decoder reconstructs a single FEC block from any k-of-(k+m) surviving
// shards. A Decoder is constructed fresh per block and scoped to it; once
// it has completed a reconstruction it is considered done and will not
// attempt another.
type Decoder struct {
	dataShards   int
	parityShards int
	blockSize    int // dataShards + parityShards

	identity bool // parityShards == 0: strip framing only, never reconstruct
	codec    reedsolomon.Encoder
	canUseRS bool

	space        [][]byte // nil until the first shard is admitted
	present      []bool
	presentCount int
	done         bool

	Stats Stats
}

// NewDecoder prepares a Decoder for a block of the given data/parity shard
// counts. If parityShards is 0 the decoder runs in identity mode (strips
// framing only, every admitted shard is independent). If parityShards > 0
// and dataShards+parityShards <= 128 a cached Reed-Solomon codec is
// acquired; otherwise reconstruction is disabled and only the systematic
// fast path works.
func NewDecoder(dataShards, parityShards int) *Decoder {
	d := &Decoder{
		dataShards:   dataShards,
		parityShards: parityShards,
		blockSize:    dataShards + parityShards,
		identity:     parityShards == 0,
	}
	if !d.identity && d.blockSize <= maxReconstructShards {
		if codec, ok := decoderCodecFor(dataShards, parityShards); ok {
			d.codec = codec
			d.canUseRS = true
		}
	}
	d.present = make([]bool, d.blockSize)
	return d
}

// GoodPkts returns the number of data packets recovered or directly
// admitted so far.
func (d *Decoder) GoodPkts() int {
	if d.done {
		return d.dataShards
	}
	n := 0
	for i := 0; i < d.dataShards && i < len(d.present); i++ {
		if d.present[i] {
			n++
		}
	}
	if n > d.dataShards {
		n = d.dataShards
	}
	return n
}

// LostPkts returns the number of data packets not yet recovered.
func (d *Decoder) LostPkts() int {
	return d.dataShards - d.GoodPkts()
}

// Decode admits shard pkt at wire position idx. ok is false if nothing new
// is available yet, or if the admission was rejected outright (bad idx,
// mismatched shard length, or the decoder is already done); pkts is the
// possibly-empty set of data packets newly made available by this
// admission — immediately the packet itself when idx lands on a data-shard
// position, plus every previously-unseen data packet when this admission
// (data or parity) brings the block to k present shards and completes a
// Reed-Solomon reconstruction.
func (d *Decoder) Decode(pkt []byte, idx int) (pkts [][]byte, ok bool) {
	if d.identity {
		body, good := unpadShard(pkt)
		if !good {
			return nil, false
		}
		d.Stats.addAdmitted()
		return [][]byte{body}, true
	}

	if idx < 0 || idx >= d.blockSize {
		return nil, false
	}
	if d.done {
		return nil, false
	}

	if d.space == nil {
		d.space = make([][]byte, d.blockSize)
	}
	// all shards within a block must share one length, fixed by whichever
	// shard is admitted first
	if n := d.firstShardLen(); n != 0 && len(pkt) != n {
		return nil, false
	}

	slot := make([]byte, len(pkt))
	copy(slot, pkt)
	d.space[idx] = slot
	if !d.present[idx] {
		d.presentCount++
	}
	d.present[idx] = true
	d.Stats.addAdmitted()

	var direct [][]byte
	if idx < d.dataShards {
		body, good := unpadShard(slot)
		if !good {
			return nil, false
		}
		direct = [][]byte{body}
		// a data shard that brings the block to k present shards while
		// other data shards are still missing also completes reconstruction
		if d.presentCount < d.dataShards || !d.canUseRS || d.GoodPkts() == d.dataShards {
			return direct, true
		}
	}

	if d.presentCount < d.dataShards {
		return nil, false
	}

	if !d.canUseRS {
		return nil, false
	}
	shards := make([][]byte, d.blockSize)
	for i, s := range d.space {
		if d.present[i] {
			shards[i] = s
		}
	}
	if err := d.codec.ReconstructData(shards); err != nil {
		d.Stats.addReconstruction(false)
		return direct, direct != nil
	}
	d.Stats.addReconstruction(true)
	d.done = true

	recovered := direct
	for i := 0; i < d.dataShards; i++ {
		if d.present[i] {
			continue // already delivered via the fast path above
		}
		body, good := unpadShard(shards[i])
		if !good {
			continue
		}
		recovered = append(recovered, body)
	}
	return recovered, true
}

// firstShardLen returns the length established by the first admitted
// shard, or 0 if none has arrived yet.
func (d *Decoder) firstShardLen() int {
	for _, s := range d.space {
		if s != nil {
			return len(s)
		}
	}
	return 0
}
