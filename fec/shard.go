// Package fec implements the adaptive Reed-Solomon forward error correction
// codec used to protect batches of outbound packets against datagram loss.
//
// An Encoder turns a batch of k data packets into k+m shards (the first k
// systematic, the rest parity); a Decoder turns any k-of-(k+m) surviving
// shards back into as many of the original packets as it can recover.
package fec

import "encoding/binary"

// maxPacketSize is the largest packet this codec will ever frame. It mirrors
// the wire-format ceiling implied by the 2-byte length prefix.
const maxPacketSize = 65535

// shardHeaderSize is the width of the length prefix every padded shard
// carries ahead of its body.
const shardHeaderSize = 2

// padShard produces a fixed-length shard of the form
// [le16(len(pkt))][pkt][zero padding to shardLen].
func padShard(pkt []byte, shardLen int) []byte {
	if len(pkt) > maxPacketSize {
		panic("fec: packet exceeds 65535 bytes")
	}
	if len(pkt)+shardHeaderSize > shardLen {
		panic("fec: shard length too small for packet")
	}
	shard := make([]byte, shardLen)
	binary.LittleEndian.PutUint16(shard, uint16(len(pkt)))
	copy(shard[shardHeaderSize:], pkt)
	return shard
}

// unpadShard reads the length prefix out of a reconstructed or admitted
// shard and returns the original packet body. It returns false if the
// length prefix is inconsistent with the shard's actual size (corruption).
func unpadShard(shard []byte) ([]byte, bool) {
	if len(shard) < shardHeaderSize {
		return nil, false
	}
	bodyLen := int(binary.LittleEndian.Uint16(shard))
	if bodyLen+shardHeaderSize > len(shard) {
		return nil, false
	}
	return shard[shardHeaderSize : shardHeaderSize+bodyLen], true
}
