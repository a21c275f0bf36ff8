package session

import "golang.org/x/net/ipv4"

// batchSize bounds how many datagrams a single ReadBatch/WriteBatch call
// handles, matching the teacher's batchconn.go sizing.
const batchSize = 16

// batchConn is implemented by platform packet connections that support
// recvmmsg/sendmmsg-style batching (ipv4.PacketConn on Linux). A Session
// falls back to per-packet ReadFrom/WriteTo when its underlying conn
// doesn't implement it.
type batchConn interface {
	WriteBatch(ms []ipv4.Message, flags int) (int, error)
	ReadBatch(ms []ipv4.Message, flags int) (int, error)
}
