package core

import "github.com/openfabrics/ssad/cmn/atomic"

// EpochBuf is the one-sided-RDMA-write analog described in §3: a single
// 64-bit slot per upstream connection that a producer (the server) writes
// without an explicit round trip, and a single consumer (the puller)
// polls. Real RDMA hardware would map this for a peer's one-sided WRITE;
// here the "write" is simply a release-store the consumer's poll loop
// reads with an acquire-load, preserving the single-writer/single-reader
// contract from §5.
type EpochBuf struct {
	word atomic.Uint64
}

func (b *EpochBuf) Write(e Epoch) { b.word.Store(uint64(e)) }
func (b *EpochBuf) Read() Epoch   { return Epoch(b.word.Load()) }
