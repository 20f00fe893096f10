package wire

import (
	"github.com/pierrec/lz4/v3"
)

// CompressThreshold is the payload size above which Data dataset frames
// get LZ4 block-compressed before going on the wire (§4.1 doesn't mandate
// this; it's a bandwidth optimization available to any sender, flagged so
// an uncompressed-only peer implementation can still refuse it cleanly).
const CompressThreshold = 4096

// CompressPayload LZ4-block-compresses src, returning the compressed
// bytes and true if compression actually helped (shrank the payload).
func CompressPayload(src []byte) ([]byte, bool) {
	buf := make([]byte, lz4.CompressBlockBound(len(src)))
	var c lz4.Compressor
	n, err := c.CompressBlock(src, buf)
	if err != nil || n == 0 || n >= len(src) {
		return nil, false
	}
	return buf[:n], true
}

// DecompressPayload reverses CompressPayload; the caller must know the
// original length (carried in RDMALength on a compressed frame).
func DecompressPayload(src []byte, origLen int) ([]byte, error) {
	dst := make([]byte, origLen)
	n, err := lz4.UncompressBlock(src, dst)
	if err != nil {
		return nil, err
	}
	return dst[:n], nil
}
