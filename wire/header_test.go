package wire_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openfabrics/ssad/wire"
)

func TestHeaderRoundTrip(t *testing.T) {
	h := wire.Header{
		Version:     wire.Version,
		Class:       wire.ClassDB,
		Opcode:      wire.OpQueryDataDataset,
		Flags:       wire.FlagEnd | wire.FlagResp,
		Status:      wire.StatusSuccess,
		Correlation: 42,
		RDMALength:  128,
		RDMAAddr:    0xdeadbeef,
	}
	buf := make([]byte, wire.FrameHdrSize)
	n := h.Encode(buf)
	require.Equal(t, wire.FrameHdrSize, n)

	got, err := wire.Decode(buf, wire.ClassDB)
	require.NoError(t, err)
	got.Length = 0 // Header.Encode writes Length as given; only Frame.Encode computes it
	h.Length = 0
	require.Equal(t, h, got)
	require.True(t, got.IsEnd())
	require.True(t, got.IsResp())
}

func TestDecodeRejectsBadVersion(t *testing.T) {
	h := wire.Header{Version: wire.Version + 1, Class: wire.ClassDB, Opcode: wire.OpQueryDef}
	buf := make([]byte, wire.FrameHdrSize)
	h.Encode(buf)
	_, err := wire.Decode(buf, wire.ClassDB)
	require.Error(t, err)
}

func TestDecodeRejectsUnknownOpcode(t *testing.T) {
	h := wire.Header{Version: wire.Version, Class: wire.ClassDB, Opcode: wire.Opcode(0xfff0)}
	buf := make([]byte, wire.FrameHdrSize)
	h.Encode(buf)
	_, err := wire.Decode(buf, wire.ClassDB)
	require.Error(t, err)
}

func TestDecodeRejectsCorruptChecksum(t *testing.T) {
	h := wire.Header{Version: wire.Version, Class: wire.ClassDB, Opcode: wire.OpQueryDef}
	buf := make([]byte, wire.FrameHdrSize)
	h.Encode(buf)
	buf[0] ^= 0xff // corrupt a header byte after checksum was computed
	_, err := wire.Decode(buf, wire.ClassDB)
	require.Error(t, err)
}

func TestFrameEncodeDecode(t *testing.T) {
	f := wire.Frame{
		Header:  wire.Header{Version: wire.Version, Class: wire.ClassAdmin, Opcode: wire.OpPing},
		Payload: []byte("hello"),
	}
	buf := f.Encode()
	got, err := wire.DecodeFrame(buf, wire.ClassAdmin)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), got.Payload)
}
