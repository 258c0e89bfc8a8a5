package store

import (
	"encoding/binary"

	"github.com/yyyoichi/bitstream-go"
)

// packVisibility stores one bit per flag, in order, as little endian 64 bit
// words.
func packVisibility(flags []bool) []byte {
	w := bitstream.NewBitWriter[uint64](0, 0)
	for _, v := range flags {
		w.WriteBool(v)
	}
	words := w.Data()
	out := make([]byte, 0, len(words)*8)
	for _, word := range words {
		out = binary.LittleEndian.AppendUint64(out, word)
	}
	return out
}

// unpackVisibility reads n flags back. Missing bits read as hidden and a
// trailing partial word is ignored.
func unpackVisibility(data []byte, n int) []bool {
	flags := make([]bool, n)
	words := make([]uint64, len(data)/8)
	for i := range words {
		words[i] = binary.LittleEndian.Uint64(data[i*8:])
	}
	if len(words) == 0 {
		return flags
	}
	r := bitstream.NewBitReader(words, 0, 0)
	for i := range min(n, len(words)*64) {
		flags[i], _ = r.ReadBitAt(i)
	}
	return flags
}
