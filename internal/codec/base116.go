// Package codec implements the text-safe payload encoding embedded in
// schematic documents: zlib-compressed bytes packed six at a time into seven
// symbols of a 116-character alphabet.
package codec

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// Radix is the size of the symbol alphabet.
	Radix = 116
	// ChunkSymbols is the number of symbols encoding one chunk.
	ChunkSymbols = 7
	// ChunkBytes is the number of decoded bytes per chunk.
	ChunkBytes = 6

	maxChunkValue = uint64(1)<<(8*ChunkBytes) - 1
)

// Alphabet lists the symbols in digit order. Slash and newline are absent so
// an encoded blob can sit inside a single-quoted script literal.
const Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz" +
	"!\"#$%&()*+,-.:;<=>?@[]^_`{|}~ " +
	"\a\b\t\v\f\x0e\x0f\x10\x11\x12\x13\x14\x15\x16\x17" +
	"\x18\x19\x1a\x1b\x1c\x1d\x1e\x1f\x7f"

var (
	// ErrInvalidLength indicates that the encoded text is not a whole number of chunks.
	ErrInvalidLength = errors.New("codec: invalid encoded length")
	// ErrInvalidSymbol indicates a character outside the alphabet.
	ErrInvalidSymbol = errors.New("codec: invalid symbol")
	// ErrChunkOverflow indicates a chunk whose value does not fit in six bytes.
	ErrChunkOverflow = errors.New("codec: chunk overflow")
)

var (
	symbolValues [256]int16
	radixWeights [ChunkSymbols]uint64
)

func init() {
	for i := range symbolValues {
		symbolValues[i] = -1
	}
	for i := 0; i < len(Alphabet); i++ {
		symbolValues[Alphabet[i]] = int16(i)
	}
	weight := uint64(1)
	for i := ChunkSymbols - 1; i >= 0; i-- {
		radixWeights[i] = weight
		weight *= Radix
	}
}

// DecodeBytes unpacks base-116 text into the padded byte buffer it encodes.
func DecodeBytes(encoded string) ([]byte, error) {
	if len(encoded)%ChunkSymbols != 0 {
		return nil, fmt.Errorf("%w: %d symbols is not a multiple of %d", ErrInvalidLength, len(encoded), ChunkSymbols)
	}
	out := make([]byte, 0, len(encoded)/ChunkSymbols*ChunkBytes)
	for offset := 0; offset < len(encoded); offset += ChunkSymbols {
		var value uint64
		for i := 0; i < ChunkSymbols; i++ {
			symbol := encoded[offset+i]
			digit := symbolValues[symbol]
			if digit < 0 {
				return nil, fmt.Errorf("%w: %q at offset %d", ErrInvalidSymbol, symbol, offset+i)
			}
			value += uint64(digit) * radixWeights[i]
		}
		if value > maxChunkValue {
			return nil, fmt.Errorf("%w: chunk at offset %d", ErrChunkOverflow, offset)
		}
		out = append(out,
			byte(value/(1<<40)),
			byte(value/(1<<32)%256),
			byte(value/(1<<24)%256),
			byte(value/(1<<16)%256),
			byte(value/(1<<8)%256),
			byte(value%256),
		)
	}
	return out, nil
}

// EncodeBytes packs data into base-116 text, zero-padding to a whole chunk.
func EncodeBytes(data []byte) string {
	padded := data
	if rem := len(data) % ChunkBytes; rem != 0 {
		padded = make([]byte, len(data)+ChunkBytes-rem)
		copy(padded, data)
	}
	var builder strings.Builder
	builder.Grow(len(padded) / ChunkBytes * ChunkSymbols)
	for offset := 0; offset < len(padded); offset += ChunkBytes {
		var value uint64
		for _, b := range padded[offset : offset+ChunkBytes] {
			value = value<<8 | uint64(b)
		}
		for i := 0; i < ChunkSymbols; i++ {
			builder.WriteByte(Alphabet[value/radixWeights[i]%Radix])
		}
	}
	return builder.String()
}
