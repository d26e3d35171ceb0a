package efuse

import (
	"encoding/binary"
	"fmt"

	"github.com/mklimuk/efuse/reedsolo"
)

const (
	// RSDataLength is the message size of the block Reed-Solomon code.
	RSDataLength = 32
	// RSParityLength is the number of parity bytes appended to every RS block.
	RSParityLength = 12
)

var rs = reedsolo.New(RSParityLength)

// Encode converts a block payload into the words written to the programming data
// registers. The payload is zero padded up to burnUnit bytes. Reed-Solomon blocks
// yield the 8 data words followed by 3 parity words.
func Encode(payload []byte, scheme CodingScheme, burnUnit int) ([]uint32, error) {
	if burnUnit <= 0 || burnUnit%4 != 0 {
		return nil, fmt.Errorf("invalid burn unit length %d", burnUnit)
	}
	if len(payload) > burnUnit {
		return nil, fmt.Errorf("%w: %d > %d", ErrPayloadTooLong, len(payload), burnUnit)
	}
	data := make([]byte, burnUnit)
	copy(data, payload)
	switch scheme {
	case CodingNone:
		return toWords(data), nil
	case CodingReedSolomon:
		if burnUnit != RSDataLength {
			return nil, fmt.Errorf("reed-solomon blocks need a %d byte burn unit, got %d", RSDataLength, burnUnit)
		}
		encoded, err := rs.Encode(data)
		if err != nil {
			return nil, err
		}
		return toWords(encoded), nil
	default:
		return nil, fmt.Errorf("unsupported coding scheme %s", scheme)
	}
}

// DecodeRS checks and corrects a 44-byte Reed-Solomon block image and returns its
// 32 data bytes with the number of corrected bytes.
func DecodeRS(codeword []byte) ([]byte, int, error) {
	if len(codeword) != RSDataLength+RSParityLength {
		return nil, 0, fmt.Errorf("reed-solomon block image must be %d bytes, got %d", RSDataLength+RSParityLength, len(codeword))
	}
	return rs.Decode(codeword)
}

func toWords(data []byte) []uint32 {
	words := make([]uint32, len(data)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(data[4*i:])
	}
	return words
}

// WordBytes flattens words back into little-endian bytes.
func WordBytes(words []uint32) []byte {
	out := make([]byte, len(words)*4)
	for i, w := range words {
		binary.LittleEndian.PutUint32(out[4*i:], w)
	}
	return out
}
