package adapter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSLIPEncode(t *testing.T) {
	out := slipEncode([]byte{0x01, 0xC0, 0xDB, 0x02})
	assert.Equal(t, []byte{0xC0, 0x01, 0xDB, 0xDC, 0xDB, 0xDD, 0x02, 0xC0}, out)
	assert.Equal(t, []byte{0xC0, 0xC0}, slipEncode(nil))
}

func TestSLIPDecoder(t *testing.T) {
	var d slipDecoder
	first := slipEncode([]byte{0x01, 0xC0, 0x02})
	second := slipEncode([]byte{0xDB, 0x03})

	// boot noise before the first frame, second frame split across writes
	d.write([]byte("ESP-ROM:esp8684-api2\r\n"))
	d.write(first)
	d.write(second[:3])
	_, ok := d.next()
	require.True(t, ok)
	_, ok = d.next()
	assert.False(t, ok, "partial frame must not be returned")
	d.write(second[3:])

	f, ok := d.next()
	require.True(t, ok)
	assert.Equal(t, []byte{0xDB, 0x03}, f)
}

func TestSLIPDecoder_InvalidEscape(t *testing.T) {
	var d slipDecoder
	d.write([]byte{0xC0, 0x01, 0xDB, 0x10, 0x02, 0xC0})
	d.write(slipEncode([]byte{0x07}))

	f, ok := d.next()
	require.True(t, ok)
	assert.Equal(t, []byte{0x07}, f)
	_, ok = d.next()
	assert.False(t, ok)
}
