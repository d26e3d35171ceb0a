package efuse

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMAC(t *testing.T) {
	tests := []struct {
		given    string
		expected []byte
		err      error
	}{
		{"AA:CD:EF:01:02:03", []byte{0xAA, 0xCD, 0xEF, 0x01, 0x02, 0x03}, nil},
		{"aa:cd:ef:01:02:03", []byte{0xAA, 0xCD, 0xEF, 0x01, 0x02, 0x03}, nil},
		{"AB:CD:EF:01:02:03", nil, ErrMulticastMAC},
		{"AA:CD:EF:01:02", nil, ErrMACFormat},
		{"AACDEF010203", nil, ErrMACFormat},
		{"", nil, ErrMACFormat},
		{"AA:CD:EF:01:02:0", nil, ErrMACFormat},
		{"AAC:D:EF:01:02:03", nil, ErrMACFormat},
		{"GG:CD:EF:01:02:03", nil, ErrMACFormat},
	}
	for _, test := range tests {
		t.Run(test.given, func(t *testing.T) {
			mac, err := ParseMAC(test.given)
			if test.err != nil {
				assert.True(t, errors.Is(err, test.err), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, test.expected, mac)
		})
	}
}

func TestParseMAC_MulticastIsNotFormatError(t *testing.T) {
	_, err := ParseMAC("01:00:5E:00:00:01")
	assert.True(t, errors.Is(err, ErrMulticastMAC))
	assert.False(t, errors.Is(err, ErrMACFormat))
}

func TestFormatMAC(t *testing.T) {
	assert.Equal(t, "aa:cd:ef:01:02:03", FormatMAC([]byte{0xAA, 0xCD, 0xEF, 0x01, 0x02, 0x03}))
}
