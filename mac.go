package efuse

import (
	"encoding/hex"
	"fmt"
	"net"
	"strings"
)

// ParseMAC validates a custom MAC address in AA:CD:EF:01:02:03 form and returns
// its six bytes in display order.
func ParseMAC(s string) ([]byte, error) {
	if s == "" {
		return nil, fmt.Errorf("%w: required MAC address in AA:CD:EF:01:02:03 format", ErrMACFormat)
	}
	groups := strings.Split(s, ":")
	if len(groups) != 6 {
		return nil, fmt.Errorf("%w: MAC address needs to be a 6-byte hexadecimal format separated by colons (:)", ErrMACFormat)
	}
	hexad := strings.Join(groups, "")
	if len(hexad) != 12 {
		return nil, fmt.Errorf("%w: MAC address needs to be a 6-byte hexadecimal number (12 hexadecimal characters)", ErrMACFormat)
	}
	for _, g := range groups {
		if len(g) != 2 {
			return nil, fmt.Errorf("%w: group %q is not two hexadecimal digits", ErrMACFormat, g)
		}
	}
	mac, err := hex.DecodeString(hexad)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMACFormat, err)
	}
	// unicast check, RFC 7042 section 2.1
	if mac[0]&0x01 != 0 {
		return nil, ErrMulticastMAC
	}
	return mac, nil
}

// FormatMAC renders six bytes as colon separated lowercase hex.
func FormatMAC(mac []byte) string {
	return net.HardwareAddr(mac).String()
}

func reverseBytes(b []byte) []byte {
	out := make([]byte, len(b))
	for i, c := range b {
		out[len(b)-1-i] = c
	}
	return out
}
