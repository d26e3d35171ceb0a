package efuse

import (
	"strconv"
	"strings"
)

// KeyPurpose names the role of a key block.
type KeyPurpose struct {
	Name string `yaml:"name"`
	Code uint64 `yaml:"code"`
	// Digest marks purposes whose block holds a digest rather than a raw key.
	Digest bool `yaml:"digest"`
}

type KeyPurposes []KeyPurpose

func (t KeyPurposes) ByCode(code uint64) (KeyPurpose, bool) {
	for _, p := range t {
		if p.Code == code {
			return p, true
		}
	}
	return KeyPurpose{}, false
}

// ByName accepts a purpose name (case insensitive) or its numeric code.
func (t KeyPurposes) ByName(name string) (KeyPurpose, bool) {
	for _, p := range t {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	if code, err := strconv.ParseUint(name, 0, 64); err == nil {
		return t.ByCode(code)
	}
	return KeyPurpose{}, false
}

func (t KeyPurposes) Names() []string {
	names := make([]string, len(t))
	for i, p := range t {
		names[i] = p.Name
	}
	return names
}

func (t KeyPurposes) Digests() []string {
	var names []string
	for _, p := range t {
		if p.Digest {
			names = append(names, p.Name)
		}
	}
	return names
}
