package esp32c2

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/mklimuk/efuse"
)

//go:embed fields.yaml
var fieldsYAML []byte

// Table is the static field description of the chip.
type Table struct {
	KeyPurposes efuse.KeyPurposes       `yaml:"key_purposes"`
	Fields      []efuse.FieldDescriptor `yaml:"fields"`
}

// LoadTable decodes the embedded field table.
func LoadTable() (*Table, error) {
	var t Table
	if err := yaml.Unmarshal(fieldsYAML, &t); err != nil {
		return nil, fmt.Errorf("could not decode field table: %w", err)
	}
	seen := make(map[string]bool, len(t.Fields))
	for _, f := range t.Fields {
		if seen[f.Name] {
			return nil, fmt.Errorf("duplicate field %s in table", f.Name)
		}
		seen[f.Name] = true
	}
	return &t, nil
}
