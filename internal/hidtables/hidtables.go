// Package hidtables loads the static keyboard-name -> HID-usage and
// consumer-name -> 16-bit-usage tables described in spec §3/§6. The file
// is loaded once at startup and is immutable afterward.
package hidtables

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Tables holds the two usage lookup maps.
type Tables struct {
	Keyboard map[string]uint8  `yaml:"keyboard"`
	Consumer map[string]uint16 `yaml:"consumer"`
}

// Load reads a keyboard/consumer usage table document from path. The
// document may be JSON or YAML — yaml.v3 accepts both.
func Load(path string) (*Tables, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "hidtables: read")
	}
	var t Tables
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, errors.Wrap(err, "hidtables: parse")
	}
	if t.Keyboard == nil || t.Consumer == nil {
		return nil, errors.New("hidtables: document must contain both keyboard and consumer tables")
	}
	return &t, nil
}

// KeyboardUsage resolves a keyboard code name to its 8-bit usage. ok is
// false for unknown codes; callers must encode an all-zero release per
// spec §4.3.
func (t *Tables) KeyboardUsage(code string) (usage uint8, ok bool) {
	usage, ok = t.Keyboard[code]
	return
}

// ConsumerUsage resolves a consumer code name to its 16-bit usage. ok is
// false for unknown codes; callers must skip the send per spec §4.3.
func (t *Tables) ConsumerUsage(code string) (usage uint16, ok bool) {
	usage, ok = t.Consumer[code]
	return
}
