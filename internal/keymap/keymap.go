// Package keymap loads and validates the keymap document described in
// spec §3/§6: a scancode-to-logical-key map plus, per activity, an
// ordered list of action bindings for each logical key.
package keymap

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// Edge is a key-down or key-up transition.
type Edge string

const (
	Down Edge = "down"
	Up   Edge = "up"
)

// Usage selects which HID report channel an action binding targets.
type Usage string

const (
	UsageKeyboard Usage = "keyboard"
	UsageConsumer Usage = "consumer"
)

// Binding is one action bound to a logical key within an activity. Only
// one of the "do=ble" or "do=emit" field sets is populated, selected by Do.
type Binding struct {
	Do        string         `json:"do"`
	Usage     string         `json:"usage,omitempty"`
	Code      string         `json:"code,omitempty"`
	Text      string         `json:"text,omitempty"`
	When      Edge           `json:"when,omitempty"`
	Repeat    bool           `json:"repeat,omitempty"`
	MinHoldMs int            `json:"min_hold_ms,omitempty"`
	Extras    map[string]any `json:"-"`
}

// effectiveWhen returns the binding's When field, defaulting to Down per
// spec §3 ("when ∈ {down, up} default down").
func (b Binding) effectiveWhen() Edge {
	if b.When == "" {
		return Down
	}
	return b.When
}

// EffectiveWhen is the exported form of effectiveWhen, used by the dispatcher.
func (b Binding) EffectiveWhen() Edge { return b.effectiveWhen() }

// UnmarshalJSON captures every field not in the known set into Extras,
// per spec §4.5 ("Extras are every top-level field of the binding except
// do, when, text, repeat, min_hold_ms").
func (b *Binding) UnmarshalJSON(data []byte) error {
	type known Binding
	var k known
	if err := json.Unmarshal(data, &k); err != nil {
		return err
	}
	*b = Binding(k)

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	skip := map[string]bool{"do": true, "when": true, "text": true, "repeat": true, "min_hold_ms": true}
	extras := map[string]any{}
	for key, v := range raw {
		if skip[key] {
			continue
		}
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			return err
		}
		extras[key] = val
	}
	if len(extras) > 0 {
		b.Extras = extras
	}
	return nil
}

// MarshalJSON re-emits Extras as top-level fields alongside the known
// ones, preserving the round-trip law from spec §8.
func (b Binding) MarshalJSON() ([]byte, error) {
	type known Binding
	base, err := json.Marshal(known(b))
	if err != nil {
		return nil, err
	}
	if len(b.Extras) == 0 {
		return base, nil
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range b.Extras {
		enc, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		merged[k] = enc
	}
	return json.Marshal(merged)
}

// ActivityBindings maps a logical key to its ordered list of actions.
type ActivityBindings map[string][]Binding

// Document is the full on-disk keymap: scancode_map plus per-activity
// bindings.
type Document struct {
	ScancodeMap map[string]string          `json:"scancode_map"`
	Activities  map[string]ActivityBindings `json:"activities"`
}

// Load reads path and parses+validates it. Load does no path search:
// cmd/hubd resolves the path before calling it (the configured path if
// set, otherwise the packaged data/keymap.json relative to the working
// directory).
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "keymap: read")
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "keymap: parse")
	}
	if err := doc.Validate(); err != nil {
		return nil, errors.Wrap(err, "keymap: validate")
	}
	return &doc, nil
}

// Validate enforces the invariants of spec §3: OFF must exist, and every
// remKey referenced by any binding must also appear as a value in
// scancode_map.
func (d *Document) Validate() error {
	if d.ScancodeMap == nil {
		return errors.New("scancode_map is required")
	}
	if _, ok := d.Activities["OFF"]; !ok {
		return errors.New("activity OFF must always exist")
	}
	known := lo.Uniq(lo.Values(d.ScancodeMap))
	knownSet := lo.SliceToMap(known, func(k string) (string, struct{}) { return k, struct{}{} })

	for activity, bindings := range d.Activities {
		for remKey := range bindings {
			if _, ok := knownSet[remKey]; !ok {
				return fmt.Errorf("activity %s binds remKey %q which is not a value in scancode_map", activity, remKey)
			}
		}
	}
	return nil
}

// Resolve looks up the raw-scancode-or-key-name in the scancode map, per
// spec §4.4's two-step resolution order (the caller tries mscScan first,
// then KEY_NAME).
func (d *Document) Resolve(rawOrName string) (remKey string, ok bool) {
	remKey, ok = d.ScancodeMap[rawOrName]
	return
}

// Bindings returns the ordered action list for remKey within activity,
// or nil if absent (spec §4.5: "empty if absent").
func (d *Document) Bindings(activity, remKey string) []Binding {
	acts, ok := d.Activities[activity]
	if !ok {
		return nil
	}
	return acts[remKey]
}
