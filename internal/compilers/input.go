package compilers

import (
	"encoding/json"
	"fmt"
	"maps"
)

// Input is a standard JSON compiler input. Settings are kept raw because
// each compiler family understands a different set of keys.
type Input struct {
	Language string            `json:"language"`
	Sources  map[string]Source `json:"sources"`
	Settings json.RawMessage   `json:"settings,omitempty"`

	// Interfaces is vyper-only.
	Interfaces json.RawMessage `json:"interfaces,omitempty"`
}

// Source is one source file of an Input.
type Source struct {
	Content string `json:"content"`
}

// ParseInput decodes a standard JSON input.
func ParseInput(raw []byte) (*Input, error) {
	var in Input
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if len(in.Sources) == 0 {
		return nil, fmt.Errorf("%w: no sources", ErrInvalidInput)
	}
	return &in, nil
}

// Clone returns a deep copy of the input.
func (in *Input) Clone() *Input {
	out := &Input{
		Language: in.Language,
		Sources:  maps.Clone(in.Sources),
	}
	if in.Settings != nil {
		out.Settings = append(json.RawMessage(nil), in.Settings...)
	}
	if in.Interfaces != nil {
		out.Interfaces = append(json.RawMessage(nil), in.Interfaces...)
	}
	return out
}

// SettingsMap decodes Settings into a key -> raw value map.
func (in *Input) SettingsMap() (map[string]json.RawMessage, error) {
	settings := make(map[string]json.RawMessage)
	if len(in.Settings) == 0 || string(in.Settings) == "null" {
		return settings, nil
	}
	if err := json.Unmarshal(in.Settings, &settings); err != nil {
		return nil, fmt.Errorf("%w: settings: %v", ErrInvalidInput, err)
	}
	return settings, nil
}

// SetSetting replaces one key of Settings.
func (in *Input) SetSetting(key string, value any) error {
	settings, err := in.SettingsMap()
	if err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding setting %s: %w", key, err)
	}
	settings[key] = raw
	in.Settings, err = json.Marshal(settings)
	return err
}

// AppendSpaceToSources returns a copy of in whose sources each end with an
// extra space. The copy compiles to the same code except for the metadata
// hashes.
func AppendSpaceToSources(in *Input) *Input {
	out := in.Clone()
	for name, src := range out.Sources {
		src.Content += " "
		out.Sources[name] = src
	}
	return out
}
