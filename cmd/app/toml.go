package app

import (
	"bytes"

	"github.com/BurntSushi/toml"
	"github.com/knadh/koanf/v2"
)

type tomlParser struct{}

// TOMLParser reads koanf layers from TOML files.
func TOMLParser() koanf.Parser {
	return tomlParser{}
}

func (tomlParser) Unmarshal(b []byte) (map[string]any, error) {
	out := make(map[string]any)
	if _, err := toml.Decode(string(b), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (tomlParser) Marshal(m map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
