package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadFile decodes the YAML file at path into dst. Unknown keys are
// rejected. An empty path leaves dst unchanged.
func LoadFile(path string, dst any) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := Decode(data, dst); err != nil {
		return fmt.Errorf("config: %s: %w", path, err)
	}
	return nil
}

// Decode decodes YAML data into dst. Fields absent from data keep their
// current values.
func Decode(data []byte, dst any) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Resolve applies the YAML file at path, then environment overrides for
// component, on top of the defaults already in dst.
func (l Loader) Resolve(path, component string, dst any) error {
	if err := LoadFile(path, dst); err != nil {
		return err
	}
	return l.Load(component, dst)
}
