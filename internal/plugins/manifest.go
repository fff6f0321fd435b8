// ABOUTME: Bundle manifest parsing and schema validation
// ABOUTME: Reads plugin.json, falling back to plugin.toml, and validates both against one JSON schema

package plugins

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

const (
	manifestJSON   = "plugin.json"
	manifestTOML   = "plugin.toml"
	defaultMain    = "plugin.go"
	defaultUIDir   = "ui"
	manifestSchema = "manifest.schema.json"
)

//go:embed schema/manifest.schema.json
var manifestSchemaJSON []byte

// Manifest describes a bundle.
type Manifest struct {
	Name         string `json:"name" toml:"name"`
	Description  string `json:"description,omitempty" toml:"description"`
	UI           string `json:"ui,omitempty" toml:"ui"`
	AlwaysLoaded bool   `json:"alwaysLoaded" toml:"alwaysLoaded"`
	Main         string `json:"main,omitempty" toml:"main"`
	Version      string `json:"version,omitempty" toml:"version"`
}

// MainFile returns the module source file name inside the bundle.
func (m Manifest) MainFile() string {
	if m.Main != "" {
		return m.Main
	}
	return defaultMain
}

// UIDir returns the bundle-relative directory holding UI assets.
func (m Manifest) UIDir() string {
	if m.UI != "" {
		return m.UI
	}
	return defaultUIDir
}

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func manifestValidator() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(manifestSchemaJSON))
		if err != nil {
			schemaErr = fmt.Errorf("parsing manifest schema: %w", err)
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(manifestSchema, doc); err != nil {
			schemaErr = fmt.Errorf("adding manifest schema: %w", err)
			return
		}
		schema, schemaErr = compiler.Compile(manifestSchema)
	})
	return schema, schemaErr
}

// ParseManifest validates raw JSON manifest bytes and decodes them.
func ParseManifest(data []byte) (Manifest, error) {
	sch, err := manifestValidator()
	if err != nil {
		return Manifest{}, err
	}

	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return Manifest{}, fmt.Errorf("%w: manifest is not valid JSON: %v", ErrPluginLoad, err)
	}
	if err := sch.Validate(inst); err != nil {
		return Manifest{}, fmt.Errorf("%w: manifest: %v", ErrPluginLoad, err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("%w: manifest: %v", ErrPluginLoad, err)
	}
	return m, nil
}

// ReadManifest loads the manifest of the bundle in dir.
func ReadManifest(dir string) (Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, manifestJSON))
	if err == nil {
		return ParseManifest(data)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return Manifest{}, fmt.Errorf("%w: reading %s: %v", ErrPluginLoad, manifestJSON, err)
	}

	tomlData, err := os.ReadFile(filepath.Join(dir, manifestTOML))
	if errors.Is(err, fs.ErrNotExist) {
		return Manifest{}, fmt.Errorf("%w: no %s or %s", ErrPluginLoad, manifestJSON, manifestTOML)
	}
	if err != nil {
		return Manifest{}, fmt.Errorf("%w: reading %s: %v", ErrPluginLoad, manifestTOML, err)
	}

	var raw map[string]any
	if _, err := toml.Decode(string(tomlData), &raw); err != nil {
		return Manifest{}, fmt.Errorf("%w: %s: %v", ErrPluginLoad, manifestTOML, err)
	}
	asJSON, err := json.Marshal(raw)
	if err != nil {
		return Manifest{}, fmt.Errorf("%w: %s: %v", ErrPluginLoad, manifestTOML, err)
	}
	return ParseManifest(asJSON)
}
