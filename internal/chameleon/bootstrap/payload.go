// Package bootstrap builds the initialization unit that crosses into the page.
package bootstrap

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"regexp"
	"text/template"

	"github.com/goccy/go-json"

	"github.com/ElLumy/chameleon/api/schemas"
	"github.com/ElLumy/chameleon/internal/chameleon/registry"
)

//go:embed bootstrap.js.tmpl
var scriptTemplate string

var tmpl = template.Must(template.New("bootstrap").Parse(scriptTemplate))

// identifier matches names that are safe to expose as page globals.
var identifier = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)

// SourceName is the script name the payload runs under. It carries the code
// marker so stack frames from injected code can be recognised.
const SourceName = "chameleon://bootstrap.js"

// Config is the structured part of the payload handed back to the host.
type Config struct {
	Modules []registry.Descriptor `json:"modules"`
}

// Payload is a single, well-formed initialization unit.
type Payload struct {
	// Script is the JavaScript to run in the page.
	Script string
	// Name is the source name to run Script under.
	Name   string
	Config Config
}

// Build validates the module locators and renders the bootstrap script.
// The script sets the injected marker (returning early if it is already
// set) and passes the JSON-encoded Config to the bootstrap binding.
func Build(descs []registry.Descriptor) (Payload, error) {
	if len(descs) == 0 {
		return Payload{}, errors.New("bootstrap: no modules to load")
	}
	for _, d := range descs {
		if !identifier.MatchString(d.Name) {
			return Payload{}, fmt.Errorf("bootstrap: module name %q is not a valid identifier", d.Name)
		}
		if d.Locator == "" {
			return Payload{}, fmt.Errorf("bootstrap: module %s has no locator", d.Name)
		}
	}

	cfg := Config{Modules: append([]registry.Descriptor(nil), descs...)}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return Payload{}, fmt.Errorf("bootstrap: failed to encode config: %w", err)
	}
	// Encoding the JSON text again yields a valid JS string literal.
	literal, err := json.Marshal(string(raw))
	if err != nil {
		return Payload{}, fmt.Errorf("bootstrap: failed to quote config: %w", err)
	}

	var buf bytes.Buffer
	err = tmpl.Execute(&buf, map[string]string{
		"Marker":  schemas.InjectedMarker,
		"Binding": schemas.BootstrapBinding,
		"Config":  string(literal),
	})
	if err != nil {
		return Payload{}, fmt.Errorf("bootstrap: failed to render script: %w", err)
	}

	return Payload{Script: buf.String(), Name: SourceName, Config: cfg}, nil
}

// ParseConfig decodes the argument the bootstrap binding receives.
func ParseConfig(raw string) (Config, error) {
	var cfg Config
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return Config{}, fmt.Errorf("bootstrap: malformed config: %w", err)
	}
	if len(cfg.Modules) == 0 {
		return Config{}, errors.New("bootstrap: config lists no modules")
	}
	return cfg, nil
}
