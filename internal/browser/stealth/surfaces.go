package stealth

import (
	_ "embed"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/ElLumy/chameleon/api/schemas"
)

//go:embed surfaces.js
var surfacesJS string

//go:embed relay.js
var relayJS string

// Source names carry the code marker so the guard strips their stack frames.
const (
	surfacesSource = "chameleon://surfaces.js"
	relaySource    = "chameleon://relay.js"
	dispatchSource = "chameleon://dispatch.js"
)

// Surface names understood by surfaces.js.
const (
	SurfaceNavigator = "navigator"
	SurfaceScreen    = "screen"
	SurfaceCanvas    = "canvas"
	SurfaceWebGL     = "webgl"
	SurfaceAudio     = "audio"
	SurfaceFonts     = "fonts"
	SurfacePlugins   = "plugins"
	SurfaceTimezone  = "timezone"
)

// SurfaceScript renders the installer for the named surfaces. Running it
// again with a new profile swaps the values the installed hooks report
// without installing them twice.
func SurfaceScript(p *schemas.Profile, names ...string) (string, error) {
	return renderSurfaces(surfacesSource, p, names...)
}

func renderSurfaces(source string, p *schemas.Profile, names ...string) (string, error) {
	if p == nil {
		return "", fmt.Errorf("stealth: nil profile")
	}
	profileJSON, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("stealth: failed to marshal profile: %w", err)
	}
	namesJSON, err := json.Marshal(names)
	if err != nil {
		return "", fmt.Errorf("stealth: failed to marshal surfaces: %w", err)
	}
	return fmt.Sprintf("%s(%s, %s);\n//# sourceURL=%s\n", surfacesJS, profileJSON, namesJSON, source), nil
}

// relayScript forwards the listener-to-core events to the event binding.
func relayScript(binding string, names ...string) string {
	namesJSON, _ := json.Marshal(names)
	bindingJSON, _ := json.Marshal(binding)
	return fmt.Sprintf("%s(%s, %s);\n//# sourceURL=%s\n", relayJS, bindingJSON, namesJSON, relaySource)
}

// dispatchScript raises a CustomEvent on window.
func dispatchScript(name string, detail interface{}) (string, error) {
	nameJSON, err := json.Marshal(name)
	if err != nil {
		return "", err
	}
	detailJSON, err := json.Marshal(detail)
	if err != nil {
		return "", fmt.Errorf("stealth: failed to marshal %s detail: %w", name, err)
	}
	return fmt.Sprintf("window.dispatchEvent(new CustomEvent(%s, {detail: %s}));\n//# sourceURL=%s\n", nameJSON, detailJSON, dispatchSource), nil
}

// relayMessage is what relay.js sends through the event binding.
type relayMessage struct {
	Name   string          `json:"name"`
	Detail json.RawMessage `json:"detail"`
}
