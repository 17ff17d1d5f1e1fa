package schemas

import (
	"strings"
	"time"
)

// -- Profile Models --
// A Profile is the synthetic identity presented to fingerprinting probes.
// Profiles are created by the generator, published once, and never mutated
// afterwards. Regeneration replaces the whole value.

// OSDescriptor identifies the operating system the profile pretends to run on.
type OSDescriptor struct {
	Name     string `json:"name"`
	Version  string `json:"version,omitempty"`
	Platform string `json:"platform"` // Legacy navigator.platform (e.g., Win32)
}

// NavigatorParams holds the navigator surface values.
type NavigatorParams struct {
	Languages           []string `json:"languages"`
	HardwareConcurrency int      `json:"hardwareConcurrency"`
	DeviceMemory        int      `json:"deviceMemory,omitempty"`
	MaxTouchPoints      int      `json:"maxTouchPoints"`
	Vendor              string   `json:"vendor"`
	DoNotTrack          string   `json:"doNotTrack,omitempty"`
}

// ScreenParams defines the resolution and depth of the display.
type ScreenParams struct {
	Width            int     `json:"width"`
	Height           int     `json:"height"`
	AvailWidth       int     `json:"availWidth"`
	AvailHeight      int     `json:"availHeight"`
	ColorDepth       int     `json:"colorDepth"`
	PixelDepth       int     `json:"pixelDepth"`
	DevicePixelRatio float64 `json:"devicePixelRatio"`
}

// CanvasParams configures canvas readback noise.
type CanvasParams struct {
	NoiseSeed int64   `json:"noiseSeed"`
	Intensity float64 `json:"intensity"`
}

// WebGLParams configures the reported GPU.
type WebGLParams struct {
	Vendor         string `json:"vendor"`
	Renderer       string `json:"renderer"`
	UnmaskedVendor string `json:"unmaskedVendor,omitempty"`
	MaxTextureSize int    `json:"maxTextureSize,omitempty"`
}

// AudioParams configures audio buffer perturbation.
type AudioParams struct {
	NoiseSeed  int64   `json:"noiseSeed"`
	SampleRate int     `json:"sampleRate"`
	Jitter     float64 `json:"jitter"`
}

// FontsParams lists the fonts reported as installed.
type FontsParams struct {
	Available []string `json:"available"`
}

// PluginDescriptor describes one entry of navigator.plugins.
type PluginDescriptor struct {
	Name        string `json:"name"`
	Filename    string `json:"filename"`
	Description string `json:"description,omitempty"`
}

// PluginsParams lists the reported plugins.
type PluginsParams struct {
	Plugins []PluginDescriptor `json:"plugins"`
}

// TimezoneParams defines the reported timezone.
type TimezoneParams struct {
	ID     string `json:"id"`     // IANA name, e.g. "Europe/Berlin"
	Offset int    `json:"offset"` // Minutes, as returned by Date.prototype.getTimezoneOffset
	Locale string `json:"locale,omitempty"`
}

// Profile is a generation-scoped synthetic identity.
type Profile struct {
	ID         string       `json:"id"`
	Archetype  string       `json:"archetype"`
	Seed       string       `json:"seed"`
	Generation int          `json:"generation"`
	CreatedAt  time.Time    `json:"createdAt"`
	OS         OSDescriptor `json:"os"`
	UserAgent  string       `json:"userAgent"`

	Navigator NavigatorParams `json:"navigator"`
	Screen    ScreenParams    `json:"screen"`
	Canvas    CanvasParams    `json:"canvas"`
	WebGL     WebGLParams     `json:"webgl"`
	Audio     AudioParams     `json:"audio"`
	Fonts     FontsParams     `json:"fonts"`
	Plugins   PluginsParams   `json:"plugins"`
	Timezone  TimezoneParams  `json:"timezone"`
}

// SessionID returns the short form of the seed shown to users.
func (p *Profile) SessionID() string {
	if p == nil || p.Seed == "" {
		return "N/A"
	}
	if len(p.Seed) <= 8 {
		return p.Seed
	}
	return p.Seed[:8] + "..."
}

// BrowserFamily extracts the browser name from the user agent string.
// Order matters: Chrome user agents also carry "Safari".
func (p *Profile) BrowserFamily() string {
	if p == nil {
		return "Unknown"
	}
	ua := p.UserAgent
	switch {
	case strings.Contains(ua, "Edg/"):
		return "Edge"
	case strings.Contains(ua, "Firefox"):
		return "Firefox"
	case strings.Contains(ua, "Chrome"):
		return "Chrome"
	case strings.Contains(ua, "Safari"):
		return "Safari"
	}
	return "Unknown"
}

// -- Statistics & Settings --

// Statistics summarises usage since the store was created.
type Statistics struct {
	ProfilesGenerated int64     `json:"profilesGenerated"`
	SitesVisited      int64     `json:"sitesVisited"`
	StartTime         time.Time `json:"startTime"`
}

// Uptime returns the time elapsed since StartTime, measured at now.
func (s Statistics) Uptime(now time.Time) time.Duration {
	if s.StartTime.IsZero() || now.Before(s.StartTime) {
		return 0
	}
	return now.Sub(s.StartTime)
}

// Setting keys understood by the store.
const (
	SettingEnabled        = "enabled"
	SettingAutoRotate     = "autoRotate"
	SettingRotateInterval = "rotateInterval"
	SettingDebugMode      = "debugMode"
)
