package generator

import (
	"github.com/ElLumy/chameleon/api/schemas"
)

// Archetype is a coherent family of profiles: one OS and browser pair and the
// value pools it draws from.
type Archetype struct {
	Name       string
	OS         schemas.OSDescriptor
	UserAgents []string
	Vendor     string
	Screens    [][2]int
	Ratios     []float64
	Cores      []int
	Memory     []int
	Touch      int
	GPUs       []gpu
	Fonts      []string
	Plugins    []schemas.PluginDescriptor
	SampleRate int
	// RandomUA draws the user agent from an external pool instead of UserAgents.
	RandomUA bool
}

type gpu struct {
	Vendor   string
	Renderer string
}

type timezone struct {
	ID     string
	Offset int // Date.prototype.getTimezoneOffset sign convention
	Locale string
}

var timezones = []timezone{
	{"America/New_York", 300, "en-US"},
	{"America/Chicago", 360, "en-US"},
	{"America/Denver", 420, "en-US"},
	{"America/Los_Angeles", 480, "en-US"},
	{"Europe/London", 0, "en-GB"},
	{"Europe/Berlin", -60, "de-DE"},
	{"Europe/Paris", -60, "fr-FR"},
	{"Asia/Tokyo", -540, "ja-JP"},
	{"Australia/Sydney", -660, "en-AU"},
}

var languagePools = [][]string{
	{"en-US", "en"},
	{"en-US", "en", "es"},
	{"en-GB", "en"},
	{"en-US", "en", "fr"},
	{"en-US", "en", "de"},
}

var desktopScreens = [][2]int{
	{1920, 1080}, {2560, 1440}, {1366, 768}, {1536, 864}, {1680, 1050}, {1600, 900}, {1920, 1200},
}

var macScreens = [][2]int{
	{1440, 900}, {1512, 982}, {1728, 1117}, {2560, 1600}, {1680, 1050},
}

var windowsFonts = []string{"Arial", "Calibri", "Cambria", "Consolas", "Courier New", "Georgia", "Segoe UI", "Tahoma", "Times New Roman", "Verdana"}
var macFonts = []string{"American Typewriter", "Arial", "Avenir", "Courier New", "Futura", "Geneva", "Helvetica", "Helvetica Neue", "Menlo", "Monaco", "Times"}
var linuxFonts = []string{"DejaVu Sans", "DejaVu Serif", "Liberation Mono", "Liberation Sans", "Noto Sans", "Ubuntu"}

var pdfPlugins = []schemas.PluginDescriptor{
	{Name: "PDF Viewer", Filename: "internal-pdf-viewer", Description: "Portable Document Format"},
	{Name: "Chrome PDF Viewer", Filename: "internal-pdf-viewer", Description: "Portable Document Format"},
	{Name: "Chromium PDF Viewer", Filename: "internal-pdf-viewer", Description: "Portable Document Format"},
}

var windowsGPUs = []gpu{
	{"Google Inc. (NVIDIA)", "ANGLE (NVIDIA, NVIDIA GeForce RTX 3060 Direct3D11 vs_5_0 ps_5_0, D3D11)"},
	{"Google Inc. (NVIDIA)", "ANGLE (NVIDIA, NVIDIA GeForce RTX 4070 Direct3D11 vs_5_0 ps_5_0, D3D11)"},
	{"Google Inc. (Intel)", "ANGLE (Intel, Intel(R) UHD Graphics 770 Direct3D11 vs_5_0 ps_5_0, D3D11)"},
	{"Google Inc. (AMD)", "ANGLE (AMD, AMD Radeon RX 7600 Direct3D11 vs_5_0 ps_5_0, D3D11)"},
}

var appleGPUs = []gpu{
	{"Google Inc. (Apple)", "ANGLE (Apple, ANGLE Metal Renderer: Apple M1 Pro, Unspecified Version)"},
	{"Google Inc. (Apple)", "ANGLE (Apple, ANGLE Metal Renderer: Apple M2, Unspecified Version)"},
	{"Google Inc. (Apple)", "ANGLE (Apple, ANGLE Metal Renderer: Apple M3, Unspecified Version)"},
}

// Catalog is the built-in archetype list.
var Catalog = []Archetype{
	{
		Name: "windows-chrome",
		OS:   schemas.OSDescriptor{Name: "Windows", Version: "10.0", Platform: "Win32"},
		UserAgents: []string{
			"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
			"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/130.0.0.0 Safari/537.36",
		},
		Vendor: "Google Inc.", Screens: desktopScreens, Ratios: []float64{1, 1.25, 1.5},
		Cores: []int{4, 8, 12, 16}, Memory: []int{8, 16}, GPUs: windowsGPUs,
		Fonts: windowsFonts, Plugins: pdfPlugins, SampleRate: 48000,
	},
	{
		Name: "windows-edge",
		OS:   schemas.OSDescriptor{Name: "Windows", Version: "10.0", Platform: "Win32"},
		UserAgents: []string{
			"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/130.0.0.0 Safari/537.36 Edg/130.0.0.0",
		},
		Vendor: "Google Inc.", Screens: desktopScreens, Ratios: []float64{1, 1.25, 1.5},
		Cores: []int{4, 8, 12}, Memory: []int{8, 16}, GPUs: windowsGPUs,
		Fonts: windowsFonts, Plugins: pdfPlugins, SampleRate: 48000,
	},
	{
		Name: "windows-firefox",
		OS:   schemas.OSDescriptor{Name: "Windows", Version: "10.0", Platform: "Win32"},
		UserAgents: []string{
			"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:133.0) Gecko/20100101 Firefox/133.0",
		},
		Vendor: "", Screens: desktopScreens, Ratios: []float64{1, 1.25},
		Cores: []int{4, 8, 12}, GPUs: windowsGPUs,
		Fonts: windowsFonts, Plugins: pdfPlugins[:1], SampleRate: 48000,
	},
	{
		Name: "mac-safari",
		OS:   schemas.OSDescriptor{Name: "macOS", Version: "10.15.7", Platform: "MacIntel"},
		UserAgents: []string{
			"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/18.3 Safari/605.1.15",
		},
		Vendor: "Apple Computer, Inc.", Screens: macScreens, Ratios: []float64{2},
		Cores: []int{8, 10, 12}, GPUs: appleGPUs,
		Fonts: macFonts, Plugins: pdfPlugins[:1], SampleRate: 44100,
	},
	{
		Name: "mac-chrome",
		OS:   schemas.OSDescriptor{Name: "macOS", Version: "10.15.7", Platform: "MacIntel"},
		UserAgents: []string{
			"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
			"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/130.0.0.0 Safari/537.36",
		},
		Vendor: "Google Inc.", Screens: macScreens, Ratios: []float64{2},
		Cores: []int{8, 10, 12}, Memory: []int{8, 16}, GPUs: appleGPUs,
		Fonts: macFonts, Plugins: pdfPlugins, SampleRate: 44100,
	},
	{
		Name: "linux-chrome",
		OS:   schemas.OSDescriptor{Name: "Linux", Platform: "Linux x86_64"},
		UserAgents: []string{
			"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
		},
		Vendor: "Google Inc.", Screens: desktopScreens, Ratios: []float64{1},
		Cores: []int{4, 8, 16}, Memory: []int{8, 16}, GPUs: windowsGPUs[2:],
		Fonts: linuxFonts, Plugins: pdfPlugins, SampleRate: 48000,
	},
	{
		// Any real-world user agent; the rest of the surface stays generic.
		Name:     "wildcard",
		OS:       schemas.OSDescriptor{Name: "Unknown", Platform: "Win32"},
		RandomUA: true,
		Vendor:   "Google Inc.", Screens: desktopScreens, Ratios: []float64{1, 1.25},
		Cores: []int{4, 8}, GPUs: windowsGPUs,
		Fonts: windowsFonts, Plugins: pdfPlugins[:1], SampleRate: 48000,
	},
}

// Lookup returns the archetype named name.
func Lookup(name string) (Archetype, bool) {
	for _, a := range Catalog {
		if a.Name == name {
			return a, true
		}
	}
	return Archetype{}, false
}
