// Package dashconfig defines the dashboard configuration document: the
// printer, filament, plugin, and UI settings the touchscreen dashboard reads
// on startup. The document is stored as camelCase JSON and owned by the
// dashconfd daemon; this package only describes it and knows how to check,
// copy, and compare it.
package dashconfig

// CurrentVersion is the newest document schema version this build understands.
const CurrentVersion = 1

// Sorting attributes accepted by FileSorting.Attribute.
const (
	SortByName = "name"
	SortByDate = "date"
	SortBySize = "size"
)

// Sorting orders accepted by FileSorting.Order.
const (
	OrderAsc = "asc"
	OrderDsc = "dsc"
)

// Config is the full configuration document.
type Config struct {
	Version   int       `json:"version"`
	Octoprint Octoprint `json:"octoprint"`
	Printer   Printer   `json:"printer"`
	Filament  Filament  `json:"filament"`
	Plugins   Plugins   `json:"plugins"`
	OctoDash  OctoDash  `json:"octodash"`
}

// Octoprint holds the connection settings for the OctoPrint server.
type Octoprint struct {
	URL         string `json:"url"`
	AccessToken string `json:"accessToken"`

	// URLSplit is only set on documents built from input forms; see FromInput.
	URLSplit *URLSplit `json:"urlSplit,omitempty"`
}

// URLSplit is the host/port form of Octoprint.URL. Port 0 means no port.
type URLSplit struct {
	Host string `json:"host"`
	Port int    `json:"port,omitempty"`
}

// Printer holds hardware parameters of the attached printer.
type Printer struct {
	Name                       string                     `json:"name"`
	XYSpeed                    int                        `json:"xySpeed"`
	ZSpeed                     int                        `json:"zSpeed"`
	DisableExtruderGCode       string                     `json:"disableExtruderGCode"`
	ZBabystepGCode             string                     `json:"zBabystepGCode"`
	DefaultTemperatureFanSpeed DefaultTemperatureFanSpeed `json:"defaultTemperatureFanSpeed"`
}

// DefaultTemperatureFanSpeed are the preheat targets offered by the UI.
type DefaultTemperatureFanSpeed struct {
	Hotend  int `json:"hotend"`
	Heatbed int `json:"heatbed"`
	Fan     int `json:"fan"`
}

// Filament holds material properties and filament-change parameters.
type Filament struct {
	Thickness     float64 `json:"thickness"`
	Density       float64 `json:"density"`
	FeedLength    int     `json:"feedLength"`
	FeedSpeed     int     `json:"feedSpeed"`
	FeedSpeedSlow int     `json:"feedSpeedSlow"`
	PurgeDistance int     `json:"purgeDistance"`
	UseM600       bool    `json:"useM600"`
}

// Plugins holds the OctoPrint plugin integrations.
type Plugins struct {
	DisplayLayerProgress Plugin                `json:"displayLayerProgress"`
	Enclosure            EnclosurePlugin       `json:"enclosure"`
	FilamentManager      Plugin                `json:"filamentManager"`
	PreheatButton        Plugin                `json:"preheatButton"`
	PrintTimeGenius      Plugin                `json:"printTimeGenius"`
	PSUControl           PSUControlPlugin      `json:"psuControl"`
	TPLinkSmartPlug      TPLinkSmartPlugPlugin `json:"tpLinkSmartPlug"`
}

// Plugin is the common shape of a plugin toggle.
type Plugin struct {
	Enabled bool `json:"enabled"`
}

// EnclosurePlugin configures the enclosure plugin. Sensor ID 0 means unset.
type EnclosurePlugin struct {
	Enabled           bool `json:"enabled"`
	AmbientSensorID   int  `json:"ambientSensorID"`
	Filament1SensorID int  `json:"filament1SensorID"`
	Filament2SensorID int  `json:"filament2SensorID"`
}

// PSUControlPlugin configures the PSU control plugin.
type PSUControlPlugin struct {
	Enabled                   bool `json:"enabled"`
	TurnOnPSUWhenExitingSleep bool `json:"turnOnPSUWhenExitingSleep"`
}

// TPLinkSmartPlugPlugin configures the TP-Link smart plug plugin.
type TPLinkSmartPlugPlugin struct {
	Enabled     bool   `json:"enabled"`
	SmartPlugIP string `json:"smartPlugIP"`
}

// OctoDash holds the dashboard's own UI behavior.
type OctoDash struct {
	CustomActions                 []CustomAction `json:"customActions"`
	FileSorting                   FileSorting    `json:"fileSorting"`
	PollingInterval               int            `json:"pollingInterval"` // milliseconds
	Touchscreen                   bool           `json:"touchscreen"`
	TurnScreenOffWhileSleeping    bool           `json:"turnScreenOffWhileSleeping"`
	TurnOnPrinterWhenExitingSleep bool           `json:"turnOnPrinterWhenExitingSleep"`
	PreferPreviewWhilePrinting    bool           `json:"preferPreviewWhilePrinting"`
	PreviewProgressCircle         bool           `json:"previewProgressCircle"`
	ScreenSleepCommand            string         `json:"screenSleepCommand"`
	ScreenWakeupCommand           string         `json:"screenWakeupCommand"`
}

// CustomAction is a user-defined button on the control screen.
type CustomAction struct {
	Icon    string `json:"icon"`
	Command string `json:"command"`
	Color   string `json:"color"`
	Confirm bool   `json:"confirm"`
	Exit    bool   `json:"exit"`
}

// FileSorting is the default ordering of the file browser.
type FileSorting struct {
	Attribute string `json:"attribute"`
	Order     string `json:"order"`
}

// Default returns the document shipped with a fresh install. It has no
// access token, so it does not pass Validate until setup completes.
func Default() Config {
	return Config{
		Version: CurrentVersion,
		Octoprint: Octoprint{
			URL: "http://localhost:5000/",
		},
		Printer: Printer{
			Name:                 "Printer",
			XYSpeed:              150,
			ZSpeed:               5,
			DisableExtruderGCode: "M18 E",
			ZBabystepGCode:       "M290 Z",
			DefaultTemperatureFanSpeed: DefaultTemperatureFanSpeed{
				Hotend:  200,
				Heatbed: 60,
				Fan:     100,
			},
		},
		Filament: Filament{
			Thickness:     1.75,
			Density:       1.25,
			FeedLength:    0,
			FeedSpeed:     20,
			FeedSpeedSlow: 3,
			PurgeDistance: 30,
		},
		OctoDash: OctoDash{
			CustomActions: []CustomAction{
				{Icon: "home", Command: "G28", Color: "#dcdde1", Exit: true},
				{Icon: "ruler-vertical", Command: "G29", Color: "#44bd32"},
				{Icon: "fire-alt", Command: "M140 S50; M104 S185", Color: "#e1b12c", Exit: true},
				{Icon: "snowflake", Command: "M140 S0; M104 S0", Color: "#0097e6", Exit: true},
				{Icon: "redo-alt", Command: "[!RELOAD]", Color: "#7f8fa6", Confirm: true},
				{Icon: "skull", Command: "[!KILL]", Color: "#e84118", Confirm: true},
			},
			FileSorting: FileSorting{
				Attribute: SortByName,
				Order:     OrderAsc,
			},
			PollingInterval:     2000,
			Touchscreen:         true,
			ScreenSleepCommand:  "xset dpms force standby",
			ScreenWakeupCommand: "xset s off && xset -dpms && xset s noblank",
		},
	}
}
