package configsvc

import (
	"time"

	"github.com/octodash/dashconf/pkg/dashconfig"
)

// The getters below return the zero value until a document is loaded.

// IsInitialized reports whether the first validation round trip completed.
func (s *Service) IsInitialized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.initialized
}

// IsValid reports whether the daemon accepted the cached document.
func (s *Service) IsValid() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.valid
}

// IsUpdate reports whether a newer dashboard release is available.
func (s *Service) IsUpdate() bool { return s.update.Load() }

// APIPollingInterval is how often the dashboard polls OctoPrint.
func (s *Service) APIPollingInterval() time.Duration {
	return get(s, func(c *dashconfig.Config) time.Duration {
		return time.Duration(c.OctoDash.PollingInterval) * time.Millisecond
	})
}

func (s *Service) PrinterName() string {
	return get(s, func(c *dashconfig.Config) string { return c.Printer.Name })
}

// CustomActions returns a copy of the control-screen buttons.
func (s *Service) CustomActions() []dashconfig.CustomAction {
	return get(s, func(c *dashconfig.Config) []dashconfig.CustomAction {
		return append([]dashconfig.CustomAction(nil), c.OctoDash.CustomActions...)
	})
}

func (s *Service) XYSpeed() int {
	return get(s, func(c *dashconfig.Config) int { return c.Printer.XYSpeed })
}

func (s *Service) ZSpeed() int {
	return get(s, func(c *dashconfig.Config) int { return c.Printer.ZSpeed })
}

func (s *Service) IsTouchscreen() bool {
	return get(s, func(c *dashconfig.Config) bool { return c.OctoDash.Touchscreen })
}

// AmbientTemperatureSensorName is the enclosure plugin's ID for the ambient
// sensor.
func (s *Service) AmbientTemperatureSensorName() int {
	return get(s, func(c *dashconfig.Config) int { return c.Plugins.Enclosure.AmbientSensorID })
}

func (s *Service) AutomaticScreenSleep() bool {
	return get(s, func(c *dashconfig.Config) bool { return c.OctoDash.TurnScreenOffWhileSleeping })
}

func (s *Service) AutomaticPrinterPowerOn() bool {
	return get(s, func(c *dashconfig.Config) bool { return c.OctoDash.TurnOnPrinterWhenExitingSleep })
}

func (s *Service) UseTPLinkSmartPlug() bool {
	return get(s, func(c *dashconfig.Config) bool { return c.Plugins.TPLinkSmartPlug.Enabled })
}

func (s *Service) SmartPlugIP() string {
	return get(s, func(c *dashconfig.Config) string { return c.Plugins.TPLinkSmartPlug.SmartPlugIP })
}

func (s *Service) FilamentThickness() float64 {
	return get(s, func(c *dashconfig.Config) float64 { return c.Filament.Thickness })
}

func (s *Service) FilamentDensity() float64 {
	return get(s, func(c *dashconfig.Config) float64 { return c.Filament.Density })
}

// DefaultSortingAttribute is one of dashconfig.SortByName, SortByDate or
// SortBySize.
func (s *Service) DefaultSortingAttribute() string {
	return get(s, func(c *dashconfig.Config) string { return c.OctoDash.FileSorting.Attribute })
}

// DefaultSortingOrder is dashconfig.OrderAsc or dashconfig.OrderDsc.
func (s *Service) DefaultSortingOrder() string {
	return get(s, func(c *dashconfig.Config) string { return c.OctoDash.FileSorting.Order })
}

func (s *Service) DefaultHotendTemperature() int {
	return get(s, func(c *dashconfig.Config) int { return c.Printer.DefaultTemperatureFanSpeed.Hotend })
}

func (s *Service) DefaultHeatbedTemperature() int {
	return get(s, func(c *dashconfig.Config) int { return c.Printer.DefaultTemperatureFanSpeed.Heatbed })
}

// DefaultFanSpeed is in percent.
func (s *Service) DefaultFanSpeed() int {
	return get(s, func(c *dashconfig.Config) int { return c.Printer.DefaultTemperatureFanSpeed.Fan })
}

func (s *Service) IsPreheatPluginEnabled() bool {
	return get(s, func(c *dashconfig.Config) bool { return c.Plugins.PreheatButton.Enabled })
}

func (s *Service) IsFilamentManagerEnabled() bool {
	return get(s, func(c *dashconfig.Config) bool { return c.Plugins.FilamentManager.Enabled })
}

func (s *Service) FeedLength() int {
	return get(s, func(c *dashconfig.Config) int { return c.Filament.FeedLength })
}

func (s *Service) FeedSpeed() int {
	return get(s, func(c *dashconfig.Config) int { return c.Filament.FeedSpeed })
}

func (s *Service) FeedSpeedSlow() int {
	return get(s, func(c *dashconfig.Config) int { return c.Filament.FeedSpeedSlow })
}

func (s *Service) PurgeDistance() int {
	return get(s, func(c *dashconfig.Config) int { return c.Filament.PurgeDistance })
}

// UseM600 reports whether filament changes use M600 instead of the
// dashboard's own sequence.
func (s *Service) UseM600() bool {
	return get(s, func(c *dashconfig.Config) bool { return c.Filament.UseM600 })
}

func (s *Service) ShowThumbnailByDefault() bool {
	return get(s, func(c *dashconfig.Config) bool { return c.OctoDash.PreferPreviewWhilePrinting })
}

// AccessKey is the OctoPrint API key.
func (s *Service) AccessKey() string {
	return get(s, func(c *dashconfig.Config) string { return c.Octoprint.AccessToken })
}

func (s *Service) DisableExtruderGCode() string {
	return get(s, func(c *dashconfig.Config) string { return c.Printer.DisableExtruderGCode })
}

func (s *Service) ZBabystepGCode() string {
	return get(s, func(c *dashconfig.Config) string { return c.Printer.ZBabystepGCode })
}

func (s *Service) PreviewProgressCircle() bool {
	return get(s, func(c *dashconfig.Config) bool { return c.OctoDash.PreviewProgressCircle })
}

func (s *Service) ScreenSleepCommand() string {
	return get(s, func(c *dashconfig.Config) string { return c.OctoDash.ScreenSleepCommand })
}

func (s *Service) ScreenWakeupCommand() string {
	return get(s, func(c *dashconfig.Config) string { return c.OctoDash.ScreenWakeupCommand })
}
