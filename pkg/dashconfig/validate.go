package dashconfig

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"go.uber.org/multierr"
)

// ErrInvalidConfig wraps every validation failure returned by Validate.
var ErrInvalidConfig = errors.New("invalid configuration")

// Validate checks c and returns every violation found, combined with
// multierr. Use Problems to get them back as a list of messages.
func (c Config) Validate() error {
	v := &validator{}

	if c.Version < 1 || c.Version > CurrentVersion {
		v.addf("version %d is not supported (expected 1..%d)", c.Version, CurrentVersion)
	}

	c.validateOctoprint(v)
	c.validatePrinter(v)
	c.validateFilament(v)
	c.validatePlugins(v)
	c.validateOctoDash(v)

	return v.err
}

// Problems flattens an error returned by Validate into its messages, in the
// order they were found. A nil error yields nil.
func Problems(err error) []string {
	if err == nil {
		return nil
	}
	errs := multierr.Errors(err)
	out := make([]string, 0, len(errs))
	for _, e := range errs {
		var fe *fieldError
		if errors.As(e, &fe) {
			out = append(out, fe.msg)
			continue
		}
		out = append(out, e.Error())
	}
	return out
}

// fieldError is one violation. It matches ErrInvalidConfig under errors.Is.
type fieldError struct{ msg string }

func (e *fieldError) Error() string        { return fmt.Sprintf("%v: %s", ErrInvalidConfig, e.msg) }
func (e *fieldError) Is(target error) bool { return target == ErrInvalidConfig }

type validator struct{ err error }

func (v *validator) addf(format string, a ...any) {
	v.err = multierr.Append(v.err, &fieldError{msg: fmt.Sprintf(format, a...)})
}

func (v *validator) nonEmpty(field, value string) {
	if strings.TrimSpace(value) == "" {
		v.addf("%s must not be empty", field)
	}
}

func (v *validator) positive(field string, value int) {
	if value <= 0 {
		v.addf("%s must be greater than 0, got %d", field, value)
	}
}

func (v *validator) between(field string, value, lo, hi int) {
	if value < lo || value > hi {
		v.addf("%s must be between %d and %d, got %d", field, lo, hi, value)
	}
}

func (c Config) validateOctoprint(v *validator) {
	u, err := url.Parse(c.Octoprint.URL)
	switch {
	case strings.TrimSpace(c.Octoprint.URL) == "":
		v.addf("octoprint.url must not be empty")
	case err != nil:
		v.addf("octoprint.url is not a valid URL: %v", err)
	case u.Scheme != "http" && u.Scheme != "https":
		v.addf("octoprint.url must use http or https, got %q", u.Scheme)
	case u.Hostname() == "":
		v.addf("octoprint.url must include a host")
	case !strings.HasSuffix(c.Octoprint.URL, "/"):
		v.addf("octoprint.url must end with a slash")
	}
	v.nonEmpty("octoprint.accessToken", c.Octoprint.AccessToken)
}

func (c Config) validatePrinter(v *validator) {
	p := c.Printer
	v.nonEmpty("printer.name", p.Name)
	v.positive("printer.xySpeed", p.XYSpeed)
	v.positive("printer.zSpeed", p.ZSpeed)
	v.between("printer.defaultTemperatureFanSpeed.hotend", p.DefaultTemperatureFanSpeed.Hotend, 0, 400)
	v.between("printer.defaultTemperatureFanSpeed.heatbed", p.DefaultTemperatureFanSpeed.Heatbed, 0, 200)
	v.between("printer.defaultTemperatureFanSpeed.fan", p.DefaultTemperatureFanSpeed.Fan, 0, 100)
}

func (c Config) validateFilament(v *validator) {
	f := c.Filament
	if f.Thickness <= 0 {
		v.addf("filament.thickness must be greater than 0")
	}
	if f.Density <= 0 {
		v.addf("filament.density must be greater than 0")
	}
	if f.FeedLength < 0 {
		v.addf("filament.feedLength must not be negative, got %d", f.FeedLength)
	}
	v.positive("filament.feedSpeed", f.FeedSpeed)
	v.positive("filament.feedSpeedSlow", f.FeedSpeedSlow)
	if f.PurgeDistance < 0 {
		v.addf("filament.purgeDistance must not be negative, got %d", f.PurgeDistance)
	}
}

func (c Config) validatePlugins(v *validator) {
	enc := c.Plugins.Enclosure
	sensors := []struct {
		field string
		id    int
	}{
		{"plugins.enclosure.ambientSensorID", enc.AmbientSensorID},
		{"plugins.enclosure.filament1SensorID", enc.Filament1SensorID},
		{"plugins.enclosure.filament2SensorID", enc.Filament2SensorID},
	}
	for _, s := range sensors {
		if s.id < 0 {
			v.addf("%s must not be negative, got %d", s.field, s.id)
		}
	}

	plug := c.Plugins.TPLinkSmartPlug
	if plug.Enabled && net.ParseIP(plug.SmartPlugIP) == nil {
		v.addf("plugins.tpLinkSmartPlug.smartPlugIP must be an IP address, got %q", plug.SmartPlugIP)
	}
}

func (c Config) validateOctoDash(v *validator) {
	d := c.OctoDash
	if d.PollingInterval < 500 {
		v.addf("octodash.pollingInterval must be at least 500ms, got %d", d.PollingInterval)
	}

	switch d.FileSorting.Attribute {
	case SortByName, SortByDate, SortBySize:
	default:
		v.addf("octodash.fileSorting.attribute must be one of name, date, size; got %q", d.FileSorting.Attribute)
	}
	switch d.FileSorting.Order {
	case OrderAsc, OrderDsc:
	default:
		v.addf("octodash.fileSorting.order must be asc or dsc, got %q", d.FileSorting.Order)
	}

	for i, a := range d.CustomActions {
		v.nonEmpty(fmt.Sprintf("octodash.customActions[%d].icon", i), a.Icon)
		v.nonEmpty(fmt.Sprintf("octodash.customActions[%d].command", i), a.Command)
		v.nonEmpty(fmt.Sprintf("octodash.customActions[%d].color", i), a.Color)
	}
}
