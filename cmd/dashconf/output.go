package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"github.com/octodash/dashconf/pkg/api"
	"github.com/octodash/dashconf/pkg/configsvc"
)

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}

func newTable(header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader(header)
	colors := make([]tablewriter.Colors, len(header))
	for i := range colors {
		colors[i] = tablewriter.Colors{tablewriter.Bold, tablewriter.FgHiCyanColor}
	}
	table.SetHeaderColor(colors...)
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	return table
}

func printStatus(st api.StatusResponse, svc *configsvc.Service) {
	color.New(color.Bold).Println("DAEMON:")
	daemon := newTable("Setting", "Value")
	daemon.SetColumnColor(
		tablewriter.Colors{tablewriter.FgHiWhiteColor},
		tablewriter.Colors{tablewriter.FgGreenColor},
	)
	daemon.AppendBulk([][]string{
		{"Version", fmt.Sprintf("%s (%s)", st.Version, st.Commit)},
		{"Uptime", st.Uptime.Round(time.Second).String()},
		{"Document", st.Document},
		{"Dashboards connected", strconv.Itoa(st.Subscribers)},
		{"Update available", yesNo(st.UpdateAvailable)},
	})
	daemon.Render()
	fmt.Println()

	color.New(color.Bold).Println("DASHBOARD VIEW:")
	view := newTable("Setting", "Value")
	view.SetColumnColor(
		tablewriter.Colors{tablewriter.FgHiWhiteColor},
		tablewriter.Colors{tablewriter.FgYellowColor},
	)
	view.AppendBulk([][]string{
		{"Valid", yesNo(svc.IsValid())},
		{"OctoPrint API", svc.APIURL("")},
		{"Printer", svc.PrinterName()},
		{"Polling interval", svc.APIPollingInterval().String()},
		{"XY / Z speed", fmt.Sprintf("%d / %d mm/s", svc.XYSpeed(), svc.ZSpeed())},
		{"Preheat hotend / bed / fan", fmt.Sprintf("%d°C / %d°C / %d%%",
			svc.DefaultHotendTemperature(), svc.DefaultHeatbedTemperature(), svc.DefaultFanSpeed())},
		{"Filament", fmt.Sprintf("%.2f mm, %.2f g/cm³", svc.FilamentThickness(), svc.FilamentDensity())},
		{"File sorting", svc.DefaultSortingAttribute() + " " + svc.DefaultSortingOrder()},
		{"Custom actions", strconv.Itoa(len(svc.CustomActions()))},
		{"Touchscreen", yesNo(svc.IsTouchscreen())},
		{"Screen sleep", yesNo(svc.AutomaticScreenSleep())},
		{"TP-Link smart plug", smartPlug(svc)},
		{"Filament manager", yesNo(svc.IsFilamentManagerEnabled())},
		{"Preheat plugin", yesNo(svc.IsPreheatPluginEnabled())},
	})
	view.Render()

	if !svc.IsValid() {
		fmt.Println()
		printProblems(svc.Errors())
	}
}

func smartPlug(svc *configsvc.Service) string {
	if !svc.UseTPLinkSmartPlug() {
		return "No"
	}
	return "Yes (" + svc.SmartPlugIP() + ")"
}

func printProblems(problems []string) {
	color.New(color.FgHiRed, color.Bold).Printf("✗ Configuration is invalid (%d problems):\n", len(problems))
	for _, p := range problems {
		color.New(color.FgYellow).Printf("  - %s\n", p)
	}
}

func printEvent(ev api.Event) {
	ts := color.New(color.Faint).Sprint(ev.Time.Local().Format(time.TimeOnly))
	switch ev.Kind {
	case api.KindConfigRead, api.KindConfigSaved:
		name := ""
		if ev.Config != nil {
			name = ev.Config.Printer.Name
		}
		fmt.Printf("%s %s printer=%q\n", ts, color.GreenString(string(ev.Kind)), name)
	case api.KindConfigError:
		fmt.Printf("%s %s %s\n", ts, color.RedString(string(ev.Kind)), ev.Error)
	case api.KindConfigFail:
		fmt.Printf("%s %s %d problems\n", ts, color.YellowString(string(ev.Kind)), len(ev.Errors))
	default:
		fmt.Printf("%s %s\n", ts, color.CyanString(string(ev.Kind)))
	}
}
