// Command `dashconf` is the operator CLI for the dashboard configuration.
//
// It talks to dashconfd over its Unix socket and sees the document the same
// way the dashboard does.
//
// Usage:
//
//	dashconf show                 - Print the stored document as JSON
//	dashconf status               - Show daemon state and the dashboard's view of the document
//	dashconf check [file]         - Validate a document file, or the stored document
//	dashconf save <file>          - Replace the stored document (shows a diff, asks to confirm)
//	dashconf set-url <host> [port] - Point the dashboard at another OctoPrint
//	dashconf notify-update        - Tell connected dashboards an update is available
//	dashconf watch                - Print configuration events as they happen
//	dashconf doctor               - Check that the OctoPrint host resolves
//	dashconf version              - Show version information
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/octodash/dashconf/internal/buildinfo"
	"github.com/octodash/dashconf/internal/config"
	"github.com/octodash/dashconf/internal/hostcheck"
	"github.com/octodash/dashconf/internal/log"
	"github.com/octodash/dashconf/pkg/api"
	"github.com/octodash/dashconf/pkg/client"
	"github.com/octodash/dashconf/pkg/configsvc"
	"github.com/octodash/dashconf/pkg/dashconfig"
)

func main() {
	cfg, err := config.New().Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	if err := log.SetLevel(cfg.Log.Level); err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	cli := client.New(cfg.Socket.Path)

	root := &cobra.Command{
		Use:   "dashconf",
		Short: "Dashboard configuration CLI",
		Long: `dashconf inspects and edits the touchscreen dashboard configuration.
The document is owned by the dashconfd daemon; every change goes through it
so running dashboards pick it up immediately.`,
		SilenceUsage: true,
	}

	// ---- version command ----
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("version: %s\n", buildinfo.Version)
			fmt.Printf("commit: %s\n", buildinfo.Commit)
		},
	}

	// ---- show command ----
	showCmd := &cobra.Command{
		Use:     "show",
		Short:   "Print the stored document",
		Example: "dashconf show > backup.json",
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			doc, err := readDocument(ctx, cli)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(doc)
		},
	}

	// ---- status command ----
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon state and the dashboard's view of the document",
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			st, err := cli.Status(ctx)
			if err != nil {
				return err
			}
			svc, err := startService(ctx, cli)
			if err != nil {
				return err
			}
			defer svc.Close()

			printStatus(st, svc)
			return nil
		},
	}

	// ---- check command ----
	checkCmd := &cobra.Command{
		Use:   "check [file]",
		Short: "Validate a document",
		Long: `Validate a document file with the daemon's rules. Without a file the
stored document is checked.`,
		Example: "dashconf check ./config.json",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			var doc dashconfig.Config
			var err error
			if len(args) == 1 {
				doc, err = readFile(args[0])
			} else {
				doc, err = readDocument(ctx, cli)
			}
			if err != nil {
				return err
			}

			ev, err := cli.CheckConfig(ctx, doc)
			if err != nil {
				return err
			}
			if ev.Kind == api.KindConfigPass {
				color.New(color.FgGreen, color.Bold).Println("✓ Configuration is valid")
				return nil
			}
			printProblems(ev.Errors)
			return errors.New("configuration is invalid")
		},
	}

	// ---- save command ----
	var assumeYes bool
	saveCmd := &cobra.Command{
		Use:   "save <file>",
		Short: "Replace the stored document",
		Long: `Replace the stored document with the contents of a file. The changes
are shown and must be confirmed unless --yes is given. Running dashboards
receive the new document immediately.`,
		Example: "dashconf save ./config.json",
		Args:    cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			doc, err := readFile(args[0])
			if err != nil {
				return err
			}
			return saveDocument(cli, dashconfig.FromInput(doc), assumeYes)
		},
	}
	saveCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "do not ask for confirmation")

	// ---- set-url command ----
	setURLCmd := &cobra.Command{
		Use:   "set-url <host> [port]",
		Short: "Point the dashboard at another OctoPrint server",
		Example: `dashconf set-url octopi.local
dashconf set-url 192.168.1.20 5000`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(_ *cobra.Command, args []string) error {
			split := dashconfig.URLSplit{Host: args[0]}
			if len(args) == 2 {
				port, err := strconv.Atoi(args[1])
				if err != nil || port < 1 || port > 65535 {
					return fmt.Errorf("invalid port %q", args[1])
				}
				split.Port = port
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			doc, err := readDocument(ctx, cli)
			if err != nil {
				return err
			}
			doc.Octoprint.URLSplit = &split
			return saveDocument(cli, dashconfig.FromInput(doc), assumeYes)
		},
	}
	setURLCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "do not ask for confirmation")

	// ---- notify-update command ----
	notifyCmd := &cobra.Command{
		Use:   "notify-update",
		Short: "Tell connected dashboards that an update is available",
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := cli.NotifyUpdate(ctx); err != nil {
				return err
			}
			color.New(color.FgGreen, color.Bold).Println("✓ Dashboards notified")
			return nil
		},
	}

	// ---- watch command ----
	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Print configuration events as they happen",
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			events, err := cli.Subscribe(ctx)
			if err != nil {
				return err
			}
			color.New(color.Faint).Println("Waiting for events, press Ctrl-C to stop.")
			for ev := range events {
				printEvent(ev)
			}
			return nil
		},
	}

	// ---- doctor command ----
	doctorCmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check that the OctoPrint host resolves",
		Long: `Resolve the host of the configured OctoPrint URL. A dashboard that
cannot reach OctoPrint shows the same screen whether the server is down or
its name does not resolve; this tells the two apart.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			doc, err := readDocument(ctx, cli)
			if err != nil {
				return err
			}

			res, err := hostcheck.New().CheckDocument(ctx, doc)
			if err != nil {
				color.New(color.FgHiRed, color.Bold).Print("✗ ")
				color.New(color.FgYellow).Printf("%s: %v\n", doc.Octoprint.URL, err)
				return errors.New("octoprint host does not resolve")
			}
			addrs := make([]string, len(res.Addrs))
			for i, a := range res.Addrs {
				addrs[i] = a.String()
			}
			color.New(color.FgGreen, color.Bold).Print("✓ ")
			color.New(color.FgHiWhite).Printf("%s resolves to ", res.Host)
			color.New(color.FgHiGreen).Println(strings.Join(addrs, ", "))
			return nil
		},
	}

	root.AddCommand(showCmd, statusCmd, checkCmd, saveCmd, setURLCmd, notifyCmd, watchCmd, doctorCmd, versionCmd)
	if err := root.Execute(); err != nil {
		log.Sync()
		os.Exit(1)
	}
}

// startService loads the document the way the dashboard does.
func startService(ctx context.Context, cli *client.Client) (*configsvc.Service, error) {
	svc := configsvc.New(cli, configsvc.WithNotifier(configsvc.NotifierFunc(func(message, hint string) {
		color.New(color.FgHiRed, color.Bold).Print("ERROR: ")
		color.New(color.FgYellow).Println(message)
		color.New(color.Faint).Println(hint)
	})))
	if err := svc.Start(ctx); err != nil {
		svc.Close()
		return nil, err
	}
	if err := svc.WaitInitialized(ctx); err != nil {
		svc.Close()
		return nil, fmt.Errorf("waiting for validation: %w", err)
	}
	return svc, nil
}

// saveDocument shows what would change, asks for confirmation, and saves
// through the facade so the result is re-checked.
func saveDocument(cli *client.Client, doc dashconfig.Config, assumeYes bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	svc, err := startService(ctx, cli)
	if err != nil {
		return err
	}
	defer svc.Close()

	if svc.IsEqualToCurrentConfig(doc) {
		color.Yellow("No changes.")
		return nil
	}
	current, err := svc.CurrentConfig()
	if err != nil {
		return err
	}

	color.New(color.Bold).Println("CHANGES (-stored +new):")
	fmt.Println(dashconfig.Diff(current, doc))

	if !svc.ValidateGiven(doc) {
		color.New(color.FgHiRed, color.Bold).Print("WARNING: ")
		color.New(color.FgYellow).Println("the new document does not pass validation; the dashboard will show its setup screen.")
	}

	if !assumeYes {
		color.New(color.FgHiWhite).Print("Save these changes? (y/yes/n/no): ")
		var response string
		if _, err := fmt.Scanln(&response); err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}
		response = strings.ToLower(response)
		if response != "y" && response != "yes" {
			return fmt.Errorf("operation aborted")
		}
	}

	if err := svc.SaveConfig(ctx, doc); err != nil {
		return err
	}

	color.New(color.FgGreen, color.Bold).Println("✓ Configuration saved")
	if !svc.IsValid() {
		printProblems(svc.Errors())
	}
	return nil
}

func readDocument(ctx context.Context, cli *client.Client) (dashconfig.Config, error) {
	ev, err := cli.ReadConfig(ctx)
	if err != nil {
		return dashconfig.Config{}, err
	}
	if ev.Kind == api.KindConfigError || ev.Config == nil {
		return dashconfig.Config{}, fmt.Errorf("daemon could not read the document: %s", ev.Error)
	}
	return *ev.Config, nil
}

func readFile(path string) (dashconfig.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return dashconfig.Config{}, err
	}
	var doc dashconfig.Config
	if err := json.Unmarshal(data, &doc); err != nil {
		return dashconfig.Config{}, fmt.Errorf("decoding %s: %w", path, err)
	}
	return doc, nil
}
