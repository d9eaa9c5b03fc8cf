package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"wipecert/internal/device"
	"wipecert/internal/security"
	"wipecert/internal/system"
)

func newDiagnoseCmd() *cobra.Command {
	var (
		level  string
		test   string
		output string
		save   bool
	)
	cmd := &cobra.Command{
		Use:   "diagnose",
		Short: "Check that this host can wipe devices and issue certificates",
		RunE: func(cmd *cobra.Command, args []string) error {
			runner := system.NewSystemDiagnosticsRunner(cfg, logger, system.DiagnosticLevel(level), system.DiagnosticTest(test))
			diagnostics, err := runner.RunDiagnostics(cmd.Context())
			if err != nil {
				return err
			}

			for _, r := range diagnostics.Results {
				mark := "✓"
				switch r.Status {
				case system.StatusWarn:
					mark = "⚠"
				case system.StatusFail:
					mark = "✗"
				}
				fmt.Printf("%s %-12s %s\n", mark, r.Test, r.Message)
			}
			fmt.Printf("\nOverall: %s (%d passed, %d warnings, %d failed)\n", diagnostics.Overall,
				diagnostics.Summary.Passed, diagnostics.Summary.Warnings, diagnostics.Summary.Failed)

			if save || output != "" {
				path, err := system.SaveDiagnostics(diagnostics, output, cfg.Reporting.LocalPath)
				if err != nil {
					return err
				}
				fmt.Printf("Diagnostics saved to %s\n", path)
			}

			switch diagnostics.Overall {
			case "CRITICAL":
				return &exitError{code: EXIT_ERROR, msg: "diagnostics failed"}
			case "WARNING":
				return &exitError{code: EXIT_WARNING}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&level, "level", string(system.LevelQuick), "Diagnostics level: quick, full or deep")
	cmd.Flags().StringVar(&test, "test", "", "Run a single test: permissions, devices, signing, chain, reports or engine")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the diagnostics as JSON to this file")
	cmd.Flags().BoolVar(&save, "save", false, "Write the diagnostics into the report directory")
	return cmd
}

func newDevicesCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List block devices and whether they may be wiped",
		RunE: func(cmd *cobra.Command, args []string) error {
			devs, err := device.List()
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(devs)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PATH\tSIZE\tINTERFACE\tMEDIA\tMODEL\tSERIAL\tSTATUS")
			for _, d := range devs {
				status := "ok"
				switch err := security.CheckTarget(cfg, d.Identity); {
				case err != nil:
					status = "protected"
				case d.ReadOnly:
					status = "read-only"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n", d.Path, formatSize(d.Capacity),
					d.Interface, d.MediaType, orDash(d.Model), orDash(d.Serial), status)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}
