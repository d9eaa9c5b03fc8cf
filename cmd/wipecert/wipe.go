package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"wipecert/internal/certificate"
	"wipecert/internal/device"
	"wipecert/internal/reporting"
	"wipecert/internal/security"
	"wipecert/internal/wipe"
)

type wipeFlags struct {
	level       string
	passes      string
	verify      string
	seed        uint64
	retry       int
	operator    string
	org         string
	site        string
	simulate    string
	blockSize   int
	maxDuration string
	dryRun      bool
	force       bool
	interactive bool
}

func newWipeCmd() *cobra.Command {
	f := &wipeFlags{}
	cmd := &cobra.Command{
		Use:   "wipe [device...]",
		Short: "Overwrite devices and certify the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				if !f.interactive {
					return fmt.Errorf("no devices given, pass device paths or --interactive")
				}
				devs, err := device.List()
				if err != nil {
					return err
				}
				if args, err = pickDevices(os.Stdin, os.Stdout, devs); err != nil {
					return err
				}
			}
			return runWipe(cmd, f, args)
		},
	}
	cmd.Flags().StringVarP(&f.level, "level", "l", "", "Sanitization level (default wipe.default_level)")
	cmd.Flags().StringVarP(&f.passes, "passes", "p", "", "Explicit pass list, e.g. zero,one,random:7")
	cmd.Flags().StringVar(&f.verify, "verify", "", "Verification: none, full or sampled:<fraction>")
	cmd.Flags().Uint64Var(&f.seed, "seed", 0, "Seed for random passes (default: random, recorded in the certificate)")
	cmd.Flags().IntVar(&f.retry, "retry", 0, "Retry budget per block operation")
	cmd.Flags().StringVar(&f.operator, "operator", "", "Operator recorded in the certificates (default $USER)")
	cmd.Flags().StringVar(&f.org, "organization", "", "Organization recorded in the certificates (default chain.organization)")
	cmd.Flags().StringVar(&f.site, "site", "", "Site recorded in the certificates (default chain.site)")
	cmd.Flags().StringVar(&f.simulate, "simulate", "", "Wipe simulated devices of this size instead, e.g. 64MiB")
	cmd.Flags().IntVar(&f.blockSize, "block-size", 0, "Block size override in bytes")
	cmd.Flags().StringVar(&f.maxDuration, "max-duration", "", "Abort sessions running longer than this (e.g. 2h)")
	cmd.Flags().BoolVarP(&f.dryRun, "dry-run", "n", false, "Show the plan without writing")
	cmd.Flags().BoolVarP(&f.force, "force", "f", false, "Skip the confirmation prompt")
	cmd.Flags().BoolVarP(&f.interactive, "interactive", "i", false, "Choose devices from a list")
	return cmd
}

func buildPolicy(cmd *cobra.Command, f *wipeFlags) (wipe.Policy, error) {
	level := f.level
	if level == "" {
		level = cfg.Wipe.DefaultLevel
	}
	seed := f.seed
	if !cmd.Flags().Changed("seed") {
		var b [8]byte
		if _, err := rand.Read(b[:]); err != nil {
			return wipe.Policy{}, err
		}
		seed = binary.BigEndian.Uint64(b[:])
	}

	policy, err := wipe.PolicyFromConfig(cfg, level, seed)
	if err != nil {
		return wipe.Policy{}, err
	}
	if f.passes != "" {
		if policy.Passes, err = wipe.ParsePasses(f.passes); err != nil {
			return wipe.Policy{}, err
		}
		policy.Level = "custom"
	}
	if f.verify != "" {
		if policy.Verification, err = wipe.ParseVerification(f.verify); err != nil {
			return wipe.Policy{}, err
		}
	}
	if cmd.Flags().Changed("retry") {
		policy.RetryBudget = f.retry
	}
	return policy, nil
}

func openDevices(f *wipeFlags, args []string) ([]device.Device, func(), error) {
	var devs []device.Device
	closeAll := func() {
		for _, d := range devs {
			if c, ok := d.(interface{ Close() error }); ok {
				c.Close()
			}
		}
	}

	bs := f.blockSize
	if bs == 0 {
		bs = cfg.Wipe.BlockSize
	}
	if f.simulate != "" {
		size, err := parseSize(f.simulate)
		if err != nil {
			return nil, closeAll, err
		}
		if bs == 0 {
			bs = 4096
		}
		for _, name := range args {
			d, err := device.Simulated(name, size, bs, int64(cfg.Wipe.SimulateMemoryMB)<<20)
			if err != nil {
				return nil, closeAll, err
			}
			devs = append(devs, d)
		}
		return devs, closeAll, nil
	}

	for _, path := range args {
		d, err := device.OpenFile(path, device.OpenOptions{BlockSize: bs, Sync: cfg.Wipe.SyncWrites})
		if err != nil {
			closeAll()
			return nil, func() {}, err
		}
		devs = append(devs, d)
	}
	return devs, closeAll, nil
}

func runWipe(cmd *cobra.Command, f *wipeFlags, args []string) error {
	startTime := time.Now()

	if f.simulate == "" && !f.dryRun {
		if err := security.SecurityChecks(cfg); err != nil {
			return err
		}
	}
	if f.maxDuration != "" {
		if _, err := time.ParseDuration(f.maxDuration); err != nil {
			return fmt.Errorf("invalid max-duration: %w", err)
		}
		cfg.Wipe.MaxDuration = f.maxDuration
	}

	policy, err := buildPolicy(cmd, f)
	if err != nil {
		return err
	}

	devs, closeAll, err := openDevices(f, args)
	if err != nil {
		return err
	}
	defer closeAll()

	var targets []device.Device
	for _, d := range devs {
		if err := security.CheckTarget(cfg, d.Identity()); err != nil {
			logger.Log("WARN", "device skipped", "device", d.Identity().Path, "reason", err)
			fmt.Printf("⚠ skipping %s: %v\n", d.Identity().Path, err)
			continue
		}
		if err := policy.Validate(d); err != nil {
			return fmt.Errorf("%s: %w", d.Identity().Path, err)
		}
		targets = append(targets, d)
	}
	if len(targets) == 0 {
		logger.Log("WARN", "no devices to process")
		return &exitError{code: EXIT_WARNING, msg: "no devices to process"}
	}

	printPlan(policy, targets)
	if f.dryRun {
		logger.Log("INFO", "dry run, nothing written", "devices", len(targets))
		return nil
	}
	if !f.force && cfg.Security.RequireConfirmation && !confirm(len(targets)) {
		logger.Log("INFO", "operation cancelled by user")
		return nil
	}

	chain, err := openChain(cmd.Context(), true)
	if err != nil {
		return err
	}
	defer chain.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case sig := <-sigChan:
			logger.Log("WARN", "signal received, aborting sessions", "signal", sig.String())
			fmt.Printf("\n[INFO] received %s, aborting...\n", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	logger.Log("INFO", "starting wipe", "version", Version, "devices", len(targets),
		"level", policy.Level, "passes", len(policy.Passes), "verification", policy.Verification.String())

	printer := newProgressPrinter(os.Stdout, len(targets) > 1)
	jobs := make([]wipe.Job, len(targets))
	for i, d := range targets {
		path := d.Identity().Path
		jobs[i] = wipe.Job{
			Device:     d,
			Policy:     policy,
			OnProgress: func(ev wipe.ProgressEvent) { printer.print(path, ev) },
		}
	}

	engine := wipe.NewEngine(wipe.OptionsFromConfig(cfg, logger))
	results, err := engine.WipeAll(ctx, jobs, cfg.Wipe.MaxConcurrent)
	if err != nil {
		return err
	}

	operator := f.operator
	if operator == "" {
		operator = os.Getenv("USER")
	}

	// Certificates are issued for aborted and failed sessions too, so the
	// chain is appended with a fresh context.
	certs := make(map[string]*certificate.Certificate)
	hasWarnings, hasErrors := false, false
	fmt.Println("\nWipe results:")
	fmt.Println("==================")
	for _, res := range results {
		s := res.Session()
		mark := "✓"
		switch s.State {
		case wipe.StateAborted:
			mark, hasWarnings = "⚠", true
		case wipe.StateFailed:
			mark, hasErrors = "✗", true
		}
		fmt.Printf("%s %s - %s (%s, %.1f MB/s)\n", mark, s.Device.Path, strings.ToUpper(string(s.State)),
			formatSize(s.BytesProcessed), res.SpeedMBps())
		if s.Failure != nil {
			fmt.Printf("  %s\n", s.Failure.Message)
		}

		cert, err := chain.Append(context.Background(), s, certificate.Meta{Operator: operator, Organization: f.org, Site: f.site})
		if err != nil {
			hasErrors = true
			logger.Log("ERROR", "certificate not issued", "session", s.ID, "error", err)
			fmt.Printf("  certificate: ERROR %v\n", err)
			continue
		}
		certs[s.ID] = cert
		fmt.Printf("  certificate: %s\n", cert.ID)
		if cert.VerificationReference != "" {
			fmt.Printf("  verify at:   %s\n", cert.VerificationReference)
		}
	}

	exitCode := EXIT_SUCCESS
	switch {
	case hasErrors:
		exitCode = EXIT_ERROR
	case hasWarnings:
		exitCode = EXIT_WARNING
	}

	report := reporting.GenerateReport(results, certs, reporting.RunMeta{
		Level:     policy.Level,
		Operator:  operator,
		StartTime: startTime,
		EndTime:   time.Now(),
		ExitCode:  exitCode,
	})
	if path, err := reporting.SaveReport(report, cfg.Reporting); err != nil {
		logger.Log("WARN", "error saving report", "error", err)
	} else if path != "" {
		logger.Log("INFO", "report saved", "run_id", report.RunID, "file", path)
	}

	switch exitCode {
	case EXIT_ERROR:
		return &exitError{code: EXIT_ERROR, msg: "some sessions failed"}
	case EXIT_WARNING:
		return &exitError{code: EXIT_WARNING, msg: "some sessions were aborted"}
	}
	return nil
}

func printPlan(policy wipe.Policy, targets []device.Device) {
	passes := make([]string, len(policy.Passes))
	for i, p := range policy.Passes {
		passes[i] = p.String()
	}
	fmt.Printf("Level %s: %s, verification %s, retry budget %d\n",
		policy.Level, strings.Join(passes, ", "), policy.Verification, policy.RetryBudget)
	for _, d := range targets {
		id := d.Identity()
		fmt.Printf("  %s (%s, %s, %d byte blocks, serial %s)\n",
			id.Path, id.Interface, formatSize(d.Capacity()), d.BlockSize(), orDash(id.Serial))
	}
}

func confirm(n int) bool {
	fmt.Printf("WARNING: all data on %d device(s) will be destroyed.\n", n)
	fmt.Print("Continue? (y/N): ")
	line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
	return strings.ToLower(strings.TrimSpace(line)) == "y"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
