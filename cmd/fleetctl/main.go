// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/forkbombeu/fleetctl/internal/telemetry"
	"github.com/forkbombeu/fleetctl/pkg/fleet"
)

func main() {
	shutdownTracing, err := telemetry.SetupTracing(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize tracing: %v\n", err)
	}
	if shutdownTracing != nil {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTracing(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "failed to shutdown tracing: %v\n", err)
			}
		}()
	}

	root := &cobra.Command{
		Use:   "fleetctl",
		Short: "Android emulator fleet discovery and workflow automation",
	}

	var mumuPath, ldPath, device string
	root.PersistentFlags().StringVar(&mumuPath, "mumu-console", "", "path to MuMuManager.exe")
	root.PersistentFlags().StringVar(&ldPath, "ld-console", "", "path to ldconsole.exe")
	root.PersistentFlags().StringVar(&device, "device", "", "device id workflows run against")

	newManager := func() *fleet.Manager {
		return fleet.New(fleet.Options{
			MuMuConsolePath: mumuPath,
			LDConsolePath:   ldPath,
			DefaultDeviceID: device,
		})
	}

	// discover
	var discoverJSON bool
	discoverCmd := &cobra.Command{
		Use:   "discover",
		Short: "Run device discovery and print the resulting fleet",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr := newManager()
			defer mgr.Close()

			devices, err := mgr.DiscoverDevices(cmd.Context())
			if err != nil {
				return err
			}
			if discoverJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(devices)
			}
			if len(devices) == 0 {
				fmt.Println("(no devices found)")
				return nil
			}
			for _, d := range devices {
				fmt.Printf("%-22s %-12s %-10s adb=%s\n", d.DeviceID, d.Status, d.Health, d.ADBPath)
			}
			return nil
		},
	}
	discoverCmd.Flags().BoolVar(&discoverJSON, "json", false, "output JSON")
	root.AddCommand(discoverCmd)

	// healthy
	var healthyJSON bool
	healthyCmd := &cobra.Command{
		Use:   "healthy",
		Short: "List the pool's currently healthy, deduplicated devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr := newManager()
			defer mgr.Close()
			if _, err := mgr.DiscoverDevices(cmd.Context()); err != nil {
				return err
			}
			devices := mgr.HealthyDevices()
			if healthyJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(devices)
			}
			for _, d := range devices {
				fmt.Printf("%-22s %-10s\n", d.DeviceID, d.Health)
			}
			return nil
		},
	}
	healthyCmd.Flags().BoolVar(&healthyJSON, "json", false, "output JSON")
	root.AddCommand(healthyCmd)

	// stats
	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show the pool's command/reconnection counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr := newManager()
			defer mgr.Close()
			if _, err := mgr.DiscoverDevices(cmd.Context()); err != nil {
				return err
			}
			fmt.Println(mgr.Statistics())
			return nil
		},
	}
	root.AddCommand(statsCmd)

	// run: load one workflow file and execute it to completion
	var runName string
	runCmd := &cobra.Command{
		Use:   "run PATH",
		Short: "Load a workflow JSON file and run it to completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			name := runName
			if name == "" {
				name = path
			}

			mgr := newManager()
			defer mgr.Close()

			taskID, err := mgr.LoadWorkflow(name, path)
			if err != nil {
				return err
			}
			if device != "" {
				mgr.SetTaskDevice(taskID, device)
			}

			if ok := mgr.RunWorkflow(cmd.Context(), taskID); !ok {
				return fmt.Errorf("workflow %q did not complete successfully", name)
			}
			fmt.Printf("workflow %q completed\n", name)
			return nil
		},
	}
	runCmd.Flags().StringVar(&runName, "name", "", "display name for the loaded workflow (default: file path)")
	root.AddCommand(runCmd)

	// validate: load a workflow file and report whether it parses,
	// passes the graph's structural checks, and has a start card,
	// without running it.
	validateCmd := &cobra.Command{
		Use:   "validate PATH",
		Short: "Load a workflow JSON file and check it without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr := newManager()
			defer mgr.Close()
			taskID, err := mgr.LoadWorkflow(args[0], args[0])
			if err != nil {
				return err
			}
			for _, wt := range mgr.Tasks() {
				if wt.TaskID == taskID && wt.Graph.StartCard() == nil {
					return errors.New("workflow has no start card")
				}
			}
			fmt.Println("ok")
			return nil
		},
	}
	root.AddCommand(validateCmd)

	// run-all operates on workflows loaded via repeated --workflow
	// flags, matching the original's multi-task batch controls
	// (spec §4.8).
	var workflows []string
	var mode string
	runAllCmd := &cobra.Command{
		Use:   "run-all",
		Short: "Load several workflows and run them per --mode (sync|async)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(workflows) == 0 {
				return errors.New("--workflow must be provided at least once")
			}
			execMode, err := parseExecutionMode(mode)
			if err != nil {
				return err
			}

			mgr := newManager()
			defer mgr.Close()
			mgr.SetExecutionMode(execMode)

			for _, w := range workflows {
				if _, err := mgr.LoadWorkflow(w, w); err != nil {
					return fmt.Errorf("load %q: %w", w, err)
				}
			}

			if ok := mgr.RunAll(cmd.Context()); !ok {
				return errors.New("one or more workflows did not complete successfully")
			}
			fmt.Println("all workflows completed")
			return nil
		},
	}
	runAllCmd.Flags().StringArrayVar(&workflows, "workflow", nil, "workflow JSON path (repeatable)")
	runAllCmd.Flags().StringVar(&mode, "mode", "sync", "execution mode: sync or async")
	root.AddCommand(runAllCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func parseExecutionMode(s string) (fleet.ExecutionMode, error) {
	switch s {
	case "sync":
		return fleet.ModeSync, nil
	case "async":
		return fleet.ModeAsync, nil
	default:
		return "", fmt.Errorf("unknown execution mode %q (want sync or async)", s)
	}
}
